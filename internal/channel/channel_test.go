package channel

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/deixis/robopanel/internal/broker"
	"github.com/deixis/robopanel/internal/config"
	"github.com/deixis/robopanel/internal/logging"
)

// --- message tests ---

func TestEvent_JSON(t *testing.T) {
	data, err := json.Marshal(NewEvent("text_transcript", "hello robot"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"chan":"text_transcript","msg":"hello robot"}`, string(data))

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(`{"chan":"face_detected","msg":"1"}`), &ev))
	assert.Equal(t, Unknown, ev.Kind)
	assert.Equal(t, "face_detected", ev.Name)

	data, err = json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"chan":"face_detected","msg":"1"}`, string(data), "unknown channels keep their name")
}

func TestEvent_Listening(t *testing.T) {
	assert.Equal(t, ListeningStarted, NewEvent("events", "ListeningStarted").Listening())
	assert.Equal(t, ListeningDone, NewEvent("events", "ListeningDone").Listening())
	assert.Equal(t, ListeningUnknown, NewEvent("events", "Speaking").Listening())
	assert.Equal(t, ListeningUnknown, NewEvent("render_html", "ListeningDone").Listening())
}

func TestHandlers_Dispatch(t *testing.T) {
	var got []string
	h := Handlers{
		RenderHTML: func(html string) { got = append(got, "html:"+html) },
		Listening:  func(s ListeningState) { got = append(got, "listening:"+map[ListeningState]string{ListeningStarted: "on", ListeningDone: "off"}[s]) },
		Transcript: func(text string) { got = append(got, "text:"+text) },
		Unknown:    func(name, msg string) { got = append(got, name+":"+msg) },
	}
	for _, ev := range []Event{
		NewEvent("render_html", "<p>hi</p>"),
		NewEvent("events", "ListeningStarted"),
		NewEvent("text_transcript", "hel"),
		NewEvent("battery", "12"),
	} {
		h.Dispatch(ev)
	}
	assert.Equal(t, []string{"html:<p>hi</p>", "listening:on", "text:hel", "battery:12"}, got)

	// Nil handlers are skipped.
	Handlers{}.Dispatch(NewEvent("render_html", "x"))
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction("browser_button|Yes please")
	require.NoError(t, err)
	assert.Equal(t, BrowserButton, a.Kind)
	assert.Equal(t, "Yes please", a.Value)

	a, err = ParseAction("action_chat|a|b")
	require.NoError(t, err)
	assert.Equal(t, Chat, a.Kind)
	assert.Equal(t, "a|b", a.Value, "only the first separator splits")
	assert.Equal(t, "action_chat|a|b", a.String())

	a, err = ParseAction("dialogflow_language|en-US")
	require.NoError(t, err)
	assert.Equal(t, DialogflowLanguage, a.Kind)

	a, err = ParseAction("self_destruct|now")
	require.NoError(t, err)
	assert.Equal(t, UnknownAction, a.Kind)

	_, err = ParseAction("no separator")
	assert.Error(t, err)
	_, err = ParseAction("|value")
	assert.Error(t, err)
}

func TestAction_SortOrder(t *testing.T) {
	a, _ := ParseAction(`browser_button|["card3","card1","card2"]`)
	order, ok := a.SortOrder()
	require.True(t, ok)
	assert.Equal(t, []string{"card3", "card1", "card2"}, order)

	a, _ = ParseAction("browser_button|Ok")
	_, ok = a.SortOrder()
	assert.False(t, ok)

	a, _ = ParseAction(`action_chat|["x"]`)
	_, ok = a.SortOrder()
	assert.False(t, ok)
}

// --- hub tests ---

type published struct {
	topic, message string
}

// fakeBroker hands the hub a channel the test controls.
type fakeBroker struct {
	mu        sync.Mutex
	published []published
	topics    []string
	msgs      chan broker.Message
	stopped   chan struct{}
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{msgs: make(chan broker.Message, 8), stopped: make(chan struct{})}
}

func (b *fakeBroker) Publish(_ context.Context, topic, message string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, published{topic, message})
	return nil
}

func (b *fakeBroker) Subscribe(_ context.Context, topics ...string) (<-chan broker.Message, func() error, error) {
	b.mu.Lock()
	b.topics = topics
	b.mu.Unlock()
	var once sync.Once
	return b.msgs, func() error {
		once.Do(func() { close(b.stopped) })
		return nil
	}, nil
}

func (b *fakeBroker) snapshot() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.published...)
}

func dialHub(t *testing.T, hub *Hub, device string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?device=" + device
	ws, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close(websocket.StatusNormalClosure, "") })
	return ws
}

func TestHub_ForwardsEvents(t *testing.T) {
	b := newFakeBroker()
	hub := NewHub(b, config.ChannelConfig{}, logging.Discard())
	ws := dialHub(t, hub, "pepper-1")

	require.Eventually(t, func() bool { return hub.Connections() == 1 }, 2*time.Second, 10*time.Millisecond)
	b.mu.Lock()
	assert.Equal(t, []string{"pepper-1_render_html", "pepper-1_events", "pepper-1_text_transcript"}, b.topics)
	b.mu.Unlock()

	b.msgs <- broker.Message{Topic: "pepper-1_events", Payload: "ListeningStarted"}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var ev Event
	require.NoError(t, wsjson.Read(ctx, ws, &ev))
	assert.Equal(t, Events, ev.Kind)
	assert.Equal(t, ListeningStarted, ev.Listening())
}

func TestHub_PublishesActions(t *testing.T) {
	b := newFakeBroker()
	hub := NewHub(b, config.ChannelConfig{}, logging.Discard())
	ws := dialHub(t, hub, "pepper-1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, frame := range []string{"browser_button|Yes", "garbage", "unknown_thing|x", "action_chat|hello"} {
		require.NoError(t, ws.Write(ctx, websocket.MessageText, []byte(frame)))
	}

	require.Eventually(t, func() bool { return len(b.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []published{
		{"pepper-1_browser_button", "Yes"},
		{"pepper-1_action_chat", "hello"},
	}, b.snapshot())
}

func TestHub_RateLimitsActions(t *testing.T) {
	b := newFakeBroker()
	hub := NewHub(b, config.ChannelConfig{ActionsPerSecond: 0.001, Burst: 2}, logging.Discard())
	ws := dialHub(t, hub, "pepper-1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for range 5 {
		require.NoError(t, ws.Write(ctx, websocket.MessageText, []byte("browser_button|again")))
	}
	// Only the burst gets through.
	require.Eventually(t, func() bool { return len(b.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, b.snapshot(), 2)
}

func TestHub_ClosesWhenSubscriptionEnds(t *testing.T) {
	b := newFakeBroker()
	hub := NewHub(b, config.ChannelConfig{}, logging.Discard())
	ws := dialHub(t, hub, "pepper-1")

	require.Eventually(t, func() bool { return hub.Connections() == 1 }, 2*time.Second, 10*time.Millisecond)
	close(b.msgs)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := ws.Read(ctx)
	require.Error(t, err)

	select {
	case <-b.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not stopped")
	}
	require.Eventually(t, func() bool { return hub.Connections() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_RequiresDevice(t *testing.T) {
	hub := NewHub(newFakeBroker(), config.ChannelConfig{}, logging.Discard())
	rec := httptest.NewRecorder()
	hub.ServeHTTP(rec, httptest.NewRequest("GET", "/ws", nil))
	assert.Equal(t, 400, rec.Code)
}
