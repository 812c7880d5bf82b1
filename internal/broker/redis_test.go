package broker

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/alicebob/miniredis/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deixis/robopanel/internal/config"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	m := miniredis.RunT(t)
	c, err := Dial(config.RedisConfig{Addr: m.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, m
}

func TestDevices_Window(t *testing.T) {
	c, m := newTestClient(t)
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	seen := func(d time.Duration) float64 { return float64(now.Add(-d).Unix()) }
	m.ZAdd(UserKey("alice"), seen(5*time.Second), "alice-pepper:robot")
	m.ZAdd(UserKey("alice"), seen(59*time.Second), "alice-cam:cam")
	m.ZAdd(UserKey("alice"), seen(30*time.Second), "alice-mic:mic")
	m.ZAdd(UserKey("alice"), seen(2*time.Minute), "alice-old:speaker")
	m.ZAdd(UserKey("bob"), seen(time.Second), "bob-pepper:robot")

	devices, err := c.Devices(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice-cam:cam", "alice-mic:mic", "alice-pepper:robot"}, devices)

	devices, err = c.Devices(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestDevices_Unreachable(t *testing.T) {
	c, err := Dial(config.RedisConfig{Addr: "127.0.0.1:1"})
	require.NoError(t, err)
	defer c.Close()
	_, err = c.Devices(context.Background(), "alice")
	assert.ErrorContains(t, err, "listing devices for alice")
}

func TestPublishSubscribe(t *testing.T) {
	c, _ := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, stop, err := c.Subscribe(ctx, Topic("pepper-1", "events"), Topic("pepper-1", "render_html"))
	require.NoError(t, err)
	defer stop()

	require.NoError(t, c.Publish(ctx, Topic("pepper-1", "events"), "ListeningStarted"))
	require.NoError(t, c.Publish(ctx, Topic("pepper-2", "events"), "ignored"))
	require.NoError(t, c.Publish(ctx, Topic("pepper-1", "render_html"), "<p>hi</p>"))

	var got []Message
	for len(got) < 2 {
		select {
		case msg := <-msgs:
			got = append(got, msg)
		case <-time.After(2 * time.Second):
			t.Fatalf("received %v, want 2 messages", got)
		}
	}
	assert.Equal(t, []Message{
		{Topic: "pepper-1_events", Payload: "ListeningStarted"},
		{Topic: "pepper-1_render_html", Payload: "<p>hi</p>"},
	}, got)
}

func TestSubscribe_ClosesOnCancel(t *testing.T) {
	c, _ := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())

	msgs, _, err := c.Subscribe(ctx, Topic("pepper-1", "events"))
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-msgs:
		assert.False(t, ok, "channel closed")
	case <-time.After(2 * time.Second):
		t.Fatal("channel still open after cancel")
	}
}

// aclHook answers ACL commands, failing the given subcommand.
type aclHook struct {
	mu    sync.Mutex
	calls [][]string
	fail  string
}

func (h *aclHook) handle(c *server.Peer, cmd string, args ...string) bool {
	if !strings.EqualFold(cmd, "ACL") || len(args) == 0 {
		return false
	}
	h.mu.Lock()
	h.calls = append(h.calls, args)
	h.mu.Unlock()
	if strings.EqualFold(args[0], h.fail) {
		c.WriteError("ERR " + strings.ToLower(args[0]) + " refused")
		return true
	}
	c.WriteOK()
	return true
}

func TestRegisterUser(t *testing.T) {
	c, m := newTestClient(t)
	hook := &aclHook{}
	m.Server().SetPreHook(hook.handle)

	require.NoError(t, c.RegisterUser(context.Background(), "alice", "password1"))

	hook.mu.Lock()
	defer hook.mu.Unlock()
	require.Len(t, hook.calls, 2)
	assert.Equal(t, []string{"SETUSER", "alice", "on", ">password1"}, hook.calls[0][:4])
	assert.Equal(t, []string{"SAVE"}, hook.calls[1])
}

func TestRegisterUser_Errors(t *testing.T) {
	tests := []struct {
		fail string
		want string
	}{
		{"SETUSER", "registering alice: ERR setuser refused"},
		{"SAVE", "saving acl: ERR save refused"},
	}
	for _, tt := range tests {
		t.Run(tt.fail, func(t *testing.T) {
			c, m := newTestClient(t)
			m.Server().SetPreHook((&aclHook{fail: tt.fail}).handle)

			err := c.RegisterUser(context.Background(), "alice", "password1")
			assert.EqualError(t, err, tt.want)
		})
	}
}
