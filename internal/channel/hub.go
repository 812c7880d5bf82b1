package channel

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/deixis/robopanel/internal/broker"
	"github.com/deixis/robopanel/internal/config"
)

// Broker is the pub/sub transport between the hub and the device processes.
// Implemented by broker.Client.
type Broker interface {
	Publish(ctx context.Context, topic, message string) error
	Subscribe(ctx context.Context, topics ...string) (<-chan broker.Message, func() error, error)
}

// Hub bridges browser WebSocket connections to device topics on the broker.
// Each connection is bound to one device, given by the "device" query
// parameter.
type Hub struct {
	broker  Broker
	topics  []string
	rate    rate.Limit
	burst   int
	origins []string
	logger  *slog.Logger
	active  atomic.Int64
}

// NewHub creates a hub forwarding the configured event topics.
func NewHub(b Broker, cfg config.ChannelConfig, logger *slog.Logger) *Hub {
	perSecond, burst := cfg.ActionRate()
	return &Hub{
		broker: b,
		topics: cfg.EventTopics(),
		rate:   rate.Limit(perSecond),
		burst:  burst,
		origins: append([]string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
		}, cfg.Origins...),
		logger: logger,
	}
}

// Connections returns the number of open browser connections.
func (h *Hub) Connections() int { return int(h.active.Load()) }

// session is the state of one browser connection.
type session struct {
	device  string
	ws      *websocket.Conn
	limiter *rate.Limiter
	logger  *slog.Logger
}

// ServeHTTP upgrades the request and serves the connection until either
// side closes it.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	device := strings.TrimSpace(r.URL.Query().Get("device"))
	if device == "" {
		http.Error(w, "missing device", http.StatusBadRequest)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Warn("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	topics := make([]string, len(h.topics))
	for i, t := range h.topics {
		topics[i] = broker.Topic(device, t)
	}
	msgs, stop, err := h.broker.Subscribe(ctx, topics...)
	if err != nil {
		h.logger.Error("subscribing device topics", "device", device, "error", err)
		ws.Close(websocket.StatusInternalError, "broker unavailable")
		return
	}
	defer stop()

	s := &session{
		device:  device,
		ws:      ws,
		limiter: rate.NewLimiter(h.rate, h.burst),
		logger:  h.logger.With("device", device),
	}

	h.active.Add(1)
	defer h.active.Add(-1)
	s.logger.Info("browser connected")

	go func() {
		s.forward(ctx, msgs)
		cancel()
	}()
	s.read(ctx, h.broker)

	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("browser disconnected")
}

// forward pushes broker messages to the browser until the subscription
// ends or a write fails.
func (s *session) forward(ctx context.Context, msgs <-chan broker.Message) {
	prefix := s.device + "_"
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			ev := NewEvent(strings.TrimPrefix(msg.Topic, prefix), msg.Payload)
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(wctx, s.ws, ev)
			cancel()
			if err != nil {
				s.logger.Debug("writing event", "chan", ev.Name, "error", err)
				return
			}
		}
	}
}

// read publishes browser actions to the device until the connection closes.
func (s *session) read(ctx context.Context, b Broker) {
	for {
		typ, data, err := s.ws.Read(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && websocket.CloseStatus(err) == -1 {
				s.logger.Debug("reading action", "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		action, err := ParseAction(string(data))
		if err != nil {
			s.logger.Warn("dropping action", "error", err)
			continue
		}
		if action.Kind == UnknownAction {
			s.logger.Warn("dropping unknown action", "name", action.Name)
			continue
		}
		if !s.limiter.Allow() {
			s.logger.Warn("dropping action over rate limit", "name", action.Name)
			continue
		}

		if err := b.Publish(ctx, broker.Topic(s.device, action.Name), action.Value); err != nil {
			s.logger.Error("publishing action", "name", action.Name, "error", err)
		}
	}
}
