// Package eventhub streams pipeline events to websocket clients on /events.
// Slow clients lose messages; publishers never block.
package eventhub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/sarvis/internal/observe"
)

// Message is the envelope written to clients.
type Message struct {
	Topic string          `json:"topic"`
	Time  time.Time       `json:"time"`
	Data  json.RawMessage `json:"data"`
}

// writeTimeout bounds a single websocket write.
const writeTimeout = 5 * time.Second

// Option configures a Hub.
type Option func(*Hub)

// WithBuffer sets the per-client queue length. Default 32.
func WithBuffer(n int) Option {
	return func(h *Hub) { h.buffer = n }
}

// WithMetrics replaces the default metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithOriginPatterns allows cross-origin clients matching patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) { h.origins = patterns }
}

// Hub fans published events out to subscribers. It is safe for concurrent
// use.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan []byte]struct{}

	buffer  int
	origins []string
	metrics *observe.Metrics
	now     func() time.Time
}

// New creates an empty Hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		subs:    make(map[chan []byte]struct{}),
		buffer:  32,
		metrics: observe.DefaultMetrics(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish sends v, encoded as JSON, to every client under topic.
func (h *Hub) Publish(topic string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("eventhub: encode event", "topic", topic, "error", err)
		return
	}
	msg, err := json.Marshal(Message{Topic: topic, Time: h.now().UTC(), Data: data})
	if err != nil {
		slog.Warn("eventhub: encode envelope", "topic", topic, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- msg:
		default:
			slog.Debug("eventhub: client queue full, event dropped", "topic", topic)
		}
	}
}

func (h *Hub) subscribe() chan []byte {
	ch := make(chan []byte, h.buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	h.metrics.EventSubscribers.Add(context.Background(), 1)
	return ch
}

func (h *Hub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
	h.metrics.EventSubscribers.Add(context.Background(), -1)
}

// ServeHTTP upgrades the request and streams events until the client goes
// away. Client messages are ignored.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Warn("eventhub: accept", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.CloseNow()

	ch := h.subscribe()
	defer h.unsubscribe(ch)
	slog.Info("eventhub: client connected", "remote", r.RemoteAddr)

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			slog.Info("eventhub: client gone", "remote", r.RemoteAddr)
			return
		case msg := <-ch:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				slog.Info("eventhub: write failed, dropping client", "remote", r.RemoteAddr, "error", err)
				return
			}
		}
	}
}
