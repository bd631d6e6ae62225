// Package livereload tells connected development clients to refresh.
package livereload

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"brook/internal/event"
	"brook/internal/logging"
	"brook/internal/metrics"
	"golang.org/x/time/rate"
)

const (
	MessageTypeReload = "reload"
	MessageTypeHello  = "hello"

	defaultWindow = 200 * time.Millisecond
)

// Message is the payload sent to live-reload clients.
type Message struct {
	Kind  string    `json:"type"`
	Paths []string  `json:"paths,omitempty"`
	At    time.Time `json:"at"`
}

func (m Message) Type() string {
	return m.Kind
}

func (m Message) Timestamp() time.Time {
	return m.At
}

// Hub fans reload messages out to every connected client.
type Hub struct {
	bus    *event.Bus[Message]
	logger *logging.Logger
}

func NewHub(ctx context.Context, logger *logging.Logger, registry *metrics.Registry) *Hub {
	return &Hub{
		bus: event.NewBus[Message](ctx, event.BusOptions{
			Name:                 "livereload",
			SubscriberBufferSize: 16,
			Registry:             registry,
			Logger:               logger,
		}),
		logger: logger.Category("livereload"),
	}
}

// Subscribe registers a client. The returned func removes it.
func (h *Hub) Subscribe() (<-chan Message, func()) {
	if h == nil {
		ch := make(chan Message)
		close(ch)
		return ch, func() {}
	}
	return h.bus.Subscribe()
}

// Reload broadcasts a reload for paths immediately.
func (h *Hub) Reload(paths ...string) {
	if h == nil {
		return
	}
	message := Message{Kind: MessageTypeReload, Paths: paths, At: time.Now().UTC()}
	h.logger.Info("reload", map[string]string{
		"paths":   strconv.Itoa(len(paths)),
		"clients": strconv.Itoa(h.bus.SubscriberCount()),
	})
	h.bus.Publish(message)
}

func (h *Hub) Clients() int {
	if h == nil {
		return 0
	}
	return h.bus.SubscriberCount()
}

func (h *Hub) Close() {
	if h == nil {
		return
	}
	h.bus.Close()
}

// Coalescer batches reload requests: the first request opens a window, every
// path requested while it is open joins the batch, and one broadcast is sent
// when it closes. Broadcasts are paced to at most one per window.
type Coalescer struct {
	window  time.Duration
	limiter *rate.Limiter
	send    func(paths ...string)

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
	closed  bool
}

// NewCoalescer batches requests for send. A non-positive window uses 200ms.
func NewCoalescer(window time.Duration, send func(paths ...string)) *Coalescer {
	if window <= 0 {
		window = defaultWindow
	}
	return &Coalescer{
		window:  window,
		limiter: rate.NewLimiter(rate.Every(window), 1),
		send:    send,
		pending: map[string]struct{}{},
	}
}

// Notify queues path for the next broadcast without blocking.
func (c *Coalescer) Notify(path string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.pending[path] = struct{}{}
	if c.timer == nil {
		c.timer = time.AfterFunc(c.window, c.flush)
	}
}

func (c *Coalescer) flush() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	paths := make([]string, 0, len(c.pending))
	for path := range c.pending {
		paths = append(paths, path)
	}
	c.pending = map[string]struct{}{}
	c.mu.Unlock()

	sort.Strings(paths)
	if delay := c.limiter.Reserve().Delay(); delay > 0 {
		time.Sleep(delay)
	}
	c.send(paths...)
}

// Close drops pending requests and stops future broadcasts.
func (c *Coalescer) Close() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.pending = map[string]struct{}{}
}
