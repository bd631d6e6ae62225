// Package event provides a typed, non-blocking publish/subscribe bus.
package event

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"brook/internal/logging"
	"brook/internal/metrics"
)

// Typed values report a type name, used for filtering and metric labels.
type Typed interface {
	Type() string
	Timestamp() time.Time
}

const (
	defaultSubscriberBufferSize = 128
	defaultDropWarningInterval  = 30 * time.Second
	unnamedBus                  = "event_bus"
)

type BusOptions struct {
	Name                 string
	SubscriberBufferSize int
	Registry             *metrics.Registry
	Logger               *logging.Logger
	// DropWarningInterval rate limits the warning logged when events drop.
	DropWarningInterval time.Duration
}

type subscriber[T any] struct {
	ch     chan T
	accept func(T) bool
}

// Bus fans published values out to subscribers. Publish never blocks: a value
// that does not fit a subscriber's buffer is dropped for that subscriber.
type Bus[T any] struct {
	name     string
	size     int
	registry *metrics.Registry
	logger   *logging.Logger
	warnGap  time.Duration

	// mu is held for reading while sending, so a subscriber is never closed
	// mid-send.
	mu     sync.RWMutex
	subs   map[uint64]*subscriber[T]
	nextID uint64
	closed bool

	published atomic.Int64
	dropped   atomic.Int64
	lastWarn  atomic.Int64
}

// NewBus creates a bus that closes itself when ctx is done.
func NewBus[T any](ctx context.Context, options BusOptions) *Bus[T] {
	bus := &Bus[T]{
		name:     options.Name,
		size:     options.SubscriberBufferSize,
		registry: options.Registry,
		logger:   options.Logger,
		warnGap:  options.DropWarningInterval,
		subs:     map[uint64]*subscriber[T]{},
	}
	if bus.name == "" {
		bus.name = unnamedBus
	}
	if bus.size <= 0 {
		bus.size = defaultSubscriberBufferSize
	}
	if bus.warnGap <= 0 {
		bus.warnGap = defaultDropWarningInterval
	}
	if bus.registry == nil {
		bus.registry = metrics.Default
	}
	if ctx != nil && ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			bus.Close()
		}()
	}
	return bus
}

func (b *Bus[T]) Subscribe() (<-chan T, func()) {
	return b.SubscribeFiltered(nil)
}

// SubscribeFiltered delivers only values accept returns true for. A nil
// accept delivers everything.
func (b *Bus[T]) SubscribeFiltered(accept func(T) bool) (<-chan T, func()) {
	if b == nil {
		return closedChannel[T](), func() {}
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return closedChannel[T](), func() {}
	}
	b.nextID++
	id := b.nextID
	sub := &subscriber[T]{ch: make(chan T, b.size), accept: accept}
	b.subs[id] = sub
	b.reportSubscribersLocked()
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() { b.unsubscribe(id) })
	}
}

// SubscribeTypes delivers only values whose Type is one of types.
func (b *Bus[T]) SubscribeTypes(types ...string) (<-chan T, func()) {
	wanted := make(map[string]bool, len(types))
	for _, name := range types {
		if name != "" {
			wanted[name] = true
		}
	}
	return b.SubscribeFiltered(func(value T) bool {
		typed, ok := any(value).(Typed)
		return ok && wanted[typed.Type()]
	})
}

func (b *Bus[T]) Publish(value T) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	label := typeLabel(value)
	b.published.Add(1)
	b.registry.IncEventPublished(b.name, label)

	dropped := false
	for _, sub := range b.subs {
		if sub.accept != nil && !sub.accept(value) {
			continue
		}
		select {
		case sub.ch <- value:
		default:
			dropped = true
			b.dropped.Add(1)
			b.registry.IncEventDropped(b.name, label)
		}
	}
	if dropped {
		b.warnDrops()
	}
}

// Close closes every subscriber channel. Publishing afterwards is a no-op.
func (b *Bus[T]) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
	b.registry.SetEventSubscriberCounts(b.name, 0, 0)
}

func (b *Bus[T]) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped reports how many deliveries were dropped on full subscribers.
func (b *Bus[T]) Dropped() int64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}

func (b *Bus[T]) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(sub.ch)
	b.reportSubscribersLocked()
}

func (b *Bus[T]) reportSubscribersLocked() {
	filtered, unfiltered := 0, 0
	for _, sub := range b.subs {
		if sub.accept != nil {
			filtered++
		} else {
			unfiltered++
		}
	}
	b.registry.SetEventSubscriberCounts(b.name, filtered, unfiltered)
}

func (b *Bus[T]) warnDrops() {
	if b.logger == nil {
		return
	}
	now := time.Now().UnixNano()
	last := b.lastWarn.Load()
	if last != 0 && time.Duration(now-last) < b.warnGap {
		return
	}
	if !b.lastWarn.CompareAndSwap(last, now) {
		return
	}
	b.logger.Warn("event bus dropping events", map[string]string{
		"bus":       b.name,
		"dropped":   strconv.FormatInt(b.dropped.Load(), 10),
		"published": strconv.FormatInt(b.published.Load(), 10),
	})
}

func typeLabel(value any) string {
	if typed, ok := value.(Typed); ok && typed.Type() != "" {
		return typed.Type()
	}
	return "unknown"
}

func closedChannel[T any]() chan T {
	ch := make(chan T)
	close(ch)
	return ch
}
