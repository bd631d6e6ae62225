package report

import (
	"context"
	"sync"

	"brook/internal/event"
	"brook/internal/logging"
	"brook/internal/metrics"
	"brook/internal/task"
)

const feedBufferSize = 1024

// Feed publishes task events on a bus and delivers them to each consumer on
// its own goroutine.
type Feed struct {
	bus  *event.Bus[task.Event]
	wg   sync.WaitGroup
	once sync.Once
}

func NewFeed(ctx context.Context, logger *logging.Logger, registry *metrics.Registry, consumers ...task.Observer) *Feed {
	feed := &Feed{
		bus: event.NewBus[task.Event](ctx, event.BusOptions{
			Name:                 "tasks",
			SubscriberBufferSize: feedBufferSize,
			Registry:             registry,
			Logger:               logger,
		}),
	}
	for _, consumer := range consumers {
		if consumer == nil {
			continue
		}
		events, _ := feed.bus.Subscribe()
		feed.wg.Add(1)
		go func(consumer task.Observer) {
			defer feed.wg.Done()
			for event := range events {
				consumer(event)
			}
		}(consumer)
	}
	return feed
}

// Observe publishes event. It satisfies task.Observer.
func (f *Feed) Observe(event task.Event) {
	if f == nil {
		return
	}
	f.bus.Publish(event)
}

// Close stops accepting events and waits until consumers have drained
// everything already published.
func (f *Feed) Close() {
	if f == nil {
		return
	}
	f.once.Do(func() {
		f.bus.Close()
		f.wg.Wait()
	})
}
