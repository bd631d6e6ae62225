package task

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeStarted  = "task_started"
	EventTypeFinished = "task_finished"
)

// Event describes one task lifecycle transition.
type Event struct {
	EventType  string
	Task       string
	Kind       Kind
	RunID      string
	Err        error
	Duration   time.Duration
	OccurredAt time.Time
}

func (e Event) Type() string {
	return e.EventType
}

func (e Event) Timestamp() time.Time {
	return e.OccurredAt
}

// Observer receives task events. It is called synchronously on the goroutine
// running the task and must not block.
type Observer func(Event)

type observerKey struct{}

type runIDKey struct{}

// WithObserver attaches obs to ctx. Observers already on ctx keep receiving events.
func WithObserver(ctx context.Context, obs Observer) context.Context {
	if obs == nil {
		return ctx
	}
	if existing := observerFrom(ctx); existing != nil {
		obs = Observers(existing, obs)
	}
	return context.WithValue(ctx, observerKey{}, obs)
}

// Observers fans events out to every non-nil observer in order.
func Observers(observers ...Observer) Observer {
	active := make([]Observer, 0, len(observers))
	for _, obs := range observers {
		if obs != nil {
			active = append(active, obs)
		}
	}
	return func(event Event) {
		for _, obs := range active {
			obs(event)
		}
	}
}

func observerFrom(ctx context.Context) Observer {
	if ctx == nil {
		return nil
	}
	obs, _ := ctx.Value(observerKey{}).(Observer)
	return obs
}

// WithRunID tags ctx with a fresh run id unless it already has one.
func WithRunID(ctx context.Context) context.Context {
	if RunID(ctx) != "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey{}, uuid.NewString())
}

// RunID returns the run id carried by ctx.
func RunID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
