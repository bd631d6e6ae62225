package task

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"
)

// Run invokes the unit once and returns its settled outcome: nil on success,
// otherwise the failure reason. Cancelling ctx stops the wait, not the body.
func (u *Unit) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	name := u.Name()
	obs := observerFrom(ctx)
	runID := RunID(ctx)
	start := time.Now()
	if obs != nil {
		obs(Event{
			EventType:  EventTypeStarted,
			Task:       name,
			Kind:       u.Kind(),
			RunID:      runID,
			OccurredAt: start.UTC(),
		})
	}

	err := u.settle(ctx)
	if err != nil && u.Kind() != KindComposite {
		var failure *Failure
		if !errors.As(err, &failure) {
			err = &Failure{Task: name, Err: err}
		}
	}

	if obs != nil {
		finished := time.Now()
		obs(Event{
			EventType:  EventTypeFinished,
			Task:       name,
			Kind:       u.Kind(),
			RunID:      runID,
			Err:        err,
			Duration:   finished.Sub(start),
			OccurredAt: finished.UTC(),
		})
	}
	return err
}

func (u *Unit) settle(ctx context.Context) (err error) {
	if u == nil {
		return &ConfigError{Task: anonymousName, Err: ErrUnknownCompletion, Detail: "nil unit"}
	}
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()

	switch u.kind {
	case KindCallback:
		return u.settleCallback(ctx)
	case KindAwait:
		awaitable := u.await(ctx)
		if awaitable == nil {
			return &ConfigError{Task: u.Name(), Err: ErrUnknownCompletion, Detail: "body returned nil awaitable"}
		}
		return waitAwaitable(ctx, awaitable)
	case KindStream:
		stream := u.stream(ctx)
		if stream == nil {
			return &ConfigError{Task: u.Name(), Err: ErrUnknownCompletion, Detail: "body returned nil stream"}
		}
		return waitStream(ctx, stream)
	case KindSuspend:
		return u.suspend(ctx)
	case KindComposite:
		return u.composite(ctx, u.Name())
	default:
		return &ConfigError{Task: u.Name(), Err: ErrUnknownCompletion, Detail: u.shape}
	}
}

func (u *Unit) settleCallback(ctx context.Context) error {
	settled := make(chan error, 1)
	var once sync.Once
	done := func(err error) {
		once.Do(func() {
			settled <- err
		})
	}

	u.callback(ctx, done)

	select {
	case err := <-settled:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func waitAwaitable(ctx context.Context, awaitable Awaitable) error {
	select {
	case <-awaitable.Done():
		return awaitable.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func waitStream(ctx context.Context, stream Stream) error {
	end := stream.End()
	errs := stream.Errors()
	for {
		select {
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return err
			}
		case <-end:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
