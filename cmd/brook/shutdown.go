package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"brook/internal/logging"
)

const shutdownPhaseTimeout = 5 * time.Second

// teardown is the ordered list of cleanup steps run after the tasks settle.
type teardown struct {
	logger  *logging.Logger
	timeout time.Duration
	names   []string
	steps   []func(context.Context) error
	once    sync.Once
}

func newTeardown(logger *logging.Logger) *teardown {
	return &teardown{logger: logger, timeout: shutdownPhaseTimeout}
}

func (t *teardown) Add(name string, step func(context.Context) error) {
	if t == nil || step == nil {
		return
	}
	t.names = append(t.names, name)
	t.steps = append(t.steps, step)
}

// Run executes every step once, in registration order. A step gets its own
// deadline; one that overruns is abandoned and reported.
func (t *teardown) Run(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var errs []error
	t.once.Do(func() {
		for index, step := range t.steps {
			name := t.names[index]
			started := time.Now()
			err := t.runStep(ctx, step)
			fields := map[string]string{
				"phase":    name,
				"duration": time.Since(started).Round(time.Millisecond).String(),
			}
			if err != nil {
				fields["error"] = err.Error()
				t.logger.Warn("shutdown phase failed", fields)
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				continue
			}
			t.logger.Debug("shutdown phase done", fields)
		}
	})
	return errors.Join(errs...)
}

func (t *teardown) runStep(parent context.Context, step func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, t.timeout)
	defer cancel()
	result := make(chan error, 1)
	go func() {
		result <- step(ctx)
	}()
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// interruptOn cancels the run when the first signal arrives. Later signals
// only log how many were received while tasks wind down. The returned func
// stops listening.
func interruptOn(logger *logging.Logger, cancel context.CancelFunc, signals <-chan os.Signal) func() {
	if signals == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		received := 0
		for {
			select {
			case <-done:
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				received++
				fields := map[string]string{"count": strconv.Itoa(received)}
				if sig != nil {
					fields["signal"] = sig.String()
				}
				if received == 1 {
					logger.Info("stopping tasks", fields)
					if cancel != nil {
						cancel()
					}
					continue
				}
				logger.Info("already stopping", fields)
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}
