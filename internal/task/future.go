package task

import (
	"runtime/debug"
	"sync"
)

// Awaitable settles exactly once; Err is read after Done is closed.
type Awaitable interface {
	Done() <-chan struct{}
	Err() error
}

// Stream reports completion as events: End closes on a natural end of data and
// Errors delivers the first failure.
type Stream interface {
	End() <-chan struct{}
	Errors() <-chan error
}

// Future is the Awaitable used by task bodies.
type Future struct {
	done chan struct{}
	once sync.Once
	err  error
}

// NewFuture returns a pending future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolve settles the future successfully. Later calls are ignored.
func (f *Future) Resolve() {
	f.settle(nil)
}

// Reject settles the future with reason. A nil reason becomes ErrRejected.
func (f *Future) Reject(reason error) {
	if reason == nil {
		reason = ErrRejected
	}
	f.settle(reason)
}

func (f *Future) settle(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

func (f *Future) Done() <-chan struct{} {
	return f.done
}

func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Go runs fn on its own goroutine and settles the returned future with its result.
func Go(fn func() error) *Future {
	future := NewFuture()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				future.Reject(&PanicError{Value: r, Stack: debug.Stack()})
			}
		}()
		if err := fn(); err != nil {
			future.Reject(err)
			return
		}
		future.Resolve()
	}()
	return future
}

// Resolved returns a settled, successful future.
func Resolved() *Future {
	future := NewFuture()
	future.Resolve()
	return future
}

// Rejected returns a future already settled with reason.
func Rejected(reason error) *Future {
	future := NewFuture()
	future.Reject(reason)
	return future
}
