package task

import (
	"context"
	"fmt"
)

// Kind identifies the completion protocol of a Unit.
type Kind int

const (
	KindInvalid Kind = iota
	KindCallback
	KindAwait
	KindStream
	KindSuspend
	KindComposite
)

func (k Kind) String() string {
	switch k {
	case KindCallback:
		return "callback"
	case KindAwait:
		return "await"
	case KindStream:
		return "stream"
	case KindSuspend:
		return "suspend"
	case KindComposite:
		return "composite"
	default:
		return "invalid"
	}
}

const (
	seriesName    = "<series>"
	parallelName  = "<parallel>"
	anonymousName = "<anonymous>"
)

// Done settles a callback-style body. A nil error is success.
type Done func(err error)

// Unit is a single task. It is immutable and may be run any number of times.
type Unit struct {
	name      string
	kind      Kind
	shape     string
	callback  func(context.Context, Done)
	await     func(context.Context) Awaitable
	stream    func(context.Context) Stream
	suspend   func(context.Context) error
	composite func(ctx context.Context, name string) error
}

// Name returns the display name of the unit.
func (u *Unit) Name() string {
	if u == nil || u.name == "" {
		return anonymousName
	}
	return u.name
}

// Kind returns the completion protocol fixed at construction.
func (u *Unit) Kind() Kind {
	if u == nil {
		return KindInvalid
	}
	return u.kind
}

// Named returns a copy of unit carrying name.
func Named(name string, unit *Unit) *Unit {
	if unit == nil {
		return &Unit{name: name, kind: KindInvalid, shape: "nil unit"}
	}
	clone := *unit
	clone.name = name
	return &clone
}

// Callback builds a unit whose body signals completion through done.
func Callback(name string, body func(ctx context.Context, done Done)) *Unit {
	if body == nil {
		return invalid(name, "nil callback body")
	}
	return &Unit{name: name, kind: KindCallback, callback: body}
}

// Await builds a unit whose body returns an Awaitable.
func Await(name string, body func(ctx context.Context) Awaitable) *Unit {
	if body == nil {
		return invalid(name, "nil await body")
	}
	return &Unit{name: name, kind: KindAwait, await: body}
}

// Streamed builds a unit whose body returns a Stream.
func Streamed(name string, body func(ctx context.Context) Stream) *Unit {
	if body == nil {
		return invalid(name, "nil stream body")
	}
	return &Unit{name: name, kind: KindStream, stream: body}
}

// Func builds a unit from a body that blocks until it is finished.
func Func(name string, body func(ctx context.Context) error) *Unit {
	if body == nil {
		return invalid(name, "nil body")
	}
	return &Unit{name: name, kind: KindSuspend, suspend: body}
}

// New builds a unit from any supported body shape. The shape is inspected once,
// here; an unsupported shape yields a unit that fails with a ConfigError when run.
func New(name string, body any) *Unit {
	switch fn := body.(type) {
	case nil:
		return invalid(name, "nil body")
	case *Unit:
		return Named(name, fn)
	case func(Done):
		return Callback(name, func(_ context.Context, done Done) { fn(done) })
	case func(func(error)):
		return Callback(name, func(_ context.Context, done Done) { fn(done) })
	case func(context.Context, Done):
		return Callback(name, fn)
	case func(context.Context, func(error)):
		return Callback(name, func(ctx context.Context, done Done) { fn(ctx, done) })
	case func() Awaitable:
		return Await(name, func(context.Context) Awaitable { return fn() })
	case func(context.Context) Awaitable:
		return Await(name, fn)
	case func() *Future:
		return Await(name, func(context.Context) Awaitable { return futureOrNil(fn()) })
	case func(context.Context) *Future:
		return Await(name, func(ctx context.Context) Awaitable { return futureOrNil(fn(ctx)) })
	case func() Stream:
		return Streamed(name, func(context.Context) Stream { return fn() })
	case func(context.Context) Stream:
		return Streamed(name, fn)
	case func(context.Context) error:
		return Func(name, fn)
	default:
		return invalid(name, fmt.Sprintf("unsupported body %T", body))
	}
}

func invalid(name, shape string) *Unit {
	return &Unit{name: name, kind: KindInvalid, shape: shape}
}

// futureOrNil keeps a nil *Future from becoming a non-nil Awaitable.
func futureOrNil(future *Future) Awaitable {
	if future == nil {
		return nil
	}
	return future
}
