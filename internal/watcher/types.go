package watcher

import (
	"time"

	"brook/internal/logging"
	"github.com/fsnotify/fsnotify"
)

const EventTypeFileChanged = "file_changed"

// Event is one debounced change to a path. Op accumulates every operation
// seen for the path during the quiet period.
type Event struct {
	Path       string
	Op         fsnotify.Op
	OccurredAt time.Time
}

func (event Event) Type() string {
	return EventTypeFileChanged
}

func (event Event) Timestamp() time.Time {
	return event.OccurredAt
}

// Handle releases a registration.
type Handle interface {
	Close() error
}

type Options struct {
	Logger *logging.Logger
	// Debounce is the quiet period a path needs before its change is
	// delivered.
	Debounce time.Duration
	// MaxWatches bounds the paths registered with the operating system.
	MaxWatches int
	// WatchDir delivers events for entries directly inside watched
	// directories.
	WatchDir bool
	// WatchRecursive extends directory watches to every nested directory,
	// including ones created later. Implies WatchDir.
	WatchRecursive bool
	// ErrorHandler receives the error after restarting the backend failed
	// too often.
	ErrorHandler func(error)
}

// Metrics is a snapshot of watcher counters.
type Metrics struct {
	ActiveWatches   int
	EventsDelivered uint64
	EventsDropped   uint64
	Errors          uint64
	RestartAttempts int
}
