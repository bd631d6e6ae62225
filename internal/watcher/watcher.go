package watcher

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"brook/internal/logging"
	"github.com/fsnotify/fsnotify"
)

const (
	defaultDebounce   = 100 * time.Millisecond
	defaultMaxWatches = 100
)

var (
	ErrMaxWatchesExceeded = errors.New("watcher: max watches exceeded")
	ErrClosed             = errors.New("watcher: closed")
)

// Watcher delivers debounced filesystem changes to registered callbacks. One
// OS watch is kept per path no matter how many registrations share it.
type Watcher struct {
	options Options
	logger  *logging.Logger

	mu      sync.Mutex
	backend *fsnotify.Watcher
	holds   map[string]int
	regs    map[uint64]*registration
	nextID  uint64
	closed  bool
	pending *debouncer

	swap chan *fsnotify.Watcher
	done chan struct{}
	wg   sync.WaitGroup

	delivered atomic.Uint64
	coalesced atomic.Uint64
	failures  atomic.Uint64

	restartMu    sync.Mutex
	restartTimer *time.Timer
	restarts     int
}

// New creates a Watcher with default options.
func New() (*Watcher, error) {
	return NewWithOptions(Options{})
}

func NewWithOptions(options Options) (*Watcher, error) {
	backend, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}
	if options.Debounce <= 0 {
		options.Debounce = defaultDebounce
	}
	if options.MaxWatches <= 0 {
		options.MaxWatches = defaultMaxWatches
	}
	if options.WatchRecursive {
		options.WatchDir = true
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	watcher := &Watcher{
		options: options,
		logger:  logger.Category("watcher"),
		backend: backend,
		holds:   map[string]int{},
		regs:    map[uint64]*registration{},
		swap:    make(chan *fsnotify.Watcher, 1),
		done:    make(chan struct{}),
	}
	watcher.pending = newDebouncer(options.Debounce, watcher.deliver)
	watcher.wg.Add(1)
	go watcher.loop(backend)
	return watcher, nil
}

// Close stops delivery and releases every OS watch.
func (watcher *Watcher) Close() error {
	if watcher == nil {
		return nil
	}
	watcher.mu.Lock()
	if watcher.closed {
		watcher.mu.Unlock()
		return nil
	}
	watcher.closed = true
	backend := watcher.backend
	watcher.mu.Unlock()

	watcher.restartMu.Lock()
	if watcher.restartTimer != nil {
		watcher.restartTimer.Stop()
		watcher.restartTimer = nil
	}
	watcher.restartMu.Unlock()

	watcher.pending.stop()
	close(watcher.done)
	err := backend.Close()
	watcher.wg.Wait()
	return err
}

func (watcher *Watcher) Metrics() Metrics {
	if watcher == nil {
		return Metrics{}
	}
	watcher.mu.Lock()
	active := len(watcher.holds)
	watcher.mu.Unlock()
	watcher.restartMu.Lock()
	restarts := watcher.restarts
	watcher.restartMu.Unlock()
	return Metrics{
		ActiveWatches:   active,
		EventsDelivered: watcher.delivered.Load(),
		EventsDropped:   watcher.coalesced.Load(),
		Errors:          watcher.failures.Load(),
		RestartAttempts: restarts,
	}
}

// loop reads the current backend until Close. A restart hands it the
// replacement backend through swap.
func (watcher *Watcher) loop(backend *fsnotify.Watcher) {
	defer watcher.wg.Done()
	events, errs := backend.Events, backend.Errors
	for {
		select {
		case <-watcher.done:
			return
		case next := <-watcher.swap:
			events, errs = next.Events, next.Errors
		case change, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			watcher.handle(change)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			watcher.fail(err)
		}
	}
}

func (watcher *Watcher) handle(change fsnotify.Event) {
	if change.Has(fsnotify.Create) && watcher.options.WatchRecursive {
		watcher.adoptDir(change.Name)
	}
	if !watcher.interested(change.Name) {
		return
	}
	if watcher.pending.add(change.Name, change.Op) {
		watcher.coalesced.Add(1)
	}
}

// deliver hands a settled change to every registration that covers it.
func (watcher *Watcher) deliver(change Event) {
	watcher.mu.Lock()
	if watcher.closed {
		watcher.mu.Unlock()
		return
	}
	callbacks := watcher.callbacksLocked(change.Path)
	watcher.mu.Unlock()

	for _, callback := range callbacks {
		callback(change)
		watcher.delivered.Add(1)
	}
}
