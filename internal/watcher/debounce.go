package watcher

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

type pendingChange struct {
	op    fsnotify.Op
	timer *time.Timer
}

// debouncer holds changes per path until the path stays quiet, then fires
// one Event carrying every operation seen meanwhile.
type debouncer struct {
	quiet time.Duration
	fire  func(Event)

	mu      sync.Mutex
	pending map[string]*pendingChange
	stopped bool
}

func newDebouncer(quiet time.Duration, fire func(Event)) *debouncer {
	return &debouncer{
		quiet:   quiet,
		fire:    fire,
		pending: map[string]*pendingChange{},
	}
}

// add records op for path and reports whether it joined a pending change.
func (debouncer *debouncer) add(path string, op fsnotify.Op) bool {
	debouncer.mu.Lock()
	defer debouncer.mu.Unlock()
	if debouncer.stopped {
		return false
	}
	if change, ok := debouncer.pending[path]; ok {
		change.op |= op
		change.timer.Reset(debouncer.quiet)
		return true
	}
	change := &pendingChange{op: op}
	change.timer = time.AfterFunc(debouncer.quiet, func() {
		debouncer.flush(path)
	})
	debouncer.pending[path] = change
	return false
}

func (debouncer *debouncer) flush(path string) {
	debouncer.mu.Lock()
	change, ok := debouncer.pending[path]
	if ok {
		delete(debouncer.pending, path)
	}
	stopped := debouncer.stopped
	debouncer.mu.Unlock()
	if !ok || stopped {
		return
	}
	debouncer.fire(Event{Path: path, Op: change.op, OccurredAt: time.Now().UTC()})
}

func (debouncer *debouncer) size() int {
	debouncer.mu.Lock()
	defer debouncer.mu.Unlock()
	return len(debouncer.pending)
}

func (debouncer *debouncer) stop() {
	debouncer.mu.Lock()
	defer debouncer.mu.Unlock()
	debouncer.stopped = true
	for _, change := range debouncer.pending {
		change.timer.Stop()
	}
	debouncer.pending = map[string]*pendingChange{}
}
