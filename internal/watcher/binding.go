package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"brook/internal/event"
	"brook/internal/globs"
	"brook/internal/logging"
	"brook/internal/task"
	"github.com/fsnotify/fsnotify"
)

var ErrSessionClosed = errors.New("watcher: session is closed")

// Action is what a binding does when a matching change arrives.
type Action struct {
	unit   *task.Unit
	notify func(Event)
}

// RunUnit re-runs unit for every matching change. Failures are logged and the
// session keeps running.
func RunUnit(unit *task.Unit) Action {
	return Action{unit: unit}
}

// Notify calls fn for every matching change without waiting on any outcome.
func Notify(fn func(Event)) Action {
	return Action{notify: fn}
}

func (action Action) valid() bool {
	return action.unit != nil || action.notify != nil
}

func (action Action) describe() string {
	if action.unit != nil {
		return action.unit.Name()
	}
	return "notify"
}

type SessionOptions struct {
	// Root is the directory patterns are relative to.
	Root   string
	Logger *logging.Logger
	// Watcher supplies filesystem events. When nil the session only reacts to
	// Dispatch calls.
	Watcher *Watcher
	// Bus, when set, receives every qualifying change event.
	Bus *event.Bus[Event]
}

type binding struct {
	id      int
	matcher *globs.Set
	action  Action
	handles []Handle

	seenMu sync.Mutex
	// seen holds the last delivered change time per path. A change covered by
	// several of the binding's watch targets arrives once per target.
	seen map[string]time.Time
}

// first reports whether change has not been delivered to the binding yet.
func (entry *binding) first(change Event) bool {
	entry.seenMu.Lock()
	defer entry.seenMu.Unlock()
	if last, ok := entry.seen[change.Path]; ok && last.Equal(change.OccurredAt) {
		return false
	}
	if entry.seen == nil {
		entry.seen = map[string]time.Time{}
	}
	entry.seen[change.Path] = change.OccurredAt
	return true
}

// Session owns the watch bindings of one development run.
type Session struct {
	ctx     context.Context
	cancel  context.CancelFunc
	root    string
	logger  *logging.Logger
	watcher *Watcher
	bus     *event.Bus[Event]

	mutex    sync.Mutex
	bindings []*binding
	closed   bool
	inflight sync.WaitGroup
}

// NewSession creates a session whose unit runs inherit ctx.
func NewSession(ctx context.Context, options SessionOptions) (*Session, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	root := options.Root
	if root == "" {
		root = "."
	}
	absolute, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("watcher: resolve root: %w", err)
	}
	derived, cancel := context.WithCancel(ctx)
	return &Session{
		ctx:     derived,
		cancel:  cancel,
		root:    absolute,
		logger:  options.Logger.Category("watcher"),
		watcher: options.Watcher,
		bus:     options.Bus,
	}, nil
}

// Watch binds patterns to action. When the session has a Watcher, the static
// directory prefix of each pattern is watched, and literal patterns are
// watched as files.
func (session *Session) Watch(patterns []string, action Action) error {
	if session == nil {
		return errors.New("watcher: session is nil")
	}
	if !action.valid() {
		return errors.New("watcher: action is required")
	}
	matcher, err := globs.Compile(patterns...)
	if err != nil {
		return err
	}

	session.mutex.Lock()
	if session.closed {
		session.mutex.Unlock()
		return ErrSessionClosed
	}
	entry := &binding{id: len(session.bindings) + 1, matcher: matcher, action: action}
	session.bindings = append(session.bindings, entry)
	session.mutex.Unlock()

	if session.watcher == nil {
		return nil
	}
	targets := append(matcher.Bases(), matcher.Files()...)
	for _, target := range targets {
		path := filepath.Join(session.root, filepath.FromSlash(target))
		if _, err := os.Stat(path); err != nil {
			session.logger.Debug("watch target missing", map[string]string{
				"path": path,
			})
			continue
		}
		handle, err := session.watcher.Watch(path, func(change Event) {
			if entry.first(change) {
				session.dispatchBinding(entry, change)
			}
		})
		if err != nil {
			return fmt.Errorf("watcher: watch %s: %w", path, err)
		}
		session.mutex.Lock()
		entry.handles = append(entry.handles, handle)
		session.mutex.Unlock()
	}
	session.logger.Info("watching", map[string]string{
		"patterns": strings.Join(matcher.Patterns(), ","),
		"action":   action.describe(),
	})
	return nil
}

// Dispatch runs every binding whose patterns match the changed path and
// returns how many were triggered.
func (session *Session) Dispatch(change Event) int {
	if session == nil {
		return 0
	}
	session.mutex.Lock()
	if session.closed {
		session.mutex.Unlock()
		return 0
	}
	bindings := append([]*binding(nil), session.bindings...)
	session.mutex.Unlock()

	triggered := 0
	for _, entry := range bindings {
		if session.dispatchBinding(entry, change) {
			triggered++
		}
	}
	return triggered
}

func (session *Session) dispatchBinding(entry *binding, change Event) bool {
	if !qualifies(change) {
		return false
	}
	rel, ok := session.relative(change.Path)
	if !ok || !entry.matcher.Match(rel) {
		return false
	}

	session.mutex.Lock()
	if session.closed {
		session.mutex.Unlock()
		return false
	}
	session.inflight.Add(1)
	session.mutex.Unlock()

	session.bus.Publish(change)
	session.logger.Debug("change matched", map[string]string{
		"path":    rel,
		"op":      change.Op.String(),
		"action":  entry.action.describe(),
		"binding": fmt.Sprintf("%d", entry.id),
	})

	if entry.action.unit != nil {
		go func() {
			defer session.inflight.Done()
			session.runUnit(entry.action.unit, rel)
		}()
		return true
	}

	defer session.inflight.Done()
	session.notify(entry.action.notify, change, rel)
	return true
}

func (session *Session) runUnit(unit *task.Unit, rel string) {
	if err := unit.Run(task.WithRunID(session.ctx)); err != nil {
		if errors.Is(err, context.Canceled) && session.ctx.Err() != nil {
			return
		}
		session.logger.Warn("watch task failed", map[string]string{
			"task":  unit.Name(),
			"path":  rel,
			"error": err.Error(),
		})
	}
}

func (session *Session) notify(fn func(Event), change Event, rel string) {
	defer func() {
		if recovered := recover(); recovered != nil {
			session.logger.Error("watch notify panicked", map[string]string{
				"path":  rel,
				"panic": fmt.Sprint(recovered),
			})
		}
	}()
	fn(change)
}

func (session *Session) relative(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(session.root, path)
	}
	rel, err := filepath.Rel(session.root, path)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}

// Wait blocks until triggered actions have finished.
func (session *Session) Wait() {
	if session == nil {
		return
	}
	session.inflight.Wait()
}

// Close removes every binding. Running units see their context cancelled.
func (session *Session) Close() error {
	if session == nil {
		return nil
	}
	session.mutex.Lock()
	if session.closed {
		session.mutex.Unlock()
		return nil
	}
	session.closed = true
	bindings := session.bindings
	session.bindings = nil
	session.mutex.Unlock()

	var errs []error
	for _, entry := range bindings {
		for _, handle := range entry.handles {
			if err := handle.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	session.cancel()
	return errors.Join(errs...)
}

// qualifies filters out attribute-only changes.
func qualifies(change Event) bool {
	if change.Op == 0 {
		return true
	}
	return change.Op.Has(fsnotify.Create) || change.Op.Has(fsnotify.Write) ||
		change.Op.Has(fsnotify.Remove) || change.Op.Has(fsnotify.Rename)
}
