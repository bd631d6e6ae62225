package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"brook/internal/logging"
	"brook/internal/task"
	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/mock"
)

type reloadNotifier struct {
	mock.Mock
}

func (notifier *reloadNotifier) Reload(change Event) {
	notifier.Called(filepath.ToSlash(change.Path))
}

func newTestSession(t *testing.T, options SessionOptions) *Session {
	t.Helper()
	if options.Root == "" {
		options.Root = t.TempDir()
	}
	session, err := NewSession(context.Background(), options)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(func() {
		_ = session.Close()
	})
	return session
}

func TestSessionRunsUnitOncePerMatchingEvent(t *testing.T) {
	session := newTestSession(t, SessionOptions{})
	var runs atomic.Int32
	style := task.Func("style", func(context.Context) error {
		runs.Add(1)
		return nil
	})
	if err := session.Watch([]string{"app/styles/**/*.scss"}, RunUnit(style)); err != nil {
		t.Fatalf("watch: %v", err)
	}

	if got := session.Dispatch(Event{Path: "app/styles/main.scss", Op: fsnotify.Write}); got != 1 {
		t.Fatalf("expected 1 triggered binding, got %d", got)
	}
	if got := session.Dispatch(Event{Path: "app/scripts/main.js", Op: fsnotify.Write}); got != 0 {
		t.Fatalf("expected no triggered binding, got %d", got)
	}
	session.Wait()

	if runs.Load() != 1 {
		t.Fatalf("expected exactly one run, got %d", runs.Load())
	}
}

func TestSessionNotifyUsesMatchingBindingsOnly(t *testing.T) {
	session := newTestSession(t, SessionOptions{})
	images := &reloadNotifier{}
	fonts := &reloadNotifier{}
	images.On("Reload", "app/images/logo.png").Once()

	if err := session.Watch([]string{"app/images/**/*"}, Notify(images.Reload)); err != nil {
		t.Fatalf("watch images: %v", err)
	}
	if err := session.Watch([]string{"app/fonts/**/*"}, Notify(fonts.Reload)); err != nil {
		t.Fatalf("watch fonts: %v", err)
	}

	session.Dispatch(Event{Path: "app/images/logo.png", Op: fsnotify.Create})
	session.Wait()

	images.AssertExpectations(t)
	fonts.AssertNotCalled(t, "Reload", mock.Anything)
}

func TestSessionContinuesAfterUnitFailure(t *testing.T) {
	buffer := logging.NewLogBuffer(16)
	logger := logging.NewLoggerWithOutput(buffer, logging.LevelInfo, nil)
	session := newTestSession(t, SessionOptions{Logger: logger})

	var runs atomic.Int32
	failing := task.Func("style", func(context.Context) error {
		runs.Add(1)
		return errors.New("syntax error")
	})
	if err := session.Watch([]string{"app/styles/*.scss"}, RunUnit(failing)); err != nil {
		t.Fatalf("watch: %v", err)
	}

	session.Dispatch(Event{Path: "app/styles/a.scss", Op: fsnotify.Write})
	session.Wait()
	session.Dispatch(Event{Path: "app/styles/b.scss", Op: fsnotify.Write})
	session.Wait()

	if runs.Load() != 2 {
		t.Fatalf("expected 2 runs after failure, got %d", runs.Load())
	}
	warned := false
	for _, entry := range buffer.List() {
		if entry.Level == logging.LevelWarning && entry.Context["task"] == "style" {
			warned = true
		}
	}
	if !warned {
		t.Fatal("expected failure to be logged")
	}
}

func TestSessionAllowsOverlappingRuns(t *testing.T) {
	session := newTestSession(t, SessionOptions{})
	release := make(chan struct{})
	var running atomic.Int32
	var peak atomic.Int32
	slow := task.Func("script", func(context.Context) error {
		current := running.Add(1)
		for {
			previous := peak.Load()
			if current <= previous || peak.CompareAndSwap(previous, current) {
				break
			}
		}
		<-release
		running.Add(-1)
		return nil
	})
	if err := session.Watch([]string{"app/scripts/*.js"}, RunUnit(slow)); err != nil {
		t.Fatalf("watch: %v", err)
	}

	session.Dispatch(Event{Path: "app/scripts/a.js", Op: fsnotify.Write})
	session.Dispatch(Event{Path: "app/scripts/a.js", Op: fsnotify.Write})

	deadline := time.After(time.Second)
	for peak.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected overlapping runs, peak %d", peak.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	close(release)
	session.Wait()
}

func TestSessionIgnoresChmodAndOutsideRoot(t *testing.T) {
	session := newTestSession(t, SessionOptions{})
	notifier := &reloadNotifier{}
	if err := session.Watch([]string{"**/*"}, Notify(notifier.Reload)); err != nil {
		t.Fatalf("watch: %v", err)
	}

	if got := session.Dispatch(Event{Path: "app/index.html", Op: fsnotify.Chmod}); got != 0 {
		t.Fatalf("expected chmod to be ignored, got %d", got)
	}
	outside := filepath.Join(filepath.Dir(session.root), "elsewhere.html")
	if got := session.Dispatch(Event{Path: outside, Op: fsnotify.Write}); got != 0 {
		t.Fatalf("expected path outside root to be ignored, got %d", got)
	}
	notifier.AssertNotCalled(t, "Reload", mock.Anything)
}

func TestSessionRejectsInvalidBindings(t *testing.T) {
	session := newTestSession(t, SessionOptions{})
	if err := session.Watch(nil, Notify(func(Event) {})); err == nil {
		t.Fatal("expected error for empty patterns")
	}
	if err := session.Watch([]string{"*.html"}, Action{}); err == nil {
		t.Fatal("expected error for empty action")
	}
	_ = session.Close()
	if err := session.Watch([]string{"*.html"}, Notify(func(Event) {})); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected closed session error, got %v", err)
	}
	if got := session.Dispatch(Event{Path: "index.html"}); got != 0 {
		t.Fatalf("expected closed session to ignore events, got %d", got)
	}
}

func TestSessionReceivesFilesystemEvents(t *testing.T) {
	root := t.TempDir()
	stylesDir := filepath.Join(root, "app", "styles")
	if err := os.MkdirAll(stylesDir, 0o755); err != nil {
		t.Fatalf("create styles dir: %v", err)
	}
	fsWatcher, err := NewWithOptions(Options{WatchRecursive: true, Debounce: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer fsWatcher.Close()

	session := newTestSession(t, SessionOptions{Root: root, Watcher: fsWatcher})
	changes := make(chan Event, 4)
	err = session.Watch([]string{"app/styles/**/*.scss"}, Notify(func(change Event) {
		select {
		case changes <- change:
		default:
		}
	}))
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	target := filepath.Join(stylesDir, "main.scss")
	if err := os.WriteFile(target, []byte("body {}"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	change, ok := waitForEvent(changes)
	if !ok {
		t.Fatal("timed out waiting for change")
	}
	if change.Path != target {
		t.Fatalf("expected %q, got %q", target, change.Path)
	}
}

func TestSessionWatchesLiteralFileOnly(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "brook.data.yaml")
	if err := os.WriteFile(target, []byte("title: one\n"), 0o644); err != nil {
		t.Fatalf("write data file: %v", err)
	}
	fsWatcher, err := NewWithOptions(Options{WatchRecursive: true, Debounce: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer fsWatcher.Close()

	session := newTestSession(t, SessionOptions{Root: root, Watcher: fsWatcher})
	changes := make(chan Event, 4)
	err = session.Watch([]string{"brook.data.yaml"}, Notify(func(change Event) {
		select {
		case changes <- change:
		default:
		}
	}))
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if active := fsWatcher.Metrics().ActiveWatches; active != 1 {
		t.Fatalf("expected a single file watch, got %d", active)
	}

	if err := os.WriteFile(target, []byte("title: two\n"), 0o644); err != nil {
		t.Fatalf("rewrite data file: %v", err)
	}
	change, ok := waitForEvent(changes)
	if !ok {
		t.Fatal("timed out waiting for change")
	}
	if change.Path != target {
		t.Fatalf("expected %q, got %q", target, change.Path)
	}
}

func TestSessionFileUnderGlobBaseTriggersOnce(t *testing.T) {
	root := t.TempDir()
	pagesDir := filepath.Join(root, "src")
	if err := os.MkdirAll(pagesDir, 0o755); err != nil {
		t.Fatalf("create src dir: %v", err)
	}
	target := filepath.Join(pagesDir, "index.html")
	if err := os.WriteFile(target, []byte("<p>one</p>"), 0o644); err != nil {
		t.Fatalf("write page: %v", err)
	}
	fsWatcher, err := NewWithOptions(Options{WatchRecursive: true, Debounce: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer fsWatcher.Close()

	session := newTestSession(t, SessionOptions{Root: root, Watcher: fsWatcher})
	var calls atomic.Int32
	changes := make(chan Event, 4)
	err = session.Watch([]string{"src/**/*.html", "src/index.html"}, Notify(func(change Event) {
		calls.Add(1)
		select {
		case changes <- change:
		default:
		}
	}))
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	if err := os.WriteFile(target, []byte("<p>two</p>"), 0o644); err != nil {
		t.Fatalf("rewrite page: %v", err)
	}
	if _, ok := waitForEvent(changes); !ok {
		t.Fatal("timed out waiting for change")
	}
	time.Sleep(300 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected one invocation for one write, got %d", got)
	}
}

func TestBindingDropsRepeatedDelivery(t *testing.T) {
	entry := &binding{}
	at := time.Now().UTC()
	change := Event{Path: "/site/src/index.html", Op: fsnotify.Write, OccurredAt: at}
	if !entry.first(change) {
		t.Fatal("expected first delivery to pass")
	}
	if entry.first(change) {
		t.Fatal("expected repeated delivery to be dropped")
	}
	if !entry.first(Event{Path: change.Path, Op: fsnotify.Write, OccurredAt: at.Add(time.Millisecond)}) {
		t.Fatal("expected a later change to pass")
	}
	if !entry.first(Event{Path: "/site/src/about.html", Op: fsnotify.Write, OccurredAt: at}) {
		t.Fatal("expected another path to pass")
	}
}

func waitForEvent(changes <-chan Event) (Event, bool) {
	select {
	case change := <-changes:
		return change, true
	case <-time.After(2 * time.Second):
		return Event{}, false
	}
}
