package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRestartDelayDoubles(t *testing.T) {
	want := []time.Duration{restartBaseDelay, 2 * restartBaseDelay, 4 * restartBaseDelay}
	for attempt, expected := range want {
		if got := restartDelay(attempt); got != expected {
			t.Fatalf("attempt %d: expected %s, got %s", attempt, expected, got)
		}
	}
}

func TestScheduleRestartArmsOnce(t *testing.T) {
	watcher := newTestWatcher(t, Options{})
	watcher.scheduleRestart(errors.New("overflow"))
	watcher.scheduleRestart(errors.New("overflow again"))

	watcher.restartMu.Lock()
	armed := watcher.restartTimer != nil
	restarts := watcher.restarts
	if watcher.restartTimer != nil {
		watcher.restartTimer.Stop()
		watcher.restartTimer = nil
	}
	watcher.restartMu.Unlock()

	if !armed {
		t.Fatal("expected restart timer")
	}
	if restarts != 1 {
		t.Fatalf("expected one scheduled attempt, got %d", restarts)
	}
}

func TestScheduleRestartGivesUp(t *testing.T) {
	reported := make(chan error, 1)
	watcher := newTestWatcher(t, Options{ErrorHandler: func(err error) { reported <- err }})
	watcher.restartMu.Lock()
	watcher.restarts = maxRestartAttempts
	watcher.restartMu.Unlock()

	cause := errors.New("queue overflow")
	watcher.fail(cause)
	select {
	case err := <-reported:
		if !errors.Is(err, cause) {
			t.Fatalf("expected cause, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected error handler to be called")
	}
	if watcher.Metrics().Errors != 1 {
		t.Fatalf("expected one error, got %d", watcher.Metrics().Errors)
	}
}

func TestRestartKeepsWatchesAndDelivery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.js")
	if err := os.WriteFile(path, []byte("1"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	watcher := newTestWatcher(t, Options{})
	events := make(chan Event, 4)
	if _, err := watcher.Watch(path, func(event Event) { events <- event }); err != nil {
		t.Fatalf("watch: %v", err)
	}
	watcher.restartMu.Lock()
	watcher.restarts = 2
	watcher.restartMu.Unlock()

	watcher.runRestart()
	metrics := watcher.Metrics()
	if metrics.RestartAttempts != 0 {
		t.Fatalf("expected attempts reset after success, got %d", metrics.RestartAttempts)
	}
	if metrics.ActiveWatches != 1 {
		t.Fatalf("expected watch kept, got %d", metrics.ActiveWatches)
	}

	if err := os.WriteFile(path, []byte("2"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	awaitPath(t, events, path)
}
