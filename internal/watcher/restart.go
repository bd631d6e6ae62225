package watcher

import (
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	maxRestartAttempts = 3
	restartBaseDelay   = 200 * time.Millisecond
)

// restartDelay doubles with every consecutive attempt.
func restartDelay(attempt int) time.Duration {
	return restartBaseDelay << attempt
}

func (watcher *Watcher) fail(err error) {
	if err == nil {
		return
	}
	watcher.failures.Add(1)
	watcher.logger.Warn("watch backend error", map[string]string{"error": err.Error()})
	watcher.scheduleRestart(err)
}

// scheduleRestart arms one restart at a time. After maxRestartAttempts
// consecutive failures the error handler is told instead.
func (watcher *Watcher) scheduleRestart(cause error) {
	watcher.restartMu.Lock()
	if watcher.isClosed() || watcher.restartTimer != nil {
		watcher.restartMu.Unlock()
		return
	}
	if watcher.restarts >= maxRestartAttempts {
		watcher.restartMu.Unlock()
		watcher.giveUp(cause)
		return
	}
	delay := restartDelay(watcher.restarts)
	watcher.restarts++
	watcher.restartTimer = time.AfterFunc(delay, watcher.runRestart)
	watcher.restartMu.Unlock()
}

func (watcher *Watcher) runRestart() {
	err := watcher.restart()

	watcher.restartMu.Lock()
	watcher.restartTimer = nil
	if err == nil {
		watcher.restarts = 0
	}
	watcher.restartMu.Unlock()

	if err != nil {
		watcher.logger.Warn("watch backend restart failed", map[string]string{"error": err.Error()})
		watcher.scheduleRestart(err)
	}
}

// restart replaces the backend and re-adds every held path.
func (watcher *Watcher) restart() error {
	if watcher.isClosed() {
		return nil
	}
	next, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, path := range watcher.heldPaths() {
		if err := next.Add(path); err != nil {
			watcher.logger.Warn("watch re-add failed", map[string]string{
				"path":  path,
				"error": err.Error(),
			})
		}
	}

	watcher.mu.Lock()
	if watcher.closed {
		watcher.mu.Unlock()
		_ = next.Close()
		return nil
	}
	previous := watcher.backend
	watcher.backend = next
	watcher.mu.Unlock()

	select {
	case watcher.swap <- next:
	case <-watcher.done:
	}
	_ = previous.Close()
	watcher.logger.Info("watch backend restarted", nil)
	return nil
}

func (watcher *Watcher) giveUp(cause error) {
	watcher.mu.Lock()
	handler := watcher.options.ErrorHandler
	watcher.mu.Unlock()
	if handler != nil && cause != nil {
		handler(cause)
	}
}

func (watcher *Watcher) isClosed() bool {
	watcher.mu.Lock()
	defer watcher.mu.Unlock()
	return watcher.closed
}
