package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// registration is one Watch call. dirs lists the OS watches it holds.
type registration struct {
	id       uint64
	root     string
	dir      bool
	callback func(Event)
	dirs     []string
}

type registrationHandle struct {
	watcher *Watcher
	id      uint64
	once    sync.Once
}

func (handle *registrationHandle) Close() error {
	if handle == nil || handle.watcher == nil {
		return nil
	}
	var err error
	handle.once.Do(func() {
		err = handle.watcher.unregister(handle.id)
	})
	return err
}

// Watch calls callback for changes to path. For a directory the callback also
// sees its entries when WatchDir is set, and its whole tree when
// WatchRecursive is set.
func (watcher *Watcher) Watch(path string, callback func(Event)) (Handle, error) {
	if watcher == nil {
		return nil, errors.New("watcher: nil watcher")
	}
	if path == "" {
		return nil, errors.New("watcher: path is required")
	}
	if callback == nil {
		return nil, errors.New("watcher: callback is required")
	}
	path = filepath.Clean(path)
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	wanted := []string{path}
	if info.IsDir() && watcher.options.WatchRecursive {
		wanted = append(wanted, subdirectories(path)...)
	}

	watcher.mu.Lock()
	defer watcher.mu.Unlock()
	if watcher.closed {
		return nil, ErrClosed
	}
	if len(watcher.holds)+watcher.missingLocked(wanted) > watcher.options.MaxWatches {
		return nil, ErrMaxWatchesExceeded
	}
	if err := watcher.holdLocked(path); err != nil {
		return nil, err
	}
	watcher.nextID++
	reg := &registration{
		id:       watcher.nextID,
		root:     path,
		dir:      info.IsDir(),
		callback: callback,
		dirs:     []string{path},
	}
	for _, dir := range wanted[1:] {
		if err := watcher.holdLocked(dir); err != nil {
			continue
		}
		reg.dirs = append(reg.dirs, dir)
	}
	watcher.regs[reg.id] = reg
	watcher.logger.Debug("watch added", map[string]string{
		"path":           path,
		"dirs":           strconv.Itoa(len(reg.dirs)),
		"active_watches": strconv.Itoa(len(watcher.holds)),
	})
	return &registrationHandle{watcher: watcher, id: reg.id}, nil
}

// WatchContext is Watch with the registration removed once ctx is done.
func (watcher *Watcher) WatchContext(ctx context.Context, path string, callback func(Event)) (Handle, error) {
	handle, err := watcher.Watch(path, callback)
	if err != nil || ctx == nil {
		return handle, err
	}
	go func() {
		select {
		case <-ctx.Done():
			_ = handle.Close()
		case <-watcher.done:
		}
	}()
	return handle, nil
}

func (watcher *Watcher) unregister(id uint64) error {
	watcher.mu.Lock()
	defer watcher.mu.Unlock()
	reg, ok := watcher.regs[id]
	if !ok {
		return nil
	}
	delete(watcher.regs, id)
	var errs []error
	for _, dir := range reg.dirs {
		errs = append(errs, watcher.releaseLocked(dir))
	}
	watcher.logger.Debug("watch removed", map[string]string{
		"path":           reg.root,
		"active_watches": strconv.Itoa(len(watcher.holds)),
	})
	return errors.Join(errs...)
}

// adoptDir extends recursive registrations to a directory created inside
// them, along with anything already nested in it.
func (watcher *Watcher) adoptDir(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	dirs := append([]string{path}, subdirectories(path)...)

	watcher.mu.Lock()
	defer watcher.mu.Unlock()
	if watcher.closed {
		return
	}
	for _, reg := range watcher.regs {
		if !reg.dir || reg.root == path || !within(reg.root, path) {
			continue
		}
		for _, dir := range dirs {
			if contains(reg.dirs, dir) {
				continue
			}
			if len(watcher.holds) >= watcher.options.MaxWatches && watcher.holds[dir] == 0 {
				watcher.logger.Warn("watch limit reached", map[string]string{"path": dir})
				return
			}
			if err := watcher.holdLocked(dir); err != nil {
				continue
			}
			reg.dirs = append(reg.dirs, dir)
		}
	}
}

func (watcher *Watcher) holdLocked(path string) error {
	if watcher.holds[path] == 0 {
		if err := watcher.backend.Add(path); err != nil {
			watcher.logger.Warn("watch add failed", map[string]string{
				"path":  path,
				"error": err.Error(),
			})
			return err
		}
	}
	watcher.holds[path]++
	return nil
}

func (watcher *Watcher) releaseLocked(path string) error {
	count := watcher.holds[path]
	if count > 1 {
		watcher.holds[path] = count - 1
		return nil
	}
	delete(watcher.holds, path)
	if count == 0 {
		return nil
	}
	if err := watcher.backend.Remove(path); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
		return err
	}
	return nil
}

func (watcher *Watcher) missingLocked(paths []string) int {
	missing := 0
	for _, path := range paths {
		if watcher.holds[path] == 0 {
			missing++
		}
	}
	return missing
}

// heldPaths returns every path with an OS watch, sorted.
func (watcher *Watcher) heldPaths() []string {
	watcher.mu.Lock()
	defer watcher.mu.Unlock()
	paths := make([]string, 0, len(watcher.holds))
	for path := range watcher.holds {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func (watcher *Watcher) interested(path string) bool {
	watcher.mu.Lock()
	defer watcher.mu.Unlock()
	for _, reg := range watcher.regs {
		if watcher.covers(reg, path) {
			return true
		}
	}
	return false
}

func (watcher *Watcher) callbacksLocked(path string) []func(Event) {
	ids := make([]uint64, 0, len(watcher.regs))
	for id, reg := range watcher.regs {
		if watcher.covers(reg, path) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	callbacks := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		callbacks = append(callbacks, watcher.regs[id].callback)
	}
	return callbacks
}

func (watcher *Watcher) covers(reg *registration, path string) bool {
	if path == reg.root {
		return true
	}
	if !reg.dir || !watcher.options.WatchDir {
		return false
	}
	if watcher.options.WatchRecursive {
		return within(reg.root, path)
	}
	return filepath.Dir(path) == reg.root
}

// subdirectories lists every directory below root. Unreadable entries are
// skipped.
func subdirectories(root string) []string {
	var dirs []string
	_ = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if entry != nil && entry.IsDir() && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if entry.IsDir() && path != root {
			dirs = append(dirs, path)
		}
		return nil
	})
	return dirs
}

func within(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func contains(values []string, value string) bool {
	for _, candidate := range values {
		if candidate == value {
			return true
		}
	}
	return false
}
