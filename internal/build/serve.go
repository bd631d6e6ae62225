package build

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"brook/internal/devserver"
	"brook/internal/livereload"
	"brook/internal/watcher"
)

// ServeRoots returns the directories the dev server reads from, in lookup
// order.
func (p *Project) ServeRoots() []string {
	return []string{
		p.cfg.Path(p.cfg.Paths.Temp),
		p.cfg.Path(p.cfg.Paths.Src),
		p.cfg.Path(p.cfg.Paths.Public),
	}
}

// serve runs the development server with live reload until ctx is done.
// Source changes rerun the matching compile task; changes to the staging
// tree and to assets served as is only reload connected browsers.
func (p *Project) serve(ctx context.Context) error {
	logger := p.logger.Category("serve")
	if err := os.MkdirAll(p.cfg.Path(p.cfg.Paths.Temp), 0o755); err != nil {
		return err
	}

	hub := livereload.NewHub(ctx, p.logger, p.metrics)
	coalescer := livereload.NewCoalescer(time.Duration(p.cfg.Server.ReloadWindowMS)*time.Millisecond, hub.Reload)
	defer coalescer.Close()

	fsWatcher, err := watcher.NewWithOptions(p.watchOptions())
	if err != nil {
		return err
	}
	defer fsWatcher.Close()

	session, err := watcher.NewSession(ctx, watcher.SessionOptions{
		Root:    p.cfg.Path("."),
		Logger:  p.logger,
		Watcher: fsWatcher,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = session.Close()
		session.Wait()
	}()
	if err := p.bind(session, coalescer); err != nil {
		return err
	}

	server := devserver.New(devserver.Options{
		Roots:   p.ServeRoots(),
		Addr:    net.JoinHostPort(p.cfg.Server.Host, strconv.Itoa(p.cfg.Server.Port)),
		Hub:     hub,
		Logger:  p.logger,
		Metrics: p.metrics,
	})
	addr, err := server.Listen()
	if err != nil {
		return err
	}
	logger.Info("dev server ready", map[string]string{
		"url": "http://" + addr.String() + p.openPath(),
	})
	if err := server.Serve(ctx); err != nil {
		return err
	}
	return nil
}

// reloader receives the URL paths browsers should reload.
func (p *Project) watchOptions() watcher.Options {
	logger := p.logger.Category("watcher")
	return watcher.Options{
		Logger:         p.logger,
		Debounce:       time.Duration(p.cfg.Watch.DebounceMS) * time.Millisecond,
		MaxWatches:     p.cfg.Watch.MaxWatches,
		WatchRecursive: true,
		ErrorHandler: func(err error) {
			logger.Error("file watching stopped, restart serve to resume", map[string]string{
				"error": err.Error(),
			})
		},
	}
}

type reloader interface {
	Notify(path string)
}

// bind wires the watch bindings of the serve task onto session.
func (p *Project) bind(session *watcher.Session, reloads reloader) error {
	reload := watcher.Notify(func(change watcher.Event) {
		reloads.Notify(p.servedPath(change.Path))
	})
	pageSources := p.cfg.SrcGlobs(p.cfg.Globs.Pages)
	if p.cfg.Pages.DataFile != "" {
		pageSources = append(pageSources, filepath.ToSlash(p.cfg.Pages.DataFile))
	}
	bindings := []struct {
		patterns []string
		action   watcher.Action
	}{
		{p.cfg.SrcGlobs(p.cfg.Globs.Styles), watcher.RunUnit(p.Style)},
		{p.cfg.SrcGlobs(p.cfg.Globs.Scripts), watcher.RunUnit(p.Script)},
		{pageSources, watcher.RunUnit(p.Page)},
		{p.cfg.SrcGlobs(append(append([]string(nil), p.cfg.Globs.Images...), p.cfg.Globs.Fonts...)), reload},
		{[]string{filepath.ToSlash(filepath.Join(p.cfg.Paths.Public, "**"))}, reload},
		{[]string{filepath.ToSlash(filepath.Join(p.cfg.Paths.Temp, "**"))}, reload},
	}
	var errs []error
	for _, entry := range bindings {
		if len(entry.patterns) == 0 {
			continue
		}
		errs = append(errs, session.Watch(entry.patterns, entry.action))
	}
	return errors.Join(errs...)
}

// servedPath maps a changed file to the URL path the dev server serves it at.
func (p *Project) servedPath(path string) string {
	for _, root := range p.ServeRoots() {
		absolute, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(absolute, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return "/" + filepath.ToSlash(rel)
	}
	return filepath.ToSlash(path)
}

func (p *Project) openPath() string {
	path := p.cfg.Server.OpenPath
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}
