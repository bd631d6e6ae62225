// Package devserver serves the development trees with live reload.
package devserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"brook/internal/livereload"
	"brook/internal/logging"
	"brook/internal/metrics"
)

const (
	RouteLiveReload = "/__brook/livereload"
	RouteLogs       = "/__brook/logs"
	RouteMetrics    = "/__brook/metrics"
	RouteClient     = "/__brook/client.js"

	cacheControlNoStore = "no-store, must-revalidate"
	defaultLogTail      = 100
	shutdownTimeout     = 5 * time.Second
)

type Options struct {
	// Roots are searched in order; the first containing the path wins.
	Roots   []string
	Addr    string
	Hub     *livereload.Hub
	Logger  *logging.Logger
	Metrics *metrics.Registry
}

type Server struct {
	roots    []string
	addr     string
	hub      *livereload.Hub
	logger   *logging.Logger
	registry *metrics.Registry
	listener net.Listener
}

func New(options Options) *Server {
	roots := make([]string, 0, len(options.Roots))
	for _, root := range options.Roots {
		if strings.TrimSpace(root) != "" {
			roots = append(roots, root)
		}
	}
	registry := options.Metrics
	if registry == nil {
		registry = metrics.Default
	}
	return &Server{
		roots:    roots,
		addr:     options.Addr,
		hub:      options.Hub,
		logger:   options.Logger.Category("server"),
		registry: registry,
	}
}

// Handler routes the internal endpoints and the static roots.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(RouteLiveReload, s.handleLiveReload)
	mux.HandleFunc(RouteLogs, s.handleLogs)
	mux.HandleFunc(RouteMetrics, s.handleMetrics)
	mux.HandleFunc(RouteClient, s.handleClient)
	mux.HandleFunc("/", s.handleStatic)
	return loggingMiddleware(s.logger, mux)
}

// Listen binds the configured address. Port 0 picks a free port.
func (s *Server) Listen() (net.Addr, error) {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("devserver: listen %s: %w", s.addr, err)
	}
	s.listener = listener
	return listener.Addr(), nil
}

// Serve handles requests until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		if _, err := s.Listen(); err != nil {
			return err
		}
	}
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		errs <- server.Serve(s.listener)
	}()
	s.logger.Info("serving", map[string]string{
		"url":   "http://" + s.listener.Addr().String(),
		"roots": strings.Join(s.roots, ","),
	})

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("devserver: shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	file, ok := s.resolve(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", cacheControlNoStore)
	w.Header().Set("X-Content-Type-Options", "nosniff")

	if isHTML(file) {
		contents, err := os.ReadFile(file)
		if err != nil {
			http.Error(w, "read failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		http.ServeContent(w, r, filepath.Base(file), time.Time{}, bytes.NewReader(InjectClient(contents)))
		return
	}
	http.ServeFile(w, r, file)
}

// resolve maps a URL path to the first existing file across the roots.
// Directories resolve to their index.html.
func (s *Server) resolve(urlPath string) (string, bool) {
	clean := path.Clean("/" + urlPath)
	for _, root := range s.roots {
		candidate := filepath.Join(root, filepath.FromSlash(clean))
		info, err := os.Stat(candidate)
		if err != nil {
			continue
		}
		if info.IsDir() {
			candidate = filepath.Join(candidate, "index.html")
			if info, err = os.Stat(candidate); err != nil || info.IsDir() {
				continue
			}
		}
		return candidate, true
	}
	return "", false
}

func (s *Server) handleLiveReload(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.Error(w, "live reload unavailable", http.StatusServiceUnavailable)
		return
	}
	output, cancel := s.hub.Subscribe()
	defer cancel()
	serveWSStream(w, r, wsStreamConfig[livereload.Message]{
		Output: output,
		Hello:  livereload.Message{Kind: livereload.MessageTypeHello, At: time.Now().UTC()},
		Logger: s.logger,
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.logger == nil {
		http.Error(w, "log stream unavailable", http.StatusServiceUnavailable)
		return
	}
	minLevel := logging.LevelDebug
	if raw := r.URL.Query().Get("level"); raw != "" {
		if level, ok := logging.ParseLevel(raw); ok {
			minLevel = level
		}
	}
	tail := defaultLogTail
	if raw := r.URL.Query().Get("tail"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			tail = parsed
		}
	}
	output, cancel := s.logger.Subscribe()
	defer cancel()
	serveWSStream(w, r, wsStreamConfig[logging.LogEntry]{
		Backlog: s.logger.Buffer().Tail(tail),
		Output:  output,
		BuildPayload: func(entry logging.LogEntry) (any, bool) {
			return entry, logging.LevelAtLeast(entry.Level, minLevel)
		},
		Logger: s.logger,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.Header().Set("Cache-Control", cacheControlNoStore)
	if err := s.registry.WritePrometheus(w); err != nil {
		s.logger.Warn("metrics write failed", map[string]string{"error": err.Error()})
	}
}

func (s *Server) handleClient(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", cacheControlNoStore)
	_, _ = w.Write([]byte(clientScript))
}

func loggingMiddleware(logger *logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("request", map[string]string{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(started).String(),
		})
	})
}

func isHTML(file string) bool {
	ext := strings.ToLower(filepath.Ext(file))
	return ext == ".html" || ext == ".htm"
}
