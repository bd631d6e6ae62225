package devserver

import (
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"brook/internal/logging"
	"github.com/gorilla/websocket"
)

const wsReadBufferSize = 1024
const wsWriteBufferSize = 1024
const wsWriteTimeout = 10 * time.Second

type wsStreamConfig[T any] struct {
	// Backlog is written before anything from Output.
	Backlog      []T
	Output       <-chan T
	BuildPayload func(T) (any, bool)
	Hello        any
	WriteTimeout time.Duration
	Logger       *logging.Logger
}

var errWSNilOutput = errors.New("websocket output channel is nil")

type wsWriteLoop struct {
	Conn     *websocket.Conn
	stopOnce sync.Once
	done     chan struct{}
}

func (loop *wsWriteLoop) Stop() {
	if loop == nil {
		return
	}
	loop.stopOnce.Do(func() {
		close(loop.done)
	})
}

func upgradeWebSocket(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsReadBufferSize,
		WriteBufferSize: wsWriteBufferSize,
		CheckOrigin:     isLocalOrigin,
	}
	return upgrader.Upgrade(w, r, nil)
}

// isLocalOrigin accepts same-host pages and loopback origins only.
func isLocalOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(parsed.Host, r.Host) {
		return true
	}
	host := parsed.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func startWSWriteLoop[T any](conn *websocket.Conn, config wsStreamConfig[T]) (*wsWriteLoop, error) {
	if config.Output == nil {
		return nil, errWSNilOutput
	}

	writeTimeout := config.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = wsWriteTimeout
	}

	buildPayload := config.BuildPayload
	if buildPayload == nil {
		buildPayload = func(value T) (any, bool) {
			return value, true
		}
	}

	if config.Hello != nil {
		if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return nil, err
		}
		if err := conn.WriteJSON(config.Hello); err != nil {
			return nil, err
		}
	}

	for _, value := range config.Backlog {
		payload, ok := buildPayload(value)
		if !ok {
			continue
		}
		if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return nil, err
		}
		if err := conn.WriteJSON(payload); err != nil {
			return nil, err
		}
	}

	loop := &wsWriteLoop{
		Conn: conn,
		done: make(chan struct{}),
	}

	go func() {
		for {
			select {
			case value, ok := <-config.Output:
				if !ok {
					deadline := time.Now().Add(writeTimeout)
					_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"), deadline)
					_ = conn.Close()
					return
				}
				payload, ok := buildPayload(value)
				if !ok {
					continue
				}
				if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
					return
				}
				if err := conn.WriteJSON(payload); err != nil {
					return
				}
			case <-loop.done:
				return
			}
		}
	}()

	return loop, nil
}

// serveWSStream upgrades the request, streams Output until the client goes
// away, then closes the connection.
func serveWSStream[T any](w http.ResponseWriter, r *http.Request, config wsStreamConfig[T]) {
	conn, err := upgradeWebSocket(w, r)
	if err != nil {
		logWSError(config.Logger, r, http.StatusBadRequest, err)
		return
	}
	defer conn.Close()

	loop, err := startWSWriteLoop(conn, config)
	if err != nil {
		logWSError(config.Logger, r, http.StatusInternalServerError, err)
		return
	}
	defer loop.Stop()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func logWSError(logger *logging.Logger, r *http.Request, status int, err error) {
	if logger == nil || r == nil {
		return
	}
	fields := map[string]string{
		"path":   r.URL.Path,
		"status": strconv.Itoa(status),
	}
	if r.RemoteAddr != "" {
		fields["remote_addr"] = r.RemoteAddr
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	if status >= http.StatusInternalServerError {
		logger.Error("websocket error", fields)
	} else {
		logger.Warn("websocket error", fields)
	}
}
