// Package session owns the realtime websocket: it connects, feeds message
// frames to a Handler one at a time and reconnects whenever the socket ends.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/slack-go/slack"
	"github.com/tidwall/gjson"
)

const (
	DefaultPingInterval = 60 * time.Second
	DefaultFrameBuffer  = 256
)

// State of the session loop
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "idle"
	}
}

// Endpoints issues single-use websocket URLs
type Endpoints interface {
	ConnectURL(ctx context.Context) (string, error)
}

// Handler receives user message events, one at a time
type Handler interface {
	OnMessage(ctx context.Context, ev *slack.MessageEvent) error
}

// Failure describes how a session ended. Code is the websocket close code,
// zero when the connection failed without a close frame.
type Failure struct {
	SessionID string
	Code      int
	Reason    string
	Err       error
}

func (f *Failure) Error() string {
	if f.Code != 0 {
		return fmt.Sprintf("session %s closed: %d %s", f.SessionID, f.Code, f.Reason)
	}
	return fmt.Sprintf("session %s failed: %v", f.SessionID, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Config tunes a Manager. Zero values select the defaults.
type Config struct {
	PingInterval time.Duration
	// EndpointRetry is the pause after a failed endpoint request. Zero
	// retries immediately.
	EndpointRetry time.Duration
	FrameBuffer   int
	Dialer        *websocket.Dialer
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Manager runs the connect / read / reconnect loop
type Manager struct {
	endpoints     Endpoints
	handler       Handler
	pingInterval  time.Duration
	endpointRetry time.Duration
	frameBuffer   int
	dialer        *websocket.Dialer
	logger        *slog.Logger

	state    atomic.Int32
	sessions atomic.Int64
}

// New creates a Manager
func New(endpoints Endpoints, handler Handler, cfg Config) *Manager {
	m := &Manager{
		endpoints:     endpoints,
		handler:       handler,
		pingInterval:  cfg.PingInterval,
		endpointRetry: cfg.EndpointRetry,
		frameBuffer:   cfg.FrameBuffer,
		dialer:        cfg.Dialer,
		logger:        cfg.Logger,
	}
	if m.pingInterval <= 0 {
		m.pingInterval = DefaultPingInterval
	}
	if m.endpointRetry < 0 {
		m.endpointRetry = 0
	}
	if m.frameBuffer <= 0 {
		m.frameBuffer = DefaultFrameBuffer
	}
	if m.dialer == nil {
		m.dialer = websocket.DefaultDialer
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// State returns the current loop state
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Sessions returns how many sessions have been opened
func (m *Manager) Sessions() int64 {
	return m.sessions.Load()
}

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
}

// Run connects and reconnects until ctx is cancelled. Only a failure to get
// the very first endpoint is returned; every later failure is logged and
// followed by a new connection.
func (m *Manager) Run(ctx context.Context) error {
	defer m.setState(StateIdle)

	first := true
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		m.setState(StateConnecting)
		wsURL, err := m.endpoints.ConnectURL(ctx)
		if err != nil {
			if first {
				return fmt.Errorf("session: obtain endpoint: %w", err)
			}
			m.setState(StateIdle)
			m.logger.Warn("Could not obtain session endpoint", "error", err, "retry_in", m.endpointRetry)
			select {
			case <-time.After(m.endpointRetry):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		first = false

		err = m.runSession(ctx, wsURL)
		m.setState(StateIdle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.logger.Info("Session ended, reconnecting", "reason", err)
	}
}

// runSession serves one websocket connection until it ends. Frames are read
// on this goroutine and handled in order on a second one, so a slow handler
// never stalls the socket.
func (m *Manager) runSession(ctx context.Context, wsURL string) error {
	sessionID := uuid.NewString()
	logger := m.logger.With("session", sessionID)

	conn, _, err := m.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return &Failure{SessionID: sessionID, Err: fmt.Errorf("dial: %w", err)}
	}
	defer conn.Close()

	m.sessions.Add(1)
	m.setState(StateOpen)
	logger.Info("Session open")

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-sessionCtx.Done()
		conn.Close()
	}()

	frames := make(chan []byte, m.frameBuffer)
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		for frame := range frames {
			m.dispatch(ctx, logger, frame)
		}
	}()

	go m.keepalive(sessionCtx, conn, logger)

	err = m.readLoop(conn, frames, sessionID, logger)
	close(frames)
	cancel()
	<-dispatched
	return err
}

func (m *Manager) readLoop(conn *websocket.Conn, frames chan<- []byte, sessionID string, logger *slog.Logger) error {
	timeout := 3 * m.pingInterval
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(timeout))
	})

	for {
		// Time spent waiting for the dispatcher does not count against the peer.
		conn.SetReadDeadline(time.Now().Add(timeout))
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return &Failure{SessionID: sessionID, Code: closeErr.Code, Reason: closeErr.Text, Err: err}
			}
			return &Failure{SessionID: sessionID, Err: err}
		}

		if msgType != websocket.TextMessage {
			logger.Debug("Ignoring non-text frame", "type", msgType)
			continue
		}
		logger.Debug("Frame received", "frame", string(data))

		if gjson.GetBytes(data, "type").String() == "goodbye" {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return &Failure{SessionID: sessionID, Code: websocket.CloseNormalClosure, Reason: "goodbye"}
		}

		frames <- data
	}
}

func (m *Manager) keepalive(ctx context.Context, conn *websocket.Conn, logger *slog.Logger) {
	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(m.pingInterval / 2)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				logger.Debug("Ping failed, closing session", "error", err)
				conn.Close()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// isUserMessage reports whether a frame is a message posted by a person or
// a bot; edits, joins and other subtypes are skipped.
func isUserMessage(frame []byte) bool {
	fields := gjson.GetManyBytes(frame, "type", "subtype")
	if fields[0].String() != "message" {
		return false
	}
	subtype := fields[1].String()
	return subtype == "" || subtype == "bot_message"
}

func (m *Manager) dispatch(ctx context.Context, logger *slog.Logger, frame []byte) {
	if !isUserMessage(frame) {
		return
	}

	var ev slack.MessageEvent
	if err := json.Unmarshal(frame, &ev); err != nil {
		logger.Error("Could not decode message frame", "error", err)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic while handling message", "panic", r, "channel", ev.Channel, "ts", ev.Timestamp)
		}
	}()

	if err := m.handler.OnMessage(ctx, &ev); err != nil {
		logger.Error("Message handling failed", "error", err, "channel", ev.Channel, "ts", ev.Timestamp)
	}
}
