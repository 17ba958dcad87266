package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/neurocare-ai/eeg-assist/pkg/logger"
	"github.com/neurocare-ai/eeg-assist/pkg/metrics"
)

// Config holds websocket transport configuration.
type Config struct {
	// URL is the websocket endpoint, e.g. "ws://127.0.0.1:5001/ws".
	URL string

	// HandshakeTimeout bounds the dial handshake. Default 10s.
	HandshakeTimeout time.Duration

	// BaseDelay is the reconnect backoff unit: attempt n waits n×BaseDelay.
	// Default 1s.
	BaseDelay time.Duration

	// MaxAttempts bounds the reconnect loop after an unplanned drop.
	// Default 3.
	MaxAttempts int

	// EventBuffer is the capacity of the inbound event channel. Default 256.
	EventBuffer int
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.EventBuffer == 0 {
		c.EventBuffer = 256
	}
	return c
}

// WS is the websocket Transport implementation. It owns the single shared
// connection, detects unplanned drops, and retries with linear backoff up to
// a bounded attempt count before giving up.
type WS struct {
	cfg Config
	log *logger.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	state  ConnState
	token  string
	joined map[string]bool

	events    chan Event
	stop      chan struct{}
	closeOnce sync.Once
}

var _ Transport = (*WS)(nil)

// NewWS creates a websocket transport. The connection is not opened until
// Connect is called.
func NewWS(cfg Config, log *logger.Logger) *WS {
	cfg = cfg.withDefaults()
	return &WS{
		cfg:    cfg,
		log:    log,
		state:  StateDisconnected,
		joined: make(map[string]bool),
		events: make(chan Event, cfg.EventBuffer),
		stop:   make(chan struct{}),
	}
}

// Connect opens the websocket, attaching the bearer credential, and starts
// the read loop. Calling Connect while connected is a no-op.
func (t *WS) Connect(ctx context.Context, token string) error {
	t.mu.Lock()
	if t.state == StateConnected {
		t.mu.Unlock()
		return nil
	}
	t.token = token
	t.state = StateConnecting
	t.mu.Unlock()

	conn, err := t.dial(ctx)
	if err != nil {
		t.setState(StateDisconnected)
		return fmt.Errorf("connect: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.state = StateConnected
	t.mu.Unlock()

	metrics.ConnectionUp.Set(1)
	t.log.Info("realtime channel connected", "url", t.cfg.URL)
	t.emit(Event{Type: EventStatus, State: StateConnected})

	go t.readLoop(conn)
	return nil
}

func (t *WS) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: t.cfg.HandshakeTimeout}

	header := http.Header{}
	t.mu.Lock()
	token := t.token
	t.mu.Unlock()
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := dialer.DialContext(ctx, t.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

// JoinSession subscribes to a streaming session. Joining the same session
// twice is a no-op; joined sessions are re-subscribed after a reconnect.
func (t *WS) JoinSession(sessionID string) error {
	t.mu.Lock()
	if t.joined[sessionID] {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	if err := t.writeFrame(FrameJoin, SessionData{SessionID: sessionID}); err != nil {
		return err
	}

	t.mu.Lock()
	t.joined[sessionID] = true
	t.mu.Unlock()
	return nil
}

// LeaveSession unsubscribes from a session. Safe to call when disconnected;
// the session is simply not re-joined on reconnect.
func (t *WS) LeaveSession(sessionID string) error {
	t.mu.Lock()
	delete(t.joined, sessionID)
	connected := t.state == StateConnected
	t.mu.Unlock()

	if !connected {
		return nil
	}
	return t.writeFrame(FrameLeave, SessionData{SessionID: sessionID})
}

// StartGeneration asks the backend to begin streaming into a session.
func (t *WS) StartGeneration(p StartParams) error {
	return t.writeFrame(FrameStart, p)
}

// Events returns the inbound event feed.
func (t *WS) Events() <-chan Event {
	return t.events
}

// State returns the current connection state.
func (t *WS) State() ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Close tears the connection down permanently. No reconnect is attempted.
func (t *WS) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stop)
		t.mu.Lock()
		conn := t.conn
		t.conn = nil
		t.state = StateDisconnected
		t.mu.Unlock()
		if conn != nil {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			err = conn.Close()
		}
		metrics.ConnectionUp.Set(0)
	})
	return err
}

func (t *WS) writeFrame(event string, data interface{}) error {
	frame, err := MarshalFrame(event, data)
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", event, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil || t.state != StateConnected {
		return ErrNotConnected
	}
	if err := t.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("write %s frame: %w", event, err)
	}
	return nil
}

// readLoop reads frames until the connection drops, then hands off to the
// reconnect loop. One readLoop runs per live connection.
func (t *WS) readLoop(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-t.stop:
				return
			default:
			}
			t.handleDrop(conn, err)
			return
		}
		t.dispatch(msg)
	}
}

func (t *WS) dispatch(msg []byte) {
	var frame Frame
	if err := json.Unmarshal(msg, &frame); err != nil {
		t.log.Warn("discarding malformed frame", "error", err)
		return
	}

	switch frame.Event {
	case FrameUpdate:
		var d UpdateData
		if err := json.Unmarshal(frame.Data, &d); err != nil {
			t.log.Warn("discarding malformed update frame", "error", err)
			return
		}
		t.emit(Event{Type: EventFragment, SessionID: d.SessionID, TextDelta: d.TextDelta})
	case FrameComplete:
		var d SessionData
		if err := json.Unmarshal(frame.Data, &d); err != nil {
			t.log.Warn("discarding malformed complete frame", "error", err)
			return
		}
		t.emit(Event{Type: EventComplete, SessionID: d.SessionID})
	case FrameError:
		var d ErrorData
		if err := json.Unmarshal(frame.Data, &d); err != nil {
			t.log.Warn("discarding malformed error frame", "error", err)
			return
		}
		t.emit(Event{Type: EventStreamError, SessionID: d.SessionID, Err: d.Error})
	default:
		t.log.Debug("unhandled frame", "event", frame.Event)
	}
}

// emit delivers an event in order. The send blocks when the buffer is full
// rather than dropping or reordering; Close unblocks it.
func (t *WS) emit(ev Event) {
	select {
	case t.events <- ev:
	case <-t.stop:
	}
}

// handleDrop runs the bounded reconnect loop after an unplanned drop.
func (t *WS) handleDrop(old *websocket.Conn, cause error) {
	t.mu.Lock()
	if t.conn != old {
		// A newer connection already took over.
		t.mu.Unlock()
		return
	}
	t.conn = nil
	t.state = StateDisconnected
	t.mu.Unlock()

	metrics.ConnectionUp.Set(0)
	t.log.Warn("realtime channel dropped", "error", cause)
	t.emit(Event{Type: EventStatus, State: StateDisconnected})

	for attempt := 1; attempt <= t.cfg.MaxAttempts; attempt++ {
		delay := time.Duration(attempt) * t.cfg.BaseDelay
		select {
		case <-t.stop:
			return
		case <-time.After(delay):
		}

		metrics.ReconnectAttempts.Inc()
		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.HandshakeTimeout)
		conn, err := t.dial(ctx)
		cancel()
		if err != nil {
			t.log.Warn("reconnect failed", "attempt", attempt, "error", err)
			continue
		}

		t.mu.Lock()
		t.conn = conn
		t.state = StateConnected
		joined := make([]string, 0, len(t.joined))
		for id := range t.joined {
			joined = append(joined, id)
		}
		t.mu.Unlock()

		metrics.ConnectionUp.Set(1)
		t.log.Info("realtime channel reconnected", "attempt", attempt)

		// Re-subscribe sessions that were live before the drop.
		for _, id := range joined {
			if err := t.writeFrame(FrameJoin, SessionData{SessionID: id}); err != nil {
				t.log.Warn("failed to re-join session", "session_id", id, "error", err)
			}
		}

		t.emit(Event{Type: EventStatus, State: StateConnected})
		go t.readLoop(conn)
		return
	}

	t.mu.Lock()
	t.state = StateFailed
	t.mu.Unlock()

	metrics.ConnectionFailures.Inc()
	t.log.Error("realtime channel failed permanently", "attempts", t.cfg.MaxAttempts)
	t.emit(Event{
		Type:  EventStatus,
		State: StateFailed,
		Err:   fmt.Sprintf("connection lost after %d reconnect attempts", t.cfg.MaxAttempts),
	})
}

func (t *WS) setState(s ConnState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}
