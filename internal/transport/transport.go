// Package transport manages the realtime duplex channel carrying streamed
// assistant output. One connection is shared process-wide; all conversations
// multiplex over it by session id.
package transport

import (
	"context"
	"encoding/json"
	"errors"
)

// ConnState is the connection lifecycle state.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateFailed       ConnState = "failed"
)

// EventType discriminates inbound transport events.
type EventType string

const (
	// EventFragment carries a partial chunk of assistant text.
	EventFragment EventType = "fragment"
	// EventComplete signals the end of a generation stream.
	EventComplete EventType = "complete"
	// EventStreamError signals the server aborted a generation stream.
	EventStreamError EventType = "stream_error"
	// EventStatus reports a connection state change.
	EventStatus EventType = "status"
)

// Event is one inbound occurrence on the realtime channel. Events are
// delivered on a single bounded FIFO channel in arrival order.
type Event struct {
	Type      EventType
	SessionID string
	TextDelta string
	Err       string
	State     ConnState
}

// StartParams instructs the backend to begin streaming a response.
type StartParams struct {
	PatientID  string `json:"patient_id"`
	SessionID  string `json:"session_id"`
	Message    string `json:"message"`
	EEGSummary string `json:"eeg_summary,omitempty"`
	Token      string `json:"token"`
}

// ErrNotConnected is returned when a control message is sent while the
// connection is down.
var ErrNotConnected = errors.New("transport not connected")

// Transport is the realtime channel the coordinator drives. Implementations
// must deliver events in the order they were received from the wire and must
// never drop or reorder fragments.
type Transport interface {
	// Connect opens the channel, attaching the bearer credential for the
	// server-side handshake.
	Connect(ctx context.Context, token string) error

	// JoinSession subscribes to a streaming session. Idempotent per id.
	JoinSession(sessionID string) error

	// LeaveSession unsubscribes from a session, freeing server resources
	// for an abandoned stream.
	LeaveSession(sessionID string) error

	// StartGeneration asks the backend to begin streaming.
	StartGeneration(p StartParams) error

	// Events is the single ordered event feed. It is never closed; consumers
	// stop on their own shutdown signal.
	Events() <-chan Event

	// State reports the current connection state.
	State() ConnState

	// Close tears the connection down permanently.
	Close() error
}

// Wire protocol: every socket message is a Frame, an event name plus a JSON
// payload.
const (
	FrameJoin     = "join"
	FrameLeave    = "leave"
	FrameStart    = "start_assistant"
	FrameUpdate   = "assistant_update"
	FrameComplete = "assistant_complete"
	FrameError    = "assistant_error"
)

// Frame is the envelope for every message on the socket. Exported so the
// devserver speaks the same wire format.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SessionData is the payload of join, leave, and assistant_complete frames.
type SessionData struct {
	SessionID string `json:"session_id"`
}

// UpdateData is the payload of assistant_update frames.
type UpdateData struct {
	SessionID string `json:"session_id"`
	TextDelta string `json:"text_delta"`
}

// ErrorData is the payload of assistant_error frames.
type ErrorData struct {
	SessionID string `json:"session_id"`
	Error     string `json:"error"`
}

// MarshalFrame builds a Frame from an event name and payload.
func MarshalFrame(event string, data interface{}) (Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: event, Data: raw}, nil
}
