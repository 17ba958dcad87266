// Package chat coordinates message sending, streaming reconciliation, and
// history loading for per-patient conversations.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/neurocare-ai/eeg-assist/internal/api"
	"github.com/neurocare-ai/eeg-assist/internal/model"
	"github.com/neurocare-ai/eeg-assist/internal/store"
	"github.com/neurocare-ai/eeg-assist/internal/transport"
	"github.com/neurocare-ai/eeg-assist/pkg/logger"
	"github.com/neurocare-ai/eeg-assist/pkg/metrics"
)

var (
	// ErrEmptyMessage is returned when a send carries neither text nor a file.
	ErrEmptyMessage = errors.New("message text or file required")

	// ErrGenerationInProgress is returned when a send is attempted while the
	// conversation is still awaiting or receiving a response.
	ErrGenerationInProgress = errors.New("generation already in progress")
)

// ConvState is the per-conversation send state.
type ConvState string

const (
	StateIdle      ConvState = "idle"
	StateAwaiting  ConvState = "awaiting_session"
	StateStreaming ConvState = "streaming"
)

// SendInput is the user-facing payload of one send.
type SendInput struct {
	Text     string
	FileURL  string
	FileName string
}

// SendAPI is the slice of the REST client the coordinator needs.
type SendAPI interface {
	SendMessage(ctx context.Context, patientID string, req *api.SendRequest) (*api.SendResponse, error)
}

// Options tunes coordinator behavior.
type Options struct {
	// IdleTimeout forces a stream closed when no fragment arrives within the
	// window. Default 3m.
	IdleTimeout time.Duration

	// Token supplies the bearer credential forwarded on start_assistant
	// frames. May be nil when the backend does not require it.
	Token func() string
}

// Coordinator orchestrates send round trips: optimistic append, REST send,
// session join, generation start, and the streaming lifecycle until
// completion, error, or timeout. It is the single consumer of the
// transport's event feed, so fragments are applied strictly in order.
type Coordinator struct {
	api   SendAPI
	tr    transport.Transport
	store *store.Store
	log   *logger.Logger
	opts  Options

	mu        sync.Mutex
	states    map[string]ConvState // conversation id -> send state
	sessions  map[string]string    // session id -> conversation id
	active    map[string]string    // conversation id -> live session id
	started   map[string]time.Time // conversation id -> generation start
	watchdogs map[string]*time.Timer
	cancelled map[string]bool // session ids whose fragments are discarded

	done      chan struct{}
	closeOnce sync.Once
}

// NewCoordinator wires the coordinator and starts its dispatch loop. Close
// stops the loop; the transport is owned by the caller.
func NewCoordinator(sendAPI SendAPI, tr transport.Transport, st *store.Store, log *logger.Logger, opts Options) *Coordinator {
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = 3 * time.Minute
	}
	if opts.Token == nil {
		opts.Token = func() string { return "" }
	}

	c := &Coordinator{
		api:       sendAPI,
		tr:        tr,
		store:     st,
		log:       log,
		opts:      opts,
		states:    make(map[string]ConvState),
		sessions:  make(map[string]string),
		active:    make(map[string]string),
		started:   make(map[string]time.Time),
		watchdogs: make(map[string]*time.Timer),
		cancelled: make(map[string]bool),
		done:      make(chan struct{}),
	}
	go c.dispatch()
	return c
}

// SendMessage runs one send round trip. It appends the user message
// optimistically, calls the REST send endpoint, joins the issued session,
// and triggers generation. On REST failure the optimistic message is rolled
// back and the conversation list is exactly as before the call.
//
// A send while the conversation is awaiting or streaming is rejected with
// ErrGenerationInProgress; the state machine enforces the policy, not the UI.
func (c *Coordinator) SendMessage(ctx context.Context, conversationID string, in SendInput) error {
	if strings.TrimSpace(in.Text) == "" && in.FileURL == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	if st := c.states[conversationID]; st == StateAwaiting || st == StateStreaming {
		c.mu.Unlock()
		metrics.SendsTotal.WithLabelValues("rejected").Inc()
		return ErrGenerationInProgress
	}
	c.states[conversationID] = StateAwaiting
	c.mu.Unlock()

	text := in.Text
	if text == "" {
		text = "Sent file: " + in.FileName
	}
	userID := c.store.Append(conversationID, model.Message{
		Role:     model.RoleUser,
		Content:  model.PlainText(text),
		FileURL:  in.FileURL,
		FileName: in.FileName,
	})

	resp, err := c.api.SendMessage(ctx, conversationID, &api.SendRequest{
		Message:  in.Text,
		FileURL:  in.FileURL,
		FileName: in.FileName,
	})
	if err != nil {
		c.store.RemoveByID(conversationID, userID)
		c.setState(conversationID, StateIdle)
		metrics.SendsTotal.WithLabelValues("error").Inc()
		c.log.Error("send failed, optimistic message rolled back",
			"conversation_id", conversationID, "error", err)
		return err
	}

	// A file-only send comes back with a precomputed recording summary;
	// surface it as a system entry before the assistant response.
	if resp.EEGSummary != "" {
		c.store.Append(conversationID, model.Message{
			Role:    model.RoleSystem,
			Content: model.PlainText(resp.EEGSummary),
		})
	}

	// Register the session route before generation is triggered: the first
	// fragment can arrive as soon as start_assistant is written, and an
	// unrouted fragment would be dropped.
	convID := conversationID
	c.mu.Lock()
	c.sessions[resp.SessionID] = convID
	c.active[convID] = resp.SessionID
	c.states[convID] = StateStreaming
	c.started[convID] = time.Now()
	c.watchdogs[convID] = time.AfterFunc(c.opts.IdleTimeout, func() {
		c.onIdleTimeout(convID)
	})
	c.mu.Unlock()

	if err := c.tr.JoinSession(resp.SessionID); err != nil {
		c.unwind(convID, resp.SessionID)
		metrics.SendsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("join session: %w", err)
	}
	if err := c.tr.StartGeneration(transport.StartParams{
		PatientID:  conversationID,
		SessionID:  resp.SessionID,
		Message:    in.Text,
		EEGSummary: resp.EEGSummary,
		Token:      c.opts.Token(),
	}); err != nil {
		c.unwind(convID, resp.SessionID)
		metrics.SendsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("start generation: %w", err)
	}

	metrics.SendsTotal.WithLabelValues("ok").Inc()
	c.log.Info("generation started",
		"conversation_id", convID, "session_id", resp.SessionID)
	return nil
}

// CancelSession abandons the conversation's in-flight stream: the session is
// unsubscribed, its remaining fragments are discarded, and the partially
// received message is closed as-is.
func (c *Coordinator) CancelSession(conversationID string) {
	c.mu.Lock()
	sessionID, ok := c.active[conversationID]
	if ok {
		c.cancelled[sessionID] = true
		c.release(conversationID, sessionID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	if err := c.tr.LeaveSession(sessionID); err != nil {
		c.log.Warn("leave session failed", "session_id", sessionID, "error", err)
	}
	c.store.CloseStreaming(conversationID)
	c.log.Info("generation cancelled",
		"conversation_id", conversationID, "session_id", sessionID)
}

// StateOf reports the conversation's send state.
func (c *Coordinator) StateOf(conversationID string) ConvState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.states[conversationID]; ok {
		return st
	}
	return StateIdle
}

// Close stops the dispatch loop.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// dispatch is the single consumer of the transport event feed.
func (c *Coordinator) dispatch() {
	events := c.tr.Events()
	for {
		select {
		case <-c.done:
			return
		case ev := <-events:
			c.handleEvent(ev)
		}
	}
}

func (c *Coordinator) handleEvent(ev transport.Event) {
	switch ev.Type {
	case transport.EventFragment:
		c.onFragment(ev)
	case transport.EventComplete:
		c.onComplete(ev)
	case transport.EventStreamError:
		c.onStreamError(ev)
	case transport.EventStatus:
		c.onStatus(ev)
	}
}

func (c *Coordinator) onFragment(ev transport.Event) {
	c.mu.Lock()
	if c.cancelled[ev.SessionID] {
		c.mu.Unlock()
		return
	}
	convID, ok := c.sessions[ev.SessionID]
	var watchdog *time.Timer
	if ok {
		watchdog = c.watchdogs[convID]
	}
	c.mu.Unlock()

	if !ok {
		c.log.Debug("fragment for unknown session", "session_id", ev.SessionID)
		return
	}

	metrics.FragmentsReceived.Inc()
	c.store.AppendFragment(convID, ev.TextDelta)
	if watchdog != nil {
		watchdog.Reset(c.opts.IdleTimeout)
	}
}

func (c *Coordinator) onComplete(ev transport.Event) {
	c.mu.Lock()
	delete(c.cancelled, ev.SessionID) // session is finished either way
	convID, ok := c.sessions[ev.SessionID]
	var startedAt time.Time
	if ok {
		startedAt = c.started[convID]
		c.release(convID, ev.SessionID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	c.store.CloseStreaming(convID)
	if !startedAt.IsZero() {
		metrics.StreamDuration.Observe(time.Since(startedAt).Seconds())
	}
	c.log.Info("stream complete", "conversation_id", convID, "session_id", ev.SessionID)
}

func (c *Coordinator) onStreamError(ev transport.Event) {
	c.mu.Lock()
	delete(c.cancelled, ev.SessionID)
	convID, ok := c.sessions[ev.SessionID]
	if ok {
		c.release(convID, ev.SessionID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	// Partial content already received stays in place; a partial answer is
	// useful, not corrupt.
	c.store.CloseStreaming(convID)
	c.store.Append(convID, model.Message{
		Role:    model.RoleSystem,
		Content: model.PlainText("Assistant error: " + ev.Err),
	})
	c.log.Error("stream error", "conversation_id", convID,
		"session_id", ev.SessionID, "error", ev.Err)
}

func (c *Coordinator) onStatus(ev transport.Event) {
	switch ev.State {
	case transport.StateDisconnected:
		// The transport keeps retrying in the background. Sending must be
		// re-enabled now; session routes stay registered so a resumed stream
		// keeps merging into the open message after a reconnect.
		c.mu.Lock()
		for convID := range c.active {
			c.states[convID] = StateIdle
			if w := c.watchdogs[convID]; w != nil {
				w.Stop()
				delete(c.watchdogs, convID)
			}
		}
		c.mu.Unlock()

	case transport.StateFailed:
		c.mu.Lock()
		convs := make([]string, 0, len(c.active))
		for convID, sessionID := range c.active {
			convs = append(convs, convID)
			delete(c.sessions, sessionID)
		}
		for _, convID := range convs {
			c.release(convID, c.active[convID])
		}
		c.mu.Unlock()

		for _, convID := range convs {
			c.store.CloseStreaming(convID)
			c.store.Append(convID, model.Message{
				Role:    model.RoleSystem,
				Content: model.PlainText("Connection lost. " + ev.Err),
			})
		}
		c.log.Error("realtime channel failed", "error", ev.Err)
	}
}

// onIdleTimeout fires when no fragment arrived within the idle window. The
// stream is closed, a timeout entry is surfaced, and the session is left so
// the backend can free resources.
func (c *Coordinator) onIdleTimeout(conversationID string) {
	c.mu.Lock()
	sessionID, ok := c.active[conversationID]
	if ok {
		c.cancelled[sessionID] = true
		c.release(conversationID, sessionID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	if err := c.tr.LeaveSession(sessionID); err != nil {
		c.log.Warn("leave session failed", "session_id", sessionID, "error", err)
	}
	c.store.CloseStreaming(conversationID)
	c.store.Append(conversationID, model.Message{
		Role:    model.RoleSystem,
		Content: model.PlainText("Response timed out."),
	})
	c.log.Warn("stream idle timeout", "conversation_id", conversationID,
		"session_id", sessionID, "timeout", c.opts.IdleTimeout)
}

// release drops all coordinator bookkeeping for a finished session.
// Callers hold mu.
func (c *Coordinator) release(conversationID, sessionID string) {
	delete(c.sessions, sessionID)
	delete(c.active, conversationID)
	delete(c.started, conversationID)
	c.states[conversationID] = StateIdle
	if w := c.watchdogs[conversationID]; w != nil {
		w.Stop()
		delete(c.watchdogs, conversationID)
	}
}

// unwind reverses the optimistic session registration after a failed join or
// start, returning the conversation to idle.
func (c *Coordinator) unwind(conversationID, sessionID string) {
	c.mu.Lock()
	c.release(conversationID, sessionID)
	c.mu.Unlock()
}

func (c *Coordinator) setState(conversationID string, st ConvState) {
	c.mu.Lock()
	c.states[conversationID] = st
	c.mu.Unlock()
}
