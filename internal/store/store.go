// Package store holds per-conversation message lists in memory and applies
// streamed fragments to the trailing assistant message.
package store

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neurocare-ai/eeg-assist/internal/delta"
	"github.com/neurocare-ai/eeg-assist/internal/model"
	"github.com/neurocare-ai/eeg-assist/pkg/logger"
)

// Change notifies a watcher that a conversation's messages changed.
type Change struct {
	ConversationID string
}

// conversation is the store's private per-conversation state. Invariant: at
// most the trailing message may be an open assistant message.
type conversation struct {
	messages []model.Message
	open     bool // trailing assistant message still receiving fragments
}

// Store owns all per-conversation message arrays. Mutations arrive from the
// coordinator's dispatch goroutine and the send path; a mutex serializes
// them so fragments are applied strictly in arrival order.
type Store struct {
	log *logger.Logger

	mu       sync.Mutex
	convs    map[string]*conversation
	watchers []chan Change
}

// New creates an empty store.
func New(log *logger.Logger) *Store {
	return &Store{
		log:   log,
		convs: make(map[string]*conversation),
	}
}

// Watch returns a channel receiving change notifications. Notifications are
// best-effort and coalescing: a slow consumer misses notifications, never
// mutations, and can always recover the full state via Messages.
func (s *Store) Watch() <-chan Change {
	ch := make(chan Change, 64)
	s.mu.Lock()
	s.watchers = append(s.watchers, ch)
	s.mu.Unlock()
	return ch
}

// Unwatch removes a watcher registered with Watch and closes its channel, so
// a consumer ranging over it terminates.
func (s *Store) Unwatch(ch <-chan Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.watchers {
		if w == ch {
			s.watchers = append(s.watchers[:i], s.watchers[i+1:]...)
			close(w)
			return
		}
	}
}

// Append pushes a fully-formed message to the end of the conversation and
// returns its id, so a failed send can roll the message back with RemoveByID.
// A missing id or timestamp is assigned here.
func (s *Store) Append(conversationID string, msg model.Message) string {
	if msg.ID == "" {
		msg.ID = uuid.Must(uuid.NewV7()).String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.ensure(conversationID)
	c.messages = append(c.messages, msg)
	s.notify(conversationID)
	return msg.ID
}

// RemoveByID removes a message by id and reports whether it was present.
func (s *Store) RemoveByID(conversationID, messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[conversationID]
	if !ok {
		return false
	}
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].ID == messageID {
			if i == len(c.messages)-1 && c.messages[i].Role == model.RoleAssistant {
				c.open = false
			}
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			s.notify(conversationID)
			return true
		}
	}
	return false
}

// AppendFragment merges a streamed fragment into the conversation's open
// assistant message, or opens a new one. A fragment arriving after the
// stream was closed opens a new message; that is an anomaly worth surfacing,
// so it is logged.
func (s *Store) AppendFragment(conversationID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.ensure(conversationID)
	if c.open && len(c.messages) > 0 {
		last := &c.messages[len(c.messages)-1]
		if last.Role == model.RoleAssistant {
			last.Content.Text = delta.Merge(last.Content.Text, text)
			s.notify(conversationID)
			return
		}
	}

	if !c.open && len(c.messages) > 0 && c.messages[len(c.messages)-1].Role == model.RoleAssistant {
		s.log.Warn("fragment arrived after stream close, opening new message",
			"conversation_id", conversationID)
	}

	c.messages = append(c.messages, model.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Role:      model.RoleAssistant,
		Content:   model.PlainText(delta.Merge("", text)),
		CreatedAt: time.Now(),
	})
	c.open = true
	s.notify(conversationID)
}

// CloseStreaming marks the trailing assistant message closed. Later
// fragments for the conversation start a new message.
func (s *Store) CloseStreaming(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[conversationID]
	if !ok || !c.open {
		return
	}
	c.open = false
	s.notify(conversationID)
}

// ReplaceHistory installs a fetched history for a conversation. It is a
// no-op returning false when the conversation is already present, so a
// stale fetch that races a live stream never clobbers streamed content.
func (s *Store) ReplaceHistory(conversationID string, messages []model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.convs[conversationID]; ok {
		return false
	}
	s.convs[conversationID] = &conversation{
		messages: append([]model.Message(nil), messages...),
	}
	s.notify(conversationID)
	return true
}

// Has reports whether the conversation is present in the store.
func (s *Store) Has(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.convs[conversationID]
	return ok
}

// Open reports whether the conversation's trailing assistant message is
// still receiving fragments.
func (s *Store) Open(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[conversationID]
	return ok && c.open
}

// Messages returns a copy of the conversation's messages in insertion order.
func (s *Store) Messages(conversationID string) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[conversationID]
	if !ok {
		return nil
	}
	return append([]model.Message(nil), c.messages...)
}

// ensure returns the conversation, creating it when absent. Callers hold mu.
func (s *Store) ensure(conversationID string) *conversation {
	c, ok := s.convs[conversationID]
	if !ok {
		c = &conversation{}
		s.convs[conversationID] = c
	}
	return c
}

// notify fans a change out to watchers without blocking. Callers hold mu.
func (s *Store) notify(conversationID string) {
	for _, ch := range s.watchers {
		select {
		case ch <- Change{ConversationID: conversationID}:
		default:
		}
	}
}
