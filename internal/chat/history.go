package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/neurocare-ai/eeg-assist/internal/api"
	"github.com/neurocare-ai/eeg-assist/internal/model"
	"github.com/neurocare-ai/eeg-assist/internal/store"
	"github.com/neurocare-ai/eeg-assist/pkg/logger"
	"github.com/neurocare-ai/eeg-assist/pkg/metrics"
)

// HistoryAPI is the slice of the REST client the loader needs.
type HistoryAPI interface {
	ChatHistory(ctx context.Context, patientID string) ([]api.HistoryRecord, error)
}

// HistoryLoader fetches per-conversation history at most once per
// conversation lifetime. Concurrent loads for the same conversation collapse
// into a single fetch; a failed fetch caches nothing, so a later call
// retries.
type HistoryLoader struct {
	api   HistoryAPI
	store *store.Store
	log   *logger.Logger
	group singleflight.Group
}

// NewHistoryLoader creates a history loader.
func NewHistoryLoader(historyAPI HistoryAPI, st *store.Store, log *logger.Logger) *HistoryLoader {
	return &HistoryLoader{
		api:   historyAPI,
		store: st,
		log:   log,
	}
}

// Load fetches the conversation's history and installs it in the store.
// No-op when the conversation is already present.
func (l *HistoryLoader) Load(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return errors.New("conversation id required")
	}
	if l.store.Has(conversationID) {
		return nil
	}

	_, err, _ := l.group.Do(conversationID, func() (interface{}, error) {
		if l.store.Has(conversationID) {
			return nil, nil
		}

		records, err := l.api.ChatHistory(ctx, conversationID)
		if err != nil {
			metrics.HistoryLoadsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("load history: %w", err)
		}

		messages := make([]model.Message, 0, len(records))
		for _, r := range records {
			msg := model.Message{
				ID:        r.ID,
				Role:      r.Role,
				Content:   r.Content,
				FileURL:   r.FileURL,
				FileName:  r.FileName,
				CreatedAt: r.CreatedAt,
			}
			if msg.ID == "" {
				msg.ID = uuid.Must(uuid.NewV7()).String()
			}
			if msg.CreatedAt.IsZero() {
				msg.CreatedAt = time.Now()
			}
			messages = append(messages, msg)
		}

		if !l.store.ReplaceHistory(conversationID, messages) {
			// A stream started while the fetch was in flight; the live state
			// wins over the stale snapshot.
			l.log.Debug("history fetch discarded, conversation already live",
				"conversation_id", conversationID)
		}
		metrics.HistoryLoadsTotal.WithLabelValues("ok").Inc()
		l.log.Info("history loaded", "conversation_id", conversationID,
			"messages", len(messages))
		return nil, nil
	})
	return err
}
