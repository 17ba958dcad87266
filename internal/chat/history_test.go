package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurocare-ai/eeg-assist/internal/api"
	"github.com/neurocare-ai/eeg-assist/internal/model"
	"github.com/neurocare-ai/eeg-assist/internal/store"
	"github.com/neurocare-ai/eeg-assist/pkg/logger"
)

type fakeHistoryAPI struct {
	mu      sync.Mutex
	calls   int
	records []api.HistoryRecord
	err     error
}

func (f *fakeHistoryAPI) ChatHistory(ctx context.Context, patientID string) ([]api.HistoryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

func (f *fakeHistoryAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestHistoryLoadOnce(t *testing.T) {
	historyAPI := &fakeHistoryAPI{records: []api.HistoryRecord{
		{ID: "m1", Role: model.RoleUser, Content: model.PlainText("hello")},
		{ID: "m2", Role: model.RoleAssistant, Content: model.PlainText("hi")},
	}}
	st := store.New(logger.NewNop())
	loader := NewHistoryLoader(historyAPI, st, logger.NewNop())

	require.NoError(t, loader.Load(context.Background(), "patient-1"))
	require.NoError(t, loader.Load(context.Background(), "patient-1"))
	require.NoError(t, loader.Load(context.Background(), "patient-1"))

	assert.Equal(t, 1, historyAPI.callCount())

	msgs := st.Messages("patient-1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Text())
	assert.Equal(t, "hi", msgs[1].Text())
}

func TestHistoryLoadConcurrent(t *testing.T) {
	historyAPI := &fakeHistoryAPI{}
	st := store.New(logger.NewNop())
	loader := NewHistoryLoader(historyAPI, st, logger.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = loader.Load(context.Background(), "patient-1")
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, historyAPI.callCount(), 1+1,
		"concurrent loads collapse into at most a couple of fetches")
	assert.True(t, st.Has("patient-1"))
}

func TestHistoryLoadSkipsLiveConversation(t *testing.T) {
	historyAPI := &fakeHistoryAPI{}
	st := store.New(logger.NewNop())
	loader := NewHistoryLoader(historyAPI, st, logger.NewNop())

	// A stream already populated this conversation.
	st.AppendFragment("patient-1", "live content")

	require.NoError(t, loader.Load(context.Background(), "patient-1"))
	assert.Equal(t, 0, historyAPI.callCount())
	assert.Equal(t, "live content", st.Messages("patient-1")[0].Text())
}

func TestHistoryLoadFailureRetries(t *testing.T) {
	historyAPI := &fakeHistoryAPI{err: errors.New("fetch failed")}
	st := store.New(logger.NewNop())
	loader := NewHistoryLoader(historyAPI, st, logger.NewNop())

	require.Error(t, loader.Load(context.Background(), "patient-1"))
	assert.False(t, st.Has("patient-1"), "failed fetch caches nothing")

	historyAPI.mu.Lock()
	historyAPI.err = nil
	historyAPI.mu.Unlock()

	require.NoError(t, loader.Load(context.Background(), "patient-1"))
	assert.True(t, st.Has("patient-1"))
	assert.Equal(t, 2, historyAPI.callCount())
}

func TestHistoryLoadAssignsMissingIDs(t *testing.T) {
	historyAPI := &fakeHistoryAPI{records: []api.HistoryRecord{
		{Role: model.RoleUser, Content: model.PlainText("no id")},
	}}
	st := store.New(logger.NewNop())
	loader := NewHistoryLoader(historyAPI, st, logger.NewNop())

	require.NoError(t, loader.Load(context.Background(), "patient-1"))

	msgs := st.Messages("patient-1")
	require.Len(t, msgs, 1)
	assert.NotEmpty(t, msgs[0].ID)
	assert.False(t, msgs[0].CreatedAt.IsZero())
}

func TestHistoryLoadRequiresID(t *testing.T) {
	loader := NewHistoryLoader(&fakeHistoryAPI{}, store.New(logger.NewNop()), logger.NewNop())
	assert.Error(t, loader.Load(context.Background(), ""))
}
