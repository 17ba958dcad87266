package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurocare-ai/eeg-assist/internal/model"
	"github.com/neurocare-ai/eeg-assist/pkg/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(logger.NewNop())
}

func TestAppendFragmentReconstructsInOrder(t *testing.T) {
	s := newTestStore(t)

	s.AppendFragment("patient-1", "The ")
	s.AppendFragment("patient-1", "quick ")
	s.AppendFragment("patient-1", "fox")

	msgs := s.Messages("patient-1")
	require.Len(t, msgs, 1)
	assert.Equal(t, model.RoleAssistant, msgs[0].Role)
	assert.Equal(t, "The quick fox", msgs[0].Text())
	assert.True(t, s.Open("patient-1"))
}

func TestAppendFragmentDeduplicatesOverlap(t *testing.T) {
	s := newTestStore(t)

	s.AppendFragment("patient-1", "Hello wor")
	s.AppendFragment("patient-1", "world!")

	msgs := s.Messages("patient-1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hello world!", msgs[0].Text())
}

func TestCloseStreamingFreezesTrailingMessage(t *testing.T) {
	s := newTestStore(t)

	s.AppendFragment("patient-1", "part one")
	s.CloseStreaming("patient-1")
	assert.False(t, s.Open("patient-1"))

	// A fragment after close starts a new message rather than mutating the
	// frozen one.
	s.AppendFragment("patient-1", "part two")

	msgs := s.Messages("patient-1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "part one", msgs[0].Text())
	assert.Equal(t, "part two", msgs[1].Text())
	assert.True(t, s.Open("patient-1"))
}

func TestCloseStreamingIdempotent(t *testing.T) {
	s := newTestStore(t)

	s.CloseStreaming("missing")
	s.AppendFragment("patient-1", "x")
	s.CloseStreaming("patient-1")
	s.CloseStreaming("patient-1")
	assert.False(t, s.Open("patient-1"))
}

func TestAppendAssignsIDAndRollsBack(t *testing.T) {
	s := newTestStore(t)

	s.Append("patient-1", model.Message{
		Role:    model.RoleUser,
		Content: model.PlainText("keep me"),
	})
	id := s.Append("patient-1", model.Message{
		Role:    model.RoleUser,
		Content: model.PlainText("roll me back"),
	})
	require.NotEmpty(t, id)

	require.True(t, s.RemoveByID("patient-1", id))
	assert.False(t, s.RemoveByID("patient-1", id), "second removal finds nothing")

	msgs := s.Messages("patient-1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "keep me", msgs[0].Text())
}

func TestRemoveByIDClosesOpenTrailingAssistant(t *testing.T) {
	s := newTestStore(t)

	s.AppendFragment("patient-1", "streaming")
	msgs := s.Messages("patient-1")
	require.Len(t, msgs, 1)

	require.True(t, s.RemoveByID("patient-1", msgs[0].ID))
	assert.False(t, s.Open("patient-1"))
	assert.Empty(t, s.Messages("patient-1"))
}

func TestReplaceHistoryRefusesExistingConversation(t *testing.T) {
	s := newTestStore(t)

	history := []model.Message{
		{ID: "m1", Role: model.RoleUser, Content: model.PlainText("hi")},
		{ID: "m2", Role: model.RoleAssistant, Content: model.PlainText("hello")},
	}
	require.True(t, s.ReplaceHistory("patient-1", history))
	assert.True(t, s.Has("patient-1"))

	// A stale fetch must not clobber state that exists already.
	assert.False(t, s.ReplaceHistory("patient-1", nil))

	msgs := s.Messages("patient-1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
}

func TestReplaceHistoryCopiesInput(t *testing.T) {
	s := newTestStore(t)

	history := []model.Message{
		{ID: "m1", Role: model.RoleUser, Content: model.PlainText("hi")},
	}
	require.True(t, s.ReplaceHistory("patient-1", history))

	history[0].Content = model.PlainText("mutated")
	assert.Equal(t, "hi", s.Messages("patient-1")[0].Text())
}

func TestMessagesReturnsCopy(t *testing.T) {
	s := newTestStore(t)

	s.Append("patient-1", model.Message{Role: model.RoleUser, Content: model.PlainText("original")})

	msgs := s.Messages("patient-1")
	msgs[0].Content = model.PlainText("mutated")
	assert.Equal(t, "original", s.Messages("patient-1")[0].Text())

	assert.Nil(t, s.Messages("unknown"))
}

func TestWatchDeliversChanges(t *testing.T) {
	s := newTestStore(t)
	ch := s.Watch()

	s.AppendFragment("patient-1", "x")

	select {
	case change := <-ch:
		assert.Equal(t, "patient-1", change.ConversationID)
	default:
		t.Fatal("expected a change notification")
	}
}

func TestUnwatchClosesChannel(t *testing.T) {
	s := newTestStore(t)
	ch := s.Watch()
	other := s.Watch()

	s.Unwatch(ch)

	// The closed channel ends a "for range" consumer.
	_, ok := <-ch
	assert.False(t, ok)

	// Remaining watchers and later mutations are unaffected.
	s.AppendFragment("patient-1", "x")
	select {
	case change := <-other:
		assert.Equal(t, "patient-1", change.ConversationID)
	default:
		t.Fatal("expected a change notification")
	}

	// Unwatch of an unknown channel is a no-op.
	s.Unwatch(ch)
}
