package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurocare-ai/eeg-assist/internal/model"
	"github.com/neurocare-ai/eeg-assist/pkg/logger"
)

func TestLoginInstallsToken(t *testing.T) {
	var sawAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			var req loginRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "doc@example.com", req.Email)
			json.NewEncoder(w).Encode(loginResponse{Token: "tok-123"})
		case "/chat-history/p1":
			sawAuth = r.Header.Get("Authorization")
			json.NewEncoder(w).Encode([]HistoryRecord{})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, logger.NewNop())
	token, err := c.Login(context.Background(), "doc@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", token)
	assert.Equal(t, "tok-123", c.Token())

	_, err = c.ChatHistory(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-123", sawAuth)
}

func TestSendMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/p1", r.URL.Path)

		var req SendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "what does the spike mean", req.Message)

		json.NewEncoder(w).Encode(SendResponse{SessionID: "sess-9"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, logger.NewNop())
	resp, err := c.SendMessage(context.Background(), "p1", &SendRequest{Message: "what does the spike mean"})
	require.NoError(t, err)
	assert.Equal(t, "sess-9", resp.SessionID)
}

func TestUnauthorizedIsSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, logger.NewNop())
	_, err := c.SendMessage(context.Background(), "p1", &SendRequest{Message: "m"})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestErrorBodySurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(errorResponse{Error: "patient id too long"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, logger.NewNop())
	_, err := c.SendMessage(context.Background(), "p1", &SendRequest{Message: "m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "patient id too long")
}

func TestChatHistoryDecodesMixedContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"id":"m1","role":"user","content":"plain"},
			{"id":"m2","role":"assistant","content":{"text":"structured","highlights":["h1"]}}
		]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, logger.NewNop())
	records, err := c.ChatHistory(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, model.ContentPlainText, records[0].Content.Kind)
	assert.Equal(t, model.ContentRich, records[1].Content.Kind)
	assert.Equal(t, []string{"h1"}, records[1].Content.Highlights)
}
