// Package api implements the client side of the EEG assistant REST contract.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/neurocare-ai/eeg-assist/internal/model"
	"github.com/neurocare-ai/eeg-assist/pkg/logger"
)

// ErrUnauthorized signals an expired or invalid bearer credential. The app
// layer reacts by clearing credentials and forcing a new login.
var ErrUnauthorized = errors.New("unauthorized")

// SendRequest is the body of POST /chat/{patientID}.
type SendRequest struct {
	Message  string `json:"message"`
	FileURL  string `json:"file_url,omitempty"`
	FileName string `json:"file_name,omitempty"`
}

// SendResponse carries the streaming session issued by the backend, plus an
// EEG summary when the send included a recording file.
type SendResponse struct {
	SessionID  string `json:"session_id"`
	EEGSummary string `json:"eeg_summary,omitempty"`
}

// HistoryRecord is one entry of GET /chat-history/{patientID}. Content may
// arrive as a bare string or a structured object; model.Content resolves
// the shape at decode time.
type HistoryRecord struct {
	ID        string        `json:"id,omitempty"`
	Role      model.Role    `json:"role"`
	Content   model.Content `json:"content"`
	FileURL   string        `json:"file_url,omitempty"`
	FileName  string        `json:"file_name,omitempty"`
	CreatedAt time.Time     `json:"created_at,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Client is an authenticated HTTP client for the backend REST surface.
type Client struct {
	baseURL string
	http    *http.Client
	log     *logger.Logger
	tracer  trace.Tracer

	mu    sync.RWMutex
	token string
}

// NewClient creates a REST client for the given base URL.
func NewClient(baseURL string, log *logger.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     log,
		tracer:  otel.Tracer("eeg-assist/api"),
	}
}

// SetToken installs the bearer credential used on subsequent calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer credential.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Login authenticates and installs the returned bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var resp loginResponse
	err := c.do(ctx, http.MethodPost, "/login", loginRequest{Email: email, Password: password}, &resp)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	c.SetToken(resp.Token)
	return resp.Token, nil
}

// SendMessage initiates one send round trip and returns the streaming
// session the backend issued for it.
func (c *Client) SendMessage(ctx context.Context, patientID string, req *SendRequest) (*SendResponse, error) {
	var resp SendResponse
	err := c.do(ctx, http.MethodPost, "/chat/"+patientID, req, &resp)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &resp, nil
}

// ChatHistory fetches the ordered message history for a patient.
func (c *Client) ChatHistory(ctx context.Context, patientID string) ([]HistoryRecord, error) {
	var records []HistoryRecord
	err := c.do(ctx, http.MethodGet, "/chat-history/"+patientID, nil, &records)
	if err != nil {
		return nil, fmt.Errorf("chat history: %w", err)
	}
	return records, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	ctx, span := c.tracer.Start(ctx, method+" "+path,
		trace.WithAttributes(attribute.String("http.method", method)))
	defer span.End()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode >= 400 {
		var apiErr errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
