package devserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/neurocare-ai/eeg-assist/internal/middleware"
	"github.com/neurocare-ai/eeg-assist/internal/model"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sendRequest struct {
	Message  string `json:"message"`
	FileURL  string `json:"file_url"`
	FileName string `json:"file_name"`
}

type sendResponse struct {
	SessionID  string `json:"session_id"`
	EEGSummary string `json:"eeg_summary,omitempty"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleLogin handles POST /login. Development server: any non-empty
// credentials are accepted.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password required")
		return
	}

	token, err := middleware.IssueToken(s.cfg.JWTSecret, req.Email, s.cfg.JWTExpiration)
	if err != nil {
		s.log.Error("failed to issue token", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// handleSend handles POST /chat/{patientID}: records the user message and
// issues a streaming session for the answer.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")
	if err := middleware.ValidatePatientID(patientID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Message); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Message == "" && req.FileURL == "" {
		writeError(w, http.StatusBadRequest, "message or file required")
		return
	}

	text := req.Message
	if text == "" {
		text = "Sent file: " + req.FileName
	}
	s.appendHistory(patientID, model.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Role:      model.RoleUser,
		Content:   model.PlainText(text),
		FileURL:   req.FileURL,
		FileName:  req.FileName,
		CreatedAt: time.Now(),
	})

	sess := &session{
		ID:        uuid.Must(uuid.NewV7()).String(),
		PatientID: patientID,
		Message:   req.Message,
	}
	if req.FileURL != "" {
		sess.EEGSummary = recordingSummary(req.FileName)
		s.appendHistory(patientID, model.Message{
			ID:        uuid.Must(uuid.NewV7()).String(),
			Role:      model.RoleSystem,
			Content:   model.PlainText(sess.EEGSummary),
			CreatedAt: time.Now(),
		})
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.log.Info("session issued", "patient_id", patientID, "session_id", sess.ID)
	writeJSON(w, http.StatusOK, sendResponse{
		SessionID:  sess.ID,
		EEGSummary: sess.EEGSummary,
	})
}

// handleHistory handles GET /chat-history/{patientID}.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")
	if err := middleware.ValidatePatientID(patientID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	history := append([]model.Message(nil), s.histories[patientID]...)
	s.mu.Unlock()

	if history == nil {
		history = []model.Message{}
	}
	writeJSON(w, http.StatusOK, history)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
