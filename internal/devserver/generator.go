package devserver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/neurocare-ai/eeg-assist/internal/llm"
	"github.com/neurocare-ai/eeg-assist/internal/model"
	"github.com/neurocare-ai/eeg-assist/internal/transport"
	"github.com/neurocare-ai/eeg-assist/pkg/metrics"
)

// generate streams an assistant response into a session and records the
// final text in the patient's history.
func (s *Server) generate(ctx context.Context, c *wsConn, sess *session) {
	emit := func(delta string) error {
		metrics.GeneratedFragmentsTotal.Inc()
		return c.writeFrame(transport.FrameUpdate, transport.UpdateData{
			SessionID: sess.ID,
			TextDelta: delta,
		})
	}

	var full string
	var err error
	if s.llm != nil {
		full, err = s.generateLLM(ctx, sess, emit)
	} else {
		full, err = s.generateCanned(ctx, sess, emit)
	}

	if err != nil {
		if ctx.Err() != nil {
			// Client left the session; nothing to report back.
			s.log.Info("generation cancelled", "session_id", sess.ID)
			return
		}
		s.log.Error("generation failed", "session_id", sess.ID, "error", err)
		_ = c.writeFrame(transport.FrameError, transport.ErrorData{
			SessionID: sess.ID,
			Error:     err.Error(),
		})
		return
	}

	s.appendHistory(sess.PatientID, model.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Role:      model.RoleAssistant,
		Content:   model.PlainText(full),
		CreatedAt: time.Now(),
	})
	_ = c.writeFrame(transport.FrameComplete, transport.SessionData{SessionID: sess.ID})
	s.log.Info("generation complete", "session_id", sess.ID, "chars", len(full))
}

// generateLLM streams a real model response, feeding the patient's prior
// conversation as context.
func (s *Server) generateLLM(ctx context.Context, sess *session, emit func(string) error) (string, error) {
	s.mu.Lock()
	history := append([]model.Message(nil), s.histories[sess.PatientID]...)
	s.mu.Unlock()

	messages := make([]llm.ChatMessage, 0, len(history)+1)
	for _, msg := range history {
		if msg.Role != model.RoleUser && msg.Role != model.RoleAssistant {
			continue
		}
		messages = append(messages, llm.ChatMessage{
			Role:    string(msg.Role),
			Content: msg.Content.Text,
		})
	}
	if len(messages) == 0 {
		messages = append(messages, llm.ChatMessage{Role: "user", Content: sess.Message})
	}

	resp, err := s.llm.StreamReply(ctx, &llm.Request{Messages: messages},
		func(token string, index int) error {
			return emit(token)
		})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// generateCanned streams a scripted response in small fragments. Every
// OverlapEvery-th fragment re-sends the tail of the previous one, matching a
// quirk of the production streaming pipeline, so clients must deduplicate.
func (s *Server) generateCanned(ctx context.Context, sess *session, emit func(string) error) (string, error) {
	full := cannedResponse(sess)
	fragments := splitFragments(full, 16)

	prev := ""
	for i, frag := range fragments {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.cfg.FragmentDelay):
		}

		out := frag
		if s.cfg.OverlapEvery > 0 && i > 0 && i%s.cfg.OverlapEvery == 0 {
			tail := prev
			if len(tail) > 12 {
				tail = tail[len(tail)-12:]
			}
			out = tail + frag
		}
		if err := emit(out); err != nil {
			return "", err
		}
		prev = frag
	}

	return full, nil
}

// splitFragments cuts full into chunks of roughly size bytes, extended to the
// next whitespace run so words and line breaks stay intact. Concatenating the
// chunks reproduces full exactly.
func splitFragments(full string, size int) []string {
	var frags []string
	for len(full) > 0 {
		n := size
		if n >= len(full) {
			frags = append(frags, full)
			break
		}
		for n < len(full) && full[n] != ' ' && full[n] != '\n' {
			n++
		}
		for n < len(full) && (full[n] == ' ' || full[n] == '\n') {
			n++
		}
		frags = append(frags, full[:n])
		full = full[n:]
	}
	return frags
}

func cannedResponse(sess *session) string {
	var b strings.Builder
	b.WriteString("## Assessment\n\n")
	if sess.Message != "" {
		fmt.Fprintf(&b, "Regarding your question %q, here is what the recording shows.\n\n", sess.Message)
	}
	b.WriteString("The background activity is within normal limits for the patient's age. ")
	b.WriteString("Key observations:\n\n")
	b.WriteString("- Posterior dominant rhythm at 9-10 Hz, symmetric and reactive\n")
	b.WriteString("- No epileptiform discharges captured during the recording\n")
	b.WriteString("- Sleep architecture preserved with normal vertex waves\n\n")
	if sess.EEGSummary != "" {
		b.WriteString("## Recording summary\n\n")
		b.WriteString(sess.EEGSummary)
		b.WriteString("\n\n")
	}
	b.WriteString("> Development server response. Configure an LLM API key for real output.\n")
	return b.String()
}

func recordingSummary(fileName string) string {
	name := fileName
	if name == "" {
		name = "recording"
	}
	return fmt.Sprintf("Processed %s: 21-channel EEG, 20 minutes, "+
		"impedances acceptable. Automated screening found no seizure activity.", name)
}
