package model

import (
	"encoding/json"
	"fmt"
)

// ContentKind discriminates the two content shapes the backend produces.
type ContentKind string

const (
	// ContentPlainText is free-form (markdown) text.
	ContentPlainText ContentKind = "plain_text"
	// ContentRich is text plus clinical annotations (highlights, suggested
	// next steps, warnings).
	ContentRich ContentKind = "rich"
)

// Content is a tagged union over the message body shapes. The backend sends
// either a bare JSON string or an object carrying annotation lists; the shape
// is resolved once here, at ingestion, never re-sniffed by consumers.
type Content struct {
	Kind       ContentKind `json:"kind"`
	Text       string      `json:"text"`
	Highlights []string    `json:"highlights,omitempty"`
	NextSteps  []string    `json:"next_steps,omitempty"`
	Warnings   []string    `json:"warnings,omitempty"`
}

// PlainText wraps text as plain content.
func PlainText(text string) Content {
	return Content{Kind: ContentPlainText, Text: text}
}

// richContent mirrors the backend's structured response body.
type richContent struct {
	Text       string   `json:"text"`
	Highlights []string `json:"highlights,omitempty"`
	NextSteps  []string `json:"next_steps,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// UnmarshalJSON accepts either a JSON string (plain text) or an object
// (rich content).
func (c *Content) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*c = PlainText(text)
		return nil
	}

	var rich richContent
	if err := json.Unmarshal(data, &rich); err != nil {
		return fmt.Errorf("content must be a string or an object: %w", err)
	}

	*c = Content{
		Kind:       ContentRich,
		Text:       rich.Text,
		Highlights: rich.Highlights,
		NextSteps:  rich.NextSteps,
		Warnings:   rich.Warnings,
	}
	return nil
}

// MarshalJSON re-encodes plain content as a bare string, matching the wire
// shape the backend expects for history records.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.Kind == ContentRich {
		return json.Marshal(richContent{
			Text:       c.Text,
			Highlights: c.Highlights,
			NextSteps:  c.NextSteps,
			Warnings:   c.Warnings,
		})
	}
	return json.Marshal(c.Text)
}
