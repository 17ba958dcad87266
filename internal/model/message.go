// Package model defines data structures for the EEG assistant chat client.
package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message represents a single entry in a conversation.
//
// User and system messages are immutable once appended. Assistant messages
// are mutable only while the conversation's trailing stream is open; after
// that they are immutable too.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   Content   `json:"content"`
	FileURL   string    `json:"file_url,omitempty"`
	FileName  string    `json:"file_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Text returns the plain text of the message content.
func (m *Message) Text() string {
	return m.Content.Text
}
