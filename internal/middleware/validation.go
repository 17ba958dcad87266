package middleware

import (
	"errors"
	"unicode/utf8"
)

// ValidatePatientID validates a patient identifier.
func ValidatePatientID(id string) error {
	if len(id) == 0 {
		return errors.New("patient ID cannot be empty")
	}
	if len(id) > 64 {
		return errors.New("patient ID exceeds maximum length")
	}
	if !utf8.ValidString(id) {
		return errors.New("patient ID must be valid UTF-8")
	}
	return nil
}

// ValidateMessageContent validates message content. Empty content is allowed
// because a send may carry only a file.
func ValidateMessageContent(content string) error {
	if len(content) > 100000 { // ~100KB limit
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}
