package policy

import (
	"errors"
	"strings"
	"unicode/utf8"
)

var ErrMessageRejected = errors.New("message rejected by input rules")

const maxUserMessageLen = 8000

type Violation struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type MessageRejectedError struct {
	Violations []Violation
}

func (e *MessageRejectedError) Error() string {
	if len(e.Violations) == 0 {
		return ErrMessageRejected.Error()
	}
	return "message rejected: " + e.Violations[0].Message
}

func (e *MessageRejectedError) Unwrap() error {
	return ErrMessageRejected
}

// ValidateUserMessage gates raw user input before anything is appended
// to the thread. Messages rejected here produce no events at all.
func ValidateUserMessage(message string) error {
	violations := make([]Violation, 0, 2)

	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		violations = append(violations, Violation{
			Code:    "empty_message",
			Message: "message is empty",
		})
	}
	if len(message) > maxUserMessageLen {
		violations = append(violations, Violation{
			Code:    "message_too_large",
			Message: "message exceeds the maximum length",
		})
	}
	if !utf8.ValidString(message) {
		violations = append(violations, Violation{
			Code:    "invalid_encoding",
			Message: "message is not valid UTF-8",
		})
	}

	if len(violations) == 0 {
		return nil
	}
	return &MessageRejectedError{Violations: violations}
}
