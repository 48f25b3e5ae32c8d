package core

import "errors"

// Error codes for validation failures reported back to the originating client.
const (
	ErrCodeEmptyMessage      = "empty_message"
	ErrCodeUnexpectedPayload = "unexpected_payload"
	ErrCodeMissingPayload    = "missing_payload"
	ErrCodeTooLarge          = "too_large"
	ErrCodeNotSubscribed     = "not_subscribed"
	ErrCodeNotIntroduced     = "not_introduced"
	ErrCodeInvalidName       = "invalid_name"
	ErrCodeChatExists        = "chat_exists"
	ErrCodeChatNotFound      = "chat_not_found"
	ErrCodeInternal          = "internal"
)

var (
	ErrChatExists   = errors.New("chat already exists")
	ErrChatNotFound = errors.New("chat not found")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

// Is matches another CoreError with the same code.
func (e *CoreError) Is(target error) bool {
	var other *CoreError
	if errors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// NewError builds a CoreError, typically from a decoded receipt.
func NewError(code, msg string) *CoreError {
	return coreError(code, msg)
}
