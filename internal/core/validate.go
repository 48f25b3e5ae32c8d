package core

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Size ceilings enforced by the server regardless of what a client claims.
const (
	MaxImageBytes       = 6 << 20
	MaxFileBytes        = 50 << 20
	MaxTextBytes        = 510
	MaxChatNameBytes    = 255
	MaxDescriptionBytes = 511
	MaxDisplayNameBytes = 64
)

// DefaultDisplayName replaces an empty introduction name.
const DefaultDisplayName = "anonymous"

// PayloadLimit returns the largest payload accepted for t.
func PayloadLimit(t MessageType) int {
	switch t {
	case MessageImage:
		return MaxImageBytes
	case MessageFile:
		return MaxFileBytes
	default:
		return 0
	}
}

// StripNewlines removes line breaks so stored names render on one line.
func StripNewlines(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return -1
		}
		return r
	}, s)
}

// CleanDisplayName normalizes a proposed connection name.
func CleanDisplayName(name string) string {
	name = strings.TrimSpace(StripNewlines(name))
	name = truncate(name, MaxDisplayNameBytes)
	if name == "" {
		return DefaultDisplayName
	}
	return name
}

// CleanDescription normalizes a chat description for storage.
func CleanDescription(s string) string {
	return truncate(strings.TrimSpace(StripNewlines(s)), MaxDescriptionBytes)
}

// ValidateChatName checks a room name against the storage identifier rules.
func ValidateChatName(name string) *CoreError {
	switch {
	case name == "":
		return coreError(ErrCodeInvalidName, "chat name is empty")
	case len(name) > MaxChatNameBytes:
		return coreError(ErrCodeInvalidName, "chat name is too long")
	case !utf8.ValidString(name):
		return coreError(ErrCodeInvalidName, "chat name is not valid utf-8")
	case strings.HasPrefix(strings.ToLower(name), "sqlite_"):
		return coreError(ErrCodeInvalidName, "chat name uses a reserved prefix")
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return coreError(ErrCodeInvalidName, "chat name contains control characters")
		}
	}
	return nil
}

// ValidatePost checks an incoming message before it is persisted.
// oversize is set when the payload exceeded its ceiling and was discarded unread.
func ValidatePost(t MessageType, body string, payloadLen int, oversize bool) *CoreError {
	if len(body) > MaxTextBytes {
		return coreError(ErrCodeTooLarge, fmt.Sprintf("body exceeds %d bytes", MaxTextBytes))
	}
	switch t {
	case MessageText:
		if body == "" {
			return coreError(ErrCodeEmptyMessage, "empty text message")
		}
		if payloadLen > 0 || oversize {
			return coreError(ErrCodeUnexpectedPayload, "text message carries a payload")
		}
	case MessageImage, MessageFile:
		if oversize || payloadLen > PayloadLimit(t) {
			return coreError(ErrCodeTooLarge, fmt.Sprintf("%s exceeds %d bytes", t, PayloadLimit(t)))
		}
		if payloadLen == 0 {
			return coreError(ErrCodeMissingPayload, fmt.Sprintf("%s message has no payload", t))
		}
		if body == "" {
			return coreError(ErrCodeEmptyMessage, "missing file name")
		}
	default:
		return coreError(ErrCodeInternal, fmt.Sprintf("unknown message type %d", uint8(t)))
	}
	return nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
