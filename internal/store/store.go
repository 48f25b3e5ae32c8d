package store

import (
	"context"
	"errors"

	"github.com/vovakirdan/mchat/internal/core"
)

var (
	// ErrNotFound is returned when a chat, message or file does not exist.
	ErrNotFound = errors.New("not found")
	// ErrChatExists is returned when a chat name is already taken.
	ErrChatExists = errors.New("chat already exists")
)

// ChatStore manages the chat directory.
type ChatStore interface {
	GetChats(ctx context.Context) ([]core.Chat, error)
	// NewChat persists c and returns it with its assigned id.
	NewChat(ctx context.Context, c core.Chat) (core.Chat, error)
}

// MessageStore manages per-room message logs.
type MessageStore interface {
	// NewMessage assigns the next room-local id and a timestamp, then persists msg.
	NewMessage(ctx context.Context, roomID uint64, msg core.Message) (core.Message, error)
	// MessagesSince returns messages with id > minID in ascending id order.
	// Image payloads are included; file payloads are left empty.
	MessagesSince(ctx context.Context, roomID, minID uint64) ([]core.Message, error)
	// GetFile returns the payload of an image or file message in roomID.
	GetFile(ctx context.Context, messageID, roomID uint64) (core.Payload, error)
}

// Store aggregates the server side persistence port.
type Store interface {
	ChatStore
	MessageStore
	// ServerIdentity returns a stable random name for this server, created on first use.
	ServerIdentity(ctx context.Context) (string, error)
	Close() error
}

// Cache is the client side replica, keyed by server identity and room name.
type Cache interface {
	PutChats(ctx context.Context, server string, chats []core.Chat) error
	Chats(ctx context.Context, server string) ([]core.Chat, error)
	PutMessages(ctx context.Context, server, room string, msgs ...core.Message) error
	// Messages returns cached messages with id > after in ascending order.
	Messages(ctx context.Context, server, room string, after uint64) ([]core.Message, error)
	// LatestID is the low-water mark sent with SUBSCRIBE.
	LatestID(ctx context.Context, server, room string) (uint64, error)
	PutFile(ctx context.Context, server, room string, id uint64, p core.Payload) error
	File(ctx context.Context, server, room string, id uint64) (core.Payload, error)
	Close() error
}
