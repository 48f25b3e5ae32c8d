package core

import (
	"fmt"
	"time"
)

// MessageType tells how a message body and payload are interpreted.
type MessageType uint8

const (
	// MessageText carries its content in Body and never has a payload.
	MessageText MessageType = iota
	// MessageImage carries an inline image payload; Body is the file name.
	MessageImage
	// MessageFile carries a payload fetched on demand; Body is the file name.
	MessageFile
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	return t <= MessageFile
}

func (t MessageType) String() string {
	switch t {
	case MessageText:
		return "text"
	case MessageImage:
		return "image"
	case MessageFile:
		return "file"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// HasPayload reports whether messages of this type carry binary data.
func (t MessageType) HasPayload() bool {
	return t == MessageImage || t == MessageFile
}

// Chat is a named, persistent room.
type Chat struct {
	ID          uint64
	Name        string
	Creator     string
	Description string
}

// Message is the domain model for a chat message.
// ID and Timestamp are assigned by the server when the message is persisted.
type Message struct {
	ID        uint64
	RoomID    uint64
	Type      MessageType
	Timestamp int32
	Body      string
	Sender    string
	Payload   Payload
}

// Time returns the message timestamp as a time.Time.
func (m Message) Time() time.Time {
	return time.Unix(int64(m.Timestamp), 0)
}
