package proto

import (
	"errors"
	"fmt"

	"github.com/vovakirdan/mchat/internal/core"
)

// Frame is a command body that knows how to encode itself.
type Frame interface {
	EncodeTo(e *Encoder) error
}

// WriteClient writes a client command tag followed by its body, if any.
func (e *Encoder) WriteClient(cmd ClientCommand, f Frame) error {
	if err := e.WriteU8(uint8(cmd)); err != nil {
		return err
	}
	if f == nil {
		return nil
	}
	return f.EncodeTo(e)
}

// WriteServer writes a server command tag followed by its body, if any.
func (e *Encoder) WriteServer(cmd ServerCommand, f Frame) error {
	if err := e.WriteU8(uint8(cmd)); err != nil {
		return err
	}
	if f == nil {
		return nil
	}
	return f.EncodeTo(e)
}

// listPrealloc bounds slice preallocation from peer supplied counts.
const listPrealloc = 1024

// Introduce (C→S) proposes a display name.
type Introduce struct {
	Name string
}

func (m *Introduce) EncodeTo(e *Encoder) error {
	return e.WriteString(m.Name)
}

func (m *Introduce) DecodeFrom(d *Decoder) (err error) {
	m.Name, err = d.ReadString()
	return err
}

// IntroduceReply (S→C) carries the authoritative name and the server identity.
type IntroduceReply struct {
	Name     string
	ServerID string
}

func (m *IntroduceReply) EncodeTo(e *Encoder) error {
	if err := e.WriteString(m.Name); err != nil {
		return err
	}
	return e.WriteString(m.ServerID)
}

func (m *IntroduceReply) DecodeFrom(d *Decoder) (err error) {
	if m.Name, err = d.ReadString(); err != nil {
		return err
	}
	m.ServerID, err = d.ReadString()
	return err
}

// ChatList (S→C) is the chat directory.
type ChatList struct {
	Chats []core.Chat
}

func (m *ChatList) EncodeTo(e *Encoder) error {
	if err := e.WriteU64(uint64(len(m.Chats))); err != nil {
		return err
	}
	for _, c := range m.Chats {
		if err := e.WriteU64(c.ID); err != nil {
			return err
		}
		if err := e.WriteString(c.Name); err != nil {
			return err
		}
		if err := e.WriteString(c.Creator); err != nil {
			return err
		}
		if err := e.WriteString(c.Description); err != nil {
			return err
		}
	}
	return nil
}

func (m *ChatList) DecodeFrom(d *Decoder) error {
	n, err := d.ReadU64()
	if err != nil {
		return err
	}
	m.Chats = make([]core.Chat, 0, min(n, listPrealloc))
	for i := uint64(0); i < n; i++ {
		var c core.Chat
		if c.ID, err = d.ReadU64(); err != nil {
			return err
		}
		if c.Name, err = d.ReadString(); err != nil {
			return err
		}
		if c.Creator, err = d.ReadString(); err != nil {
			return err
		}
		if c.Description, err = d.ReadString(); err != nil {
			return err
		}
		m.Chats = append(m.Chats, c)
	}
	return nil
}

// NewChat (C→S) creates a chat owned by the sending connection.
type NewChat struct {
	Name        string
	Description string
}

func (m *NewChat) EncodeTo(e *Encoder) error {
	if err := e.WriteString(m.Name); err != nil {
		return err
	}
	return e.WriteString(m.Description)
}

func (m *NewChat) DecodeFrom(d *Decoder) (err error) {
	if m.Name, err = d.ReadString(); err != nil {
		return err
	}
	m.Description, err = d.ReadString()
	return err
}

// Status (S→C) is a bare success flag, used for NEW_CHAT.
type Status struct {
	OK bool
}

func (m *Status) EncodeTo(e *Encoder) error {
	return e.WriteBool(m.OK)
}

func (m *Status) DecodeFrom(d *Decoder) (err error) {
	m.OK, err = d.ReadBool()
	return err
}

// Subscribe (C→S) names a chat and the highest id the client already holds.
type Subscribe struct {
	Room  string
	After uint64
}

func (m *Subscribe) EncodeTo(e *Encoder) error {
	if err := e.WriteString(m.Room); err != nil {
		return err
	}
	return e.WriteU64(m.After)
}

func (m *Subscribe) DecodeFrom(d *Decoder) (err error) {
	if m.Room, err = d.ReadString(); err != nil {
		return err
	}
	m.After, err = d.ReadU64()
	return err
}

// SubscribeReply (S→C) carries the catch-up batch on success.
type SubscribeReply struct {
	OK      bool
	Backlog []core.Message
}

func (m *SubscribeReply) EncodeTo(e *Encoder) error {
	if err := e.WriteBool(m.OK); err != nil {
		return err
	}
	if !m.OK {
		return nil
	}
	if err := e.WriteU64(uint64(len(m.Backlog))); err != nil {
		return err
	}
	for _, msg := range m.Backlog {
		if err := EncodeMessage(e, msg); err != nil {
			return err
		}
	}
	return nil
}

func (m *SubscribeReply) DecodeFrom(d *Decoder) error {
	ok, err := d.ReadBool()
	if err != nil {
		return err
	}
	m.OK = ok
	if !ok {
		return nil
	}
	n, err := d.ReadU64()
	if err != nil {
		return err
	}
	m.Backlog = make([]core.Message, 0, min(n, listPrealloc))
	for i := uint64(0); i < n; i++ {
		msg, err := DecodeMessage(d)
		if err != nil {
			return err
		}
		m.Backlog = append(m.Backlog, msg)
	}
	return nil
}

// Post (C→S) submits a message to the subscribed chat.
type Post struct {
	Type    core.MessageType
	Body    string
	Payload core.Payload

	// Oversize is set by DecodeFrom when the payload exceeded its ceiling
	// and was discarded.
	Oversize bool
	// Progress, if set, is called as payload bytes are written. Not transmitted.
	Progress func(n int)
}

func (m *Post) EncodeTo(e *Encoder) error {
	if err := e.WriteU8(uint8(m.Type)); err != nil {
		return err
	}
	if err := e.WriteString(m.Body); err != nil {
		return err
	}
	return e.WriteBlobTracked(m.Payload, m.Progress)
}

func (m *Post) DecodeFrom(d *Decoder) error {
	t, err := d.ReadU8()
	if err != nil {
		return err
	}
	m.Type = core.MessageType(t)
	if !m.Type.Valid() {
		return fmt.Errorf("%w: illegal message type %d", ErrProtocolViolation, t)
	}
	if m.Body, err = d.ReadString(); err != nil {
		return err
	}
	m.Payload, err = d.ReadBlob(core.PayloadLimit(m.Type))
	if errors.Is(err, ErrTooLarge) {
		m.Oversize = true
		return nil
	}
	return err
}

// Receipt (S→C) answers a Post.
type Receipt struct {
	OK        bool
	ID        uint64
	Timestamp int32
	Code      string
	Reason    string
}

// Err returns the failure carried by a negative receipt, or nil.
func (m *Receipt) Err() error {
	if m.OK {
		return nil
	}
	return core.NewError(m.Code, m.Reason)
}

func (m *Receipt) EncodeTo(e *Encoder) error {
	if err := e.WriteBool(m.OK); err != nil {
		return err
	}
	if m.OK {
		if err := e.WriteU64(m.ID); err != nil {
			return err
		}
		return e.WriteI32(m.Timestamp)
	}
	if err := e.WriteString(m.Code); err != nil {
		return err
	}
	return e.WriteString(m.Reason)
}

func (m *Receipt) DecodeFrom(d *Decoder) (err error) {
	if m.OK, err = d.ReadBool(); err != nil {
		return err
	}
	if m.OK {
		if m.ID, err = d.ReadU64(); err != nil {
			return err
		}
		m.Timestamp, err = d.ReadI32()
		return err
	}
	if m.Code, err = d.ReadString(); err != nil {
		return err
	}
	m.Reason, err = d.ReadString()
	return err
}

// FileRequest (C→S) asks for the payload of a message in the subscribed chat.
type FileRequest struct {
	ID uint64
}

func (m *FileRequest) EncodeTo(e *Encoder) error {
	return e.WriteU64(m.ID)
}

func (m *FileRequest) DecodeFrom(d *Decoder) (err error) {
	m.ID, err = d.ReadU64()
	return err
}

// FileReply (S→C) carries a requested payload.
type FileReply struct {
	ID      uint64
	OK      bool
	Payload core.Payload

	// Progress, if set, is called as payload bytes are read. Not transmitted.
	Progress func(total, n int)
}

func (m *FileReply) EncodeTo(e *Encoder) error {
	if err := e.WriteU64(m.ID); err != nil {
		return err
	}
	if err := e.WriteBool(m.OK); err != nil {
		return err
	}
	return e.WriteBlob(m.Payload)
}

func (m *FileReply) DecodeFrom(d *Decoder) (err error) {
	if m.ID, err = d.ReadU64(); err != nil {
		return err
	}
	if m.OK, err = d.ReadBool(); err != nil {
		return err
	}
	m.Payload, err = d.ReadBlobTracked(core.MaxFileBytes, m.Progress)
	if errors.Is(err, ErrTooLarge) {
		return fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}
	return err
}

// broadcastFrame adapts a message record to Frame.
type broadcastFrame struct {
	msg core.Message
}

func (b broadcastFrame) EncodeTo(e *Encoder) error {
	return EncodeMessage(e, b.msg)
}

// Broadcast wraps msg so it can be written with WriteServer.
func Broadcast(msg core.Message) Frame {
	return broadcastFrame{msg: msg}
}

// EncodeMessage writes a message record. File payloads are never inlined.
func EncodeMessage(e *Encoder, m core.Message) error {
	if err := e.WriteU64(m.ID); err != nil {
		return err
	}
	if err := e.WriteU8(uint8(m.Type)); err != nil {
		return err
	}
	if err := e.WriteI32(m.Timestamp); err != nil {
		return err
	}
	if err := e.WriteString(m.Body); err != nil {
		return err
	}
	if err := e.WriteString(m.Sender); err != nil {
		return err
	}
	if m.Type == core.MessageFile {
		return e.WriteBlob(core.Payload{})
	}
	return e.WriteBlob(m.Payload)
}

// DecodeMessage reads a message record.
func DecodeMessage(d *Decoder) (core.Message, error) {
	var m core.Message
	id, err := d.ReadU64()
	if err != nil {
		return m, err
	}
	t, err := d.ReadU8()
	if err != nil {
		return m, err
	}
	m.ID = id
	m.Type = core.MessageType(t)
	if !m.Type.Valid() {
		return m, fmt.Errorf("%w: illegal message type %d", ErrProtocolViolation, t)
	}
	if m.Timestamp, err = d.ReadI32(); err != nil {
		return m, err
	}
	if m.Body, err = d.ReadString(); err != nil {
		return m, err
	}
	if m.Sender, err = d.ReadString(); err != nil {
		return m, err
	}
	m.Payload, err = d.ReadBlob(core.MaxImageBytes)
	if errors.Is(err, ErrTooLarge) {
		return m, fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}
	return m, err
}
