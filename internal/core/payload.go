package core

import (
	"bytes"
	"database/sql/driver"
	"fmt"
	"io"
)

// Payload is an immutable byte buffer attached to image and file messages.
// The zero value is an absent payload. Copies share the same backing array,
// which is never written after construction.
type Payload struct {
	data []byte
}

// NewPayload copies b into a new payload.
func NewPayload(b []byte) Payload {
	if len(b) == 0 {
		return Payload{}
	}
	return Payload{data: bytes.Clone(b)}
}

// AdoptPayload wraps b without copying. The caller must not touch b afterwards.
func AdoptPayload(b []byte) Payload {
	if len(b) == 0 {
		return Payload{}
	}
	return Payload{data: b}
}

// Len returns the payload size in bytes.
func (p Payload) Len() int { return len(p.data) }

// Empty reports whether the payload is absent.
func (p Payload) Empty() bool { return len(p.data) == 0 }

// Bytes returns a copy of the payload contents.
func (p Payload) Bytes() []byte {
	if len(p.data) == 0 {
		return nil
	}
	return bytes.Clone(p.data)
}

// Equal reports whether both payloads hold the same bytes.
func (p Payload) Equal(other Payload) bool {
	return bytes.Equal(p.data, other.data)
}

// WriteTo writes the payload contents to w.
func (p Payload) WriteTo(w io.Writer) (int64, error) {
	if len(p.data) == 0 {
		return 0, nil
	}
	n, err := w.Write(p.data)
	return int64(n), err
}

// Value implements driver.Valuer so payloads can be stored as blobs.
func (p Payload) Value() (driver.Value, error) {
	if len(p.data) == 0 {
		return nil, nil
	}
	return p.data, nil
}

// Scan implements sql.Scanner. Driver buffers are copied.
func (p *Payload) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*p = Payload{}
	case []byte:
		*p = NewPayload(v)
	case string:
		*p = NewPayload([]byte(v))
	default:
		return fmt.Errorf("scan payload: unsupported type %T", src)
	}
	return nil
}
