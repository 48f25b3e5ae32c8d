package proto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vovakirdan/mchat/internal/core"
)

// DefaultPort is the TCP port servers listen on unless configured otherwise.
const DefaultPort = "28859"

// MaxStringLen caps every length-prefixed string on the wire.
const MaxStringLen = 1<<16 - 1

var (
	// ErrConnectionFailure means the peer went away or the socket broke mid I/O.
	ErrConnectionFailure = errors.New("connection failure")
	// ErrShutdown means the owning context was cancelled.
	ErrShutdown = errors.New("shutdown requested")
	// ErrProtocolViolation means the peer sent an illegal tag or malformed field.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrTooLarge means a blob exceeded its ceiling. The blob was consumed
	// and discarded, so the stream is still in sync.
	ErrTooLarge = errors.New("blob too large")
)

var byteOrder = binary.LittleEndian

// Encoder writes protocol primitives to an underlying writer.
type Encoder struct {
	w       io.Writer
	scratch [8]byte
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

func (e *Encoder) write(p []byte) error {
	if _, err := e.w.Write(p); err != nil {
		return ioFailure(err)
	}
	return nil
}

// WriteU8 writes a single byte.
func (e *Encoder) WriteU8(v uint8) error {
	e.scratch[0] = v
	return e.write(e.scratch[:1])
}

// WriteBool writes 1 for true and 0 for false.
func (e *Encoder) WriteBool(v bool) error {
	if v {
		return e.WriteU8(1)
	}
	return e.WriteU8(0)
}

// WriteU32 writes a 4 byte unsigned integer.
func (e *Encoder) WriteU32(v uint32) error {
	byteOrder.PutUint32(e.scratch[:4], v)
	return e.write(e.scratch[:4])
}

// WriteI32 writes a 4 byte signed integer.
func (e *Encoder) WriteI32(v int32) error {
	return e.WriteU32(uint32(v))
}

// WriteU64 writes an 8 byte unsigned integer.
func (e *Encoder) WriteU64(v uint64) error {
	byteOrder.PutUint64(e.scratch[:8], v)
	return e.write(e.scratch[:8])
}

// WriteString writes a length-prefixed string.
func (e *Encoder) WriteString(s string) error {
	if len(s) > MaxStringLen {
		return fmt.Errorf("%w: string of %d bytes", ErrProtocolViolation, len(s))
	}
	if err := e.WriteU32(uint32(len(s))); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	if _, err := io.WriteString(e.w, s); err != nil {
		return ioFailure(err)
	}
	return nil
}

// WriteBytes writes a length-prefixed blob from raw bytes.
func (e *Encoder) WriteBytes(b []byte) error {
	if err := e.WriteU32(uint32(len(b))); err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	return e.write(b)
}

// WriteBlob writes a length-prefixed payload. An empty payload is written as length 0.
func (e *Encoder) WriteBlob(p core.Payload) error {
	return e.WriteBlobTracked(p, nil)
}

// WriteBlobTracked writes a payload and reports each written chunk to track.
func (e *Encoder) WriteBlobTracked(p core.Payload, track func(n int)) error {
	if err := e.WriteU32(uint32(p.Len())); err != nil {
		return err
	}
	if p.Empty() {
		return nil
	}
	w := e.w
	if track != nil {
		w = &trackingWriter{w: e.w, track: track}
	}
	if _, err := p.WriteTo(w); err != nil {
		return ioFailure(err)
	}
	return nil
}

// Decoder reads protocol primitives from an underlying reader.
type Decoder struct {
	r       io.Reader
	scratch [8]byte
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

func (d *Decoder) fill(p []byte) error {
	if _, err := io.ReadFull(d.r, p); err != nil {
		return ioFailure(err)
	}
	return nil
}

// ReadU8 reads a single byte.
func (d *Decoder) ReadU8() (uint8, error) {
	if err := d.fill(d.scratch[:1]); err != nil {
		return 0, err
	}
	return d.scratch[0], nil
}

// ReadBool reads a byte and reports whether it is non-zero.
func (d *Decoder) ReadBool() (bool, error) {
	v, err := d.ReadU8()
	return v != 0, err
}

// ReadU32 reads a 4 byte unsigned integer.
func (d *Decoder) ReadU32() (uint32, error) {
	if err := d.fill(d.scratch[:4]); err != nil {
		return 0, err
	}
	return byteOrder.Uint32(d.scratch[:4]), nil
}

// ReadI32 reads a 4 byte signed integer.
func (d *Decoder) ReadI32() (int32, error) {
	v, err := d.ReadU32()
	return int32(v), err
}

// ReadU64 reads an 8 byte unsigned integer.
func (d *Decoder) ReadU64() (uint64, error) {
	if err := d.fill(d.scratch[:8]); err != nil {
		return 0, err
	}
	return byteOrder.Uint64(d.scratch[:8]), nil
}

// ReadString reads a length-prefixed string of at most MaxStringLen bytes.
func (d *Decoder) ReadString() (string, error) {
	n, err := d.ReadU32()
	if err != nil {
		return "", err
	}
	if n > MaxStringLen {
		return "", fmt.Errorf("%w: string of %d bytes", ErrProtocolViolation, n)
	}
	if n == 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if err := d.fill(buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// ReadBlob reads a length-prefixed payload of at most limit bytes.
// A longer blob is discarded and ErrTooLarge is returned.
func (d *Decoder) ReadBlob(limit int) (core.Payload, error) {
	return d.ReadBlobTracked(limit, nil)
}

// ReadBlobTracked is ReadBlob reporting the declared size and each read chunk.
func (d *Decoder) ReadBlobTracked(limit int, track func(total, n int)) (core.Payload, error) {
	n, err := d.ReadU32()
	if err != nil {
		return core.Payload{}, err
	}
	if n == 0 {
		return core.Payload{}, nil
	}
	if uint64(n) > uint64(limit) {
		if _, err := io.CopyN(io.Discard, d.r, int64(n)); err != nil {
			return core.Payload{}, ioFailure(err)
		}
		return core.Payload{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, n, limit)
	}

	buf := make([]byte, n)
	if track == nil {
		if err := d.fill(buf); err != nil {
			return core.Payload{}, err
		}
		return core.AdoptPayload(buf), nil
	}

	const chunk = 64 << 10
	for off := 0; off < len(buf); {
		end := min(off+chunk, len(buf))
		if err := d.fill(buf[off:end]); err != nil {
			return core.Payload{}, err
		}
		track(len(buf), end-off)
		off = end
	}
	return core.AdoptPayload(buf), nil
}

type trackingWriter struct {
	w     io.Writer
	track func(n int)
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	const chunk = 64 << 10
	written := 0
	for written < len(p) {
		end := min(written+chunk, len(p))
		n, err := t.w.Write(p[written:end])
		written += n
		if n > 0 {
			t.track(n)
		}
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// ioFailure maps a low-level I/O error onto the two failure kinds the
// primitives expose. Errors that already carry a kind pass through.
func ioFailure(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrShutdown), errors.Is(err, ErrConnectionFailure):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrConnectionFailure, err)
	}
}
