package proto

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// StreamOptions tunes how a Stream waits on its connection.
type StreamOptions struct {
	// Slice is the deadline granularity. Shutdown is noticed within one slice.
	Slice time.Duration
	// Stall is how long a read or write may go without progress before the
	// connection is declared failed.
	Stall time.Duration
}

// DefaultStreamOptions returns options suitable for interactive chat traffic.
func DefaultStreamOptions() StreamOptions {
	return StreamOptions{
		Slice: 250 * time.Millisecond,
		Stall: 10 * time.Second,
	}
}

var errPollTimeout = errors.New("poll timeout")

// Stream runs the protocol over a net.Conn. Reads and writes never return
// partial results: they complete, or fail with ErrConnectionFailure or
// ErrShutdown. A Stream is owned by a single goroutine.
type Stream struct {
	conn net.Conn
	ctx  context.Context
	opts StreamOptions

	r   *bufio.Reader
	w   *bufio.Writer
	enc *Encoder
	dec *Decoder

	polling  bool
	pollWait time.Duration
}

// NewStream wraps conn. Cancelling ctx makes every pending and future I/O
// call fail with ErrShutdown.
func NewStream(ctx context.Context, conn net.Conn, opts StreamOptions) *Stream {
	def := DefaultStreamOptions()
	if opts.Slice <= 0 {
		opts.Slice = def.Slice
	}
	if opts.Stall <= 0 {
		opts.Stall = def.Stall
	}

	s := &Stream{conn: conn, ctx: ctx, opts: opts}
	s.r = bufio.NewReaderSize(connReader{s}, 32<<10)
	s.w = bufio.NewWriterSize(connWriter{s}, 32<<10)
	s.enc = NewEncoder(s.w)
	s.dec = NewDecoder(s.r)
	return s
}

// Encoder returns the buffered encoder. Call Flush to push data out.
func (s *Stream) Encoder() *Encoder { return s.enc }

// Decoder returns the decoder reading from the connection.
func (s *Stream) Decoder() *Decoder { return s.dec }

// Flush writes any buffered output.
func (s *Stream) Flush() error {
	if err := s.w.Flush(); err != nil {
		return ioFailure(err)
	}
	return nil
}

// Poll waits up to wait for at least one inbound byte and reports whether
// one is available.
func (s *Stream) Poll(wait time.Duration) (bool, error) {
	if s.r.Buffered() > 0 {
		return true, nil
	}
	if err := s.ctx.Err(); err != nil {
		return false, ErrShutdown
	}
	if wait <= 0 {
		wait = time.Millisecond
	}

	s.polling, s.pollWait = true, wait
	_, err := s.r.Peek(1)
	s.polling = false

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errPollTimeout):
		return false, nil
	default:
		return false, ioFailure(err)
	}
}

// RemoteAddr returns the peer address.
func (s *Stream) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// Close closes the underlying connection.
func (s *Stream) Close() error { return s.conn.Close() }

type connReader struct{ s *Stream }

func (r connReader) Read(p []byte) (int, error) {
	s := r.s
	lastProgress := time.Now()
	for {
		if err := s.ctx.Err(); err != nil {
			return 0, ErrShutdown
		}
		wait := s.opts.Slice
		if s.polling {
			wait = s.pollWait
		}
		if err := s.conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrConnectionFailure, err)
		}

		n, err := s.conn.Read(p)
		if n > 0 {
			return n, nil
		}
		switch {
		case err == nil:
			continue
		case isTimeout(err):
			if s.polling {
				return 0, errPollTimeout
			}
			if time.Since(lastProgress) > s.opts.Stall {
				return 0, fmt.Errorf("%w: read stalled for %s", ErrConnectionFailure, s.opts.Stall)
			}
		default:
			return 0, fmt.Errorf("%w: %w", ErrConnectionFailure, err)
		}
	}
}

type connWriter struct{ s *Stream }

func (w connWriter) Write(p []byte) (int, error) {
	s := w.s
	written := 0
	lastProgress := time.Now()
	for written < len(p) {
		if err := s.ctx.Err(); err != nil {
			return written, ErrShutdown
		}
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.opts.Slice)); err != nil {
			return written, fmt.Errorf("%w: %w", ErrConnectionFailure, err)
		}

		n, err := s.conn.Write(p[written:])
		written += n
		if n > 0 {
			lastProgress = time.Now()
		}
		switch {
		case err == nil:
		case isTimeout(err):
			if time.Since(lastProgress) > s.opts.Stall {
				return written, fmt.Errorf("%w: write stalled for %s", ErrConnectionFailure, s.opts.Stall)
			}
		default:
			return written, fmt.Errorf("%w: %w", ErrConnectionFailure, err)
		}
	}
	return written, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
