// Package ws carries the binary chat protocol over WebSocket frames.
package ws

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Each Write is split into binary frames of at most this size.
const frameSize = 64 << 10

// DefaultWriteTimeout bounds a single frame write.
const DefaultWriteTimeout = 10 * time.Second

// Conn adapts a WebSocket to net.Conn as a plain byte stream. Read
// deadlines are honored without tearing the socket down, so callers can
// poll with short deadlines. Write deadlines are ignored; each frame is
// bounded by WriteTimeout instead.
type Conn struct {
	ws     *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	local, remote net.Addr

	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration

	frames  chan []byte
	readErr error // valid once frames is closed
	pending []byte

	mu           sync.Mutex
	readDeadline time.Time
	deadlineSet  chan struct{}

	closeOnce sync.Once
}

var _ net.Conn = (*Conn)(nil)

// Addr is a net.Addr for WebSocket endpoints.
type Addr string

func (a Addr) Network() string { return "websocket" }
func (a Addr) String() string  { return string(a) }

// New wraps an established WebSocket. Cancelling ctx closes the connection.
func New(ctx context.Context, c *websocket.Conn, local, remote net.Addr) *Conn {
	ctx, cancel := context.WithCancel(ctx)
	c.SetReadLimit(2 * frameSize)

	conn := &Conn{
		ws:           c,
		ctx:          ctx,
		cancel:       cancel,
		local:        local,
		remote:       remote,
		WriteTimeout: DefaultWriteTimeout,
		frames:       make(chan []byte, 16),
		deadlineSet:  make(chan struct{}, 1),
	}
	go conn.pump()
	return conn
}

// Accept upgrades an HTTP request and wraps the result.
func Accept(w http.ResponseWriter, r *http.Request, opts *websocket.AcceptOptions) (*Conn, error) {
	c, err := websocket.Accept(w, r, opts)
	if err != nil {
		return nil, err
	}
	local := Addr(r.Host)
	remote := Addr(r.RemoteAddr)
	return New(r.Context(), c, local, remote), nil
}

// Dial opens a WebSocket to url and wraps it.
func Dial(ctx context.Context, url string) (*Conn, error) {
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	// ctx only bounds the handshake; the connection lives until Close.
	return New(context.Background(), c, Addr("client"), Addr(url)), nil
}

func (c *Conn) pump() {
	defer close(c.frames)
	for {
		typ, data, err := c.ws.Read(c.ctx)
		if err != nil {
			if s := websocket.CloseStatus(err); s == websocket.StatusNormalClosure || s == websocket.StatusGoingAway {
				err = io.EOF
			}
			c.readErr = err
			return
		}
		if typ != websocket.MessageBinary {
			c.readErr = errors.New("ws: unexpected text frame")
			c.ws.Close(websocket.StatusUnsupportedData, "binary frames only")
			return
		}
		if len(data) == 0 {
			continue
		}
		select {
		case c.frames <- data:
		case <-c.ctx.Done():
			c.readErr = net.ErrClosed
			return
		}
	}
}

// Read returns bytes from the current frame, waiting for the next one if needed.
func (c *Conn) Read(p []byte) (int, error) {
	if len(c.pending) == 0 {
		data, err := c.nextFrame()
		if err != nil {
			return 0, err
		}
		c.pending = data
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *Conn) nextFrame() ([]byte, error) {
	for {
		c.mu.Lock()
		deadline := c.readDeadline
		c.mu.Unlock()

		var (
			timer   *time.Timer
			timeout <-chan time.Time
		)
		if !deadline.IsZero() {
			wait := time.Until(deadline)
			if wait <= 0 {
				return nil, os.ErrDeadlineExceeded
			}
			timer = time.NewTimer(wait)
			timeout = timer.C
		}

		select {
		case data, ok := <-c.frames:
			stopTimer(timer)
			if !ok {
				return nil, c.readErr
			}
			return data, nil
		case <-timeout:
			return nil, os.ErrDeadlineExceeded
		case <-c.deadlineSet:
			// deadline moved, re-evaluate
			stopTimer(timer)
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// Write sends p as one or more binary frames.
func (c *Conn) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		end := min(written+frameSize, len(p))
		if err := c.writeFrame(p[written:end]); err != nil {
			return written, err
		}
		written = end
	}
	return written, nil
}

func (c *Conn) writeFrame(b []byte) error {
	ctx, cancel := context.WithTimeout(c.ctx, c.WriteTimeout)
	defer cancel()
	return c.ws.Write(ctx, websocket.MessageBinary, b)
}

// Close sends a normal closure and releases the reader.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.ws.Close(websocket.StatusNormalClosure, "")
		c.cancel()
	})
	return err
}

func (c *Conn) LocalAddr() net.Addr  { return c.local }
func (c *Conn) RemoteAddr() net.Addr { return c.remote }

func (c *Conn) SetDeadline(t time.Time) error {
	return c.SetReadDeadline(t)
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.readDeadline = t
	c.mu.Unlock()
	select {
	case c.deadlineSet <- struct{}{}:
	default:
	}
	return nil
}

// SetWriteDeadline is a no-op; see WriteTimeout.
func (c *Conn) SetWriteDeadline(time.Time) error { return nil }
