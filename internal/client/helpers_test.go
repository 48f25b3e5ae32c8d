package client

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/mchat/internal/core"
	"github.com/vovakirdan/mchat/internal/proto"
	"github.com/vovakirdan/mchat/internal/server"
	"github.com/vovakirdan/mchat/internal/store/sqlite"
)

const waitFor = 5 * time.Second

func startServer(t *testing.T, chats ...string) *server.Server {
	t.Helper()

	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	for _, name := range chats {
		_, err := st.NewChat(ctx, core.Chat{Name: name, Creator: "seed"})
		require.NoError(t, err)
	}
	all, err := st.GetChats(ctx)
	require.NoError(t, err)

	srv := server.New(st, core.NewRegistry(all), server.Options{
		Identity:          "srv-test",
		PollInterval:      10 * time.Millisecond,
		HeartbeatInterval: 100 * time.Millisecond,
		ReceiveTimeout:    2 * time.Second,
		Stream:            proto.StreamOptions{Slice: 20 * time.Millisecond, Stall: 2 * time.Second},
	}, nil)
	require.NoError(t, srv.Listen("127.0.0.1:0"))

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(runCtx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return srv
}

func testOptions() Options {
	return Options{
		PollInterval:      10 * time.Millisecond,
		HeartbeatInterval: 100 * time.Millisecond,
		ConnectTimeout:    time.Second,
		ConnectRetry:      20 * time.Millisecond,
		ReconnectBackoff:  50 * time.Millisecond,
		Stream:            proto.StreamOptions{Slice: 20 * time.Millisecond, Stall: 2 * time.Second},
	}
}

// runClient starts the dispatcher and stops it when the test ends.
func runClient(t *testing.T, opts Options, logger *zerolog.Logger) (*Client, context.CancelFunc) {
	t.Helper()

	c := New(opts, logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	stop := func() {
		cancel()
		<-done
	}
	t.Cleanup(stop)
	return c, stop
}

func await[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for callback")
		var zero T
		return zero
	}
}

type result[T any] struct {
	val T
	err error
}

func connect(t *testing.T, c *Client, addr, name string) string {
	t.Helper()
	ch := make(chan result[string], 1)
	c.Connect(addr, name, func(n string, err error) { ch <- result[string]{n, err} })
	r := await(t, ch)
	require.NoError(t, r.err)
	return r.val
}

func listChats(t *testing.T, c *Client) ([]core.Chat, error) {
	t.Helper()
	ch := make(chan result[[]core.Chat], 1)
	c.ListChats(func(chats []core.Chat, err error) { ch <- result[[]core.Chat]{chats, err} })
	r := await(t, ch)
	return r.val, r.err
}

func newChat(t *testing.T, c *Client, name string) error {
	t.Helper()
	ch := make(chan error, 1)
	c.NewChat(name, "", func(err error) { ch <- err })
	return await(t, ch)
}

// subscribe joins room and returns the backlog plus a channel of broadcasts.
func subscribe(t *testing.T, c *Client, room string) ([]core.Message, <-chan core.Message) {
	t.Helper()
	msgs := make(chan core.Message, 64)
	ch := make(chan result[[]core.Message], 1)
	c.Subscribe(room,
		func(backlog []core.Message, err error) { ch <- result[[]core.Message]{backlog, err} },
		func(m core.Message) { msgs <- m })
	r := await(t, ch)
	require.NoError(t, r.err)
	return r.val, msgs
}

func sendText(t *testing.T, c *Client, body string) core.Message {
	t.Helper()
	ch := make(chan result[core.Message], 1)
	c.SendText(body, func(m core.Message, err error) { ch <- result[core.Message]{m, err} })
	r := await(t, ch)
	require.NoError(t, r.err)
	return r.val
}

// proxy forwards TCP connections to upstream and can cut them on demand.
type proxy struct {
	t        *testing.T
	ln       net.Listener
	upstream string
	// delay holds back each server to client chunk.
	delay time.Duration

	mu    sync.Mutex
	down  bool
	conns []net.Conn
}

func newProxy(t *testing.T, upstream string) *proxy {
	t.Helper()
	return newSlowProxy(t, upstream, 0)
}

// newSlowProxy is a proxy whose replies lag by delay.
func newSlowProxy(t *testing.T, upstream string, delay time.Duration) *proxy {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	p := &proxy{t: t, ln: ln, upstream: upstream, delay: delay}
	go p.accept()
	t.Cleanup(func() {
		ln.Close()
		p.sever()
	})
	return p
}

func (p *proxy) addr() string { return p.ln.Addr().String() }

func (p *proxy) accept() {
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			return
		}
		p.mu.Lock()
		down := p.down
		p.mu.Unlock()
		if down {
			conn.Close()
			continue
		}

		up, err := net.Dial("tcp", p.upstream)
		if err != nil {
			conn.Close()
			continue
		}
		p.mu.Lock()
		p.conns = append(p.conns, conn, up)
		p.mu.Unlock()
		go delayedPipe(conn, up, p.delay)
		go pipe(up, conn)
	}
}

func pipe(dst, src net.Conn) {
	_, _ = io.Copy(dst, src)
	dst.Close()
	src.Close()
}

func delayedPipe(dst, src net.Conn, delay time.Duration) {
	if delay <= 0 {
		pipe(dst, src)
		return
	}
	defer dst.Close()
	defer src.Close()
	buf := make([]byte, 32<<10)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			time.Sleep(delay)
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// sever closes every proxied connection.
func (p *proxy) sever() {
	p.mu.Lock()
	conns := p.conns
	p.conns = nil
	p.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

func (p *proxy) setDown(down bool) {
	p.mu.Lock()
	p.down = down
	p.mu.Unlock()
}
