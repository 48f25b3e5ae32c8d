package server

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/mchat/internal/core"
	"github.com/vovakirdan/mchat/internal/proto"
	"github.com/vovakirdan/mchat/internal/store/sqlite"
)

type testEnv struct {
	srv   *Server
	store *sqlite.SQLiteStore
	addr  string
}

func testOptions() Options {
	return Options{
		Identity:          "test-server",
		PollInterval:      10 * time.Millisecond,
		HeartbeatInterval: 50 * time.Millisecond,
		ReceiveTimeout:    2 * time.Second,
		Stream:            proto.StreamOptions{Slice: 20 * time.Millisecond, Stall: 2 * time.Second},
	}
}

// startServer runs a server on a loopback port with the given chats created.
func startServer(t *testing.T, opts Options, chats ...string) *testEnv {
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

	srv := New(st, core.NewRegistry(all), opts, nil)
	require.NoError(t, srv.Listen("127.0.0.1:0"))

	runCtx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = srv.Serve(runCtx)
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	return &testEnv{srv: srv, store: st, addr: srv.Addr()}
}

// rawClient speaks the wire protocol directly.
type rawClient struct {
	t      *testing.T
	conn   net.Conn
	stream *proto.Stream
}

func dialRaw(t *testing.T, env *testEnv) *rawClient {
	t.Helper()

	conn, err := net.Dial("tcp", env.addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	opts := proto.StreamOptions{Slice: 20 * time.Millisecond, Stall: 3 * time.Second}
	return &rawClient{t: t, conn: conn, stream: proto.NewStream(context.Background(), conn, opts)}
}

func (c *rawClient) send(cmd proto.ClientCommand, f proto.Frame) {
	c.t.Helper()
	require.NoError(c.t, c.stream.Encoder().WriteClient(cmd, f))
	require.NoError(c.t, c.stream.Flush())
}

// next returns the next non-heartbeat command tag.
func (c *rawClient) next() proto.ServerCommand {
	c.t.Helper()
	for {
		cmd, err := c.stream.Decoder().ReadServerCommand()
		require.NoError(c.t, err)
		if cmd != proto.ServerHeartbeat {
			return cmd
		}
	}
}

func (c *rawClient) expect(want proto.ServerCommand) {
	c.t.Helper()
	require.Equal(c.t, want, c.next())
}

func (c *rawClient) introduce(name string) proto.IntroduceReply {
	c.t.Helper()
	c.send(proto.ClientIntroduce, &proto.Introduce{Name: name})
	c.expect(proto.ServerIntroduce)
	var reply proto.IntroduceReply
	require.NoError(c.t, reply.DecodeFrom(c.stream.Decoder()))
	return reply
}

func (c *rawClient) subscribe(room string, after uint64) proto.SubscribeReply {
	c.t.Helper()
	c.send(proto.ClientSubscribe, &proto.Subscribe{Room: room, After: after})
	c.expect(proto.ServerSubscribe)
	var reply proto.SubscribeReply
	require.NoError(c.t, reply.DecodeFrom(c.stream.Decoder()))
	return reply
}

func (c *rawClient) post(p *proto.Post) proto.Receipt {
	c.t.Helper()
	c.send(proto.ClientMessage, p)
	c.expect(proto.ServerMessageReceipt)
	var receipt proto.Receipt
	require.NoError(c.t, receipt.DecodeFrom(c.stream.Decoder()))
	return receipt
}

func (c *rawClient) broadcast() core.Message {
	c.t.Helper()
	c.expect(proto.ServerMessage)
	msg, err := proto.DecodeMessage(c.stream.Decoder())
	require.NoError(c.t, err)
	return msg
}

func (c *rawClient) getFile(id uint64) proto.FileReply {
	c.t.Helper()
	c.send(proto.ClientGetFile, &proto.FileRequest{ID: id})
	c.expect(proto.ServerSendFile)
	var reply proto.FileReply
	require.NoError(c.t, reply.DecodeFrom(c.stream.Decoder()))
	return reply
}

// closed waits until the server hangs up.
func (c *rawClient) closed() error {
	c.t.Helper()
	for {
		if _, err := c.stream.Decoder().ReadU8(); err != nil {
			return err
		}
	}
}
