// Package client maintains one connection to a chat server and turns the
// wire protocol into callbacks. All requests are queued and handled by a
// single dispatcher goroutine started with Run; callbacks run on that
// goroutine and must not block.
package client

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/mchat/internal/config"
	"github.com/vovakirdan/mchat/internal/core"
	"github.com/vovakirdan/mchat/internal/proto"
	"github.com/vovakirdan/mchat/internal/store"
	"github.com/vovakirdan/mchat/internal/store/cache"
)

var (
	// ErrNotIntroduced rejects requests issued before Connect succeeded.
	ErrNotIntroduced = errors.New("client: not connected")
	// ErrClosed is returned for requests that were still queued or in
	// flight when the dispatcher stopped, and for requests made afterwards.
	ErrClosed = errors.New("client: closed")
	// ErrConnectionLost fails requests in flight when the connection drops.
	ErrConnectionLost = errors.New("client: connection lost")
	// ErrRejected is returned when the server answers a request negatively.
	ErrRejected = errors.New("client: rejected by server")
)

// Options tunes a Client.
type Options struct {
	// Cache is the local replica. An in-memory cache is used when nil.
	Cache store.Cache
	// Dial opens connections. Defaults to Dial.
	Dial func(ctx context.Context, addr string) (net.Conn, error)

	// PollInterval bounds each wait for queued work or inbound data.
	PollInterval time.Duration
	// HeartbeatInterval is how often HEARTBEAT is sent while connected.
	HeartbeatInterval time.Duration
	// ConnectTimeout bounds one connection attempt, including retries.
	ConnectTimeout time.Duration
	// ConnectRetry is the pause between dials inside ConnectTimeout.
	ConnectRetry time.Duration
	// ReconnectBackoff is the pause between reconnect attempts.
	ReconnectBackoff time.Duration
	// Stream controls I/O deadline slicing.
	Stream proto.StreamOptions
}

// OptionsFrom builds client options from configuration. The cache is left
// for the caller to open.
func OptionsFrom(cfg config.ClientConfig) Options {
	return Options{
		PollInterval:      cfg.PollInterval,
		HeartbeatInterval: cfg.HeartbeatInterval,
		ConnectTimeout:    cfg.ConnectTimeout,
		ConnectRetry:      cfg.ConnectRetry,
		ReconnectBackoff:  cfg.ReconnectBackoff,
		Stream:            proto.StreamOptions{Slice: cfg.IOSlice, Stall: cfg.IOTimeout},
	}
}

func (o Options) withDefaults() Options {
	if o.Cache == nil {
		o.Cache = cache.NewMemory()
	}
	if o.Dial == nil {
		o.Dial = Dial
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 50 * time.Millisecond
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 5 * time.Second
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 5 * time.Second
	}
	if o.ConnectRetry <= 0 {
		o.ConnectRetry = 250 * time.Millisecond
	}
	if o.ReconnectBackoff <= 0 {
		o.ReconnectBackoff = time.Second
	}
	return o
}

// subscription is the room the session follows.
type subscription struct {
	room      string
	onMessage func(core.Message)
}

// Client is a chat session. Methods are safe for concurrent use.
type Client struct {
	opts  Options
	cache store.Cache
	log   *zerolog.Logger

	queue *workQueue
	state atomic.Int32

	infoMu   sync.Mutex
	name     string
	serverID string
	room     string

	// Dispatcher owned.
	stream   *proto.Stream
	pending  pending
	addr     string
	desired  string
	sub      *subscription
	lastBeat time.Time
}

// New creates a client. Requests may be queued before Run is called.
func New(opts Options, logger *zerolog.Logger) *Client {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	opts = opts.withDefaults()
	l := logger.With().Str("component", "client").Logger()
	return &Client{
		opts:  opts,
		cache: opts.Cache,
		log:   &l,
		queue: newWorkQueue(),
	}
}

// State returns the current session state.
func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) setState(s State) {
	if old := State(c.state.Swap(int32(s))); old != s {
		c.log.Debug().Stringer("from", old).Stringer("to", s).Msg("session state changed")
	}
}

// Name is the display name the server assigned, or "" before Connect.
func (c *Client) Name() string {
	c.infoMu.Lock()
	defer c.infoMu.Unlock()
	return c.name
}

// ServerID is the identity of the last server this client introduced itself to.
func (c *Client) ServerID() string {
	c.infoMu.Lock()
	defer c.infoMu.Unlock()
	return c.serverID
}

// Room is the subscribed room, or "".
func (c *Client) Room() string {
	c.infoMu.Lock()
	defer c.infoMu.Unlock()
	return c.room
}

func (c *Client) setIdentity(name, serverID string) {
	c.infoMu.Lock()
	c.name, c.serverID = name, serverID
	c.infoMu.Unlock()
}

func (c *Client) setRoom(room string) {
	c.infoMu.Lock()
	c.room = room
	c.infoMu.Unlock()
}

func (c *Client) enqueue(w work) {
	if !c.queue.push(w) {
		w.fail(ErrClosed)
	}
}

// Connect dials addr and introduces the session as name. done receives
// the name the server settled on. Connecting again replaces the current
// connection and drops the subscription.
func (c *Client) Connect(addr, name string, done func(name string, err error)) {
	if done == nil {
		done = func(string, error) {}
	}
	c.enqueue(&connectWork{addr: addr, name: name, done: done})
}

// ListChats fetches the chat directory.
func (c *Client) ListChats(done func([]core.Chat, error)) {
	if done == nil {
		done = func([]core.Chat, error) {}
	}
	c.enqueue(&listChatsWork{done: done})
}

// NewChat creates a chat owned by this session.
func (c *Client) NewChat(name, description string, done func(error)) {
	if done == nil {
		done = func(error) {}
	}
	c.enqueue(&newChatWork{name: name, description: description, done: done})
}

// Subscribe switches the session to room. done receives every message
// newer than the local cache; onMessage then fires for each broadcast,
// including the catch-up replayed after a reconnect.
func (c *Client) Subscribe(room string, done func(backlog []core.Message, err error), onMessage func(core.Message)) {
	if done == nil {
		done = func([]core.Message, error) {}
	}
	if onMessage == nil {
		onMessage = func(core.Message) {}
	}
	c.enqueue(&subscribeWork{room: room, done: done, onMessage: onMessage})
}

// SendText posts a text message. done receives the stored message.
func (c *Client) SendText(body string, done func(core.Message, error)) {
	c.send(core.MessageText, body, core.Payload{}, done)
}

// SendImage posts an image, delivered inline to every subscriber.
func (c *Client) SendImage(filename string, data []byte, done func(core.Message, error)) *Progress {
	return c.send(core.MessageImage, filename, core.NewPayload(data), done)
}

// SendFile posts a file. Subscribers fetch it on demand with GetFile.
func (c *Client) SendFile(filename string, data []byte, done func(core.Message, error)) *Progress {
	return c.send(core.MessageFile, filename, core.NewPayload(data), done)
}

func (c *Client) send(t core.MessageType, body string, p core.Payload, done func(core.Message, error)) *Progress {
	if done == nil {
		done = func(core.Message, error) {}
	}
	w := &sendWork{
		msg:      core.Message{Type: t, Body: body, Payload: p},
		progress: newProgress(p.Len()),
		done:     done,
	}
	if verr := core.ValidatePost(t, body, p.Len(), false); verr != nil {
		w.fail(verr)
		return w.progress
	}
	c.enqueue(w)
	return w.progress
}

// GetFile fetches the payload of message id in the subscribed room,
// answering from the cache when possible.
func (c *Client) GetFile(id uint64, done func(core.Payload, error)) *Progress {
	if done == nil {
		done = func(core.Payload, error) {}
	}
	w := &getFileWork{id: id, progress: newProgress(0), done: done}
	c.enqueue(w)
	return w.progress
}

// History returns the cached messages of room on the last server, for
// browsing without a connection.
func (c *Client) History(ctx context.Context, room string) ([]core.Message, error) {
	server := c.ServerID()
	if server == "" {
		return nil, ErrNotIntroduced
	}
	return c.cache.Messages(ctx, server, room, 0)
}

// CachedChats returns the chat directory as last seen on the last server.
func (c *Client) CachedChats(ctx context.Context) ([]core.Chat, error) {
	server := c.ServerID()
	if server == "" {
		return nil, ErrNotIntroduced
	}
	return c.cache.Chats(ctx, server)
}
