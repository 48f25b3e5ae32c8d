package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/mchat/internal/core"
	"github.com/vovakirdan/mchat/internal/metrics"
	"github.com/vovakirdan/mchat/internal/proto"
)

var (
	errReceiveTimeout = errors.New("receive timeout")
	errLagging        = errors.New("outbound queue overflow")
)

// actor owns one connection. Only its own goroutine touches its fields,
// except outbound and lagging which other actors use through Deliver.
type actor struct {
	id     string
	srv    *Server
	stream *proto.Stream
	// base carries connection fields; log adds the name once introduced.
	base zerolog.Logger
	log  zerolog.Logger

	outbound chan core.Message
	lagging  atomic.Bool

	name       string
	subscribed bool
	sub        core.Chat
	// delivered is the highest id sent for the current subscription.
	delivered uint64

	lastRecv time.Time
	lastBeat time.Time
}

var _ core.Subscriber = (*actor)(nil)

func newActor(ctx context.Context, srv *Server, conn net.Conn) *actor {
	id := uuid.NewString()[:8]
	base := srv.log.With().Str("conn_id", id).Str("remote", remoteAddr(conn)).Logger()
	return &actor{
		id:       id,
		srv:      srv,
		stream:   proto.NewStream(ctx, conn, srv.opts.Stream),
		base:     base,
		log:      base,
		outbound: make(chan core.Message, srv.opts.OutboundQueue),
	}
}

// Deliver queues a broadcast for this connection without blocking.
func (a *actor) Deliver(msg core.Message) bool {
	select {
	case a.outbound <- msg:
		return true
	default:
		a.lagging.Store(true)
		return false
	}
}

func (a *actor) run(ctx context.Context) {
	metrics.ConnectionsActive.Inc()
	defer metrics.ConnectionsActive.Dec()

	a.log.Debug().Msg("connection accepted")

	err := a.loop(ctx)

	reason := "disconnect"
	switch {
	case errors.Is(err, proto.ErrShutdown):
		reason = "shutdown"
		a.log.Info().Msg("closing connection for shutdown")
	case errors.Is(err, proto.ErrProtocolViolation):
		reason = "kick"
		a.log.Warn().Err(err).Msg("kicking client")
	case errors.Is(err, errReceiveTimeout):
		reason = "timeout"
		a.log.Info().Err(err).Msg("client timed out")
	case errors.Is(err, errLagging):
		reason = "lagging"
		a.log.Warn().Err(err).Msg("dropping slow client")
	default:
		a.log.Info().Err(err).Msg("client disconnected")
	}
	metrics.ConnectionsClosed.WithLabelValues(reason).Inc()
}

func (a *actor) loop(ctx context.Context) error {
	opts := a.srv.opts
	now := time.Now()
	a.lastRecv, a.lastBeat = now, now

	for {
		if ctx.Err() != nil {
			return proto.ErrShutdown
		}

		ready, err := a.stream.Poll(opts.PollInterval)
		if err != nil {
			return err
		}
		if ready {
			if err := a.dispatch(ctx); err != nil {
				return err
			}
			a.lastRecv = time.Now()
		}

		if err := a.drainOutbound(); err != nil {
			return err
		}
		if err := a.stream.Flush(); err != nil {
			return err
		}
		if a.lagging.Load() {
			return fmt.Errorf("%w: %w", proto.ErrConnectionFailure, errLagging)
		}

		if time.Since(a.lastBeat) >= opts.HeartbeatInterval {
			if err := a.send(proto.ServerHeartbeat, nil); err != nil {
				return err
			}
			a.lastBeat = time.Now()
		}
		if idle := time.Since(a.lastRecv); idle > opts.ReceiveTimeout {
			return fmt.Errorf("%w: %w: nothing received for %s", proto.ErrConnectionFailure, errReceiveTimeout, idle.Truncate(time.Millisecond))
		}
	}
}

// drainOutbound writes queued broadcasts that belong to the current
// subscription and are newer than anything already sent.
func (a *actor) drainOutbound() error {
	enc := a.stream.Encoder()
	for {
		select {
		case msg := <-a.outbound:
			if !a.subscribed || msg.RoomID != a.sub.ID || msg.ID <= a.delivered {
				continue
			}
			if err := enc.WriteServer(proto.ServerMessage, proto.Broadcast(msg)); err != nil {
				return err
			}
			a.delivered = msg.ID
		default:
			return nil
		}
	}
}

func (a *actor) dispatch(ctx context.Context) error {
	cmd, err := a.stream.Decoder().ReadClientCommand()
	if err != nil {
		return err
	}
	metrics.CommandsReceived.WithLabelValues(cmd.String()).Inc()

	switch cmd {
	case proto.ClientIntroduce:
		return a.handleIntroduce()
	case proto.ClientListChats:
		return a.handleListChats()
	case proto.ClientNewChat:
		return a.handleNewChat(ctx)
	case proto.ClientSubscribe:
		return a.handleSubscribe(ctx)
	case proto.ClientMessage:
		return a.handleMessage(ctx)
	case proto.ClientGetFile:
		return a.handleGetFile(ctx)
	case proto.ClientHeartbeat:
		return nil
	default:
		return fmt.Errorf("%w: unhandled command %s", proto.ErrProtocolViolation, cmd)
	}
}

// send writes one command and flushes it.
func (a *actor) send(cmd proto.ServerCommand, f proto.Frame) error {
	if err := a.stream.Encoder().WriteServer(cmd, f); err != nil {
		return err
	}
	return a.stream.Flush()
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
