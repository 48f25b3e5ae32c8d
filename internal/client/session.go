package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/vovakirdan/mchat/internal/proto"
)

// connect handles a Connect unit: dial, introduce, answer the callback.
// Only shutdown is returned as an error; a failed connect is reported to
// the caller and leaves the session disconnected.
func (c *Client) connect(ctx context.Context, w *connectWork) error {
	if c.stream != nil {
		c.log.Info().Str("addr", c.addr).Msg("closing connection for a new connect")
		c.disconnect(fmt.Errorf("%w: replaced by a new connection", ErrConnectionLost))
	}
	c.addr, c.desired = w.addr, w.name
	c.sub = nil
	c.setRoom("")

	err := c.establish(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		if ctx.Err() != nil || errors.Is(err, proto.ErrShutdown) {
			w.fail(ErrClosed)
			return proto.ErrShutdown
		}
		c.log.Warn().Err(err).Str("addr", w.addr).Msg("connect failed")
		w.fail(err)
		return nil
	}
	c.log.Info().Str("addr", w.addr).Str("name", c.Name()).Str("server", c.ServerID()).Msg("connected")
	w.done(c.Name(), nil)
	return nil
}

// reconnect retries establish with a fixed backoff until it succeeds or
// ctx is cancelled.
func (c *Client) reconnect(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		err := c.establish(ctx)
		if err == nil {
			c.log.Info().Str("addr", c.addr).Int("attempts", attempt).Msg("reconnected")
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, proto.ErrShutdown) {
			c.setState(StateDisconnected)
			return proto.ErrShutdown
		}
		c.log.Debug().Err(err).Int("attempt", attempt).Msg("reconnect attempt failed")

		timer := time.NewTimer(c.opts.ReconnectBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.setState(StateDisconnected)
			return proto.ErrShutdown
		case <-timer.C:
		}
	}
}

// establish opens a connection to c.addr, introduces the session and
// restores the subscription, if any.
func (c *Client) establish(ctx context.Context) error {
	c.setState(StateConnecting)
	conn, err := c.dialWithRetry(ctx, c.addr)
	if err != nil {
		return err
	}
	c.stream = proto.NewStream(ctx, conn, c.opts.Stream)
	c.lastBeat = time.Now()

	if err := c.introduce(); err != nil {
		c.dropStream()
		return err
	}
	if c.sub != nil {
		if err := c.resubscribe(ctx); err != nil {
			c.dropStream()
			return err
		}
	}
	return nil
}

func (c *Client) dialWithRetry(ctx context.Context, addr string) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	for {
		conn, err := c.opts.Dial(dialCtx, addr)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, proto.ErrShutdown
		}

		timer := time.NewTimer(c.opts.ConnectRetry)
		select {
		case <-dialCtx.Done():
			timer.Stop()
			if ctx.Err() != nil {
				return nil, proto.ErrShutdown
			}
			return nil, fmt.Errorf("%w: connect %s: %w", proto.ErrConnectionFailure, addr, err)
		case <-timer.C:
		}
	}
}

func (c *Client) introduce() error {
	if err := c.write(proto.ClientIntroduce, &proto.Introduce{Name: c.desired}); err != nil {
		return err
	}
	if err := c.expect(proto.ServerIntroduce); err != nil {
		return err
	}
	var reply proto.IntroduceReply
	if err := reply.DecodeFrom(c.stream.Decoder()); err != nil {
		return err
	}
	if reply.Name != c.desired {
		c.log.Info().Str("requested", c.desired).Str("name", reply.Name).Msg("server assigned a different name")
	}
	c.setIdentity(reply.Name, reply.ServerID)
	c.setState(StateIntroduced)
	return nil
}

// resubscribe replays SUBSCRIBE for the current room after a reconnect.
// The catch-up batch is handed to onMessage as ordinary broadcasts.
func (c *Client) resubscribe(ctx context.Context) error {
	sub := c.sub
	after := c.lowWaterMark(ctx, sub.room)
	if err := c.write(proto.ClientSubscribe, &proto.Subscribe{Room: sub.room, After: after}); err != nil {
		return err
	}
	if err := c.expect(proto.ServerSubscribe); err != nil {
		return err
	}
	var reply proto.SubscribeReply
	if err := reply.DecodeFrom(c.stream.Decoder()); err != nil {
		return err
	}
	if !reply.OK {
		c.log.Warn().Str("room", sub.room).Msg("server refused resubscribe")
		c.sub = nil
		c.setRoom("")
		return nil
	}

	c.storeMessages(ctx, sub.room, reply.Backlog)
	c.setState(StateSubscribed)
	c.log.Info().Str("room", sub.room).Uint64("after", after).Int("backlog", len(reply.Backlog)).Msg("resubscribed")
	for _, msg := range reply.Backlog {
		sub.onMessage(msg)
	}
	return nil
}

// expect reads the next command, skipping heartbeats, and requires it to be want.
func (c *Client) expect(want proto.ServerCommand) error {
	for {
		cmd, err := c.stream.Decoder().ReadServerCommand()
		if err != nil {
			return err
		}
		if cmd == proto.ServerHeartbeat {
			continue
		}
		if cmd != want {
			return fmt.Errorf("%w: expected %s, got %s", proto.ErrProtocolViolation, want, cmd)
		}
		return nil
	}
}

// disconnect closes the stream and fails everything in flight with err.
// The address and subscription are kept for reconnecting.
func (c *Client) disconnect(err error) {
	c.dropStream()
	c.setState(StateDisconnected)
	if n := c.pending.len(); n > 0 {
		c.log.Debug().Int("count", n).Msg("failing requests in flight")
	}
	c.pending.failAll(err)
}

func (c *Client) dropStream() {
	if c.stream != nil {
		_ = c.stream.Close()
		c.stream = nil
	}
}
