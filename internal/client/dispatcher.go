package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vovakirdan/mchat/internal/core"
	"github.com/vovakirdan/mchat/internal/proto"
)

// Run drives the session until ctx is cancelled. Work still queued at that
// point is logged and failed with ErrClosed.
func (c *Client) Run(ctx context.Context) error {
	c.log.Debug().Msg("dispatcher started")
	defer c.shutdown()

	for {
		err := c.step(ctx)
		switch {
		case err == nil:
			continue
		case ctx.Err() != nil, errors.Is(err, proto.ErrShutdown):
			return nil
		}

		c.log.Warn().Err(err).Str("addr", c.addr).Msg("lost connection, reconnecting")
		c.disconnect(fmt.Errorf("%w: %w", ErrConnectionLost, err))
		if err := c.reconnect(ctx); err != nil {
			return nil
		}
	}
}

// step handles one queued unit or, when none is waiting, at most one
// inbound command, then sends a heartbeat if one is due.
func (c *Client) step(ctx context.Context) error {
	if ctx.Err() != nil {
		return proto.ErrShutdown
	}

	wait := c.opts.PollInterval
	if c.stream != nil {
		wait = 0
	}
	w, ok := c.queue.pop(ctx, wait)
	if ok {
		if err := c.process(ctx, w); err != nil {
			return err
		}
	}

	if c.stream == nil {
		return nil
	}
	pollWait := c.opts.PollInterval
	if ok {
		// keep inbound moving while the queue is busy
		pollWait = time.Millisecond
	}
	ready, err := c.stream.Poll(pollWait)
	if err != nil {
		return err
	}
	if ready {
		if err := c.receive(ctx); err != nil {
			return err
		}
	}
	return c.heartbeat()
}

func (c *Client) heartbeat() error {
	if time.Since(c.lastBeat) < c.opts.HeartbeatInterval {
		return nil
	}
	c.lastBeat = time.Now()
	return c.write(proto.ClientHeartbeat, nil)
}

// write sends one command and flushes it.
func (c *Client) write(cmd proto.ClientCommand, f proto.Frame) error {
	if err := c.stream.Encoder().WriteClient(cmd, f); err != nil {
		return err
	}
	return c.stream.Flush()
}

// process runs one work unit. A returned error means the connection is gone.
func (c *Client) process(ctx context.Context, w work) error {
	if cw, ok := w.(*connectWork); ok {
		return c.connect(ctx, cw)
	}
	if !c.State().introduced() || c.stream == nil {
		w.fail(ErrNotIntroduced)
		return nil
	}

	switch w := w.(type) {
	case *listChatsWork:
		c.pending.listChats.push(w)
		return c.write(proto.ClientListChats, nil)

	case *newChatWork:
		c.pending.newChat.push(w)
		return c.write(proto.ClientNewChat, &proto.NewChat{Name: w.name, Description: w.description})

	case *subscribeWork:
		after := c.lowWaterMark(ctx, w.room)
		c.pending.subscribe.push(w)
		return c.write(proto.ClientSubscribe, &proto.Subscribe{Room: w.room, After: after})

	case *sendWork:
		if !c.willBeSubscribed() {
			w.fail(core.NewError(core.ErrCodeNotSubscribed, "not subscribed to a chat"))
			return nil
		}
		w.msg.Sender = c.Name()
		c.pending.receipts.push(w)
		return c.write(proto.ClientMessage, &proto.Post{
			Type:     w.msg.Type,
			Body:     w.msg.Body,
			Payload:  w.msg.Payload,
			Progress: w.progress.add,
		})

	case *getFileWork:
		if !c.willBeSubscribed() {
			w.fail(core.NewError(core.ErrCodeNotSubscribed, "not subscribed to a chat"))
			return nil
		}
		// The cache is only authoritative once no room change is in flight.
		if c.sub != nil && len(c.pending.subscribe.items) == 0 {
			if p, err := c.cache.File(ctx, c.ServerID(), c.sub.room, w.id); err == nil {
				w.progress.complete(p.Len())
				w.done(p, nil)
				return nil
			}
		}
		c.pending.files.push(w)
		return c.write(proto.ClientGetFile, &proto.FileRequest{ID: w.id})

	default:
		w.fail(fmt.Errorf("client: unknown work unit %T", w))
		return nil
	}
}

// willBeSubscribed reports whether the server may hold a subscription by
// the time it reads the next command. Which room it is only becomes known
// when the replies before it arrive, so receipts and files are filed under
// c.sub at reply time.
func (c *Client) willBeSubscribed() bool {
	return c.sub != nil || len(c.pending.subscribe.items) > 0
}

// lowWaterMark is the newest cached id for room, so SUBSCRIBE only asks
// for what is missing.
func (c *Client) lowWaterMark(ctx context.Context, room string) uint64 {
	id, err := c.cache.LatestID(ctx, c.ServerID(), room)
	if err != nil {
		c.log.Warn().Err(err).Str("room", room).Msg("cache lookup failed; requesting full history")
		return 0
	}
	return id
}

// shutdown reports and fails everything left once the dispatcher stops.
func (c *Client) shutdown() {
	left := c.queue.close()
	if n := len(left); n > 0 {
		c.log.Warn().Int("count", n).Msgf("shutting down with %d commands left in the queue", n)
		for _, w := range left {
			c.log.Warn().Str("command", w.String()).Msg("dropping queued command")
			w.fail(ErrClosed)
		}
	}
	c.pending.failAll(ErrClosed)
	if c.stream != nil {
		_ = c.stream.Close()
		c.stream = nil
	}
	c.setState(StateDisconnected)
	c.log.Debug().Msg("dispatcher stopped")
}
