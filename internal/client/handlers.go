package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/vovakirdan/mchat/internal/core"
	"github.com/vovakirdan/mchat/internal/proto"
	"github.com/vovakirdan/mchat/internal/store"
)

// receive decodes one server command and resolves the request it answers.
func (c *Client) receive(ctx context.Context) error {
	dec := c.stream.Decoder()
	cmd, err := dec.ReadServerCommand()
	if err != nil {
		return err
	}

	switch cmd {
	case proto.ServerHeartbeat:
		return nil
	case proto.ServerListChats:
		return c.handleChatList(ctx, dec)
	case proto.ServerNewChat:
		return c.handleNewChat(dec)
	case proto.ServerSubscribe:
		return c.handleSubscribe(ctx, dec)
	case proto.ServerMessage:
		return c.handleBroadcast(ctx, dec)
	case proto.ServerMessageReceipt:
		return c.handleReceipt(ctx, dec)
	case proto.ServerSendFile:
		return c.handleFile(ctx, dec)
	default:
		return fmt.Errorf("%w: unsolicited %s", proto.ErrProtocolViolation, cmd)
	}
}

func (c *Client) unsolicited(cmd proto.ServerCommand) {
	c.log.Warn().Stringer("command", cmd).Msg("reply without a pending request")
}

func (c *Client) handleChatList(ctx context.Context, dec *proto.Decoder) error {
	var list proto.ChatList
	if err := list.DecodeFrom(dec); err != nil {
		return err
	}
	if err := c.cache.PutChats(ctx, c.ServerID(), list.Chats); err != nil {
		c.log.Warn().Err(err).Msg("failed to cache chat list")
	}

	w, ok := c.pending.listChats.pop()
	if !ok {
		c.unsolicited(proto.ServerListChats)
		return nil
	}
	w.done(list.Chats, nil)
	return nil
}

func (c *Client) handleNewChat(dec *proto.Decoder) error {
	var st proto.Status
	if err := st.DecodeFrom(dec); err != nil {
		return err
	}
	w, ok := c.pending.newChat.pop()
	if !ok {
		c.unsolicited(proto.ServerNewChat)
		return nil
	}
	if !st.OK {
		w.done(fmt.Errorf("%w: chat %q was not created", ErrRejected, w.name))
		return nil
	}
	w.done(nil)
	return nil
}

func (c *Client) handleSubscribe(ctx context.Context, dec *proto.Decoder) error {
	var reply proto.SubscribeReply
	if err := reply.DecodeFrom(dec); err != nil {
		return err
	}
	w, ok := c.pending.subscribe.pop()
	if !ok {
		c.unsolicited(proto.ServerSubscribe)
		return nil
	}
	if !reply.OK {
		// The server keeps the previous subscription.
		w.done(nil, fmt.Errorf("%w: cannot subscribe to %q", ErrRejected, w.room))
		return nil
	}

	c.sub = &subscription{room: w.room, onMessage: w.onMessage}
	c.setRoom(w.room)
	c.setState(StateSubscribed)
	c.storeMessages(ctx, w.room, reply.Backlog)
	c.log.Info().Str("room", w.room).Int("backlog", len(reply.Backlog)).Msg("subscribed")
	w.done(reply.Backlog, nil)
	return nil
}

func (c *Client) handleBroadcast(ctx context.Context, dec *proto.Decoder) error {
	msg, err := proto.DecodeMessage(dec)
	if err != nil {
		return err
	}
	if c.sub == nil {
		c.log.Debug().Uint64("id", msg.ID).Msg("broadcast without a subscription")
		return nil
	}
	c.storeMessages(ctx, c.sub.room, []core.Message{msg})
	c.sub.onMessage(msg)
	return nil
}

func (c *Client) handleReceipt(ctx context.Context, dec *proto.Decoder) error {
	var receipt proto.Receipt
	if err := receipt.DecodeFrom(dec); err != nil {
		return err
	}
	w, ok := c.pending.receipts.pop()
	if !ok {
		c.unsolicited(proto.ServerMessageReceipt)
		return nil
	}
	if !receipt.OK {
		w.done(core.Message{}, receipt.Err())
		return nil
	}

	stored := w.msg
	stored.ID, stored.Timestamp = receipt.ID, receipt.Timestamp
	// Every SUBSCRIBE written before this message has been answered, so
	// c.sub is the room the server stored it in.
	if c.sub != nil {
		c.storeMessages(ctx, c.sub.room, []core.Message{stored})
	}
	w.done(stored, nil)
	return nil
}

func (c *Client) handleFile(ctx context.Context, dec *proto.Decoder) error {
	var reply proto.FileReply
	w, ok := c.pending.files.peek()
	if ok {
		reply.Progress = w.progress.read
	}
	if err := reply.DecodeFrom(dec); err != nil {
		return err
	}
	if !ok {
		c.unsolicited(proto.ServerSendFile)
		return nil
	}
	c.pending.files.pop()

	if !reply.OK {
		w.done(core.Payload{}, fmt.Errorf("%w: file %d is not available", ErrRejected, w.id))
		return nil
	}
	if c.sub != nil {
		err := c.cache.PutFile(ctx, c.ServerID(), c.sub.room, w.id, reply.Payload)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			c.log.Warn().Err(err).Uint64("id", w.id).Msg("failed to cache file")
		}
	}
	w.progress.complete(reply.Payload.Len())
	w.done(reply.Payload, nil)
	return nil
}

func (c *Client) storeMessages(ctx context.Context, room string, msgs []core.Message) {
	if len(msgs) == 0 {
		return
	}
	if err := c.cache.PutMessages(ctx, c.ServerID(), room, msgs...); err != nil {
		c.log.Warn().Err(err).Str("room", room).Msg("failed to cache messages")
	}
}
