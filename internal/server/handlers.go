package server

import (
	"context"
	"errors"
	"strings"

	"github.com/vovakirdan/mchat/internal/core"
	"github.com/vovakirdan/mchat/internal/metrics"
	"github.com/vovakirdan/mchat/internal/proto"
	"github.com/vovakirdan/mchat/internal/store"
)

func (a *actor) introduced() bool {
	return a.name != ""
}

func (a *actor) handleIntroduce() error {
	var req proto.Introduce
	if err := req.DecodeFrom(a.stream.Decoder()); err != nil {
		return err
	}

	proposed := core.CleanDisplayName(req.Name)
	name := a.srv.registry.ClaimName(a, proposed)
	if name != proposed {
		a.log.Info().Str("proposed", proposed).Str("name", name).Msg("renamed client to avoid a collision")
	}
	if a.name != "" && a.name != name {
		a.log.Info().Str("old_name", a.name).Str("name", name).Msg("client changed name")
	}
	a.name = name
	a.log = a.base.With().Str("name", name).Logger()
	a.log.Info().Msg("client introduced")

	return a.send(proto.ServerIntroduce, &proto.IntroduceReply{Name: name, ServerID: a.srv.opts.Identity})
}

func (a *actor) handleListChats() error {
	return a.send(proto.ServerListChats, &proto.ChatList{Chats: a.srv.registry.Chats()})
}

func (a *actor) handleNewChat(ctx context.Context) error {
	var req proto.NewChat
	if err := req.DecodeFrom(a.stream.Decoder()); err != nil {
		return err
	}
	reply := func(ok bool) error { return a.send(proto.ServerNewChat, &proto.Status{OK: ok}) }

	if !a.introduced() {
		a.log.Debug().Msg("new chat before introduce")
		return reply(false)
	}

	chat := core.Chat{
		Name:        strings.TrimSpace(core.StripNewlines(req.Name)),
		Creator:     core.StripNewlines(a.name),
		Description: core.CleanDescription(req.Description),
	}
	if verr := core.ValidateChatName(chat.Name); verr != nil {
		a.log.Debug().Str("chat", chat.Name).Str("code", verr.Code).Msg("rejected chat name")
		return reply(false)
	}
	if _, exists := a.srv.registry.Lookup(chat.Name); exists {
		a.log.Debug().Str("chat", chat.Name).Msg("chat name already taken")
		return reply(false)
	}

	created, err := a.srv.store.NewChat(ctx, chat)
	if err != nil {
		if errors.Is(err, store.ErrChatExists) {
			return reply(false)
		}
		metrics.PersistenceErrors.WithLabelValues("new_chat").Inc()
		a.log.Error().Err(err).Str("chat", chat.Name).Msg("failed to persist chat")
		return reply(false)
	}
	if err := a.srv.registry.AddChat(created); err != nil {
		a.log.Error().Err(err).Str("chat", created.Name).Msg("persisted chat missing from registry")
		return reply(false)
	}

	metrics.ChatsCreated.Inc()
	a.log.Info().Str("chat", created.Name).Uint64("chat_id", created.ID).Msg("chat created")
	return reply(true)
}

func (a *actor) handleSubscribe(ctx context.Context) error {
	var req proto.Subscribe
	if err := req.DecodeFrom(a.stream.Decoder()); err != nil {
		return err
	}
	fail := func() error { return a.send(proto.ServerSubscribe, &proto.SubscribeReply{OK: false}) }

	if !a.introduced() {
		return fail()
	}
	chat, ok := a.srv.registry.Lookup(req.Room)
	if !ok {
		a.log.Debug().Str("chat", req.Room).Msg("subscribe to unknown chat")
		return fail()
	}

	// Register for broadcast before reading the backlog. Anything persisted
	// from here on is queued, anything before is in the backlog, and the
	// queue is only drained after the backlog is written.
	prevSubscribed, prev := a.subscribed, a.sub
	if err := a.srv.registry.Subscribe(a, chat.ID); err != nil {
		return fail()
	}

	backlog, err := a.srv.store.MessagesSince(ctx, chat.ID, req.After)
	if err != nil {
		metrics.PersistenceErrors.WithLabelValues("messages_since").Inc()
		a.log.Error().Err(err).Str("chat", chat.Name).Msg("failed to load catch-up")
		if prevSubscribed {
			_ = a.srv.registry.Subscribe(a, prev.ID)
		} else {
			a.srv.registry.Unsubscribe(a)
		}
		return fail()
	}

	a.subscribed, a.sub = true, chat
	a.delivered = req.After
	if n := len(backlog); n > 0 {
		a.delivered = max(a.delivered, backlog[n-1].ID)
	}
	metrics.CatchupMessages.Observe(float64(len(backlog)))
	a.log.Info().Str("chat", chat.Name).Uint64("after", req.After).Int("backlog", len(backlog)).Msg("client subscribed")

	return a.send(proto.ServerSubscribe, &proto.SubscribeReply{OK: true, Backlog: backlog})
}

func (a *actor) handleMessage(ctx context.Context) error {
	var req proto.Post
	if err := req.DecodeFrom(a.stream.Decoder()); err != nil {
		return err
	}

	reject := func(verr *core.CoreError) error {
		metrics.MessagesRejected.WithLabelValues(verr.Code).Inc()
		a.log.Debug().Str("code", verr.Code).Str("reason", verr.Message).Msg("message rejected")
		return a.send(proto.ServerMessageReceipt, &proto.Receipt{OK: false, Code: verr.Code, Reason: verr.Message})
	}

	switch {
	case !a.introduced():
		return reject(core.NewError(core.ErrCodeNotIntroduced, "introduce first"))
	case !a.subscribed:
		return reject(core.NewError(core.ErrCodeNotSubscribed, "not subscribed to a chat"))
	}
	if verr := core.ValidatePost(req.Type, req.Body, req.Payload.Len(), req.Oversize); verr != nil {
		return reject(verr)
	}

	msg := core.Message{
		RoomID:  a.sub.ID,
		Type:    req.Type,
		Body:    req.Body,
		Sender:  a.name,
		Payload: req.Payload,
	}
	stored, err := a.srv.registry.Publish(a.sub.ID, a, func() (core.Message, error) {
		return a.srv.store.NewMessage(ctx, a.sub.ID, msg)
	})
	if err != nil {
		metrics.PersistenceErrors.WithLabelValues("new_message").Inc()
		a.log.Error().Err(err).Str("chat", a.sub.Name).Msg("failed to persist message")
		return reject(core.NewError(core.ErrCodeInternal, "message could not be stored"))
	}
	metrics.MessagesPosted.WithLabelValues(stored.Type.String()).Inc()

	// Broadcasts published before this message must reach the sender first.
	if err := a.drainOutbound(); err != nil {
		return err
	}
	return a.send(proto.ServerMessageReceipt, &proto.Receipt{OK: true, ID: stored.ID, Timestamp: stored.Timestamp})
}

func (a *actor) handleGetFile(ctx context.Context) error {
	var req proto.FileRequest
	if err := req.DecodeFrom(a.stream.Decoder()); err != nil {
		return err
	}
	fail := func() error { return a.send(proto.ServerSendFile, &proto.FileReply{ID: req.ID, OK: false}) }

	if !a.subscribed {
		a.log.Debug().Uint64("message_id", req.ID).Msg("get file while not subscribed")
		return fail()
	}

	payload, err := a.srv.store.GetFile(ctx, req.ID, a.sub.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			a.log.Warn().Uint64("message_id", req.ID).Str("chat", a.sub.Name).Msg("requested file does not exist in chat")
			return fail()
		}
		metrics.PersistenceErrors.WithLabelValues("get_file").Inc()
		a.log.Error().Err(err).Uint64("message_id", req.ID).Msg("failed to load file")
		return fail()
	}
	return a.send(proto.ServerSendFile, &proto.FileReply{ID: req.ID, OK: true, Payload: payload})
}
