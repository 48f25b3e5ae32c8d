package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vovakirdan/mchat/internal/core"
	"github.com/vovakirdan/mchat/internal/store"
)

type roomKey struct {
	server, room string
}

// Memory is a store.Cache that lives only as long as the process.
type Memory struct {
	mu    sync.Mutex
	chats map[string][]core.Chat
	rooms map[roomKey]map[uint64]core.Message
}

var _ store.Cache = (*Memory)(nil)

// NewMemory returns an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{
		chats: make(map[string][]core.Chat),
		rooms: make(map[roomKey]map[uint64]core.Message),
	}
}

func (m *Memory) PutChats(_ context.Context, server string, chats []core.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	merged := make(map[string]core.Chat, len(m.chats[server])+len(chats))
	for _, c := range m.chats[server] {
		merged[c.Name] = c
	}
	for _, c := range chats {
		merged[c.Name] = c
	}
	list := make([]core.Chat, 0, len(merged))
	for _, c := range merged {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	m.chats[server] = list
	return nil
}

func (m *Memory) Chats(_ context.Context, server string) ([]core.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.Chat(nil), m.chats[server]...), nil
}

func (m *Memory) PutMessages(_ context.Context, server, room string, msgs ...core.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := roomKey{server, room}
	byID := m.rooms[key]
	if byID == nil {
		byID = make(map[uint64]core.Message)
		m.rooms[key] = byID
	}
	for _, msg := range msgs {
		if _, ok := byID[msg.ID]; ok {
			continue
		}
		msg.RoomID = 0
		byID[msg.ID] = msg
	}
	return nil
}

func (m *Memory) Messages(_ context.Context, server, room string, after uint64) ([]core.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []core.Message
	for id, msg := range m.rooms[roomKey{server, room}] {
		if id <= after {
			continue
		}
		if msg.Type != core.MessageImage {
			msg.Payload = core.Payload{}
		}
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) LatestID(_ context.Context, server, room string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest uint64
	for id := range m.rooms[roomKey{server, room}] {
		latest = max(latest, id)
	}
	return latest, nil
}

func (m *Memory) PutFile(_ context.Context, server, room string, id uint64, p core.Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byID := m.rooms[roomKey{server, room}]
	msg, ok := byID[id]
	if !ok {
		return fmt.Errorf("message %d: %w", id, store.ErrNotFound)
	}
	msg.Payload = p
	byID[id] = msg
	return nil
}

func (m *Memory) File(_ context.Context, server, room string, id uint64) (core.Payload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.rooms[roomKey{server, room}][id]
	if !ok || msg.Payload.Empty() {
		return core.Payload{}, fmt.Errorf("file %d: %w", id, store.ErrNotFound)
	}
	return msg.Payload, nil
}

func (m *Memory) Close() error { return nil }
