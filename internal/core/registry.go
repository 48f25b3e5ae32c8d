package core

import (
	"fmt"
	"sort"
	"sync"
)

// Registry tracks rooms and live connections. Every method holds the
// registry lock only for the bookkeeping itself; no I/O happens under it.
type Registry struct {
	mu      sync.Mutex
	rooms   map[uint64]*Room
	byName  map[string]*Room
	members map[Subscriber]*member
	names   map[string]Subscriber
}

type member struct {
	name string
	room *Room
}

// RoomStats describes one room in a Stats snapshot.
type RoomStats struct {
	Chat        Chat
	Subscribers int
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	Connections int
	Rooms       []RoomStats
}

// NewRegistry builds a registry seeded with already persisted chats.
func NewRegistry(chats []Chat) *Registry {
	r := &Registry{
		rooms:   make(map[uint64]*Room, len(chats)),
		byName:  make(map[string]*Room, len(chats)),
		members: make(map[Subscriber]*member),
		names:   make(map[string]Subscriber),
	}
	for _, c := range chats {
		room := NewRoom(c)
		r.rooms[c.ID] = room
		r.byName[c.Name] = room
	}
	return r
}

// Register adds a live connection without a name or subscription.
func (r *Registry) Register(s Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[s]; !ok {
		r.members[s] = &member{}
	}
}

// Unregister removes a connection, its name claim and its subscription.
func (r *Registry) Unregister(s Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[s]
	if !ok {
		return
	}
	if m.room != nil {
		m.room.RemoveSubscriber(s)
	}
	if m.name != "" && r.names[m.name] == s {
		delete(r.names, m.name)
	}
	delete(r.members, s)
}

// ClaimName gives s the proposed name, or a suffixed variant when another
// live connection already holds it. The effective name is returned.
func (r *Registry) ClaimName(s Subscriber, proposed string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[s]
	if !ok {
		m = &member{}
		r.members[s] = m
	}
	if m.name != "" && r.names[m.name] == s {
		delete(r.names, m.name)
	}

	name := proposed
	for n := 2; ; n++ {
		holder, taken := r.names[name]
		if !taken || holder == s {
			break
		}
		name = fmt.Sprintf("%s (%d)", proposed, n)
	}
	r.names[name] = s
	m.name = name
	return name
}

// Name returns the effective name of s, or "" if it never introduced itself.
func (r *Registry) Name(s Subscriber) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[s]; ok {
		return m.name
	}
	return ""
}

// Chats returns every known chat ordered by id.
func (r *Registry) Chats() []Chat {
	r.mu.Lock()
	chats := make([]Chat, 0, len(r.rooms))
	for _, room := range r.rooms {
		chats = append(chats, room.Chat)
	}
	r.mu.Unlock()

	sort.Slice(chats, func(i, j int) bool { return chats[i].ID < chats[j].ID })
	return chats
}

// Lookup finds a chat by name.
func (r *Registry) Lookup(name string) (Chat, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.byName[name]
	if !ok {
		return Chat{}, false
	}
	return room.Chat, true
}

// AddChat makes a freshly persisted chat visible to subscribers.
func (r *Registry) AddChat(c Chat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[c.Name]; exists {
		return ErrChatExists
	}
	if _, exists := r.rooms[c.ID]; exists {
		return ErrChatExists
	}
	room := NewRoom(c)
	r.rooms[c.ID] = room
	r.byName[c.Name] = room
	return nil
}

// Subscribe moves s into the room of chatID, leaving any previous room.
func (r *Registry) Subscribe(s Subscriber, chatID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[chatID]
	if !ok {
		return ErrChatNotFound
	}
	m, ok := r.members[s]
	if !ok {
		m = &member{}
		r.members[s] = m
	}
	if m.room != nil && m.room != room {
		m.room.RemoveSubscriber(s)
	}
	room.AddSubscriber(s)
	m.room = room
	return nil
}

// Unsubscribe drops the current subscription of s, if any.
func (r *Registry) Unsubscribe(s Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[s]; ok && m.room != nil {
		m.room.RemoveSubscriber(s)
		m.room = nil
	}
}

// Publish runs persist and hands the stored message to every other
// subscriber of the room. Publishes to one room are serialized so queues
// observe ids in ascending order.
func (r *Registry) Publish(chatID uint64, sender Subscriber, persist func() (Message, error)) (Message, error) {
	r.mu.Lock()
	room, ok := r.rooms[chatID]
	r.mu.Unlock()
	if !ok {
		return Message{}, ErrChatNotFound
	}

	room.publishMu.Lock()
	defer room.publishMu.Unlock()

	msg, err := persist()
	if err != nil {
		return Message{}, err
	}

	r.mu.Lock()
	room.Broadcast(msg, sender)
	r.mu.Unlock()
	return msg, nil
}

// SubscriberCount returns how many connections follow chatID.
func (r *Registry) SubscriberCount(chatID uint64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.rooms[chatID]; ok {
		return room.Len()
	}
	return 0
}

// ConnectionCount returns the number of registered connections.
func (r *Registry) ConnectionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Stats snapshots connection and subscriber counts.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	st := Stats{Connections: len(r.members), Rooms: make([]RoomStats, 0, len(r.rooms))}
	for _, room := range r.rooms {
		st.Rooms = append(st.Rooms, RoomStats{Chat: room.Chat, Subscribers: room.Len()})
	}
	r.mu.Unlock()

	sort.Slice(st.Rooms, func(i, j int) bool { return st.Rooms[i].Chat.ID < st.Rooms[j].Chat.ID })
	return st
}
