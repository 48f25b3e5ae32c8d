package core

import "sync"

// Room groups the subscribers of one chat.
type Room struct {
	Chat        Chat
	subscribers map[Subscriber]struct{}

	// publishMu orders persist-then-broadcast for this room.
	publishMu sync.Mutex
}

// NewRoom constructs a room with no subscribers.
func NewRoom(chat Chat) *Room {
	return &Room{
		Chat:        chat,
		subscribers: make(map[Subscriber]struct{}),
	}
}

// AddSubscriber inserts a subscriber into the room. Adding twice is a no-op.
func (r *Room) AddSubscriber(s Subscriber) {
	r.subscribers[s] = struct{}{}
}

// RemoveSubscriber deletes a subscriber from the room.
func (r *Room) RemoveSubscriber(s Subscriber) {
	delete(r.subscribers, s)
}

// Broadcast hands msg to every subscriber except the sender and returns
// how many queues refused it.
func (r *Room) Broadcast(msg Message, except Subscriber) int {
	refused := 0
	for s := range r.subscribers {
		if s == except {
			continue
		}
		if !s.Deliver(msg) {
			refused++
		}
	}
	return refused
}

// Len returns the number of subscribers.
func (r *Room) Len() int {
	return len(r.subscribers)
}
