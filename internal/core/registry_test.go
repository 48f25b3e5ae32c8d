package core

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestRegistrySubscribeBroadcastAndLeave(t *testing.T) {
	reg := NewRegistry([]Chat{{ID: 1, Name: "general"}, {ID: 2, Name: "random"}})

	alice := newFakeSubscriber(8)
	bob := newFakeSubscriber(8)
	reg.Register(alice)
	reg.Register(bob)

	if err := reg.Subscribe(alice, 1); err != nil {
		t.Fatalf("subscribe alice: %v", err)
	}
	if err := reg.Subscribe(bob, 1); err != nil {
		t.Fatalf("subscribe bob: %v", err)
	}

	seq := &sequencer{}
	msg, err := reg.Publish(1, alice, seq.persist("hi"))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if msg.ID != 1 {
		t.Fatalf("expected id 1, got %d", msg.ID)
	}

	got := mustMessage(t, bob.queue)
	if got.Body != "hi" || got.ID != 1 {
		t.Fatalf("unexpected message: %+v", got)
	}
	expectNoMessage(t, alice.queue)

	// Moving bob to another room stops delivery from the first one.
	if err := reg.Subscribe(bob, 2); err != nil {
		t.Fatalf("resubscribe bob: %v", err)
	}
	if _, err := reg.Publish(1, alice, seq.persist("again")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	expectNoMessage(t, bob.queue)

	if n := reg.SubscriberCount(1); n != 1 {
		t.Fatalf("expected 1 subscriber in general, got %d", n)
	}

	reg.Unregister(alice)
	if n := reg.SubscriberCount(1); n != 0 {
		t.Fatalf("expected unregistered subscriber to leave the room, got %d", n)
	}
	if n := reg.ConnectionCount(); n != 1 {
		t.Fatalf("expected 1 connection, got %d", n)
	}
}

func TestRegistrySubscribeUnknownChat(t *testing.T) {
	reg := NewRegistry(nil)
	s := newFakeSubscriber(1)
	reg.Register(s)

	if err := reg.Subscribe(s, 42); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("expected ErrChatNotFound, got %v", err)
	}
	if _, err := reg.Publish(42, s, (&sequencer{}).persist("x")); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("expected ErrChatNotFound from publish, got %v", err)
	}
}

func TestRegistryClaimName(t *testing.T) {
	reg := NewRegistry(nil)
	a := newFakeSubscriber(1)
	b := newFakeSubscriber(1)
	c := newFakeSubscriber(1)

	tests := []struct {
		name     string
		sub      Subscriber
		proposed string
		want     string
	}{
		{name: "first claim keeps name", sub: a, proposed: "Alice", want: "Alice"},
		{name: "second claim is suffixed", sub: b, proposed: "Alice", want: "Alice (2)"},
		{name: "third claim skips taken suffix", sub: c, proposed: "Alice", want: "Alice (3)"},
		{name: "reclaiming own name is stable", sub: a, proposed: "Alice", want: "Alice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := reg.ClaimName(tt.sub, tt.proposed); got != tt.want {
				t.Fatalf("ClaimName(%q) = %q, want %q", tt.proposed, got, tt.want)
			}
		})
	}

	reg.Unregister(a)
	d := newFakeSubscriber(1)
	if got := reg.ClaimName(d, "Alice"); got != "Alice" {
		t.Fatalf("expected released name to be reusable, got %q", got)
	}
}

func TestRegistryAddChat(t *testing.T) {
	reg := NewRegistry([]Chat{{ID: 1, Name: "general"}})

	if err := reg.AddChat(Chat{ID: 2, Name: "general"}); !errors.Is(err, ErrChatExists) {
		t.Fatalf("expected ErrChatExists, got %v", err)
	}
	if err := reg.AddChat(Chat{ID: 2, Name: "dev"}); err != nil {
		t.Fatalf("add chat: %v", err)
	}

	chats := reg.Chats()
	if len(chats) != 2 || chats[0].Name != "general" || chats[1].Name != "dev" {
		t.Fatalf("unexpected chats: %+v", chats)
	}
	if c, ok := reg.Lookup("dev"); !ok || c.ID != 2 {
		t.Fatalf("lookup dev: %+v %v", c, ok)
	}
}

func TestRegistryPublishKeepsIDOrderAcrossSenders(t *testing.T) {
	reg := NewRegistry([]Chat{{ID: 1, Name: "general"}})

	const senders = 8
	const perSender = 50

	listener := newFakeSubscriber(senders * perSender)
	reg.Register(listener)
	if err := reg.Subscribe(listener, 1); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	var (
		mu  sync.Mutex
		seq sequencer
		wg  sync.WaitGroup
	)
	for i := 0; i < senders; i++ {
		sender := newFakeSubscriber(1)
		reg.Register(sender)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				_, err := reg.Publish(1, sender, func() (Message, error) {
					mu.Lock()
					defer mu.Unlock()
					return seq.persist(fmt.Sprintf("%d-%d", i, j))()
				})
				if err != nil {
					t.Errorf("publish: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	var last uint64
	for k := 0; k < senders*perSender; k++ {
		msg := mustMessage(t, listener.queue)
		if msg.ID <= last {
			t.Fatalf("ids out of order: %d after %d", msg.ID, last)
		}
		last = msg.ID
	}
}

func TestRoomBroadcastCountsRefusals(t *testing.T) {
	room := NewRoom(Chat{ID: 1, Name: "general"})
	full := newFakeSubscriber(0)
	ok := newFakeSubscriber(1)
	room.AddSubscriber(full)
	room.AddSubscriber(ok)

	if refused := room.Broadcast(Message{ID: 1}, nil); refused != 1 {
		t.Fatalf("expected 1 refusal, got %d", refused)
	}
	room.AddSubscriber(ok)
	if room.Len() != 2 {
		t.Fatalf("expected duplicate add to keep 2 subscribers, got %d", room.Len())
	}
	room.RemoveSubscriber(ok)
	if room.Len() != 1 {
		t.Fatalf("unexpected room size after removal: %d", room.Len())
	}
}
