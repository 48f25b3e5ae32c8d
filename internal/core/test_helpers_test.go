package core

import (
	"testing"
	"time"
)

type fakeSubscriber struct {
	queue chan Message
}

func newFakeSubscriber(size int) *fakeSubscriber {
	return &fakeSubscriber{queue: make(chan Message, size)}
}

func (f *fakeSubscriber) Deliver(msg Message) bool {
	select {
	case f.queue <- msg:
		return true
	default:
		return false
	}
}

func mustMessage(t *testing.T, ch <-chan Message) Message {
	t.Helper()

	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("expected message not received")
	}
	return Message{}
}

func expectNoMessage(t *testing.T, ch <-chan Message) {
	t.Helper()

	select {
	case msg := <-ch:
		t.Fatalf("unexpected message: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

// sequencer hands out ids the way the store does for one room.
type sequencer struct {
	next uint64
}

func (s *sequencer) persist(body string) func() (Message, error) {
	return func() (Message, error) {
		s.next++
		return Message{ID: s.next, RoomID: 1, Type: MessageText, Body: body}, nil
	}
}
