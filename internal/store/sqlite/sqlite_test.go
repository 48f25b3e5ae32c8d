package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/mchat/internal/core"
	"github.com/vovakirdan/mchat/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustChat(t *testing.T, s *SQLiteStore, name string) core.Chat {
	t.Helper()

	c, err := s.NewChat(context.Background(), core.Chat{Name: name, Creator: "tester", Description: name + " room"})
	if err != nil {
		t.Fatalf("failed to create chat %s: %v", name, err)
	}
	return c
}

func TestNewChatAndGetChats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	general := mustChat(t, s, "general")
	dev := mustChat(t, s, "dev")
	if general.ID == 0 || dev.ID <= general.ID {
		t.Fatalf("unexpected ids: general=%d dev=%d", general.ID, dev.ID)
	}

	_, err := s.NewChat(ctx, core.Chat{Name: "general", Creator: "other"})
	if !errors.Is(err, store.ErrChatExists) {
		t.Fatalf("expected ErrChatExists, got %v", err)
	}

	chats, err := s.GetChats(ctx)
	if err != nil {
		t.Fatalf("GetChats failed: %v", err)
	}
	if len(chats) != 2 {
		t.Fatalf("expected 2 chats, got %d", len(chats))
	}
	if chats[0] != general || chats[1] != dev {
		t.Errorf("unexpected chats: %+v", chats)
	}
}

func TestMessageIDsAreMonotonicPerRoom(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	general := mustChat(t, s, "general")
	dev := mustChat(t, s, "dev")

	for i := 1; i <= 3; i++ {
		m, err := s.NewMessage(ctx, general.ID, core.Message{Type: core.MessageText, Body: fmt.Sprint(i), Sender: "a"})
		if err != nil {
			t.Fatalf("NewMessage failed: %v", err)
		}
		if m.ID != uint64(i) {
			t.Fatalf("expected id %d, got %d", i, m.ID)
		}
	}

	m, err := s.NewMessage(ctx, dev.ID, core.Message{Type: core.MessageText, Body: "first", Sender: "a"})
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}
	if m.ID != 1 {
		t.Fatalf("expected ids to be room-local, got %d", m.ID)
	}

	if _, err := s.NewMessage(ctx, 999, core.Message{Type: core.MessageText, Body: "x"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown chat, got %v", err)
	}
}

func TestMessageIDsUnderConcurrentSenders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	general := mustChat(t, s, "general")

	const senders = 8
	const perSender = 25

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[uint64]bool)
	)
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				m, err := s.NewMessage(ctx, general.ID, core.Message{Type: core.MessageText, Body: "x", Sender: fmt.Sprint(i)})
				if err != nil {
					t.Errorf("NewMessage failed: %v", err)
					return
				}
				mu.Lock()
				if seen[m.ID] {
					t.Errorf("duplicate id %d", m.ID)
				}
				seen[m.ID] = true
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	msgs, err := s.MessagesSince(ctx, general.ID, 0)
	if err != nil {
		t.Fatalf("MessagesSince failed: %v", err)
	}
	if len(msgs) != senders*perSender {
		t.Fatalf("expected %d messages, got %d", senders*perSender, len(msgs))
	}
	for i, m := range msgs {
		if m.ID != uint64(i+1) {
			t.Fatalf("expected gapless ascending ids, got %d at position %d", m.ID, i)
		}
	}
}

func TestMessagesSince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	general := mustChat(t, s, "general")

	fixed := time.Unix(1700000000, 0)
	s.now = func() time.Time { return fixed }

	for i := 1; i <= 10; i++ {
		msg := core.Message{Type: core.MessageText, Body: fmt.Sprintf("msg %d", i), Sender: "alice"}
		switch i {
		case 6:
			msg = core.Message{Type: core.MessageImage, Body: "cat.png", Sender: "bob", Payload: core.NewPayload([]byte("png"))}
		case 7:
			msg = core.Message{Type: core.MessageFile, Body: "doc.pdf", Sender: "bob", Payload: core.NewPayload([]byte("pdf"))}
		}
		if _, err := s.NewMessage(ctx, general.ID, msg); err != nil {
			t.Fatalf("NewMessage failed: %v", err)
		}
	}

	tests := []struct {
		name    string
		minID   uint64
		wantIDs []uint64
	}{
		{name: "low-water mark 4", minID: 4, wantIDs: []uint64{5, 6, 7, 8, 9, 10}},
		{name: "from scratch", minID: 0, wantIDs: []uint64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}},
		{name: "up to date", minID: 10, wantIDs: nil},
		{name: "ahead of server", minID: 50, wantIDs: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, err := s.MessagesSince(ctx, general.ID, tt.minID)
			if err != nil {
				t.Fatalf("MessagesSince failed: %v", err)
			}
			if len(msgs) != len(tt.wantIDs) {
				t.Fatalf("expected %d messages, got %d", len(tt.wantIDs), len(msgs))
			}
			for i, m := range msgs {
				if m.ID != tt.wantIDs[i] {
					t.Errorf("position %d: expected id %d, got %d", i, tt.wantIDs[i], m.ID)
				}
				if m.Timestamp != int32(fixed.Unix()) {
					t.Errorf("unexpected timestamp %d", m.Timestamp)
				}
				switch m.ID {
				case 6:
					if string(m.Payload.Bytes()) != "png" {
						t.Errorf("expected inline image payload, got %q", m.Payload.Bytes())
					}
				case 7:
					if !m.Payload.Empty() {
						t.Errorf("expected file payload to be omitted")
					}
				}
			}
		})
	}
}

func TestGetFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	general := mustChat(t, s, "general")
	dev := mustChat(t, s, "dev")

	text, _ := s.NewMessage(ctx, general.ID, core.Message{Type: core.MessageText, Body: "hi", Sender: "a"})
	file, err := s.NewMessage(ctx, general.ID, core.Message{Type: core.MessageFile, Body: "a.bin", Sender: "a", Payload: core.NewPayload([]byte{1, 2, 3})})
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}

	got, err := s.GetFile(ctx, file.ID, general.ID)
	if err != nil {
		t.Fatalf("GetFile failed: %v", err)
	}
	if !got.Equal(core.NewPayload([]byte{1, 2, 3})) {
		t.Fatalf("unexpected payload %v", got.Bytes())
	}

	tests := []struct {
		name   string
		msgID  uint64
		roomID uint64
	}{
		{name: "text message", msgID: text.ID, roomID: general.ID},
		{name: "other room", msgID: file.ID, roomID: dev.ID},
		{name: "unknown id", msgID: 99, roomID: general.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.GetFile(ctx, tt.msgID, tt.roomID); !errors.Is(err, store.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestServerIdentityIsStable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.ServerIdentity(ctx)
	if err != nil {
		t.Fatalf("ServerIdentity failed: %v", err)
	}
	if !strings.HasPrefix(first, "mchat-") || len(first) != len("mchat-")+8 {
		t.Fatalf("unexpected identity format %q", first)
	}
	second, err := s.ServerIdentity(ctx)
	if err != nil {
		t.Fatalf("ServerIdentity failed: %v", err)
	}
	if first != second {
		t.Fatalf("identity changed: %q then %q", first, second)
	}
}
