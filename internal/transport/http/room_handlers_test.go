package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/vovakirdan/mchat/internal/config"
	"github.com/vovakirdan/mchat/internal/core"
)

func getJSON(t *testing.T, env *testEnv, path string, out any) int {
	t.Helper()

	resp, err := env.ts.Client().Get(env.ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestHealthEndpoint(t *testing.T) {
	env := startTestServer(t, config.Default())

	resp, err := env.ts.Client().Get(env.ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestListRooms(t *testing.T) {
	env := startTestServer(t, config.Default())

	var rooms []RoomResponse
	if status := getJSON(t, env, "/api/chats", &rooms); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if len(rooms) != 1 {
		t.Fatalf("expected 1 room, got %d", len(rooms))
	}
	if rooms[0].Name != "general" || rooms[0].Description != "main room" || rooms[0].Subscribers != 0 {
		t.Errorf("unexpected room: %+v", rooms[0])
	}

	var stats StatsResponse
	if status := getJSON(t, env, "/api/stats", &stats); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if stats.Connections != 0 || len(stats.Rooms) != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestRoomMessages(t *testing.T) {
	env := startTestServer(t, config.Default())
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		msg := core.Message{Type: core.MessageText, Body: fmt.Sprintf("m%d", i), Sender: "alice"}
		if _, err := env.store.NewMessage(ctx, env.chat.ID, msg); err != nil {
			t.Fatalf("NewMessage failed: %v", err)
		}
	}
	img := core.Message{Type: core.MessageImage, Body: "cat.png", Sender: "bob", Payload: core.NewPayload([]byte("png"))}
	if _, err := env.store.NewMessage(ctx, env.chat.ID, img); err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		status  int
		wantIDs []uint64
	}{
		{"all", "/api/chats/general/messages", http.StatusOK, []uint64{1, 2, 3, 4, 5, 6}},
		{"since", "/api/chats/general/messages?since=3", http.StatusOK, []uint64{4, 5, 6}},
		{"limit", "/api/chats/general/messages?since=1&limit=2", http.StatusOK, []uint64{2, 3}},
		{"unknown chat", "/api/chats/nope/messages", http.StatusNotFound, nil},
		{"bad since", "/api/chats/general/messages?since=x", http.StatusBadRequest, nil},
		{"bad limit", "/api/chats/general/messages?limit=0", http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msgs []MessageResponse
			status := getJSON(t, env, tt.path, &msgs)
			if status != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, status)
			}
			if tt.status != http.StatusOK {
				return
			}
			if len(msgs) != len(tt.wantIDs) {
				t.Fatalf("expected %d messages, got %d", len(tt.wantIDs), len(msgs))
			}
			for i, id := range tt.wantIDs {
				if msgs[i].ID != id {
					t.Errorf("message %d: expected id %d, got %d", i, id, msgs[i].ID)
				}
			}
		})
	}

	var msgs []MessageResponse
	getJSON(t, env, "/api/chats/general/messages?since=5", &msgs)
	if len(msgs) != 1 || msgs[0].Type != "image" || msgs[0].PayloadBytes != 3 {
		t.Fatalf("unexpected image metadata: %+v", msgs)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := config.Default()
	cfg.APIRateLimit = 2
	env := startTestServer(t, cfg)

	for i := 0; i < 2; i++ {
		if status := getJSON(t, env, "/api/chats", nil); status != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, status)
		}
	}
	if status := getJSON(t, env, "/api/chats", nil); status != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", status)
	}
	// Health is outside the limited group.
	resp, err := env.ts.Client().Get(env.ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected health 200, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := startTestServer(t, config.Default())

	resp, err := env.ts.Client().Get(env.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}
