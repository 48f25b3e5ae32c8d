package http

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/mchat/internal/config"
	"github.com/vovakirdan/mchat/internal/core"
	"github.com/vovakirdan/mchat/internal/server"
	"github.com/vovakirdan/mchat/internal/store/sqlite"
)

type testEnv struct {
	ts    *httptest.Server
	srv   *server.Server
	store *sqlite.SQLiteStore
	chat  core.Chat
}

// startTestServer serves the admin surface over a store with one "general" chat.
func startTestServer(t *testing.T, cfg config.Config) *testEnv {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	chat, err := st.NewChat(context.Background(), core.Chat{Name: "general", Creator: "seed", Description: "main room"})
	if err != nil {
		t.Fatalf("failed to create chat: %v", err)
	}

	disabledLogger := zerolog.Nop()
	srv := server.New(st, core.NewRegistry([]core.Chat{chat}), server.Options{
		Identity:          "http-test",
		PollInterval:      10 * time.Millisecond,
		HeartbeatInterval: 100 * time.Millisecond,
	}, &disabledLogger)

	httpServer := NewServer(srv, st, cfg, &disabledLogger)
	ts := httptest.NewServer(httpServer.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, srv: srv, store: st, chat: chat}
}
