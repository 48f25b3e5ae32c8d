package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/mchat/internal/config"
	"github.com/vovakirdan/mchat/internal/core"
	"github.com/vovakirdan/mchat/internal/server"
	"github.com/vovakirdan/mchat/internal/store"
	"github.com/vovakirdan/mchat/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/mchat/internal/transport/http"
)

// App wires together storage, the protocol server and the admin HTTP surface.
type App struct {
	chat            *server.Server
	admin           *stdhttp.Server
	shutdownTimeout time.Duration
	store           store.Store
	log             *zerolog.Logger
}

// New opens the database, loads the chat directory and binds the protocol listener.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	ctx := context.Background()
	identity, err := st.ServerIdentity(ctx)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load server identity: %w", err)
	}
	chats, err := st.GetChats(ctx)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load chats: %w", err)
	}
	logger.Info().Str("server_id", identity).Int("chats", len(chats)).Msg("chat directory loaded")

	srv := server.New(st, core.NewRegistry(chats), server.OptionsFrom(cfg, identity), logger)
	if err := srv.Listen(cfg.Addr); err != nil {
		st.Close()
		return nil, err
	}

	a := &App{
		chat:            srv,
		shutdownTimeout: cfg.ShutdownTimeout,
		store:           st,
		log:             logger,
	}
	if cfg.AdminAddr != "" {
		a.admin = transporthttp.NewServer(srv, st, cfg, logger)
	}
	return a, nil
}

// Addr returns the bound protocol address.
func (a *App) Addr() string {
	return a.chat.Addr()
}

// Run serves until ctx is cancelled or a listener fails, then closes the store.
func (a *App) Run(ctx context.Context) error {
	defer a.cleanup()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.chat.Serve(gctx)
	})

	if a.admin != nil {
		// WebSocket actors inherit gctx so they end with the protocol server.
		a.admin.BaseContext = func(net.Listener) context.Context { return gctx }
		g.Go(func() error {
			a.log.Info().Str("addr", a.admin.Addr).Msg("admin http server listening")
			if err := a.admin.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
				return fmt.Errorf("admin http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
			defer cancel()

			a.log.Info().Msg("shutting down admin http server")
			if err := a.admin.Shutdown(shutdownCtx); err != nil {
				a.log.Warn().Err(err).Msg("admin http shutdown incomplete")
			}
			return nil
		})
	}

	err := g.Wait()
	// Shutdown does not track hijacked WebSocket connections.
	a.chat.Wait()
	return err
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
