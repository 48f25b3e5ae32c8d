package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/mchat/internal/config"
	"github.com/vovakirdan/mchat/internal/core"
	"github.com/vovakirdan/mchat/internal/proto"
	"github.com/vovakirdan/mchat/internal/store"
)

// Options tunes connection actors.
type Options struct {
	// Identity is the server name sent with every INTRODUCE reply.
	Identity string
	// PollInterval bounds how long an actor waits for inbound data per iteration.
	PollInterval time.Duration
	// HeartbeatInterval is how often the server sends HEARTBEAT.
	HeartbeatInterval time.Duration
	// ReceiveTimeout ends a connection that sent nothing for this long.
	ReceiveTimeout time.Duration
	// Stream controls I/O deadline slicing.
	Stream proto.StreamOptions
	// OutboundQueue is the broadcast queue depth per connection.
	OutboundQueue int
}

// OptionsFrom builds actor options from server configuration.
func OptionsFrom(cfg config.Config, identity string) Options {
	return Options{
		Identity:          identity,
		PollInterval:      cfg.PollInterval,
		HeartbeatInterval: cfg.HeartbeatInterval,
		ReceiveTimeout:    cfg.ReceiveTimeout,
		Stream:            proto.StreamOptions{Slice: cfg.IOSlice, Stall: cfg.IOTimeout},
		OutboundQueue:     cfg.OutboundQueue,
	}
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 100 * time.Millisecond
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 5 * time.Second
	}
	if o.ReceiveTimeout <= 0 {
		o.ReceiveTimeout = 3 * o.HeartbeatInterval
	}
	if o.OutboundQueue <= 0 {
		o.OutboundQueue = 256
	}
	return o
}

// Server accepts protocol connections and runs one actor per connection.
type Server struct {
	opts     Options
	store    store.Store
	registry *core.Registry
	log      *zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	closing  bool
	wg       sync.WaitGroup
}

// New creates a server. Call Listen and then Serve.
func New(st store.Store, reg *core.Registry, opts Options, logger *zerolog.Logger) *Server {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Server{
		opts:     opts.withDefaults(),
		store:    st,
		registry: reg,
		log:      logger,
	}
}

// Registry returns the shared room registry.
func (s *Server) Registry() *core.Registry {
	return s.registry
}

// Listen binds the TCP listener.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address, or "" before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve accepts connections until ctx is cancelled, then waits for every
// actor to finish.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("server: Serve called before Listen")
	}

	s.log.Info().Str("addr", ln.Addr().String()).Msg("accepting connections")

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	var acceptErr error
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				acceptErr = fmt.Errorf("accept: %w", err)
			}
			break
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serve(ctx, conn)
		}()
	}

	_ = ln.Close()
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.Wait()
	s.log.Info().Msg("all connections closed")
	return acceptErr
}

// ServeConn runs an actor on an already established connection (for example a
// WebSocket bridge) and blocks until it ends. Once Serve is shutting down the
// connection is closed right away.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	s.serve(ctx, conn)
}

// Wait blocks until every actor, including bridged ones, has finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) serve(ctx context.Context, conn net.Conn) {
	a := newActor(ctx, s, conn)
	s.registry.Register(a)
	defer s.registry.Unregister(a)
	defer conn.Close()

	a.run(ctx)
}
