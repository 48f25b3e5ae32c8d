package http

import (
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/mchat/internal/server"
	"github.com/vovakirdan/mchat/internal/transport/ws"
)

// WSHandler upgrades HTTP connections and runs the binary protocol over them.
type WSHandler struct {
	srv *server.Server
	log *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(srv *server.Server, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{srv: srv, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	conn, err := ws.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	h.log.Debug().Str("remote", r.RemoteAddr).Msg("ws bridge opened")

	// ServeConn closes conn when the actor ends.
	h.srv.ServeConn(r.Context(), conn)
}
