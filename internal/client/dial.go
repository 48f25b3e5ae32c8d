package client

import (
	"context"
	"net"
	"strings"

	"github.com/vovakirdan/mchat/internal/proto"
	"github.com/vovakirdan/mchat/internal/transport/ws"
)

// Dial connects to addr. ws:// and wss:// URLs use the WebSocket bridge;
// anything else is TCP, with the default port added when none is given.
func Dial(ctx context.Context, addr string) (net.Conn, error) {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		return ws.Dial(ctx, addr)
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", tcpAddress(addr))
}

func tcpAddress(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, proto.DefaultPort)
}
