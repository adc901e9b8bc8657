// Package netutil holds the thin OS-primitive adapters the server depends
// on but treats as external collaborators: socket creation and peer name
// resolution. Nothing here participates in the lifecycle/shutdown core.
package netutil

import (
	"context"
	"fmt"
	"net"
	"strings"
)

// Listen creates a TCP listening socket on all interfaces for service,
// enabling address reuse, with the system default backlog.
//
// service may be a bare port ("4000") or a full address ("127.0.0.1:4000");
// a bare port is bound on all interfaces, matching AI_PASSIVE in the
// reference.
func Listen(service string) (net.Listener, error) {
	addr := service
	if !strings.Contains(service, ":") {
		addr = ":" + service
	}

	lc := net.ListenConfig{Control: controlReuseAddr}
	return lc.Listen(context.Background(), "tcp", addr)
}

// PeerName renders a connection's remote address as "host:port" for the
// accept-log line.
func PeerName(conn net.Conn) string {
	if conn == nil {
		return ""
	}
	addr := conn.RemoteAddr()
	if addr == nil {
		return ""
	}
	if host, port, err := net.SplitHostPort(addr.String()); err == nil {
		return fmt.Sprintf("%s:%s", host, port)
	}
	return addr.String()
}
