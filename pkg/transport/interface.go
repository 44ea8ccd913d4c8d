package transport

import (
	"context"
	"net"
)

// Handler serves one accepted connection. The transport closes conn once Handler returns.
type Handler func(conn net.Conn)

// Transport handles the network layer of the chunk protocol.
type Transport interface {
	ListenAndAccept() error
	Dial(ctx context.Context, addr string) (net.Conn, error)
	Close() error
	Addr() string
}
