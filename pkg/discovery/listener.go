package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"

	"tarun-kavipurapu/p2p-swarm/pkg"
	"tarun-kavipurapu/p2p-swarm/pkg/directory"
	"tarun-kavipurapu/p2p-swarm/pkg/logger"
	"tarun-kavipurapu/p2p-swarm/pkg/protocol"
)

// Listener receives discovery datagrams and records their senders in the directory.
type Listener struct {
	conn   net.PacketConn
	dir    *directory.Directory
	selfID string
}

// Listen binds addr with address reuse enabled. Datagrams carrying selfID are ignored.
func Listen(addr string, dir *directory.Directory, selfID string) (*Listener, error) {
	lc := net.ListenConfig{Control: setSocketReuse}
	conn, err := lc.ListenPacket(context.Background(), "udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind discovery listener on %s: %w", addr, err)
	}
	logger.Sugar.Infof("[Discovery] listening: addr=%s", conn.LocalAddr())
	return &Listener{conn: conn, dir: dir, selfID: selfID}, nil
}

func (l *Listener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

// Serve reads datagrams until ctx is done or the socket is closed.
func (l *Listener) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { l.conn.Close() })
	defer stop()

	buf := make([]byte, protocol.MaxDatagramSize)
	for {
		n, from, err := l.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Sugar.Warnf("[Discovery] read failed: %v", err)
			continue
		}
		l.handle(buf[:n], from)
	}
}

func (l *Listener) Close() error {
	return l.conn.Close()
}

func (l *Listener) handle(data []byte, from net.Addr) {
	udpAddr, ok := from.(*net.UDPAddr)
	if !ok {
		return
	}

	msg, err := protocol.DecodeDiscovery(data)
	if err != nil {
		logger.Sugar.Debugf("[Discovery] dropping datagram: from=%s err=%v", from, err)
		return
	}
	if l.selfID != "" && msg.NodeID == l.selfID {
		return
	}

	peer := pkg.PeerAddress{Host: udpAddr.IP.String(), Port: msg.Port}
	l.dir.RegisterOrUpdate(peer, msg.Files)
}
