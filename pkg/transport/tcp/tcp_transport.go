package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"tarun-kavipurapu/p2p-swarm/pkg/logger"
	"tarun-kavipurapu/p2p-swarm/pkg/transport"
)

type TCPTransportOpts struct {
	ListenAddr string
	Handler    transport.Handler
	// IdleTimeout bounds the whole lifetime of an accepted connection.
	IdleTimeout time.Duration
	DialTimeout time.Duration
}

// TCPTransport implements transport.Transport with one goroutine per accepted connection.
type TCPTransport struct {
	TCPTransportOpts

	listener net.Listener
	closed   atomic.Bool
	wg       sync.WaitGroup
}

func NewTCPTransport(opts TCPTransportOpts) *TCPTransport {
	return &TCPTransport{TCPTransportOpts: opts}
}

func (t *TCPTransport) ListenAndAccept() error {
	if t.Handler == nil {
		return errors.New("tcp transport has no handler")
	}

	var err error
	t.listener, err = net.Listen("tcp", t.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", t.ListenAddr, err)
	}
	logger.Sugar.Infof("[TCPTransport] listening: addr=%s", t.listener.Addr())

	t.wg.Add(1)
	go t.acceptLoop()
	return nil
}

func (t *TCPTransport) acceptLoop() {
	defer t.wg.Done()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if t.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Sugar.Errorf("[TCPTransport] accept error: listen=%s err=%v", t.ListenAddr, err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		t.wg.Add(1)
		go t.handleConn(conn)
	}
}

func (t *TCPTransport) handleConn(conn net.Conn) {
	defer t.wg.Done()
	defer conn.Close()

	if t.IdleTimeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(t.IdleTimeout)); err != nil {
			logger.Sugar.Debugf("[TCPTransport] set deadline failed: remote=%s err=%v", conn.RemoteAddr(), err)
			return
		}
	}
	t.Handler(conn)
}

// Dial connects to addr, giving up after DialTimeout or when ctx is done.
func (t *TCPTransport) Dial(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: t.DialTimeout}
	return d.DialContext(ctx, "tcp", addr)
}

// Close stops accepting and waits for in-flight connections to finish.
func (t *TCPTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	var err error
	if t.listener != nil {
		err = t.listener.Close()
	}
	t.wg.Wait()
	return err
}

// Addr returns the bound address once listening, the configured one before.
func (t *TCPTransport) Addr() string {
	if t.listener != nil {
		return t.listener.Addr().String()
	}
	return t.ListenAddr
}
