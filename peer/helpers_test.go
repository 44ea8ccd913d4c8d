package peer

import (
	"crypto/rand"
	"net"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"tarun-kavipurapu/p2p-swarm/pkg"
	"tarun-kavipurapu/p2p-swarm/pkg/config"
	"tarun-kavipurapu/p2p-swarm/pkg/transport"
	"tarun-kavipurapu/p2p-swarm/pkg/transport/tcp"
)

func testConfig(port int) config.Config {
	cfg := config.Default()
	cfg.Port = port
	cfg.BaseDir = "/data"
	cfg.ShowProgress = false
	cfg.Discovery.Listen = "127.0.0.1:0"
	cfg.Discovery.Interval = 50 * time.Millisecond
	cfg.Transfer.MaxRetries = 3
	cfg.Transfer.ChunkTimeout = time.Second
	cfg.Transfer.ServerIdleTimeout = 2 * time.Second
	return cfg
}

func newTestNode(t *testing.T, cfg config.Config) (*Node, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	n, err := NewNode(cfg, fs)
	require.NoError(t, err)
	require.NoError(t, n.store.Init())
	return n, fs
}

func randomBytes(t *testing.T, size int) []byte {
	t.Helper()
	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)
	return data
}

func writeShared(t *testing.T, n *Node, fs afero.Fs, name string, data []byte) pkg.ChunkMeta {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, n.store.Path(name), data, 0644))
	catalog, err := n.store.Catalog()
	require.NoError(t, err)
	return catalog[name]
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// serve runs handler on a loopback TCP port and returns its address as a peer.
func serve(t *testing.T, handler transport.Handler) pkg.PeerAddress {
	t.Helper()
	tr := tcp.NewTCPTransport(tcp.TCPTransportOpts{
		ListenAddr:  "127.0.0.1:0",
		Handler:     handler,
		IdleTimeout: 2 * time.Second,
	})
	require.NoError(t, tr.ListenAndAccept())
	t.Cleanup(func() { _ = tr.Close() })

	addr, err := net.ResolveTCPAddr("tcp", tr.Addr())
	require.NoError(t, err)
	return pkg.PeerAddress{Host: addr.IP.String(), Port: addr.Port}
}

// udpSink is a discovery target nobody reads from.
func udpSink(t *testing.T) string {
	t.Helper()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn.LocalAddr().String()
}
