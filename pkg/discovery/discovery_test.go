package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/require"

	"tarun-kavipurapu/p2p-swarm/pkg"
	"tarun-kavipurapu/p2p-swarm/pkg/directory"
	"tarun-kavipurapu/p2p-swarm/pkg/protocol"
)

var testHash = strings.Repeat("c", 64)

func startListener(t *testing.T, dir *directory.Directory, selfID string) *Listener {
	t.Helper()
	l, err := Listen("127.0.0.1:0", dir, selfID)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return l
}

func send(t *testing.T, to net.Addr, payload []byte) {
	t.Helper()
	conn, err := net.Dial("udp4", to.String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(payload)
	require.NoError(t, err)
}

func TestListenerSurvivesMalformedDatagram(t *testing.T) {
	dir := directory.New(0)
	l := startListener(t, dir, "self")

	send(t, l.Addr(), []byte("P2P_PEER_DISCOVERY"))
	send(t, l.Addr(), []byte(`{"kind":"discovery","port":11000,"files":{"a":{"total_chunks":0,"file_hash":"x"}}}`))

	valid, err := protocol.EncodeDiscovery(protocol.NewDiscoveryMessage("other", 11000, pkg.Catalog{
		"report.pdf": {TotalChunks: 3, FileHash: testHash},
	}))
	require.NoError(t, err)
	send(t, l.Addr(), valid)

	require.Eventually(t, func() bool { return dir.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	owners := dir.KnownOwners("report.pdf")
	require.Len(t, owners, 1)
	require.Equal(t, pkg.PeerAddress{Host: "127.0.0.1", Port: 11000}, owners[0].Peer)
	require.Equal(t, 3, owners[0].Meta.TotalChunks)
	require.Empty(t, dir.KnownOwners("a"))
}

func TestListenerIgnoresOwnAnnouncements(t *testing.T) {
	dir := directory.New(0)
	l := startListener(t, dir, "self")

	own, err := protocol.EncodeDiscovery(protocol.NewDiscoveryMessage("self", 11000, nil))
	require.NoError(t, err)
	send(t, l.Addr(), own)

	other, err := protocol.EncodeDiscovery(protocol.NewDiscoveryMessage("other", 11001, nil))
	require.NoError(t, err)
	send(t, l.Addr(), other)

	require.Eventually(t, func() bool { return dir.Len() >= 1 }, 2*time.Second, 10*time.Millisecond)
	// give the earlier datagram every chance to land
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, []pkg.PeerAddress{{Host: "127.0.0.1", Port: 11001}}, dir.Snapshot().Peers)
}

func TestListenerStopsOnCancel(t *testing.T) {
	l, err := Listen("127.0.0.1:0", directory.New(0), "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Serve(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestBroadcasterAnnouncesImmediately(t *testing.T) {
	dir := directory.New(0)
	l := startListener(t, dir, "listener")

	catalog := pkg.Catalog{"report.pdf": {TotalChunks: 3, FileHash: testHash}}
	b, err := NewBroadcaster(l.Addr().String(), "broadcaster", 11000, time.Hour, func() (pkg.Catalog, error) {
		return catalog, nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	require.Eventually(t, func() bool {
		return len(dir.KnownOwners("report.pdf")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	owner := dir.KnownOwners("report.pdf")[0]
	require.Equal(t, 11000, owner.Peer.Port)
	require.Equal(t, testHash, owner.Meta.FileHash)
}

func TestBroadcasterTruncatesOversizedCatalog(t *testing.T) {
	dir := directory.New(0)
	l := startListener(t, dir, "listener")

	catalog := make(pkg.Catalog, 600)
	for i := 0; i < 600; i++ {
		catalog[fmt.Sprintf("file-%03d.dat", i)] = pkg.ChunkMeta{TotalChunks: 1, FileHash: testHash}
	}
	b, err := NewBroadcaster(l.Addr().String(), "broadcaster", 11000, time.Hour, func() (pkg.Catalog, error) {
		return catalog, nil
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.conn.Close() })

	data, kept, err := b.encode(catalog)
	require.NoError(t, err)
	require.LessOrEqual(t, len(data), protocol.MaxDatagramSize)
	require.Greater(t, kept, 0)
	require.Less(t, kept, len(catalog))

	require.NoError(t, b.Announce())
	require.EqualValues(t, len(catalog)-kept, b.omitted.Load())

	require.Eventually(t, func() bool {
		return len(dir.KnownOwners("file-000.dat")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	announced := dir.Snapshot().Catalogs[dir.KnownOwners("file-000.dat")[0].Peer]
	require.Len(t, announced, kept)
	require.NotContains(t, announced, "file-599.dat")
}

func TestBroadcasterSendsSmallCatalogWhole(t *testing.T) {
	b := &Broadcaster{nodeID: "id", port: 11000}
	catalog := pkg.Catalog{"report.pdf": {TotalChunks: 3, FileHash: testHash}}
	data, kept, err := b.encode(catalog)
	require.NoError(t, err)
	require.Equal(t, 1, kept)

	msg, err := protocol.DecodeDiscovery(data)
	require.NoError(t, err)
	require.Equal(t, catalog, msg.Files)
}

func TestNewBroadcasterRejectsBadTarget(t *testing.T) {
	_, err := NewBroadcaster("not an address", "id", 11000, time.Second, nil)
	require.Error(t, err)
}

func TestServiceInfoFromEntry(t *testing.T) {
	entry := zeroconf.NewServiceEntry("node-1", ServiceType, Domain)
	entry.HostName = "host.local."
	entry.Port = 11000
	entry.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.20")}
	entry.Text = []string{"id=abc", "junk"}

	info := serviceInfoFrom(entry)
	require.Equal(t, "node-1", info.InstanceName)
	require.Equal(t, []string{"192.168.1.20"}, info.IPs)
	require.Equal(t, map[string]string{"id": "abc"}, info.Meta)
}

func TestTrackPresence(t *testing.T) {
	dir := directory.New(0)
	services := make(chan *ServiceInfo, 3)
	services <- &ServiceInfo{Port: 11000, IPs: []string{"10.0.0.1"}, Meta: map[string]string{MetaNodeID: "self"}}
	services <- &ServiceInfo{Port: 11001, IPs: []string{"10.0.0.2"}, Meta: map[string]string{MetaNodeID: "other"}}
	services <- &ServiceInfo{Port: 11001, IPs: []string{"10.0.0.2"}, Meta: map[string]string{MetaNodeID: "other"}}
	close(services)

	TrackPresence(services, dir, "self")

	snap := dir.Snapshot()
	require.Equal(t, []pkg.PeerAddress{{Host: "10.0.0.2", Port: 11001}}, snap.Peers)
	require.Empty(t, snap.Catalogs[snap.Peers[0]])
}

func TestMDNSDiscovery(t *testing.T) {
	// multicast is often unavailable in CI containers
	if testing.Short() {
		t.Skip("Skipping mDNS test in short mode")
	}

	advertiser := NewAdvertiser()
	port := 12345
	require.NoError(t, advertiser.Start("test-service", port, map[string]string{MetaNodeID: "test"}))
	defer advertiser.Stop()

	time.Sleep(500 * time.Millisecond)

	resolver, err := NewResolver()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ch, err := resolver.Browse(ctx)
	require.NoError(t, err)

	found := false
	for info := range ch {
		if info.Port == port && info.Meta[MetaNodeID] == "test" {
			found = true
			require.NotEmpty(t, info.IPs)
			break
		}
	}
	if !found {
		t.Error("Failed to discover the test service")
	}
}
