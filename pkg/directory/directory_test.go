package directory

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tarun-kavipurapu/p2p-swarm/pkg"
)

var (
	hashA = strings.Repeat("a", 64)
	hashB = strings.Repeat("b", 64)

	peerA = pkg.PeerAddress{Host: "10.0.0.1", Port: 11000}
	peerB = pkg.PeerAddress{Host: "10.0.0.2", Port: 11001}
)

func TestRegisterOrUpdateReplacesCatalog(t *testing.T) {
	d := New(0)

	isNew := d.RegisterOrUpdate(peerA, pkg.Catalog{
		"report.pdf": {TotalChunks: 3, FileHash: hashA},
		"notes.txt":  {TotalChunks: 1, FileHash: hashB},
	})
	require.True(t, isNew)

	isNew = d.RegisterOrUpdate(peerA, pkg.Catalog{
		"report.pdf": {TotalChunks: 3, FileHash: hashA},
	})
	require.False(t, isNew)

	snap := d.Snapshot()
	require.Equal(t, []pkg.PeerAddress{peerA}, snap.Peers)
	require.Len(t, snap.Catalogs[peerA], 1)
	require.Empty(t, d.KnownOwners("notes.txt"))
}

func TestRegisterIsIdempotent(t *testing.T) {
	d := New(0)
	catalog := pkg.Catalog{"report.pdf": {TotalChunks: 3, FileHash: hashA}}

	d.RegisterOrUpdate(peerA, catalog)
	first := d.KnownOwners("report.pdf")
	firstSnap := d.Snapshot()

	d.RegisterOrUpdate(peerA, catalog)
	require.Equal(t, first, d.KnownOwners("report.pdf"))
	require.Equal(t, firstSnap, d.Snapshot())
}

func TestRegisterCopiesCatalog(t *testing.T) {
	d := New(0)
	catalog := pkg.Catalog{"report.pdf": {TotalChunks: 3, FileHash: hashA}}
	d.RegisterOrUpdate(peerA, catalog)

	catalog["other.txt"] = pkg.ChunkMeta{TotalChunks: 1, FileHash: hashB}
	require.Empty(t, d.KnownOwners("other.txt"))
}

func TestPeerSetIsMonotonic(t *testing.T) {
	d := New(0)
	d.RegisterOrUpdate(peerA, pkg.Catalog{"report.pdf": {TotalChunks: 3, FileHash: hashA}})
	d.RegisterOrUpdate(peerB, nil)
	d.RegisterOrUpdate(peerA, pkg.Catalog{})

	snap := d.Snapshot()
	require.Equal(t, []pkg.PeerAddress{peerA, peerB}, snap.Peers)
	for _, p := range snap.Peers {
		require.NotNil(t, snap.Catalogs[p])
	}
}

func TestKnownOwnersFirstSeenOrder(t *testing.T) {
	d := New(0)
	d.RegisterOrUpdate(peerB, pkg.Catalog{"report.pdf": {TotalChunks: 3, FileHash: hashA}})
	d.RegisterOrUpdate(peerA, pkg.Catalog{"report.pdf": {TotalChunks: 4, FileHash: hashB}})
	// updating B must not move it behind A
	d.RegisterOrUpdate(peerB, pkg.Catalog{"report.pdf": {TotalChunks: 3, FileHash: hashA}})

	owners := d.KnownOwners("report.pdf")
	require.Len(t, owners, 2)
	require.Equal(t, peerB, owners[0].Peer)
	require.Equal(t, hashA, owners[0].Meta.FileHash)
	require.Equal(t, peerA, owners[1].Peer)
}

func TestPeerAddressEqualityIsExactPair(t *testing.T) {
	d := New(0)
	d.RegisterOrUpdate(pkg.PeerAddress{Host: "10.0.0.1", Port: 11000}, nil)
	d.RegisterOrUpdate(pkg.PeerAddress{Host: "10.0.0.1", Port: 11001}, nil)
	require.Equal(t, 2, d.Len())
}

func TestTouchKeepsCatalog(t *testing.T) {
	d := New(0)
	require.True(t, d.Touch(peerA))
	require.Equal(t, pkg.Catalog{}, d.Snapshot().Catalogs[peerA])

	d.RegisterOrUpdate(peerA, pkg.Catalog{"report.pdf": {TotalChunks: 3, FileHash: hashA}})
	require.False(t, d.Touch(peerA))
	require.Len(t, d.KnownOwners("report.pdf"), 1)
}

func TestStaleOwnersAreSkippedButKept(t *testing.T) {
	d := New(time.Minute)
	now := time.Unix(1_700_000_000, 0)
	d.now = func() time.Time { return now }

	d.RegisterOrUpdate(peerA, pkg.Catalog{"report.pdf": {TotalChunks: 3, FileHash: hashA}})
	now = now.Add(30 * time.Second)
	d.RegisterOrUpdate(peerB, pkg.Catalog{"report.pdf": {TotalChunks: 3, FileHash: hashA}})

	now = now.Add(45 * time.Second)
	owners := d.KnownOwners("report.pdf")
	require.Len(t, owners, 1)
	require.Equal(t, peerB, owners[0].Peer)
	require.Equal(t, 2, d.Len())

	d.RegisterOrUpdate(peerA, pkg.Catalog{"report.pdf": {TotalChunks: 3, FileHash: hashA}})
	require.Len(t, d.KnownOwners("report.pdf"), 2)
}

func TestConcurrentReadersNeverSeePartialCatalogs(t *testing.T) {
	d := New(0)
	full := func(gen int) pkg.Catalog {
		c := make(pkg.Catalog)
		for i := 0; i < 20; i++ {
			c[fmt.Sprintf("file-%d", i)] = pkg.ChunkMeta{TotalChunks: gen + 1, FileHash: hashA}
		}
		return c
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for gen := 0; gen < 200; gen++ {
			d.RegisterOrUpdate(peerA, full(gen))
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				catalog := d.Snapshot().Catalogs[peerA]
				if catalog == nil {
					continue
				}
				require.Len(t, catalog, 20)
				gen := catalog["file-0"].TotalChunks
				for _, meta := range catalog {
					require.Equal(t, gen, meta.TotalChunks)
				}
			}
		}()
	}
	wg.Wait()
}
