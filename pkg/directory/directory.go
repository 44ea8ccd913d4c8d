// Package directory keeps the process-wide view of known peers and the catalogs they
// advertise.
//
// Peers are never removed. Catalogs are replaced wholesale on every announcement and are
// never mutated after they are stored, so readers may share them freely.
package directory

import (
	"sort"
	"sync"
	"time"

	"tarun-kavipurapu/p2p-swarm/pkg"
	"tarun-kavipurapu/p2p-swarm/pkg/logger"
)

// Owner is a peer advertising a given filename and the metadata it advertises.
type Owner struct {
	Peer pkg.PeerAddress
	Meta pkg.ChunkMeta
}

// Snapshot is a point-in-time copy of the directory.
type Snapshot struct {
	// Peers in first-seen order.
	Peers    []pkg.PeerAddress
	Catalogs map[pkg.PeerAddress]pkg.Catalog
}

type Directory struct {
	mu      sync.RWMutex
	peers   map[pkg.PeerAddress]*pkg.PeerMetadata
	nextSeq uint64

	// staleAfter hides owners not heard from within the window; zero disables it.
	staleAfter time.Duration
	now        func() time.Time
}

func New(staleAfter time.Duration) *Directory {
	return &Directory{
		peers:      make(map[pkg.PeerAddress]*pkg.PeerMetadata),
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// RegisterOrUpdate inserts peer if it is new and replaces its catalog. It reports whether
// the peer was seen for the first time.
func (d *Directory) RegisterOrUpdate(peer pkg.PeerAddress, catalog pkg.Catalog) bool {
	catalog = catalog.Clone()

	d.mu.Lock()
	now := d.now()
	entry, exists := d.peers[peer]
	if !exists {
		entry = d.insertLocked(peer, now)
	}
	entry.Catalog = catalog
	entry.LastActive = now
	d.mu.Unlock()

	if !exists {
		logger.Sugar.Infof("[Directory] discovered peer: addr=%s files=%d", peer, len(catalog))
	} else {
		logger.Sugar.Debugf("[Directory] catalog updated: addr=%s files=%d", peer, len(catalog))
	}
	return !exists
}

// Touch records that peer is alive without replacing its catalog. Unknown peers are
// added with an empty catalog.
func (d *Directory) Touch(peer pkg.PeerAddress) bool {
	d.mu.Lock()
	now := d.now()
	entry, exists := d.peers[peer]
	if !exists {
		entry = d.insertLocked(peer, now)
		entry.Catalog = pkg.Catalog{}
	}
	entry.LastActive = now
	d.mu.Unlock()

	if !exists {
		logger.Sugar.Infof("[Directory] discovered peer: addr=%s files=0", peer)
	}
	return !exists
}

func (d *Directory) insertLocked(peer pkg.PeerAddress, now time.Time) *pkg.PeerMetadata {
	entry := &pkg.PeerMetadata{
		Addr:      peer,
		FirstSeen: now,
		Seq:       d.nextSeq,
	}
	d.nextSeq++
	d.peers[peer] = entry
	return entry
}

// Snapshot returns every known peer, stale or not, with its current catalog.
func (d *Directory) Snapshot() Snapshot {
	d.mu.RLock()
	entries := d.sortedLocked()
	d.mu.RUnlock()

	snap := Snapshot{
		Peers:    make([]pkg.PeerAddress, 0, len(entries)),
		Catalogs: make(map[pkg.PeerAddress]pkg.Catalog, len(entries)),
	}
	for _, e := range entries {
		snap.Peers = append(snap.Peers, e.Addr)
		snap.Catalogs[e.Addr] = e.Catalog
	}
	return snap
}

// KnownOwners returns the peers advertising filename in first-seen order.
func (d *Directory) KnownOwners(filename string) []Owner {
	d.mu.RLock()
	defer d.mu.RUnlock()

	now := d.now()
	var owners []Owner
	for _, e := range d.sortedLocked() {
		meta, ok := e.Catalog[filename]
		if !ok {
			continue
		}
		if d.staleAfter > 0 && now.Sub(e.LastActive) > d.staleAfter {
			continue
		}
		owners = append(owners, Owner{Peer: e.Addr, Meta: meta})
	}
	return owners
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.peers)
}

// sortedLocked returns copies of the entries ordered by registration.
func (d *Directory) sortedLocked() []pkg.PeerMetadata {
	entries := make([]pkg.PeerMetadata, 0, len(d.peers))
	for _, e := range d.peers {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
	return entries
}
