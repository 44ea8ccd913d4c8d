package pkg

import (
	"net"
	"sort"
	"strconv"
	"time"
)

// PeerAddress identifies a remote node by the host it was heard from and the port its
// chunk server listens on.
type PeerAddress struct {
	Host string
	Port int
}

func (a PeerAddress) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// ChunkMeta describes one advertised file version.
type ChunkMeta struct {
	TotalChunks int    `json:"total_chunks"`
	FileHash    string `json:"file_hash"`
}

// Catalog maps filename to the metadata one peer advertises for it.
type Catalog map[string]ChunkMeta

// Clone returns an independent copy. A nil catalog clones to an empty one.
func (c Catalog) Clone() Catalog {
	out := make(Catalog, len(c))
	for name, meta := range c {
		out[name] = meta
	}
	return out
}

// Names returns the filenames in lexical order.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type PeerMetadata struct {
	Addr       PeerAddress
	Catalog    Catalog
	FirstSeen  time.Time
	LastActive time.Time
	// Seq is the registration order; lower means seen earlier.
	Seq uint64
}
