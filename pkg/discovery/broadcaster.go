package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync/atomic"
	"time"

	"tarun-kavipurapu/p2p-swarm/pkg"
	"tarun-kavipurapu/p2p-swarm/pkg/logger"
	"tarun-kavipurapu/p2p-swarm/pkg/protocol"
)

// CatalogFunc returns the catalog a node currently advertises.
type CatalogFunc func() (pkg.Catalog, error)

// Broadcaster periodically announces the local catalog and chunk server port.
type Broadcaster struct {
	conn     net.PacketConn
	target   *net.UDPAddr
	nodeID   string
	port     int
	interval time.Duration
	catalog  CatalogFunc

	// omitted is the number of files left out of the last announcement.
	omitted atomic.Int64
}

// NewBroadcaster opens a broadcast-enabled UDP socket that sends to target.
func NewBroadcaster(target, nodeID string, port int, interval time.Duration, catalog CatalogFunc) (*Broadcaster, error) {
	addr, err := net.ResolveUDPAddr("udp4", target)
	if err != nil {
		return nil, fmt.Errorf("invalid discovery target %q: %w", target, err)
	}

	lc := net.ListenConfig{Control: setSocketBroadcast}
	conn, err := lc.ListenPacket(context.Background(), "udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("failed to open broadcast socket: %w", err)
	}

	return &Broadcaster{
		conn:     conn,
		target:   addr,
		nodeID:   nodeID,
		port:     port,
		interval: interval,
		catalog:  catalog,
	}, nil
}

// Run announces once immediately and then every interval until ctx is done. The socket is
// closed on return.
func (b *Broadcaster) Run(ctx context.Context) {
	defer b.conn.Close()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		if err := b.Announce(); err != nil {
			logger.Sugar.Warnf("[Discovery] announce failed: target=%s err=%v", b.target, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Announce sends a single discovery datagram. A catalog too large for one datagram is
// cut down to the files that fit, in name order. Failures are not retried.
func (b *Broadcaster) Announce() error {
	catalog, err := b.catalog()
	if err != nil {
		return fmt.Errorf("failed to compute catalog: %w", err)
	}

	data, kept, err := b.encode(catalog)
	if err != nil {
		return err
	}
	if omitted := int64(len(catalog) - kept); b.omitted.Swap(omitted) != omitted && omitted > 0 {
		logger.Sugar.Warnf("[Discovery] catalog exceeds one datagram: announced=%d omitted=%d", kept, omitted)
	}

	if _, err := b.conn.WriteTo(data, b.target); err != nil {
		return err
	}
	logger.Sugar.Debugf("[Discovery] announced: target=%s files=%d", b.target, kept)
	return nil
}

// encode returns the largest announcement that fits in a datagram and how many files it
// carries.
func (b *Broadcaster) encode(catalog pkg.Catalog) ([]byte, int, error) {
	data, err := protocol.EncodeDiscovery(protocol.NewDiscoveryMessage(b.nodeID, b.port, catalog))
	if err != nil {
		return nil, 0, err
	}
	if len(data) <= protocol.MaxDatagramSize {
		return data, len(catalog), nil
	}

	names := catalog.Names()
	prefix := func(n int) ([]byte, error) {
		partial := make(pkg.Catalog, n)
		for _, name := range names[:n] {
			partial[name] = catalog[name]
		}
		return protocol.EncodeDiscovery(protocol.NewDiscoveryMessage(b.nodeID, b.port, partial))
	}

	var encErr error
	kept := sort.Search(len(names)+1, func(n int) bool {
		if encErr != nil {
			return true
		}
		out, err := prefix(n)
		if err != nil {
			encErr = err
			return true
		}
		return len(out) > protocol.MaxDatagramSize
	}) - 1
	if encErr != nil {
		return nil, 0, encErr
	}
	if kept < 0 {
		return nil, 0, fmt.Errorf("discovery datagram too large even without files")
	}

	data, err = prefix(kept)
	if err != nil {
		return nil, 0, err
	}
	return data, kept, nil
}
