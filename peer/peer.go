package peer

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"tarun-kavipurapu/p2p-swarm/pkg"
	"tarun-kavipurapu/p2p-swarm/pkg/config"
	"tarun-kavipurapu/p2p-swarm/pkg/directory"
	"tarun-kavipurapu/p2p-swarm/pkg/discovery"
	"tarun-kavipurapu/p2p-swarm/pkg/logger"
	"tarun-kavipurapu/p2p-swarm/pkg/monitor"
	"tarun-kavipurapu/p2p-swarm/pkg/storage"
	"tarun-kavipurapu/p2p-swarm/pkg/transport"
	"tarun-kavipurapu/p2p-swarm/pkg/transport/tcp"
)

// Node is one swarm participant: it serves chunks of its shared directory, announces its
// catalog, tracks other peers and downloads files from them.
type Node struct {
	cfg       config.Config
	id        string
	store     *storage.Store
	dir       *directory.Directory
	transport transport.Transport
	metrics   *monitor.Metrics

	randIntN    func(n int) int
	newRenderer func(*DownloadTracker) *ProgressRenderer

	mu         sync.Mutex
	started    bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	listener   *discovery.Listener
	advertiser *discovery.Advertiser
	downloads  map[*DownloadTracker]struct{}
}

// NewNode validates cfg and prepares a node whose shared directory lives on fs.
func NewNode(cfg config.Config, fs afero.Fs) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	n := &Node{
		cfg:         cfg,
		id:          uuid.NewString(),
		store:       storage.NewStore(fs, storage.SharedDir(cfg.BaseDir, cfg.Port)),
		dir:         directory.New(cfg.PeerTTL),
		metrics:     monitor.New(),
		randIntN:    rand.IntN,
		newRenderer: NewStdoutRenderer,
		downloads:   make(map[*DownloadTracker]struct{}),
	}
	n.transport = tcp.NewTCPTransport(tcp.TCPTransportOpts{
		ListenAddr:  fmt.Sprintf(":%d", cfg.Port),
		Handler:     n.serveChunk,
		IdleTimeout: cfg.Transfer.ServerIdleTimeout,
		DialTimeout: cfg.Transfer.ChunkTimeout,
	})

	logger.Sugar.Infof("[Node] initialized: id=%s port=%d shared=%s", n.id, cfg.Port, n.store.Root())
	return n, nil
}

// Start brings up the chunk server, the discovery listener and broadcaster, and the
// optional mDNS and metrics loops. They run until Stop is called or ctx is done.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return errors.New("node already started")
	}

	if err := n.store.Init(); err != nil {
		return err
	}

	if err := n.transport.ListenAndAccept(); err != nil {
		return fmt.Errorf("failed to start chunk server: %w", err)
	}

	listener, err := discovery.Listen(n.cfg.Discovery.Listen, n.dir, n.id)
	if err != nil {
		return multierr.Append(err, n.transport.Close())
	}

	broadcaster, err := discovery.NewBroadcaster(n.cfg.Discovery.Target, n.id, n.cfg.Port, n.cfg.Discovery.Interval, n.store.Catalog)
	if err != nil {
		return multierr.Combine(err, listener.Close(), n.transport.Close())
	}

	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.listener = listener
	n.started = true

	n.goRun(func() {
		if err := listener.Serve(ctx); err != nil {
			logger.Sugar.Errorf("[Node] discovery listener stopped: %v", err)
		}
	})
	n.goRun(func() { broadcaster.Run(ctx) })

	if n.cfg.Discovery.MDNS {
		n.startMDNS(ctx)
	}
	if n.cfg.StatsInterval > 0 {
		n.goRun(func() { n.metrics.LogPeriodic(ctx, n.cfg.StatsInterval) })
	}

	logger.Sugar.Infof("[Node] started: id=%s chunks=%s discovery=%s", n.id, n.transport.Addr(), listener.Addr())
	return nil
}

func (n *Node) startMDNS(ctx context.Context) {
	advertiser := discovery.NewAdvertiser()
	if err := advertiser.Start("", n.cfg.Port, map[string]string{discovery.MetaNodeID: n.id}); err != nil {
		logger.Sugar.Warnf("[Node] mDNS advertising disabled: %v", err)
	} else {
		n.advertiser = advertiser
	}

	resolver, err := discovery.NewResolver()
	if err != nil {
		logger.Sugar.Warnf("[Node] mDNS browsing disabled: %v", err)
		return
	}
	services, err := resolver.Browse(ctx)
	if err != nil {
		logger.Sugar.Warnf("[Node] mDNS browsing disabled: %v", err)
		return
	}
	n.goRun(func() { discovery.TrackPresence(services, n.dir, n.id) })
}

func (n *Node) goRun(fn func()) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		fn()
	}()
}

// Stop shuts every background loop down and waits for them. In-flight chunk responses
// are allowed to finish.
func (n *Node) Stop() error {
	n.mu.Lock()
	if !n.started {
		n.mu.Unlock()
		return nil
	}
	n.started = false
	n.cancel()
	advertiser := n.advertiser
	n.advertiser = nil
	n.mu.Unlock()

	if advertiser != nil {
		advertiser.Stop()
	}
	err := n.transport.Close()
	n.wg.Wait()

	logger.Sugar.Infof("[Node] stopped: id=%s", n.id)
	return err
}

func (n *Node) ID() string {
	return n.id
}

func (n *Node) Directory() *directory.Directory {
	return n.dir
}

func (n *Node) Store() *storage.Store {
	return n.store
}

func (n *Node) Metrics() *monitor.Metrics {
	return n.metrics
}

// ChunkAddr is the address the chunk server is bound to.
func (n *Node) ChunkAddr() string {
	return n.transport.Addr()
}

// DiscoveryAddr is the bound discovery listener address, or nil before Start.
func (n *Node) DiscoveryAddr() net.Addr {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listener == nil {
		return nil
	}
	return n.listener.Addr()
}

func (n *Node) LocalFiles() (pkg.Catalog, error) {
	return n.store.Catalog()
}

// Peers returns every known peer in first-seen order.
func (n *Node) Peers() []pkg.PeerAddress {
	return n.dir.Snapshot().Peers
}

// RemoteFile is a file available from the swarm.
type RemoteFile struct {
	Name   string
	Meta   pkg.ChunkMeta
	Owners int
}

// RemoteFiles lists files advertised by other peers, one entry per distinct content
// hash, skipping content this node already holds.
func (n *Node) RemoteFiles() ([]RemoteFile, error) {
	local, err := n.store.Catalog()
	if err != nil {
		return nil, err
	}
	held := make(map[string]bool, len(local))
	for _, meta := range local {
		held[meta.FileHash] = true
	}

	snap := n.dir.Snapshot()
	byHash := make(map[string]*RemoteFile)
	var order []string
	for _, peer := range snap.Peers {
		for name, meta := range snap.Catalogs[peer] {
			if held[meta.FileHash] {
				continue
			}
			if rf, ok := byHash[meta.FileHash]; ok {
				rf.Owners++
				continue
			}
			byHash[meta.FileHash] = &RemoteFile{Name: name, Meta: meta, Owners: 1}
			order = append(order, meta.FileHash)
		}
	}

	files := make([]RemoteFile, 0, len(order))
	for _, hash := range order {
		files = append(files, *byHash[hash])
	}
	sort.SliceStable(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

type Status struct {
	NodeID     string
	ChunkAddr  string
	SharedDir  string
	Peers      int
	LocalFiles int
	Metrics    monitor.Snapshot
	Downloads  []Progress
}

func (s Status) String() string {
	out := fmt.Sprintf("Node %s\n  chunks:    %s\n  shared:    %s\n  peers:     %d\n  files:     %d\n  served:    %d chunks (%s)\n  downloads: %d ok, %d failed (%s)\n",
		s.NodeID, s.ChunkAddr, s.SharedDir, s.Peers, s.LocalFiles,
		s.Metrics.ChunksServed, monitor.FormatBytes(s.Metrics.BytesServed),
		s.Metrics.DownloadsCompleted, s.Metrics.DownloadsFailed, monitor.FormatBytes(s.Metrics.BytesDownloaded))
	for _, p := range s.Downloads {
		out += fmt.Sprintf("  active:    %s %d/%d chunks, %d retries\n", p.FileName, p.Completed, p.Total, p.Retries)
	}
	return out
}

func (n *Node) GetStatus() Status {
	s := Status{
		NodeID:    n.id,
		ChunkAddr: n.transport.Addr(),
		SharedDir: n.store.Root(),
		Peers:     n.dir.Len(),
		Metrics:   n.metrics.Snapshot(),
	}
	if local, err := n.store.Catalog(); err == nil {
		s.LocalFiles = len(local)
	}

	n.mu.Lock()
	for tracker := range n.downloads {
		s.Downloads = append(s.Downloads, tracker.GetProgress())
	}
	n.mu.Unlock()
	sort.Slice(s.Downloads, func(i, j int) bool { return s.Downloads[i].FileName < s.Downloads[j].FileName })
	return s
}

func (n *Node) trackDownload(tracker *DownloadTracker) {
	n.mu.Lock()
	n.downloads[tracker] = struct{}{}
	n.mu.Unlock()
}

func (n *Node) untrackDownload(tracker *DownloadTracker) {
	n.mu.Lock()
	delete(n.downloads, tracker)
	n.mu.Unlock()
}
