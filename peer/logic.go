package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/multierr"

	"tarun-kavipurapu/p2p-swarm/pkg"
	"tarun-kavipurapu/p2p-swarm/pkg/logger"
	"tarun-kavipurapu/p2p-swarm/pkg/protocol"
	"tarun-kavipurapu/p2p-swarm/pkg/storage"
	"tarun-kavipurapu/p2p-swarm/pkg/transport/tcp"
)

var (
	ErrNoOwners           = errors.New("no known owners")
	ErrChunksFailed       = errors.New("chunks could not be downloaded")
	ErrVerificationFailed = errors.New("file hash verification failed")

	errChunkUnavailable = errors.New("peer closed without sending the chunk")
	errChunkCorrupt     = errors.New("chunk hash mismatch")
)

type DownloadResult struct {
	Filename    string
	Path        string
	FileHash    string
	TotalChunks int
	Bytes       int64
	Elapsed     time.Duration
}

// ChunkJob fetches one chunk from any of the owners, retrying on failure.
type ChunkJob struct {
	Filename string
	Index    int
	Owners   []pkg.PeerAddress
	FragDir  string

	n       *Node
	tracker *DownloadTracker
}

// Execute makes up to MaxRetries attempts. Each attempt picks a random owner not yet
// tried; once every owner has been tried the whole set is eligible again.
func (cj *ChunkJob) Execute(ctx context.Context) error {
	var untried []pkg.PeerAddress
	var lastErr error

	for attempt := 1; attempt <= cj.n.cfg.Transfer.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(untried) == 0 {
			untried = append(untried[:0], cj.Owners...)
		}
		i := cj.n.randIntN(len(untried))
		owner := untried[i]
		untried = append(untried[:i], untried[i+1:]...)

		cj.tracker.StartChunk(cj.Index, owner.String())
		data, err := cj.n.fetchChunk(ctx, owner, cj.Filename, cj.Index)
		if err != nil {
			cj.tracker.RetryChunk(cj.Index)
			lastErr = err
			logger.Sugar.Warnf("[Download] chunk attempt failed: file=%s chunk=%d attempt=%d peer=%s err=%v",
				cj.Filename, cj.Index, attempt, owner, err)
			continue
		}

		if err := cj.n.store.WriteFragment(cj.FragDir, cj.Index, data); err != nil {
			return err
		}
		cj.tracker.CompleteChunk(cj.Index, len(data))
		logger.Sugar.Debugf("[Download] chunk stored: file=%s chunk=%d peer=%s bytes=%d",
			cj.Filename, cj.Index, owner, len(data))
		return nil
	}
	return fmt.Errorf("chunk %d: %d attempts failed: %w", cj.Index, cj.n.cfg.Transfer.MaxRetries, lastErr)
}

// fetchChunk performs a single request/response exchange and verifies the payload.
func (n *Node) fetchChunk(ctx context.Context, owner pkg.PeerAddress, filename string, index int) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, n.cfg.Transfer.ChunkTimeout)
	defer cancel()

	conn, err := n.transport.Dial(ctx, owner.String())
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := io.WriteString(conn, protocol.FormatChunkRequest(filename, index)); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	hash, data, err := tcp.ReadChunkFrame(conn, protocol.ChunkSize)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errChunkUnavailable
		}
		return nil, fmt.Errorf("read response: %w", err)
	}
	if !protocol.ValidHash(hash) {
		return nil, fmt.Errorf("%w: malformed hash %q", errChunkCorrupt, hash)
	}
	if got := storage.HashChunk(data); got != hash {
		return nil, fmt.Errorf("%w: peer sent %s, payload is %s", errChunkCorrupt, hash, got)
	}
	return data, nil
}

// Download fetches filename from the swarm into the shared directory as dl_<filename>.
// On ErrVerificationFailed the result is returned alongside the error and the file is
// left in place.
func (n *Node) Download(ctx context.Context, filename string) (result *DownloadResult, err error) {
	start := time.Now()

	owners := n.dir.KnownOwners(filename)
	if len(owners) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoOwners, filename)
	}
	meta := owners[0].Meta
	peers := make([]pkg.PeerAddress, 0, len(owners))
	for _, o := range owners {
		peers = append(peers, o.Peer)
		if o.Meta != meta {
			logger.Sugar.Warnf("[Download] owner disagrees on metadata: file=%s peer=%s hash=%s", filename, o.Peer, o.Meta.FileHash)
		}
	}

	fragDir, err := n.store.CreateFragmentDir()
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := n.store.RemoveAll(fragDir); cerr != nil {
			logger.Sugar.Errorf("[Download] cleanup failed: dir=%s err=%v", fragDir, cerr)
			err = multierr.Append(err, cerr)
		}
	}()

	logger.Sugar.Infof("[Download] starting: file=%s chunks=%d owners=%d hash=%s", filename, meta.TotalChunks, len(peers), meta.FileHash)

	tracker := NewDownloadTracker(filename, meta.FileHash, meta.TotalChunks)
	n.trackDownload(tracker)
	defer n.untrackDownload(tracker)

	if n.cfg.ShowProgress {
		renderer := n.newRenderer(tracker)
		renderer.Start()
		defer renderer.StopAndWait()
	}

	failed := n.runChunkJobs(ctx, filename, peers, fragDir, tracker)
	if len(failed) > 0 {
		n.metrics.RecordDownloadFailure()
		return nil, fmt.Errorf("%w: %s chunks %v", ErrChunksFailed, filename, failed)
	}

	path, hash, size, err := n.store.Reassemble(fragDir, meta.TotalChunks, storage.DownloadName(filename))
	if err != nil {
		n.metrics.RecordDownloadFailure()
		return nil, fmt.Errorf("failed to reassemble %s: %w", filename, err)
	}
	tracker.MarkComplete()

	result = &DownloadResult{
		Filename:    filename,
		Path:        path,
		FileHash:    hash,
		TotalChunks: meta.TotalChunks,
		Bytes:       size,
		Elapsed:     time.Since(start),
	}
	if hash != meta.FileHash {
		tracker.MarkHashMismatch()
		n.metrics.RecordDownloadFailure()
		logger.Sugar.Errorf("[Download] verification failed: file=%s expected=%s got=%s", filename, meta.FileHash, hash)
		return result, fmt.Errorf("%w: %s expected %s got %s", ErrVerificationFailed, filename, meta.FileHash, hash)
	}

	n.metrics.RecordDownload(size, result.Elapsed)
	logger.Sugar.Infof("[Download] complete: file=%s path=%s bytes=%d elapsed=%s", filename, path, size, result.Elapsed)
	return result, nil
}

// runChunkJobs fetches every chunk on a bounded pool and returns the failed indices.
func (n *Node) runChunkJobs(ctx context.Context, filename string, owners []pkg.PeerAddress, fragDir string, tracker *DownloadTracker) []int {
	total := tracker.TotalChunks
	workers := n.cfg.Transfer.MaxConcurrentChunks
	if workers > total {
		workers = total
	}

	pool := NewWorkerPool(workers)
	pool.Start(ctx)

	go func() {
		for index := 1; index <= total; index++ {
			pool.Submit(&ChunkJob{
				Filename: filename,
				Index:    index,
				Owners:   owners,
				FragDir:  fragDir,
				n:        n,
				tracker:  tracker,
			})
		}
		pool.Stop()
	}()

	for result := range pool.Results() {
		job := result.Job.(*ChunkJob)
		if result.Err != nil {
			logger.Sugar.Errorf("[Download] chunk failed: file=%s chunk=%d err=%v", filename, job.Index, result.Err)
			tracker.FailChunk(job.Index)
		}
	}
	<-pool.Done()

	return tracker.GetFailedChunks()
}
