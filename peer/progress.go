package peer

import (
	"sort"
	"sync"
	"time"

	"tarun-kavipurapu/p2p-swarm/pkg/protocol"
)

// ChunkState represents the current state of a chunk download
type ChunkState int

const (
	ChunkPending ChunkState = iota
	ChunkDownloading
	ChunkFailed
)

func (s ChunkState) String() string {
	switch s {
	case ChunkPending:
		return "pending"
	case ChunkDownloading:
		return "downloading"
	case ChunkFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ChunkProgress tracks a single chunk
type ChunkProgress struct {
	Index     int
	State     ChunkState
	PeerAddr  string
	Attempts  int
	Bytes     int
	StartTime time.Time
	EndTime   time.Time
}

// DownloadTracker tracks the per-chunk state of one download. It is safe for concurrent use.
// Chunks only holds entries for chunks that have been attempted and not yet completed.
type DownloadTracker struct {
	mu          sync.RWMutex
	FileName    string
	FileHash    string
	TotalChunks int
	Chunks      map[int]*ChunkProgress
	ActivePeers map[string]int // peer -> chunks in flight
	StartTime   time.Time
	EndTime     time.Time

	bytesDownloaded int64

	lastBytes    int64
	lastTime     time.Time
	currentSpeed float64 // bytes/sec

	completedChunks int
	failedChunks    int
	retryCount      int
	hashMismatch    bool
}

func NewDownloadTracker(fileName, fileHash string, totalChunks int) *DownloadTracker {
	now := time.Now()
	return &DownloadTracker{
		FileName:    fileName,
		FileHash:    fileHash,
		TotalChunks: totalChunks,
		Chunks:      make(map[int]*ChunkProgress),
		ActivePeers: make(map[string]int),
		StartTime:   now,
		lastTime:    now,
	}
}

// chunkLocked returns the entry for index, creating it when index is in range.
func (dt *DownloadTracker) chunkLocked(index int) (*ChunkProgress, bool) {
	if chunk, ok := dt.Chunks[index]; ok {
		return chunk, true
	}
	if index < 1 || index > dt.TotalChunks {
		return nil, false
	}
	chunk := &ChunkProgress{Index: index, State: ChunkPending}
	dt.Chunks[index] = chunk
	return chunk, true
}

// StartChunk records an attempt to fetch index from peerAddr.
func (dt *DownloadTracker) StartChunk(index int, peerAddr string) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	chunk, ok := dt.chunkLocked(index)
	if !ok {
		return
	}
	chunk.State = ChunkDownloading
	chunk.PeerAddr = peerAddr
	chunk.Attempts++
	chunk.StartTime = time.Now()
	dt.ActivePeers[peerAddr]++
}

// RetryChunk returns an in-flight chunk to pending after a failed attempt.
func (dt *DownloadTracker) RetryChunk(index int) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	chunk, ok := dt.Chunks[index]
	if !ok {
		return
	}
	dt.releasePeerLocked(chunk)
	chunk.State = ChunkPending
	dt.retryCount++
}

// CompleteChunk counts index as done and drops its entry.
func (dt *DownloadTracker) CompleteChunk(index int, bytes int) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	chunk, ok := dt.chunkLocked(index)
	if !ok || chunk.State == ChunkFailed {
		return
	}
	dt.releasePeerLocked(chunk)
	delete(dt.Chunks, index)
	dt.completedChunks++
	dt.bytesDownloaded += int64(bytes)
}

func (dt *DownloadTracker) FailChunk(index int) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	chunk, ok := dt.chunkLocked(index)
	if !ok || chunk.State == ChunkFailed {
		return
	}
	dt.releasePeerLocked(chunk)
	chunk.State = ChunkFailed
	chunk.EndTime = time.Now()
	dt.failedChunks++
}

// MarkHashMismatch records that every chunk arrived but the assembled file did not match
// the advertised hash.
func (dt *DownloadTracker) MarkHashMismatch() {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	dt.hashMismatch = true
}

func (dt *DownloadTracker) releasePeerLocked(chunk *ChunkProgress) {
	if chunk.State != ChunkDownloading {
		return
	}
	dt.ActivePeers[chunk.PeerAddr]--
	if dt.ActivePeers[chunk.PeerAddr] <= 0 {
		delete(dt.ActivePeers, chunk.PeerAddr)
	}
}

// UpdateSpeed recomputes the download rate at most every half second.
func (dt *DownloadTracker) UpdateSpeed() float64 {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(dt.lastTime).Seconds()
	if elapsed >= 0.5 {
		dt.currentSpeed = float64(dt.bytesDownloaded-dt.lastBytes) / elapsed
		dt.lastBytes = dt.bytesDownloaded
		dt.lastTime = now
	}
	return dt.currentSpeed
}

// Progress is a point-in-time summary of a download.
type Progress struct {
	FileName    string
	Completed   int
	Total       int
	Failed      int
	Retries     int
	ActivePeers int
	Bytes       int64
	Speed       float64
	Elapsed     time.Duration

	// HashMismatch is set when the assembled file failed verification.
	HashMismatch bool
}

func (dt *DownloadTracker) GetProgress() Progress {
	dt.mu.RLock()
	defer dt.mu.RUnlock()

	return Progress{
		FileName:     dt.FileName,
		Completed:    dt.completedChunks,
		Total:        dt.TotalChunks,
		Failed:       dt.failedChunks,
		Retries:      dt.retryCount,
		ActivePeers:  len(dt.ActivePeers),
		Bytes:        dt.bytesDownloaded,
		Speed:        dt.currentSpeed,
		Elapsed:      dt.elapsedLocked(),
		HashMismatch: dt.hashMismatch,
	}
}

// GetETA estimates the remaining time assuming full-size chunks.
func (dt *DownloadTracker) GetETA() time.Duration {
	p := dt.GetProgress()
	remaining := int64(p.Total-p.Completed) * protocol.ChunkSize
	if p.Speed <= 0 || remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining)/p.Speed) * time.Second
}

// GetFailedChunks returns the failed indices in ascending order.
func (dt *DownloadTracker) GetFailedChunks() []int {
	dt.mu.RLock()
	defer dt.mu.RUnlock()

	failed := make([]int, 0, dt.failedChunks)
	for index, chunk := range dt.Chunks {
		if chunk.State == ChunkFailed {
			failed = append(failed, index)
		}
	}
	sort.Ints(failed)
	return failed
}

// IsComplete reports whether every chunk has been stored.
func (dt *DownloadTracker) IsComplete() bool {
	dt.mu.RLock()
	defer dt.mu.RUnlock()

	return dt.TotalChunks > 0 && dt.completedChunks == dt.TotalChunks
}

func (dt *DownloadTracker) MarkComplete() {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	dt.EndTime = time.Now()
}

func (dt *DownloadTracker) elapsedLocked() time.Duration {
	if !dt.EndTime.IsZero() {
		return dt.EndTime.Sub(dt.StartTime)
	}
	return time.Since(dt.StartTime)
}
