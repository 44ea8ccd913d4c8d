package monitor

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"tarun-kavipurapu/p2p-swarm/pkg/logger"
)

// Metrics holds transfer counters for one node.
type Metrics struct {
	ChunksServed  atomic.Int64
	BytesServed   atomic.Int64
	ServeFailures atomic.Int64

	DownloadsCompleted atomic.Int64
	DownloadsFailed    atomic.Int64
	BytesDownloaded    atomic.Int64

	Start time.Time
}

// Snapshot is a copy of the counters at one instant.
type Snapshot struct {
	ChunksServed       int64
	BytesServed        int64
	ServeFailures      int64
	DownloadsCompleted int64
	DownloadsFailed    int64
	BytesDownloaded    int64
	Uptime             time.Duration
}

func New() *Metrics {
	return &Metrics{Start: time.Now()}
}

func (m *Metrics) RecordServed(bytes int) {
	m.ChunksServed.Add(1)
	m.BytesServed.Add(int64(bytes))
}

func (m *Metrics) RecordServeFailure() {
	m.ServeFailures.Add(1)
}

// RecordDownload records a finished download and logs its throughput.
func (m *Metrics) RecordDownload(bytes int64, elapsed time.Duration) {
	m.DownloadsCompleted.Add(1)
	m.BytesDownloaded.Add(bytes)

	logger.Sugar.Infof("[Transfer] Size=%s | Duration=%.2fs | Speed=%.2fMB/s",
		FormatBytes(bytes), elapsed.Seconds(), throughputMB(bytes, elapsed))
}

func (m *Metrics) RecordDownloadFailure() {
	m.DownloadsFailed.Add(1)
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		ChunksServed:       m.ChunksServed.Load(),
		BytesServed:        m.BytesServed.Load(),
		ServeFailures:      m.ServeFailures.Load(),
		DownloadsCompleted: m.DownloadsCompleted.Load(),
		DownloadsFailed:    m.DownloadsFailed.Load(),
		BytesDownloaded:    m.BytesDownloaded.Load(),
		Uptime:             time.Since(m.Start),
	}
}

// LogPeriodic logs runtime and transfer metrics every interval until ctx is done.
func (m *Metrics) LogPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		s := m.Snapshot()

		logger.Sugar.Infof("[Metrics] Goroutines=%d | HeapAlloc=%dMB | HeapSys=%dMB | Served=%d (%s) | Downloads=%d | Failed=%d | UploadRate=%.2fMB/s",
			runtime.NumGoroutine(),
			mem.HeapAlloc/1024/1024,
			mem.HeapSys/1024/1024,
			s.ChunksServed,
			FormatBytes(s.BytesServed),
			s.DownloadsCompleted,
			s.DownloadsFailed,
			throughputMB(s.BytesServed, s.Uptime),
		)
	}
}

func throughputMB(bytes int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(bytes) / elapsed.Seconds() / 1024 / 1024
}

// FormatBytes renders a byte count with a binary unit.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
