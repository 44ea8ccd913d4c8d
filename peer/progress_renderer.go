package peer

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"

	"tarun-kavipurapu/p2p-swarm/pkg/monitor"
)

// ANSI color codes for terminal output
const (
	Reset  = "\033[0m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Blue   = "\033[34m"
	Cyan   = "\033[36m"
	Bold   = "\033[1m"
)

// ProgressRenderer redraws a download's progress line until stopped.
type ProgressRenderer struct {
	tracker     *DownloadTracker
	out         io.Writer
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	refreshRate time.Duration
	useColors   bool
	width       int
}

func NewProgressRenderer(tracker *DownloadTracker, out io.Writer, useColors bool) *ProgressRenderer {
	return &ProgressRenderer{
		tracker:     tracker,
		out:         out,
		stopChan:    make(chan struct{}),
		refreshRate: 200 * time.Millisecond,
		useColors:   useColors,
		width:       40,
	}
}

// NewStdoutRenderer renders to stdout, with colors only when stdout is a terminal.
func NewStdoutRenderer(tracker *DownloadTracker) *ProgressRenderer {
	return NewProgressRenderer(tracker, os.Stdout, IsTerminalSupported(os.Stdout))
}

// Start launches the render loop in the background.
func (pr *ProgressRenderer) Start() {
	pr.wg.Add(1)
	go func() {
		defer pr.wg.Done()
		pr.Render()

		ticker := time.NewTicker(pr.refreshRate)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				pr.tracker.UpdateSpeed()
				pr.Render()
			case <-pr.stopChan:
				return
			}
		}
	}()
}

// StopAndWait stops the loop and draws the final state.
func (pr *ProgressRenderer) StopAndWait() {
	pr.stopOnce.Do(func() { close(pr.stopChan) })
	pr.wg.Wait()

	if pr.tracker.IsComplete() && !pr.tracker.GetProgress().HashMismatch {
		pr.RenderFinal()
	} else {
		pr.RenderError()
	}
}

func (pr *ProgressRenderer) Render() {
	p := pr.tracker.GetProgress()
	eta := pr.tracker.GetETA()

	percent := 0.0
	if p.Total > 0 {
		percent = float64(p.Completed) / float64(p.Total) * 100
	}
	filled := int(float64(pr.width) * percent / 100)
	if filled > pr.width {
		filled = pr.width
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", pr.width-filled)
	speed := monitor.FormatBytes(int64(p.Speed))

	var line string
	if pr.useColors {
		line = fmt.Sprintf("\r%s[%s]%s [%s]%s %.1f%% (%d/%d chunks) | %s/s | %d peers | ETA: %s",
			Cyan, p.FileName, Reset,
			Green+bar+Reset,
			Yellow, percent, p.Completed, p.Total,
			Blue+speed+Reset, p.ActivePeers, formatETA(eta),
		)
	} else {
		line = fmt.Sprintf("\r[%s] [%s] %.1f%% (%d/%d chunks) | %s/s | %d peers | ETA: %s",
			p.FileName, bar, percent, p.Completed, p.Total,
			speed, p.ActivePeers, formatETA(eta),
		)
	}

	if p.Retries > 0 {
		line += fmt.Sprintf(" | %d retries", p.Retries)
	}
	if p.Failed > 0 {
		failed := fmt.Sprintf(" | %d failed", p.Failed)
		if pr.useColors {
			failed = Red + failed + Reset
		}
		line += failed
	}
	fmt.Fprint(pr.out, line)
}

func (pr *ProgressRenderer) RenderFinal() {
	p := pr.tracker.GetProgress()
	fmt.Fprint(pr.out, "\r\033[K")

	bar := strings.Repeat("█", pr.width)
	if pr.useColors {
		fmt.Fprintf(pr.out, "%s[%s]%s [%s]%s 100%% (%d/%d chunks)%s | %s | Completed in %s\n",
			Cyan, p.FileName, Reset,
			Green+bar+Reset,
			Green, p.Total, p.Total, Reset,
			monitor.FormatBytes(p.Bytes), formatDuration(p.Elapsed),
		)
		return
	}
	fmt.Fprintf(pr.out, "[%s] [%s] 100%% (%d/%d chunks) | %s | Completed in %s\n",
		p.FileName, bar, p.Total, p.Total, monitor.FormatBytes(p.Bytes), formatDuration(p.Elapsed))
}

// RenderError draws the final line of a download that did not succeed, naming the failed
// chunks or the hash mismatch.
func (pr *ProgressRenderer) RenderError() {
	p := pr.tracker.GetProgress()
	fmt.Fprint(pr.out, "\r\033[K")

	percent := 0.0
	if p.Total > 0 {
		percent = float64(p.Completed) / float64(p.Total) * 100
	}

	var reason string
	if p.HashMismatch {
		reason = fmt.Sprintf("Hash mismatch: %d/%d chunks received, file kept but does not match %s",
			p.Completed, p.Total, shortHash(pr.tracker.FileHash))
	} else {
		reason = fmt.Sprintf("Download failed: %d/%d completed, %d failed", p.Completed, p.Total, p.Failed)
		if failed := pr.tracker.GetFailedChunks(); len(failed) > 0 {
			reason += fmt.Sprintf(" (chunks %s)", formatIndices(failed, 10))
		}
	}

	if pr.useColors {
		fmt.Fprintf(pr.out, "%s[%s]%s [%s] %.1f%% | %s%s%s%s\n",
			Cyan, p.FileName, Reset,
			Red+"✗"+Reset,
			percent,
			Red, Bold, reason, Reset,
		)
		return
	}
	fmt.Fprintf(pr.out, "[%s] [✗] %.1f%% | %s\n", p.FileName, percent, reason)
}

// formatIndices joins up to limit indices, summarising the rest.
func formatIndices(indices []int, limit int) string {
	parts := make([]string, 0, limit+1)
	for i, index := range indices {
		if i == limit {
			parts = append(parts, fmt.Sprintf("+%d more", len(indices)-limit))
			break
		}
		parts = append(parts, strconv.Itoa(index))
	}
	return strings.Join(parts, ", ")
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

func formatETA(eta time.Duration) string {
	if eta <= 0 {
		return "∞"
	}
	return formatDuration(eta)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", d/time.Second)
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", d/time.Minute, (d%time.Minute)/time.Second)
	}
	return fmt.Sprintf("%dh%dm", d/time.Hour, (d%time.Hour)/time.Minute)
}

// IsTerminalSupported reports whether f is a terminal that understands ANSI colors.
func IsTerminalSupported(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
