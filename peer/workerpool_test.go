package peer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testJob struct {
	id      int
	running *atomic.Int64
	peak    *atomic.Int64
}

func (j *testJob) Execute(ctx context.Context) error {
	cur := j.running.Add(1)
	defer j.running.Add(-1)
	for {
		old := j.peak.Load()
		if cur <= old || j.peak.CompareAndSwap(old, cur) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	if j.id%4 == 0 {
		return errors.New("boom")
	}
	return nil
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	var running, peak atomic.Int64
	pool := NewWorkerPool(3)
	pool.Start(context.Background())

	go func() {
		for i := 1; i <= 20; i++ {
			pool.Submit(&testJob{id: i, running: &running, peak: &peak})
		}
		pool.Stop()
	}()

	seen := make(map[int]bool)
	failed := 0
	for res := range pool.Results() {
		seen[res.Job.(*testJob).id] = true
		if res.Err != nil {
			failed++
		}
	}
	<-pool.Done()

	require.Len(t, seen, 20)
	require.Equal(t, 5, failed)
	require.LessOrEqual(t, peak.Load(), int64(3))
}

func TestWorkerPoolStopWithoutJobs(t *testing.T) {
	pool := NewWorkerPool(0)
	pool.Start(context.Background())
	pool.Stop()
	pool.Stop()

	select {
	case <-pool.Done():
	case <-time.After(time.Second):
		t.Fatal("pool did not finish")
	}
	_, ok := <-pool.Results()
	require.False(t, ok)
}
