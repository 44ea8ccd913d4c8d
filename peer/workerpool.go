package peer

import (
	"context"
	"sync"
)

// Job is a unit of work run by a WorkerPool.
type Job interface {
	Execute(ctx context.Context) error
}

type Result struct {
	Job Job
	Err error
}

// WorkerPool runs submitted jobs on a fixed number of goroutines. Results must be drained
// by the caller; the results channel closes once Stop has been called and every
// submitted job has finished.
type WorkerPool struct {
	workers int
	jobs    chan Job
	results chan Result
	done    chan struct{}

	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewWorkerPool(workers int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{
		workers: workers,
		jobs:    make(chan Job, workers),
		results: make(chan Result, workers),
		done:    make(chan struct{}),
	}
}

func (wp *WorkerPool) Start(ctx context.Context) {
	wp.wg.Add(wp.workers)
	for i := 0; i < wp.workers; i++ {
		go wp.worker(ctx)
	}

	go func() {
		wp.wg.Wait()
		close(wp.results)
		close(wp.done)
	}()
}

func (wp *WorkerPool) worker(ctx context.Context) {
	defer wp.wg.Done()
	for job := range wp.jobs {
		wp.results <- Result{Job: job, Err: job.Execute(ctx)}
	}
}

// Submit queues a job, blocking while every worker is busy and the queue is full.
func (wp *WorkerPool) Submit(job Job) {
	wp.jobs <- job
}

// Stop closes the queue. Jobs already submitted still run.
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() { close(wp.jobs) })
}

func (wp *WorkerPool) Results() <-chan Result {
	return wp.results
}

func (wp *WorkerPool) Done() <-chan struct{} {
	return wp.done
}
