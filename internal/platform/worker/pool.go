// Package worker provides a generic worker pool for concurrent task execution.
package worker

import (
	"context"
	"sync"
)

// Job represents a unit of work to be executed by a worker.
type Job[T any] struct {
	// ID is an optional identifier for the job (useful for logging/debugging)
	ID string
	// Execute is the function to run
	Execute func(ctx context.Context) (T, error)
}

// Result represents the outcome of a job execution.
type Result[T any] struct {
	// JobID is the ID of the job that produced this result
	JobID string
	// Value is the result of the job execution (zero if error)
	Value T
	// Err is the error from job execution (nil if successful)
	Err error
}

// Pool is a worker pool that processes jobs concurrently.
// It maintains a fixed number of worker goroutines that pull jobs from a queue.
type Pool[T any] struct {
	workers int
	queue   chan func()
	results chan Result[T]
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
}

// NewPool creates a new worker pool with the specified number of workers.
// The pool starts immediately and workers begin waiting for jobs.
//
// Example:
//
//	pool := worker.NewPool[*catalog.Page](ctx, 3, 3)
//	defer pool.Close()
//	results := pool.SubmitAndWait(jobs)
func NewPool[T any](ctx context.Context, workers int, queueSize int) *Pool[T] {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	poolCtx, cancel := context.WithCancel(ctx)

	p := &Pool[T]{
		workers: workers,
		queue:   make(chan func(), queueSize),
		results: make(chan Result[T], queueSize),
		ctx:     poolCtx,
		cancel:  cancel,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p
}

func (p *Pool[T]) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task := <-p.queue:
			task()
		}
	}
}

// run executes job and hands its result to deliver.
func (p *Pool[T]) run(job Job[T], deliver func(Result[T])) {
	value, err := job.Execute(p.ctx)
	deliver(Result[T]{JobID: job.ID, Value: value, Err: err})
}

func (p *Pool[T]) enqueue(task func()) error {
	select {
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.queue <- task:
		return nil
	}
}

// Submit adds a job to the pool's queue. Its result is delivered on Results.
// It blocks if the queue is full until space is available or the pool closes.
func (p *Pool[T]) Submit(job Job[T]) error {
	return p.enqueue(func() {
		p.run(job, func(res Result[T]) {
			select {
			case p.results <- res:
			case <-p.ctx.Done():
			}
		})
	})
}

type indexed[T any] struct {
	i   int
	res Result[T]
}

// SubmitAndWait submits jobs and waits for all of their results. Results are
// returned in submission order. Jobs that never completed because the pool
// closed carry the pool's context error.
func (p *Pool[T]) SubmitAndWait(jobs []Job[T]) []Result[T] {
	batch := make(chan indexed[T], len(jobs))
	ordered := make([]Result[T], len(jobs))
	received := make([]bool, len(jobs))

	submitted := 0
	for i, job := range jobs {
		err := p.enqueue(func() {
			p.run(job, func(res Result[T]) { batch <- indexed[T]{i: i, res: res} })
		})
		if err != nil {
			break
		}
		submitted++
	}

collect:
	for n := 0; n < submitted; n++ {
		select {
		case <-p.ctx.Done():
			break collect
		case r := <-batch:
			ordered[r.i] = r.res
			received[r.i] = true
		}
	}

	for i, job := range jobs {
		if !received[i] {
			ordered[i] = Result[T]{JobID: job.ID, Err: context.Cause(p.ctx)}
		}
	}

	return ordered
}

// Results returns the channel receiving outcomes of jobs added with Submit.
func (p *Pool[T]) Results() <-chan Result[T] {
	return p.results
}

// Close stops the workers and waits for them to exit. Jobs still queued are
// discarded. Close is safe to call more than once.
func (p *Pool[T]) Close() {
	p.once.Do(func() {
		p.cancel()
		p.wg.Wait()
	})
}

// Workers returns the number of workers in the pool.
func (p *Pool[T]) Workers() int {
	return p.workers
}

// QueueLen returns the current number of jobs waiting in the queue.
func (p *Pool[T]) QueueLen() int {
	return len(p.queue)
}
