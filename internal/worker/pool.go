// Package worker runs background jobs off the request path. The webhook
// handler submits relay publishes here so ingestion latency never includes a
// broker round-trip.
package worker

import (
	"context"
	"log"
	"sync"
)

// Job is one unit of background work.
type Job struct {
	Name    string
	Process func(ctx context.Context)
}

// Pool is a fixed-size worker pool with a bounded queue. Submission is
// non-blocking: when the queue is full the job is dropped and counted, never
// queued against the request.
type Pool struct {
	jobs    chan Job
	workers int

	mu      sync.Mutex
	dropped int64

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPool creates a pool of workers reading from a queue of queueSize.
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		jobs:    make(chan Job, queueSize),
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Run starts the workers. It returns immediately.
func (p *Pool) Run() {
	for i := 1; i <= p.workers; i++ {
		p.wg.Add(1)
		go p.work(i)
	}
}

func (p *Pool) work(id int) {
	defer p.wg.Done()
	for {
		select {
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			job.Process(p.ctx)
		case <-p.ctx.Done():
			// Drain what is already queued before exiting.
			for {
				select {
				case job, ok := <-p.jobs:
					if !ok {
						return
					}
					job.Process(context.Background())
				default:
					return
				}
			}
		}
	}
}

// TrySubmit queues job if there is room. It reports whether the job was
// accepted.
func (p *Pool) TrySubmit(job Job) bool {
	select {
	case p.jobs <- job:
		return true
	default:
		p.mu.Lock()
		p.dropped++
		p.mu.Unlock()
		log.Printf("WARN: worker queue full, dropped job %q", job.Name)
		return false
	}
}

// Dropped reports how many jobs were rejected due to a full queue.
func (p *Pool) Dropped() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Stop signals the workers and waits for queued jobs to drain.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
}
