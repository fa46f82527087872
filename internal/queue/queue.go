// Package queue provides named worker pools consuming typed job envelopes.
// Two pools are run in this service: one for lightweight orchestration
// jobs and one for the protocol/ICMP probes, kept separate so a slow
// probe backlog cannot starve discovery or scoring.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Job is one unit of work. Expires is checked by the dispatcher right
// before execution: a backlogged job past its deadline is dropped, not
// run. A zero Expires never expires.
type Job struct {
	Expires time.Time
	Run     func(ctx context.Context)
	Name    string
}

// Pool is a fixed-size worker pool over a buffered job channel.
type Pool struct {
	jobs    chan Job
	now     func() time.Time
	name    string
	workers int
	wg      sync.WaitGroup
	once    sync.Once

	// mu orders Enqueue against Stop so the job channel is never written
	// after it is closed.
	mu     sync.RWMutex
	closed bool
}

// NewPool creates a pool with the given worker count and queue depth.
func NewPool(name string, workers, depth int) *Pool {
	return &Pool{
		name:    name,
		workers: workers,
		jobs:    make(chan Job, depth),
		now:     time.Now,
	}
}

// Start launches the workers.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}

	log.Info().Str("queue", p.name).Int("workers", p.workers).Msg("Queue workers started")
}

// Stop closes the queue and waits for in-flight jobs to finish. Jobs
// still buffered are drained (and expiry-checked) before return.
func (p *Pool) Stop() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.jobs)
		p.mu.Unlock()
	})
	p.wg.Wait()
}

// Enqueue adds a job to the pool. Returns false when the queue is full or
// shutting down; the job is dropped in that case.
func (p *Pool) Enqueue(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return false
	}

	select {
	case p.jobs <- job:
		return true
	default:
		log.Warn().Str("queue", p.name).Str("job", job.Name).Msg("Queue full, job dropped")
		return false
	}
}

// worker consumes jobs until the queue closes.
func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for job := range p.jobs {
		p.dispatch(ctx, job)
	}
}

// dispatch runs one job, enforcing expiry and containing panics: the job
// boundary is the error containment boundary, a failing job must never
// take the worker down.
func (p *Pool) dispatch(ctx context.Context, job Job) {
	if !job.Expires.IsZero() && p.now().After(job.Expires) {
		log.Warn().
			Str("queue", p.name).
			Str("job", job.Name).
			Time("expired", job.Expires).
			Msg("Dropping expired job")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("queue", p.name).
				Str("job", job.Name).
				Any("panic", r).
				Msg("Job panicked")
		}
	}()

	job.Run(ctx)
}
