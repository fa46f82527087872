// Package scheduler drives the periodic pipeline triggers: discovery,
// the two trust score sweeps and the aggregate cache rebuild, each on its
// own interval.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/woozymasta/spoofspy/internal/aggregate"
	"github.com/woozymasta/spoofspy/internal/discover"
	"github.com/woozymasta/spoofspy/internal/evaluator"
	"github.com/woozymasta/spoofspy/internal/queue"
)

// catchupInterval is the fixed period of the full catch-up score sweep.
const catchupInterval = 24 * time.Hour

// Scheduler owns the trigger goroutines. Every triggered job carries an
// expiry close to its own interval, so a backlog discards stale runs
// instead of executing them late.
type Scheduler struct {
	main     *queue.Pool
	disc     *discover.Discoverer
	eval     *evaluator.Evaluator
	agg      *aggregate.Rebuilder
	shutdown chan struct{}
	interval time.Duration
	wg       sync.WaitGroup
}

// New creates a scheduler running the three interval-driven triggers at
// interval and the catch-up sweep every 24h.
func New(main *queue.Pool, disc *discover.Discoverer, eval *evaluator.Evaluator, agg *aggregate.Rebuilder, interval time.Duration) *Scheduler {
	return &Scheduler{
		main:     main,
		disc:     disc,
		eval:     eval,
		agg:      agg,
		interval: interval,
		shutdown: make(chan struct{}),
	}
}

// Start launches the trigger loops.
func (s *Scheduler) Start() {
	log.Info().Dur("interval", s.interval).Msg("Scheduler starting")

	rollingWindow := 2 * s.interval
	catchupWindow := catchupInterval

	s.trigger("query_servers", s.interval, s.interval, func(ctx context.Context) {
		s.disc.RunCycle(ctx)
	})

	s.trigger("eval_trust_scores", s.interval, s.interval+time.Minute, func(ctx context.Context) {
		s.eval.Run(&rollingWindow)
	})

	s.trigger("eval_trust_scores_catchup", catchupInterval, 2*catchupInterval, func(ctx context.Context) {
		s.eval.Run(&catchupWindow)
	})

	s.trigger("cache_trust_aggregate", s.interval, s.interval, func(ctx context.Context) {
		s.agg.Run(ctx)
	})
}

// Stop halts the trigger loops. Already-enqueued jobs are left to the
// queue to finish or expire.
func (s *Scheduler) Stop() {
	close(s.shutdown)
	s.wg.Wait()
}

// trigger enqueues run on the main queue every interval, stamping each
// envelope with the given expiry.
func (s *Scheduler) trigger(name string, interval, expiry time.Duration, run func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.shutdown:
				return
			case <-ticker.C:
				s.main.Enqueue(queue.Job{
					Name:    name,
					Expires: time.Now().Add(expiry),
					Run:     run,
				})
			}
		}
	}()
}
