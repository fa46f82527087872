// Package dedup resolves duplicate directory registrations: multiple
// query ports advertised for the same (address, game port), of which at
// most one belongs to a live server.
package dedup

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/woozymasta/spoofspy/internal/models"
)

// Prober checks whether a server answers an info query at the given
// query endpoint within a short timeout.
type Prober func(address string, queryPort uint16) bool

// Deduplicator probes colliding candidates concurrently and keeps the one
// that looks real.
type Deduplicator struct {
	probe   Prober
	wait    time.Duration
	workers int
}

// New creates a deduplicator around the given prober. The internal pool
// is sized to a small multiple of available parallelism; the overall wait
// for a batch of candidate probes is capped at 30 seconds.
func New(probe Prober) *Deduplicator {
	return &Deduplicator{
		probe:   probe,
		workers: runtime.GOMAXPROCS(0) * 4,
		wait:    30 * time.Second,
	}
}

// candidate is one record of a colliding group with its probe outcome.
type candidate struct {
	rec       *models.DiscoveryRecord
	responded atomic.Bool
	done      atomic.Bool
}

// Dedupe returns the records that survive duplicate resolution, in
// first-seen order. Groups of size one pass through untouched.
func (d *Deduplicator) Dedupe(records []models.DiscoveryRecord) []models.DiscoveryRecord {
	counts := make(map[models.ServerKey]int, len(records))
	for i := range records {
		counts[records[i].Key()]++
	}

	groups := make(map[models.ServerKey][]*candidate)
	order := make([]models.ServerKey, 0)
	for i := range records {
		key := records[i].Key()
		if counts[key] < 2 {
			continue
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], &candidate{rec: &records[i]})
		log.Warn().
			Str("address", records[i].Address).
			Uint16("game_port", records[i].GamePort).
			Uint16("query_port", records[i].QueryPort).
			Str("name", records[i].Name).
			Msg("Duplicated server registration detected")
	}

	if len(groups) == 0 {
		return records
	}

	d.probeGroups(groups)

	keep := make(map[*models.DiscoveryRecord]bool, len(records))
	for _, key := range order {
		if winner := pickWinner(key, groups[key]); winner != nil {
			keep[winner] = true
		}
	}

	survivors := make([]models.DiscoveryRecord, 0, len(records))
	for i := range records {
		if counts[records[i].Key()] < 2 || keep[&records[i]] {
			survivors = append(survivors, records[i])
		}
	}

	return survivors
}

// probeGroups probes every colliding candidate through a bounded worker
// pool, waiting at most d.wait overall. Unfinished probes count as
// non-responses.
func (d *Deduplicator) probeGroups(groups map[models.ServerKey][]*candidate) {
	var all []*candidate
	for _, cands := range groups {
		all = append(all, cands...)
	}

	sem := make(chan struct{}, d.workers)
	finished := make(chan struct{})

	var wg sync.WaitGroup
	for _, c := range all {
		wg.Add(1)
		go func(c *candidate) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			c.responded.Store(d.probe(c.rec.Address, c.rec.QueryPort))
			c.done.Store(true)
		}(c)
	}

	go func() {
		wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(d.wait):
		log.Warn().
			Dur("wait", d.wait).
			Msg("Duplicate probe wait elapsed, treating unfinished probes as non-responses")
	}
}

// pickWinner applies the decision rule to one colliding group: the sole
// responder wins; with no responders the first-seen candidate wins; with
// several responders (which should not be possible) the one with the
// lowest query port wins and the anomaly is logged.
func pickWinner(key models.ServerKey, cands []*candidate) *models.DiscoveryRecord {
	var responders []*candidate
	for _, c := range cands {
		if c.done.Load() && c.responded.Load() {
			responders = append(responders, c)
		}
	}

	switch len(responders) {
	case 1:
		return responders[0].rec
	case 0:
		log.Info().
			Str("address", key.Address).
			Uint16("game_port", key.GamePort).
			Int("candidates", len(cands)).
			Msg("No duplicate candidate responded, keeping first seen")
		return cands[0].rec
	default:
		winner := responders[0]
		for _, c := range responders[1:] {
			if c.rec.QueryPort < winner.rec.QueryPort {
				winner = c
			}
		}
		log.Warn().
			Str("address", key.Address).
			Uint16("game_port", key.GamePort).
			Int("responders", len(responders)).
			Uint16("kept_query_port", winner.rec.QueryPort).
			Msg("Multiple duplicate candidates responded, keeping lowest query port")
		return winner.rec
	}
}
