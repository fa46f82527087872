// Package evaluator sweeps scorable state samples that have no trust
// score yet and writes the computed scores back in batches.
package evaluator

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/woozymasta/spoofspy/internal/scoring"
	"github.com/woozymasta/spoofspy/internal/storage"
)

// pageSize bounds how many samples are materialized per batch so large
// catch-up sweeps stream instead of loading everything at once.
const pageSize = 1000

// Evaluator runs trust score sweeps.
type Evaluator struct {
	store *storage.Repository
}

// New creates an evaluator.
func New(store *storage.Repository) *Evaluator {
	return &Evaluator{store: store}
}

// Run evaluates every unscored, scorable sample. A non-nil window
// restricts the sweep to samples newer than now minus the window; nil
// sweeps everything.
func (e *Evaluator) Run(window *time.Duration) {
	var minTime *time.Time
	if window != nil {
		t := time.Now().UTC().Add(-*window)
		minTime = &t
	}

	var cursor *storage.SampleCursor
	total := 0

	for {
		samples, err := e.store.SelectUnscored(minTime, cursor, pageSize)
		if err != nil {
			log.Error().Err(err).Msg("Failed to select unscored samples")
			return
		}

		if len(samples) == 0 {
			break
		}

		updates := make([]storage.ScoreUpdate, 0, len(samples))
		for i := range samples {
			updates = append(updates, storage.ScoreUpdate{
				Address: samples[i].Address,
				Port:    samples[i].GamePort,
				Time:    samples[i].Time,
				Score:   scoring.Score(&samples[i]),
			})
		}

		if err := e.store.UpdateTrustScores(updates); err != nil {
			log.Error().Err(err).Msg("Failed to write trust scores")
			return
		}

		total += len(updates)

		last := samples[len(samples)-1]
		cursor = &storage.SampleCursor{
			Address: last.Address,
			Port:    last.GamePort,
			Time:    last.Time,
		}

		if len(samples) < pageSize {
			break
		}
	}

	if total == 0 {
		log.Info().Msg("No unscored game server states")
		return
	}

	log.Info().Int("samples", total).Msg("Trust score evaluation finished")
}
