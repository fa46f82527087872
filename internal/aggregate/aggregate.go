// Package aggregate rebuilds the cached trust rollup: the per-address
// watchlist of likely spoofed servers served by the read API.
package aggregate

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/woozymasta/spoofspy/internal/models"
)

// Cache keys and rebuild parameters.
const (
	// TrustKey is the cache key the read API loads the blob from.
	TrustKey = "_spoofspy_trust"
	// TrustLockKey names the rebuild lock.
	TrustLockKey = "_spoofspy_trust_lock"

	// Cutoff below which an address's recent average score flags it as
	// likely spoofed.
	Cutoff = 0.31

	lockWait  = 30 * time.Second
	lockHold  = 30 * time.Second
	cacheTTL  = 24 * time.Hour
	aggWindow = 24 * time.Hour
)

// Store selects the aggregate rows.
type Store interface {
	TrustAggregate(cutoff float64, since time.Time) ([]models.TrustAggregateEntry, error)
}

// Cache stores the encoded blob with a TTL.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Locker is the named mutual-exclusion primitive guarding the rebuild.
type Locker interface {
	Acquire(ctx context.Context, name string, wait, hold time.Duration) (release func(), acquired bool, err error)
}

// Coder encodes the aggregate entries into the cache blob format.
type Coder interface {
	Encode(v any) ([]byte, error)
}

// Rebuilder runs the locked aggregate refresh.
type Rebuilder struct {
	store  Store
	cache  Cache
	locker Locker
	coder  Coder
}

// New creates a rebuilder.
func New(store Store, cache Cache, locker Locker, coder Coder) *Rebuilder {
	return &Rebuilder{store: store, cache: cache, locker: locker, coder: coder}
}

// Run rebuilds the cached aggregate under the named lock. At most one
// rebuild runs cluster-wide: when the lock cannot be acquired within the
// wait window the cycle is skipped, logged, and not retried.
func (r *Rebuilder) Run(ctx context.Context) {
	release, acquired, err := r.locker.Acquire(ctx, TrustLockKey, lockWait, lockHold)
	if err != nil {
		log.Error().Err(err).Msg("Trust aggregate lock acquisition failed")
		return
	}
	if !acquired {
		log.Error().Msg("Trust aggregate rebuild unable to acquire lock, skipping cycle")
		return
	}
	defer release()

	// Failures inside the locked section are contained here so the
	// deferred release always runs.
	entries, err := r.store.TrustAggregate(Cutoff, time.Now().UTC().Add(-aggWindow))
	if err != nil {
		log.Error().Err(err).Msg("Trust aggregate query failed")
		return
	}

	for _, e := range entries {
		if len(e.Counts) != len(e.Scores) {
			log.Error().
				Str("address", e.Address).
				Int("counts", len(e.Counts)).
				Int("scores", len(e.Scores)).
				Msg("Aggregate list lengths don't match")
		}
	}

	blob, err := r.coder.Encode(entries)
	if err != nil {
		log.Error().Err(err).Msg("Trust aggregate encoding failed")
		return
	}

	log.Info().
		Int("entries", len(entries)).
		Int("size", len(blob)).
		Msg("Caching trust aggregate")

	if err := r.cache.Set(ctx, TrustKey, blob, cacheTTL); err != nil {
		log.Error().Err(err).Msg("Failed to store trust aggregate blob")
	}
}
