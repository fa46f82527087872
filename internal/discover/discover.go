// Package discover drives one discovery cycle: poll the active query
// settings, fetch matching servers from the master directory, resolve
// duplicate registrations, refresh the registry and fan out one query job
// per surviving server.
package discover

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/woozymasta/spoofspy/internal/dedup"
	"github.com/woozymasta/spoofspy/internal/directory"
	"github.com/woozymasta/spoofspy/internal/geoip"
	"github.com/woozymasta/spoofspy/internal/models"
	"github.com/woozymasta/spoofspy/internal/querier"
	"github.com/woozymasta/spoofspy/internal/queue"
	"github.com/woozymasta/spoofspy/internal/storage"
)

// Per-setting start jitter, spreading directory calls so a burst of
// settings does not hit the API at once.
const (
	discoverDelayMin = 0 * time.Second
	discoverDelayMax = 10 * time.Second
)

// Discoverer runs discovery cycles.
type Discoverer struct {
	store    *storage.Repository
	dir      *directory.Client
	dedup    *dedup.Deduplicator
	querier  *querier.Querier
	main     *queue.Pool
	geo      *geoip.Provider // nil when country enrichment is disabled
	interval time.Duration
}

// New creates a discoverer. interval is the query cycle interval, used to
// derive job expiries.
func New(
	store *storage.Repository,
	dir *directory.Client,
	dd *dedup.Deduplicator,
	q *querier.Querier,
	main *queue.Pool,
	geo *geoip.Provider,
	interval time.Duration,
) *Discoverer {
	return &Discoverer{
		store:    store,
		dir:      dir,
		dedup:    dd,
		querier:  q,
		main:     main,
		geo:      geo,
		interval: interval,
	}
}

// RunCycle polls the active settings and schedules one jittered discovery
// job per setting.
func (d *Discoverer) RunCycle(ctx context.Context) {
	settings, err := d.store.ActiveQuerySettings()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load query settings")
		return
	}

	if len(settings) == 0 {
		log.Info().Msg("No active query settings")
		return
	}

	for _, setting := range settings {
		delay := discoverDelayMin +
			time.Duration(rand.Int63n(int64(discoverDelayMax-discoverDelayMin)))

		log.Info().
			Str("setting", setting.Name).
			Str("filter", setting.Filter).
			Dur("delay", delay).
			Msg("Starting discovery")

		s := setting
		d.main.Enqueue(queue.Job{
			Name:    "discover:" + s.Name,
			Expires: time.Now().Add(d.interval + delay + time.Second),
			Run: func(ctx context.Context) {
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
				d.discoverSetting(ctx, s)
			},
		})
	}
}

// discoverSetting performs discovery for one setting: directory call,
// duplicate resolution, shuffle, registry upsert and query fan-out.
func (d *Discoverer) discoverSetting(ctx context.Context, setting models.QuerySetting) {
	records := d.dir.ServerList(ctx, setting.Filter, setting.Limit)
	if len(records) == 0 {
		log.Warn().
			Str("setting", setting.Name).
			Str("filter", setting.Filter).
			Msg("Did not get any server results for query")
		return
	}

	records = d.dedup.Dedupe(records)

	// Randomize order to decorrelate downstream query load from
	// directory ordering.
	rand.Shuffle(len(records), func(i, j int) {
		records[i], records[j] = records[j], records[i]
	})

	now := time.Now().UTC()
	entries := make([]models.RegistryEntry, 0, len(records))
	for _, rec := range records {
		entry := models.RegistryEntry{
			Address:   rec.Address,
			GamePort:  rec.GamePort,
			QueryPort: rec.QueryPort,
			FirstSeen: now,
			LastSeen:  now,
		}
		if d.geo != nil {
			entry.CountryCode = d.geo.GetCountryCode(rec.Address)
		}
		entries = append(entries, entry)
	}

	if err := d.store.UpsertServers(entries); err != nil {
		log.Error().Err(err).
			Str("setting", setting.Name).
			Msg("Failed to upsert server registry")
		return
	}

	expires := time.Now().Add(d.interval)
	for _, rec := range records {
		r := rec
		d.main.Enqueue(queue.Job{
			Name:    "query_server_state",
			Expires: expires,
			Run:     func(ctx context.Context) { d.querier.QueryServerState(r) },
		})
	}

	log.Info().
		Str("setting", setting.Name).
		Int("servers", len(records)).
		Msg("Discovery cycle finished")
}
