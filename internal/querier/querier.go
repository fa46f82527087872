// Package querier orchestrates the four probes for one discovered server
// and writes each outcome into its own column family of the state sample.
package querier

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/woozymasta/spoofspy/internal/models"
	"github.com/woozymasta/spoofspy/internal/protocol"
	"github.com/woozymasta/spoofspy/internal/queue"
	"github.com/woozymasta/spoofspy/internal/storage"
)

// Prober issues the protocol probes against one server. Satisfied by
// *protocol.Client.
type Prober interface {
	QueryInfo(address string, port uint16) (*protocol.InfoResult, error)
	QueryRules(address string, port uint16) (*protocol.RulesResult, error)
	QueryPlayers(address string, port uint16) ([]models.PlayerEntry, error)
	PingReachable(ctx context.Context, address string) (*protocol.PingResult, error)
}

// Querier creates state sample rows and fans the probes out onto the
// probe queue. Each probe completes independently: there is no ordering
// between them and a failed probe never aborts its siblings.
type Querier struct {
	store      *storage.Repository
	client     Prober
	probes     *queue.Pool
	retry      protocol.RetryPolicy
	taskExpiry time.Duration
}

// New creates a querier. taskExpiry bounds how long a scheduled probe may
// sit in the queue before it is dropped instead of executed.
func New(store *storage.Repository, client Prober, probes *queue.Pool, retry protocol.RetryPolicy, taskExpiry time.Duration) *Querier {
	return &Querier{
		store:      store,
		client:     client,
		probes:     probes,
		retry:      retry,
		taskExpiry: taskExpiry,
	}
}

// QueryServerState creates the sample row for rec at the current time and
// schedules the three protocol probes plus the reachability check.
func (q *Querier) QueryServerState(rec models.DiscoveryRecord) {
	queryTime := time.Now().UTC().Truncate(time.Millisecond)
	key := rec.Key()

	if err := q.store.CreateSample(rec, queryTime); err != nil {
		log.Error().Err(err).
			Str("address", rec.Address).
			Uint16("game_port", rec.GamePort).
			Msg("Failed to create state sample")
		return
	}

	expires := time.Now().Add(q.taskExpiry)
	queryPort := rec.QueryPort

	q.probes.Enqueue(queue.Job{
		Name:    "a2s_info",
		Expires: expires,
		Run:     func(ctx context.Context) { q.runInfo(key, queryPort, queryTime) },
	})
	q.probes.Enqueue(queue.Job{
		Name:    "a2s_rules",
		Expires: expires,
		Run:     func(ctx context.Context) { q.runRules(key, queryPort, queryTime) },
	})
	q.probes.Enqueue(queue.Job{
		Name:    "a2s_players",
		Expires: expires,
		Run:     func(ctx context.Context) { q.runPlayers(key, queryPort, queryTime) },
	})
	q.probes.Enqueue(queue.Job{
		Name:    "icmp",
		Expires: expires,
		Run:     func(ctx context.Context) { q.runICMP(ctx, key, queryTime) },
	})
}

func (q *Querier) runInfo(key models.ServerKey, queryPort uint16, t time.Time) {
	var res *protocol.InfoResult
	perr := q.retry.Do("a2s_info", func() error {
		var err error
		res, err = q.client.QueryInfo(key.Address, queryPort)
		return err
	})

	var probe *storage.InfoProbe
	if perr != nil {
		logProbeError(perr, key, queryPort)
	} else {
		probe = &storage.InfoProbe{
			ServerName:  res.ServerName,
			MapName:     res.MapName,
			SteamID:     res.SteamID,
			PlayerCount: res.PlayerCount,
			MaxPlayers:  res.MaxPlayers,
			Bots:        res.Bots,
			OpenSlots:   res.OpenSlots,
			Info:        res.Rest,
		}
	}

	if err := q.store.UpdateInfoProbe(key, t, probe); err != nil {
		logWriteError(err, "a2s_info", key)
	}
}

func (q *Querier) runRules(key models.ServerKey, queryPort uint16, t time.Time) {
	var res *protocol.RulesResult
	perr := q.retry.Do("a2s_rules", func() error {
		var err error
		res, err = q.client.QueryRules(key.Address, queryPort)
		return err
	})

	var probe *storage.RulesProbe
	if perr != nil {
		logProbeError(perr, key, queryPort)
	} else {
		probe = &storage.RulesProbe{
			NumPublicConnections:     res.NumPublicConnections,
			NumOpenPublicConnections: res.NumOpenPublicConnections,
			PICount:                  res.PICount,
			PIObjects:                res.PIObjects,
			Mutators:                 res.MutatorsRunning,
			Rules:                    res.Rules,
		}
	}

	if err := q.store.UpdateRulesProbe(key, t, probe); err != nil {
		logWriteError(err, "a2s_rules", key)
	}
}

func (q *Querier) runPlayers(key models.ServerKey, queryPort uint16, t time.Time) {
	var res []models.PlayerEntry
	perr := q.retry.Do("a2s_players", func() error {
		var err error
		res, err = q.client.QueryPlayers(key.Address, queryPort)
		return err
	})

	var probe *storage.PlayersProbe
	if perr != nil {
		logProbeError(perr, key, queryPort)
	} else {
		probe = &storage.PlayersProbe{Players: res}
	}

	if err := q.store.UpdatePlayersProbe(key, t, probe); err != nil {
		logWriteError(err, "a2s_players", key)
	}
}

func (q *Querier) runICMP(ctx context.Context, key models.ServerKey, t time.Time) {
	res, err := q.client.PingReachable(ctx, key.Address)

	var probe *storage.ICMPProbe
	if err != nil {
		log.Info().Err(err).
			Str("address", key.Address).
			Msg("ICMP probe failed")
	} else {
		log.Info().
			Str("address", key.Address).
			Bool("is_alive", res.Alive).
			Dur("avg_rtt", res.AvgRTT).
			Dur("jitter", res.Jitter).
			Float64("packet_loss", res.PacketLoss).
			Msg("Ping response")

		probe = &storage.ICMPProbe{
			Alive:      res.Alive,
			AvgRTTMs:   float64(res.AvgRTT) / float64(time.Millisecond),
			JitterMs:   float64(res.Jitter) / float64(time.Millisecond),
			PacketLoss: res.PacketLoss,
		}
	}

	if err := q.store.UpdateICMPProbe(key, t, probe); err != nil {
		logWriteError(err, "icmp", key)
	}
}

// logProbeError logs a probe failure at the severity its class deserves:
// anomalies warn, transport noise is informational, the unexpected gets
// full context.
func logProbeError(perr *protocol.ProbeError, key models.ServerKey, queryPort uint16) {
	var evt *zerolog.Event
	switch perr.Kind {
	case protocol.KindAnomaly:
		evt = log.Warn()
	case protocol.KindTimeout, protocol.KindTransport:
		evt = log.Info()
	default:
		evt = log.Error()
	}

	evt.Err(perr).
		Str("address", key.Address).
		Uint16("game_port", key.GamePort).
		Uint16("query_port", queryPort).
		Str("kind", perr.Kind.String()).
		Msg("Probe failed")
}

func logWriteError(err error, probe string, key models.ServerKey) {
	log.Error().Err(err).
		Str("probe", probe).
		Str("address", key.Address).
		Uint16("game_port", key.GamePort).
		Msg("Failed to record probe result")
}
