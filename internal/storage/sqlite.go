// Package storage handles database connections, schema migrations, and data
// operations for the server registry and the state sample time series.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/woozymasta/spoofspy/internal/models"
	_ "modernc.org/sqlite" // Driver sqlite
)

// Repository manages the SQLite database connection.
type Repository struct {
	db *sql.DB
}

// New initializes a new SQLite connection, sets connection pool parameters,
// and runs migrations.
func New(dbPath string) (*Repository, error) {
	// _time_format keeps timestamps in a form SQLite's date functions and
	// range comparisons understand.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_time_format=sqlite"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		return nil, err
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Repository{db: db}, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// UpsertServers inserts or updates registry entries. Only query_port,
// last_seen and a non-blank country code change on conflict; the identity
// fields and first_seen are immutable once created.
func (r *Repository) UpsertServers(entries []models.RegistryEntry) error {
	if len(entries) == 0 {
		return nil
	}

	const query = `
	INSERT INTO game_servers (address, port, query_port, country_code, first_seen, last_seen)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(address, port) DO UPDATE SET
		query_port = excluded.query_port,
		last_seen = excluded.last_seen,
		country_code = CASE WHEN excluded.country_code != '' THEN excluded.country_code ELSE game_servers.country_code END;
	`

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range entries {
		if _, err := stmt.Exec(
			e.Address, e.GamePort, e.QueryPort, e.CountryCode, e.FirstSeen, e.LastSeen,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// GetServer retrieves a registry entry by its key, or nil when absent.
func (r *Repository) GetServer(key models.ServerKey) (*models.RegistryEntry, error) {
	row := r.db.QueryRow(`
		SELECT address, port, query_port, country_code, first_seen, last_seen
		FROM game_servers
		WHERE address = ? AND port = ?
	`, key.Address, key.GamePort)

	var e models.RegistryEntry
	err := row.Scan(&e.Address, &e.GamePort, &e.QueryPort, &e.CountryCode, &e.FirstSeen, &e.LastSeen)
	if err == sql.ErrNoRows {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, err
	}

	return &e, nil
}

// ActiveQuerySettings returns every active directory filter.
func (r *Repository) ActiveQuerySettings() ([]models.QuerySetting, error) {
	rows, err := r.db.Query(`
		SELECT name, query_filter, query_limit, is_active
		FROM query_settings
		WHERE is_active = 1
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var settings []models.QuerySetting
	for rows.Next() {
		var s models.QuerySetting
		if err := rows.Scan(&s.Name, &s.Filter, &s.Limit, &s.IsActive); err != nil {
			continue
		}
		settings = append(settings, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return settings, nil
}

// SaveQuerySetting inserts or replaces a named directory filter.
func (r *Repository) SaveQuerySetting(s models.QuerySetting) error {
	_, err := r.db.Exec(`
		INSERT INTO query_settings (name, query_filter, query_limit, is_active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			query_filter = excluded.query_filter,
			query_limit = excluded.query_limit,
			is_active = excluded.is_active;
	`, s.Name, s.Filter, s.Limit, s.IsActive)
	return err
}

// CreateSample creates the state sample row for one discovery record at
// query time, populated from directory-reported fields only. Re-creation
// of an existing row refreshes the directory columns and nothing else, so
// probe writes that raced ahead are never clobbered.
func (r *Repository) CreateSample(rec models.DiscoveryRecord, t time.Time) error {
	const query = `
	INSERT INTO server_states (
		time, address, port,
		steamid, name, appid, gamedir, version, product, region,
		players, max_players, bots, map, secure, dedicated, os, gametype
	)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(address, port, time) DO UPDATE SET
		steamid = excluded.steamid,
		name = excluded.name,
		appid = excluded.appid,
		gamedir = excluded.gamedir,
		version = excluded.version,
		product = excluded.product,
		region = excluded.region,
		players = excluded.players,
		max_players = excluded.max_players,
		bots = excluded.bots,
		map = excluded.map,
		secure = excluded.secure,
		dedicated = excluded.dedicated,
		os = excluded.os,
		gametype = excluded.gametype;
	`

	_, err := r.db.Exec(query,
		t, rec.Address, rec.GamePort,
		rec.SteamID, rec.Name, rec.AppID, rec.GameDir, rec.Version, rec.Product, rec.Region,
		rec.Players, rec.MaxPlayers, rec.Bots, rec.Map, rec.Secure, rec.Dedicated, rec.OS, rec.GameType,
	)

	return err
}

// InfoProbe is the info-probe column family. A nil probe records a
// non-response.
type InfoProbe struct {
	Info        map[string]string
	ServerName  string
	MapName     string
	SteamID     uint64
	PlayerCount int
	MaxPlayers  int
	Bots        int
	OpenSlots   *int
}

// RulesProbe is the rules-probe column family. A nil probe records a
// non-response.
type RulesProbe struct {
	Rules                    map[string]string
	PIObjects                map[int]models.PlayerInfo
	Mutators                 []string
	NumPublicConnections     int
	NumOpenPublicConnections int
	PICount                  int
}

// PlayersProbe is the players-probe column family. A nil probe records a
// non-response.
type PlayersProbe struct {
	Players []models.PlayerEntry
}

// ICMPProbe is the ICMP column family.
type ICMPProbe struct {
	AvgRTTMs   float64
	JitterMs   float64
	PacketLoss float64
	Alive      bool
}

// upsertProbe writes one probe column family for (key, t), inserting the
// row skeleton if the querier's create has not landed yet. Only the given
// columns are touched, so sibling probe writes commute.
func (r *Repository) upsertProbe(key models.ServerKey, t time.Time, cols []string, args []any) error {
	insertCols := "time, address, port"
	insertVals := "?, ?, ?"
	updates := ""
	for i, c := range cols {
		insertCols += ", " + c
		insertVals += ", ?"
		if i > 0 {
			updates += ",\n\t\t"
		}
		updates += c + " = excluded." + c
	}

	query := fmt.Sprintf(`
	INSERT INTO server_states (%s)
	VALUES (%s)
	ON CONFLICT(address, port, time) DO UPDATE SET
		%s;
	`, insertCols, insertVals, updates)

	execArgs := append([]any{t, key.Address, key.GamePort}, args...)
	_, err := r.db.Exec(query, execArgs...)
	return err
}

// UpdateInfoProbe records the outcome of the info probe.
func (r *Repository) UpdateInfoProbe(key models.ServerKey, t time.Time, p *InfoProbe) error {
	if p == nil {
		return r.upsertProbe(key, t, []string{"a2s_info_responded"}, []any{false})
	}

	info, err := encodeJSON(p.Info)
	if err != nil {
		return err
	}

	return r.upsertProbe(key, t,
		[]string{
			"a2s_info_responded", "a2s_server_name", "a2s_map_name", "a2s_steam_id",
			"a2s_player_count", "a2s_max_players", "a2s_bots", "a2s_open_slots", "a2s_info",
		},
		[]any{
			true, p.ServerName, p.MapName, p.SteamID,
			p.PlayerCount, p.MaxPlayers, p.Bots, nullableInt(p.OpenSlots), info,
		},
	)
}

// UpdateRulesProbe records the outcome of the rules probe.
func (r *Repository) UpdateRulesProbe(key models.ServerKey, t time.Time, p *RulesProbe) error {
	if p == nil {
		return r.upsertProbe(key, t, []string{"a2s_rules_responded"}, []any{false})
	}

	piObjects, err := encodeJSON(p.PIObjects)
	if err != nil {
		return err
	}
	mutators, err := encodeJSON(p.Mutators)
	if err != nil {
		return err
	}
	rules, err := encodeJSON(p.Rules)
	if err != nil {
		return err
	}

	return r.upsertProbe(key, t,
		[]string{
			"a2s_rules_responded", "a2s_num_public_connections", "a2s_num_open_public_connections",
			"a2s_pi_count", "a2s_pi_objects", "a2s_mutators_running", "a2s_rules",
		},
		[]any{
			true, p.NumPublicConnections, p.NumOpenPublicConnections,
			p.PICount, piObjects, mutators, rules,
		},
	)
}

// UpdatePlayersProbe records the outcome of the players probe.
func (r *Repository) UpdatePlayersProbe(key models.ServerKey, t time.Time, p *PlayersProbe) error {
	if p == nil {
		return r.upsertProbe(key, t, []string{"a2s_players_responded"}, []any{false})
	}

	players, err := encodeJSON(p.Players)
	if err != nil {
		return err
	}

	return r.upsertProbe(key, t,
		[]string{"a2s_players_responded", "a2s_players"},
		[]any{true, players},
	)
}

// UpdateICMPProbe records the outcome of the reachability check.
func (r *Repository) UpdateICMPProbe(key models.ServerKey, t time.Time, p *ICMPProbe) error {
	if p == nil {
		return r.upsertProbe(key, t, []string{"icmp_responded"}, []any{false})
	}

	return r.upsertProbe(key, t,
		[]string{"icmp_responded", "icmp_avg_rtt_ms", "icmp_jitter_ms", "icmp_packet_loss"},
		[]any{p.Alive, p.AvgRTTMs, p.JitterMs, p.PacketLoss},
	)
}

// SampleCursor is a keyset pagination cursor over the sample primary key.
type SampleCursor struct {
	Time    time.Time
	Address string
	Port    uint16
}

// SelectUnscored returns up to limit scorable samples without a trust
// score, ordered by primary key. A non-nil minTime restricts the sweep to
// a trailing window; a non-nil cursor resumes after the given key. Only
// the columns the scorer reads are selected.
func (r *Repository) SelectUnscored(minTime *time.Time, cursor *SampleCursor, limit int) ([]models.StateSample, error) {
	query := `
		SELECT time, address, port, players, max_players, secure, map,
		       a2s_info_responded, a2s_player_count, a2s_max_players, a2s_map_name,
		       a2s_rules_responded, a2s_num_public_connections, a2s_num_open_public_connections,
		       a2s_pi_count, a2s_pi_objects, a2s_mutators_running,
		       a2s_players_responded, a2s_players
		FROM server_states
		WHERE trust_score IS NULL
		  AND a2s_info_responded IS NOT NULL
		  AND a2s_rules_responded IS NOT NULL
		  AND a2s_players_responded IS NOT NULL
	`
	var args []any

	if minTime != nil {
		query += " AND time >= ?"
		args = append(args, *minTime)
	}
	if cursor != nil {
		query += " AND (address, port, time) > (?, ?, ?)"
		args = append(args, cursor.Address, cursor.Port, cursor.Time)
	}

	query += " ORDER BY address, port, time LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var samples []models.StateSample
	for rows.Next() {
		var s models.StateSample
		var piObjects, mutators, players sql.NullString
		var infoResp, rulesResp, playersResp sql.NullBool

		if err := rows.Scan(
			&s.Time, &s.Address, &s.GamePort, &s.Players, &s.MaxPlayers, &s.Secure, &s.Map,
			&infoResp, &s.A2SPlayerCount, &s.A2SMaxPlayers, &s.A2SMapName,
			&rulesResp, &s.NumPublicConnections, &s.NumOpenPublicConnections,
			&s.PICount, &piObjects, &mutators,
			&playersResp, &players,
		); err != nil {
			return nil, err
		}

		s.InfoResponded = nullableBool(infoResp)
		s.RulesResponded = nullableBool(rulesResp)
		s.PlayersResponded = nullableBool(playersResp)

		if err := decodeJSON(piObjects, &s.PIObjects); err != nil {
			return nil, err
		}
		if err := decodeJSON(mutators, &s.MutatorsRunning); err != nil {
			return nil, err
		}
		if err := decodeJSON(players, &s.A2SPlayers); err != nil {
			return nil, err
		}

		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return samples, nil
}

// GetSample fetches one full sample row by key, or nil when absent.
func (r *Repository) GetSample(key models.ServerKey, t time.Time) (*models.StateSample, error) {
	row := r.db.QueryRow(`
		SELECT time, address, port, players, max_players, secure, map,
		       a2s_info_responded, a2s_server_name, a2s_map_name, a2s_steam_id,
		       a2s_player_count, a2s_max_players, a2s_bots, a2s_open_slots, a2s_info,
		       a2s_rules_responded, a2s_num_public_connections, a2s_num_open_public_connections,
		       a2s_pi_count, a2s_pi_objects, a2s_mutators_running, a2s_rules,
		       a2s_players_responded, a2s_players,
		       icmp_responded, icmp_avg_rtt_ms, icmp_jitter_ms, icmp_packet_loss,
		       trust_score
		FROM server_states
		WHERE address = ? AND port = ? AND time = ?
	`, key.Address, key.GamePort, t)

	var s models.StateSample
	var info, piObjects, mutators, rules, players sql.NullString
	var infoResp, rulesResp, playersResp, icmpResp sql.NullBool
	var openSlots sql.NullInt64
	var trust sql.NullFloat64

	err := row.Scan(
		&s.Time, &s.Address, &s.GamePort, &s.Players, &s.MaxPlayers, &s.Secure, &s.Map,
		&infoResp, &s.A2SServerName, &s.A2SMapName, &s.A2SSteamID,
		&s.A2SPlayerCount, &s.A2SMaxPlayers, &s.A2SBots, &openSlots, &info,
		&rulesResp, &s.NumPublicConnections, &s.NumOpenPublicConnections,
		&s.PICount, &piObjects, &mutators, &rules,
		&playersResp, &players,
		&icmpResp, &s.ICMPAvgRTTMs, &s.ICMPJitterMs, &s.ICMPPacketLoss,
		&trust,
	)
	if err == sql.ErrNoRows {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, err
	}

	s.InfoResponded = nullableBool(infoResp)
	s.RulesResponded = nullableBool(rulesResp)
	s.PlayersResponded = nullableBool(playersResp)
	s.ICMPResponded = nullableBool(icmpResp)

	if openSlots.Valid {
		v := int(openSlots.Int64)
		s.A2SOpenSlots = &v
	}
	if trust.Valid {
		v := trust.Float64
		s.TrustScore = &v
	}

	if err := decodeJSON(info, &s.A2SInfo); err != nil {
		return nil, err
	}
	if err := decodeJSON(piObjects, &s.PIObjects); err != nil {
		return nil, err
	}
	if err := decodeJSON(mutators, &s.MutatorsRunning); err != nil {
		return nil, err
	}
	if err := decodeJSON(rules, &s.Rules); err != nil {
		return nil, err
	}
	if err := decodeJSON(players, &s.A2SPlayers); err != nil {
		return nil, err
	}

	return &s, nil
}

// ScoreUpdate is one batched trust score write.
type ScoreUpdate struct {
	Time    time.Time
	Address string
	Port    uint16
	Score   float64
}

// UpdateTrustScores writes a batch of trust scores in one transaction.
func (r *Repository) UpdateTrustScores(updates []ScoreUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		UPDATE server_states SET trust_score = ?
		WHERE address = ? AND port = ? AND time = ?
	`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, u := range updates {
		if _, err := stmt.Exec(u.Score, u.Address, u.Port, u.Time); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// TrustAggregate builds the per-address hourly rollup for addresses whose
// average score since the given time is below cutoff.
func (r *Repository) TrustAggregate(cutoff float64, since time.Time) ([]models.TrustAggregateEntry, error) {
	rows, err := r.db.Query(`
		WITH flagged AS (
			SELECT address
			FROM server_states
			WHERE trust_score IS NOT NULL AND time >= ?
			GROUP BY address
			HAVING AVG(trust_score) < ?
		)
		SELECT s.address,
		       strftime('%Y-%m-%dT%H:00:00Z', s.time) AS bucket,
		       COUNT(s.trust_score),
		       AVG(s.trust_score)
		FROM server_states s
		JOIN flagged f ON f.address = s.address
		WHERE s.trust_score IS NOT NULL AND s.time >= ?
		GROUP BY s.address, bucket
		ORDER BY s.address, bucket
	`, since, cutoff, since)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []models.TrustAggregateEntry
	for rows.Next() {
		var address, bucket string
		var count int64
		var score float64

		if err := rows.Scan(&address, &bucket, &count, &score); err != nil {
			return nil, err
		}

		if len(entries) == 0 || entries[len(entries)-1].Address != address {
			entries = append(entries, models.TrustAggregateEntry{Address: address})
		}

		last := &entries[len(entries)-1]
		last.Counts = append(last.Counts, count)
		last.Scores = append(last.Scores, score)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

// PruneSamples deletes sample rows older than the given time. Retention
// maintenance, invoked from the CLI only.
func (r *Repository) PruneSamples(olderThan time.Time) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM server_states WHERE time < ?`, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// encodeJSON marshals v for a nullable TEXT column; nil maps and slices
// become NULL.
func encodeJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch t := v.(type) {
	case map[string]string:
		if t == nil {
			return nil, nil
		}
	case map[int]models.PlayerInfo:
		if t == nil {
			return nil, nil
		}
	case []string:
		if t == nil {
			return nil, nil
		}
	case []models.PlayerEntry:
		if t == nil {
			return nil, nil
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// decodeJSON unmarshals a nullable TEXT column into v, leaving v untouched
// for NULL.
func decodeJSON(ns sql.NullString, v any) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(ns.String), v)
}

func nullableBool(nb sql.NullBool) *bool {
	if !nb.Valid {
		return nil
	}
	v := nb.Bool
	return &v
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
