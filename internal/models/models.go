// Package models defines the data structures shared between the discovery,
// query, scoring and aggregation stages of the pipeline.
package models

import "time"

// ServerKey uniquely identifies a game server as seen by game clients.
// The address is an IPv4 address in dotted form, the port is the game port
// (which may differ from the port used for protocol queries).
type ServerKey struct {
	Address  string `json:"address"`
	GamePort uint16 `json:"game_port"`
}

// RegistryEntry is a known game server in the persistent registry.
// Created by the Discoverer on first sight, updated on every later cycle.
type RegistryEntry struct {
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	Address     string    `json:"address"`
	CountryCode string    `json:"country_code"`
	GamePort    uint16    `json:"game_port"`
	QueryPort   uint16    `json:"query_port"`
}

// DiscoveryRecord is one raw entry returned by the master directory for a
// single discovery cycle. It lives only for that cycle: consumed first by
// the deduplicator, then by the querier.
type DiscoveryRecord struct {
	Address    string `json:"address"`
	Name       string `json:"name"`
	GameDir    string `json:"gamedir"`
	Version    string `json:"version"`
	Product    string `json:"product"`
	Map        string `json:"map"`
	OS         string `json:"os"`
	GameType   string `json:"gametype"`
	SteamID    string `json:"steamid"`
	AppID      int    `json:"appid"`
	Region     int    `json:"region"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"max_players"`
	Bots       int    `json:"bots"`
	GamePort   uint16 `json:"gameport"`
	QueryPort  uint16 `json:"query_port"`
	Secure     bool   `json:"secure"`
	Dedicated  bool   `json:"dedicated"`
}

// Key returns the client-visible identity of the discovered server.
func (r *DiscoveryRecord) Key() ServerKey {
	return ServerKey{Address: r.Address, GamePort: r.GamePort}
}

// PlayerInfo is a per-connected-entity record reconstructed from the
// flattened PI_N_<idx> / PI_P_<idx> / PI_S_<idx> key space of the rules
// query response.
type PlayerInfo struct {
	Name     string `json:"n"`
	Platform string `json:"p"`
	Score    string `json:"s"`
}

// PlayerEntry is one row of the players query response.
type PlayerEntry struct {
	Name     string  `json:"name"`
	Index    int     `json:"index"`
	Score    int     `json:"score"`
	Duration float64 `json:"duration"`
}

// StateSample is one timestamped row of probe results for one server.
// The directory fields are written when the row is created; each probe
// fills in its own column family independently. A sample is scorable only
// once all three protocol-probe responded flags are set (true or false).
type StateSample struct {
	Time time.Time `json:"time"`

	// Directory-reported fields.
	Address    string `json:"address"`
	Name       string `json:"name"`
	GameDir    string `json:"gamedir"`
	Version    string `json:"version"`
	Product    string `json:"product"`
	Map        string `json:"map"`
	OS         string `json:"os"`
	GameType   string `json:"gametype"`
	SteamID    string `json:"steamid"`
	AppID      int    `json:"appid"`
	Region     int    `json:"region"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"max_players"`
	Bots       int    `json:"bots"`
	GamePort   uint16 `json:"game_port"`
	Secure     bool   `json:"secure"`
	Dedicated  bool   `json:"dedicated"`

	// Info probe column family.
	InfoResponded  *bool             `json:"a2s_info_responded"`
	A2SServerName  string            `json:"a2s_server_name"`
	A2SMapName     string            `json:"a2s_map_name"`
	A2SSteamID     uint64            `json:"a2s_steam_id"`
	A2SPlayerCount int               `json:"a2s_player_count"`
	A2SMaxPlayers  int               `json:"a2s_max_players"`
	A2SBots        int               `json:"a2s_bots"`
	A2SOpenSlots   *int              `json:"a2s_open_slots"`
	A2SInfo        map[string]string `json:"a2s_info"`

	// Rules probe column family.
	RulesResponded           *bool              `json:"a2s_rules_responded"`
	NumPublicConnections     int                `json:"a2s_num_public_connections"`
	NumOpenPublicConnections int                `json:"a2s_num_open_public_connections"`
	PICount                  int                `json:"a2s_pi_count"`
	PIObjects                map[int]PlayerInfo `json:"a2s_pi_objects"`
	MutatorsRunning          []string           `json:"a2s_mutators_running"`
	Rules                    map[string]string  `json:"a2s_rules"`

	// Players probe column family.
	PlayersResponded *bool         `json:"a2s_players_responded"`
	A2SPlayers       []PlayerEntry `json:"a2s_players"`

	// ICMP column family.
	ICMPResponded  *bool   `json:"icmp_responded"`
	ICMPAvgRTTMs   float64 `json:"icmp_avg_rtt_ms"`
	ICMPJitterMs   float64 `json:"icmp_jitter_ms"`
	ICMPPacketLoss float64 `json:"icmp_packet_loss"`

	// Filled by the score evaluator.
	TrustScore *float64 `json:"trust_score"`
}

// Key returns the server identity of the sample.
func (s *StateSample) Key() ServerKey {
	return ServerKey{Address: s.Address, GamePort: s.GamePort}
}

// Scorable reports whether all three protocol probes have recorded an
// outcome, which is the precondition for trust evaluation.
func (s *StateSample) Scorable() bool {
	return s.InfoResponded != nil && s.RulesResponded != nil && s.PlayersResponded != nil
}

// QuerySetting is a named, user-defined directory filter. Settings are
// read-only from the pipeline's perspective and polled once per cycle.
type QuerySetting struct {
	Name     string `json:"name"`
	Filter   string `json:"query_filter"`
	Limit    int    `json:"query_limit"`
	IsActive bool   `json:"is_active"`
}

// TrustAggregateEntry is the per-address rollup cached for the read API:
// per-bucket sample counts and average scores for addresses whose recent
// average trust score falls below the spoof cutoff.
type TrustAggregateEntry struct {
	Address string    `json:"address" msgpack:"address"`
	Counts  []int64   `json:"counts" msgpack:"counts"`
	Scores  []float64 `json:"scores" msgpack:"scores"`
}
