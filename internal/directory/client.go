// Package directory queries the Steam Web API master server directory for
// publicly advertised game servers matching a filter.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/woozymasta/spoofspy/internal/models"
)

// DefaultURL is the IGameServersService/GetServerList endpoint.
const DefaultURL = "https://api.steampowered.com/IGameServersService/GetServerList/v1/"

// Client is a Steam Web API directory client. Safe for concurrent use.
type Client struct {
	http     *http.Client
	limiter  *rate.Limiter
	baseURL  string
	key      string
	requests atomic.Int64
}

// New creates a directory client. rps bounds outgoing request rate so a
// burst of active query settings cannot hammer the API.
func New(key, baseURL string, timeout time.Duration, rps float64) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}

	return &Client{
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		baseURL: baseURL,
		key:     key,
	}
}

// serverDescriptor is one entry of the GetServerList response. The addr
// field carries "ip:query_port"; gameport is the client-facing port.
type serverDescriptor struct {
	Addr       string `json:"addr"`
	SteamID    string `json:"steamid"`
	Name       string `json:"name"`
	GameDir    string `json:"gamedir"`
	Version    string `json:"version"`
	Product    string `json:"product"`
	OS         string `json:"os"`
	Map        string `json:"map"`
	GameType   string `json:"gametype"`
	GamePort   int    `json:"gameport"`
	AppID      int    `json:"appid"`
	Region     int    `json:"region"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"max_players"`
	Bots       int    `json:"bots"`
	Secure     bool   `json:"secure"`
	Dedicated  bool   `json:"dedicated"`
}

type serverListResponse struct {
	Response struct {
		Servers []serverDescriptor `json:"servers"`
	} `json:"response"`
}

// ServerList fetches the directory entries matching queryFilter. A
// malformed or unreachable response yields an empty result set: the
// caller treats it as "nothing discovered this cycle", not as an error.
func (c *Client) ServerList(ctx context.Context, queryFilter string, limit int) []models.DiscoveryRecord {
	if err := c.limiter.Wait(ctx); err != nil {
		log.Warn().Err(err).Msg("Directory rate limiter wait aborted")
		return nil
	}

	u, err := c.buildURL(queryFilter, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build directory URL")
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build directory request")
		return nil
	}

	resp, err := c.http.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("filter", queryFilter).Msg("Directory request failed")
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	c.requests.Add(1)

	if resp.StatusCode != http.StatusOK {
		log.Warn().
			Int("status", resp.StatusCode).
			Str("filter", queryFilter).
			Msg("Directory returned non-OK status")
		return nil
	}

	var body serverListResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		log.Warn().Err(err).Str("filter", queryFilter).Msg("Malformed directory response")
		return nil
	}

	records := make([]models.DiscoveryRecord, 0, len(body.Response.Servers))
	for _, s := range body.Response.Servers {
		rec, err := s.toRecord()
		if err != nil {
			log.Debug().Err(err).Str("addr", s.Addr).Msg("Skipping malformed directory entry")
			continue
		}
		records = append(records, rec)
	}

	log.Debug().
		Int("servers", len(records)).
		Int64("total_requests", c.requests.Load()).
		Str("filter", queryFilter).
		Msg("Directory query finished")

	return records
}

// Requests returns the total number of directory API requests made.
func (c *Client) Requests() int64 {
	return c.requests.Load()
}

func (c *Client) buildURL(queryFilter string, limit int) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("key", c.key)
	if queryFilter != "" {
		params.Set("filter", queryFilter)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	u.RawQuery = params.Encode()

	return u.String(), nil
}

// toRecord splits the "ip:query_port" addr field and maps the descriptor
// into a discovery record.
func (s *serverDescriptor) toRecord() (models.DiscoveryRecord, error) {
	host, portStr, ok := strings.Cut(s.Addr, ":")
	if !ok {
		return models.DiscoveryRecord{}, fmt.Errorf("addr %q has no port", s.Addr)
	}

	queryPort, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return models.DiscoveryRecord{}, fmt.Errorf("bad query port in %q: %w", s.Addr, err)
	}

	if s.GamePort < 0 || s.GamePort > 65535 {
		return models.DiscoveryRecord{}, fmt.Errorf("bad game port %d", s.GamePort)
	}

	return models.DiscoveryRecord{
		Address:    host,
		GamePort:   uint16(s.GamePort),
		QueryPort:  uint16(queryPort),
		SteamID:    s.SteamID,
		Name:       s.Name,
		AppID:      s.AppID,
		GameDir:    s.GameDir,
		Version:    s.Version,
		Product:    s.Product,
		Region:     s.Region,
		Players:    s.Players,
		MaxPlayers: s.MaxPlayers,
		Bots:       s.Bots,
		Map:        s.Map,
		Secure:     s.Secure,
		Dedicated:  s.Dedicated,
		OS:         s.OS,
		GameType:   s.GameType,
	}, nil
}
