// Package protocol issues the three Source query protocol (A2S) requests
// and the ICMP reachability check against a single game server, with
// per-probe timeouts, size guards and a bounded retry policy.
package protocol

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"github.com/woozymasta/a2s/pkg/a2s"

	"github.com/woozymasta/spoofspy/internal/models"
)

// Response size guards. Anything beyond these limits is treated as a
// protocol anomaly and the probe is abandoned without retry.
const (
	// MaxKeywordsBytes caps the A2S_INFO keywords tail.
	MaxKeywordsBytes = 500
	// MaxRuleEntries caps the A2S_RULES map size.
	MaxRuleEntries = 750
	// MaxPlayerEntries caps the A2S_PLAYER list length.
	MaxPlayerEntries = 255
)

// ICMP echo parameters, fixed by the reachability contract.
const (
	pingCount    = 2
	pingInterval = 500 * time.Millisecond
	pingTimeout  = 5 * time.Second
)

// InfoResult is a parsed A2S_INFO response. Keywords is the raw keywords
// tail rejoined from the library's pre-split form. Fields the scorer does
// not know about are preserved verbatim in Rest for forward compatibility.
type InfoResult struct {
	Rest        map[string]string
	ServerName  string
	MapName     string
	Keywords    string
	SteamID     uint64
	PlayerCount int
	MaxPlayers  int
	Bots        int
	OpenSlots   *int
}

// RulesResult is a post-processed A2S_RULES response: typed scalars and
// reassembled player-info objects popped out of the flat rule map, with
// the remaining rules kept as-is.
type RulesResult struct {
	Rules                    map[string]string
	PIObjects                map[int]models.PlayerInfo
	MutatorsRunning          []string
	NumPublicConnections     int
	NumOpenPublicConnections int
	PICount                  int
}

// PingResult is the outcome of the ICMP reachability check.
type PingResult struct {
	AvgRTT     time.Duration
	Jitter     time.Duration
	PacketLoss float64
	Alive      bool
}

// Client issues protocol probes against single servers. It is stateless:
// a fresh UDP socket is opened per probe, the way the underlying a2s
// library expects.
type Client struct {
	// Timeout bounds one A2S request/response exchange.
	Timeout time.Duration

	// BufferSize is the response read buffer passed to the a2s client.
	BufferSize uint16
}

// QueryInfo requests A2S_INFO and parses the open-slots token out of the
// keywords tail. A keywords tail over MaxKeywordsBytes is an anomaly.
func (c *Client) QueryInfo(address string, port uint16) (*InfoResult, error) {
	client, err := c.dial(address, port)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Close() }()

	info, err := client.GetInfo()
	if err != nil {
		return nil, err
	}

	// The library splits the keywords tail on commas; the size guard and
	// the slot token live on the raw joined form.
	keywords, err := keywordsTail(info.Keywords)
	if err != nil {
		return nil, err
	}

	return &InfoResult{
		ServerName:  info.Name,
		MapName:     info.Map,
		SteamID:     info.SteamID,
		PlayerCount: int(info.Players),
		MaxPlayers:  int(info.MaxPlayers),
		Bots:        int(info.Bots),
		Keywords:    keywords,
		OpenSlots:   parseOpenSlots(keywords),
		Rest: map[string]string{
			"folder":      info.Folder,
			"game":        info.Game,
			"version":     info.Version,
			"server_type": fmt.Sprint(info.ServerType),
			"environment": info.Environment.String(),
			"visibility":  fmt.Sprint(info.Visibility),
			"vac":         fmt.Sprint(info.VAC),
		},
	}, nil
}

// QueryRules requests A2S_RULES and post-processes the flat rule map.
// A rule map over MaxRuleEntries is an anomaly.
func (c *Client) QueryRules(address string, port uint16) (*RulesResult, error) {
	client, err := c.dial(address, port)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Close() }()

	rules, err := client.GetRules()
	if err != nil {
		return nil, err
	}

	if len(rules) > MaxRuleEntries {
		return nil, fmt.Errorf("%w: %d rule entries", ErrOversizedResponse, len(rules))
	}

	return postProcessRules(rules), nil
}

// QueryPlayers requests A2S_PLAYER. A list over MaxPlayerEntries is an
// anomaly.
func (c *Client) QueryPlayers(address string, port uint16) ([]models.PlayerEntry, error) {
	client, err := c.dial(address, port)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Close() }()

	list, err := client.GetPlayers()
	if err != nil {
		return nil, err
	}

	players := *list
	if len(players) > MaxPlayerEntries {
		return nil, fmt.Errorf("%w: %d player entries", ErrOversizedResponse, len(players))
	}

	entries := make([]models.PlayerEntry, 0, len(players))
	for _, p := range players {
		entries = append(entries, models.PlayerEntry{
			Index:    int(p.Index),
			Name:     p.Name,
			Score:    int(p.Score),
			Duration: float64(p.Duration),
		})
	}

	return entries, nil
}

// PingReachable sends two unprivileged ICMP echoes and reports liveness,
// average round-trip time, jitter and packet loss.
func (c *Client) PingReachable(ctx context.Context, address string) (*PingResult, error) {
	pinger, err := probing.NewPinger(address)
	if err != nil {
		return nil, err
	}

	pinger.Count = pingCount
	pinger.Interval = pingInterval
	pinger.Timeout = pingTimeout
	pinger.SetPrivileged(false)

	if err := pinger.RunWithContext(ctx); err != nil {
		return nil, err
	}

	stats := pinger.Statistics()

	return &PingResult{
		Alive:      stats.PacketsRecv > 0,
		AvgRTT:     stats.AvgRtt,
		Jitter:     stats.StdDevRtt,
		PacketLoss: stats.PacketLoss,
	}, nil
}

// dial opens a configured a2s client for one probe.
func (c *Client) dial(address string, port uint16) (*a2s.Client, error) {
	client, err := a2s.New(address, int(port))
	if err != nil {
		return nil, err
	}

	if c.Timeout > 0 {
		client.Timeout = c.Timeout
	}
	if c.BufferSize > 0 {
		client.BufferSize = c.BufferSize
	}

	return client, nil
}

// keywordsTail rejoins the pre-split keyword elements into the raw tail
// and enforces the MaxKeywordsBytes guard on the joined form.
func keywordsTail(keywords []string) (string, error) {
	tail := strings.Join(keywords, ",")
	if len(tail) > MaxKeywordsBytes {
		return "", fmt.Errorf("%w: %d byte keywords", ErrOversizedResponse, len(tail))
	}

	return tail, nil
}

// parseOpenSlots extracts the open-slots value embedded in the keywords
// tail: an integer token preceded by ",r" and followed by ",b". Parse
// failures yield nil rather than an error, servers are free to omit it.
func parseOpenSlots(keywords string) *int {
	start := strings.Index(keywords, ",r")
	if start < 0 {
		return nil
	}

	rest := keywords[start+2:]
	end := strings.Index(rest, ",b")
	if end < 0 {
		return nil
	}

	n, err := strconv.Atoi(rest[:end])
	if err != nil {
		return nil
	}

	return &n
}
