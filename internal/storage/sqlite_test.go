package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/woozymasta/spoofspy/internal/models"
)

func testRepo(t *testing.T) *Repository {
	t.Helper()

	repo, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	return repo
}

func testRecord() models.DiscoveryRecord {
	return models.DiscoveryRecord{
		Address:    "10.0.0.1",
		GamePort:   7777,
		QueryPort:  27015,
		Name:       "Test Server",
		GameDir:    "rs2",
		AppID:      418460,
		Players:    12,
		MaxPlayers: 64,
		Map:        "VNTE-Resort",
		Secure:     true,
		Dedicated:  true,
	}
}

func TestUpsertServers(t *testing.T) {
	repo := testRepo(t)

	first := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	entry := models.RegistryEntry{
		Address:     "10.0.0.1",
		GamePort:    7777,
		QueryPort:   27015,
		CountryCode: "DE",
		FirstSeen:   first,
		LastSeen:    first,
	}
	require.NoError(t, repo.UpsertServers([]models.RegistryEntry{entry}))

	// Re-discovery moves query port and last_seen, keeps first_seen.
	entry.QueryPort = 27016
	entry.CountryCode = ""
	entry.FirstSeen = first.Add(time.Hour)
	entry.LastSeen = first.Add(time.Hour)
	require.NoError(t, repo.UpsertServers([]models.RegistryEntry{entry}))

	got, err := repo.GetServer(models.ServerKey{Address: "10.0.0.1", GamePort: 7777})
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, uint16(27016), got.QueryPort)
	assert.Equal(t, "DE", got.CountryCode, "blank country must not erase a known one")
	assert.True(t, got.FirstSeen.Equal(first), "first_seen is immutable")
	assert.True(t, got.LastSeen.Equal(first.Add(time.Hour)))
}

func TestGetServerMissing(t *testing.T) {
	repo := testRepo(t)

	got, err := repo.GetServer(models.ServerKey{Address: "10.9.9.9", GamePort: 1})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestQuerySettings(t *testing.T) {
	repo := testRepo(t)

	require.NoError(t, repo.SaveQuerySetting(models.QuerySetting{
		Name: "rs2", Filter: `\appid\418460`, Limit: 1000, IsActive: true,
	}))
	require.NoError(t, repo.SaveQuerySetting(models.QuerySetting{
		Name: "disabled", Filter: `\appid\1`, Limit: 10, IsActive: false,
	}))

	settings, err := repo.ActiveQuerySettings()
	require.NoError(t, err)
	require.Len(t, settings, 1)
	assert.Equal(t, "rs2", settings[0].Name)
	assert.Equal(t, `\appid\418460`, settings[0].Filter)
	assert.Equal(t, 1000, settings[0].Limit)
}

func TestProbeUpdatesCommute(t *testing.T) {
	repo := testRepo(t)
	rec := testRecord()
	key := rec.Key()
	qt := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)

	// Probe results may land before the sample row exists.
	open := 52
	require.NoError(t, repo.UpdateInfoProbe(key, qt, &InfoProbe{
		ServerName:  "Test Server",
		MapName:     "VNTE-Resort",
		PlayerCount: 12,
		MaxPlayers:  64,
		OpenSlots:   &open,
		Info:        map[string]string{"game": "rs2"},
	}))
	require.NoError(t, repo.CreateSample(rec, qt))
	require.NoError(t, repo.UpdateRulesProbe(key, qt, &RulesProbe{
		NumPublicConnections:     64,
		NumOpenPublicConnections: 52,
		PICount:                  12,
		PIObjects:                map[int]models.PlayerInfo{0: {Name: "Alice", Platform: "steam", Score: "3"}},
		Mutators:                 []string{"GOM3.u"},
	}))
	require.NoError(t, repo.UpdatePlayersProbe(key, qt, &PlayersProbe{
		Players: []models.PlayerEntry{{Name: "Alice", Index: 0, Score: 3, Duration: 120}},
	}))
	require.NoError(t, repo.UpdateICMPProbe(key, qt, &ICMPProbe{
		Alive: true, AvgRTTMs: 42.5, JitterMs: 1.5, PacketLoss: 0,
	}))

	got, err := repo.GetSample(key, qt)
	require.NoError(t, err)
	require.NotNil(t, got)

	// The late directory write did not clobber the earlier probe columns.
	require.NotNil(t, got.InfoResponded)
	assert.True(t, *got.InfoResponded)
	assert.Equal(t, "Test Server", got.A2SServerName)
	require.NotNil(t, got.A2SOpenSlots)
	assert.Equal(t, 52, *got.A2SOpenSlots)

	require.NotNil(t, got.RulesResponded)
	assert.True(t, *got.RulesResponded)
	assert.Equal(t, 12, got.PICount)
	assert.Equal(t, "Alice", got.PIObjects[0].Name)
	assert.Equal(t, []string{"GOM3.u"}, got.MutatorsRunning)

	require.NotNil(t, got.PlayersResponded)
	require.Len(t, got.A2SPlayers, 1)

	require.NotNil(t, got.ICMPResponded)
	assert.True(t, *got.ICMPResponded)
	assert.InDelta(t, 42.5, got.ICMPAvgRTTMs, 1e-9)

	// Directory columns landed too.
	assert.Equal(t, 12, got.Players)
	assert.True(t, got.Secure)
	assert.Nil(t, got.TrustScore)
}

func TestNilProbeRecordsNonResponse(t *testing.T) {
	repo := testRepo(t)
	rec := testRecord()
	key := rec.Key()
	qt := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.CreateSample(rec, qt))
	require.NoError(t, repo.UpdateInfoProbe(key, qt, nil))
	require.NoError(t, repo.UpdateRulesProbe(key, qt, nil))
	require.NoError(t, repo.UpdatePlayersProbe(key, qt, nil))
	require.NoError(t, repo.UpdateICMPProbe(key, qt, nil))

	got, err := repo.GetSample(key, qt)
	require.NoError(t, err)
	require.NotNil(t, got)

	require.NotNil(t, got.InfoResponded)
	assert.False(t, *got.InfoResponded)
	require.NotNil(t, got.RulesResponded)
	assert.False(t, *got.RulesResponded)
	require.NotNil(t, got.PlayersResponded)
	assert.False(t, *got.PlayersResponded)
	require.NotNil(t, got.ICMPResponded)
	assert.False(t, *got.ICMPResponded)
	assert.True(t, got.Scorable())
}

func TestSelectUnscoredRequiresAllProbes(t *testing.T) {
	repo := testRepo(t)
	rec := testRecord()
	key := rec.Key()
	qt := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.CreateSample(rec, qt))
	require.NoError(t, repo.UpdateInfoProbe(key, qt, nil))
	require.NoError(t, repo.UpdateRulesProbe(key, qt, nil))

	// Players probe still pending: not scorable yet.
	samples, err := repo.SelectUnscored(nil, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, samples)

	require.NoError(t, repo.UpdatePlayersProbe(key, qt, nil))

	samples, err = repo.SelectUnscored(nil, nil, 10)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, "10.0.0.1", samples[0].Address)

	// Scored samples drop out of the sweep.
	require.NoError(t, repo.UpdateTrustScores([]ScoreUpdate{{
		Address: key.Address, Port: key.GamePort, Time: qt, Score: 0.75,
	}}))

	samples, err = repo.SelectUnscored(nil, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, samples)

	got, err := repo.GetSample(key, qt)
	require.NoError(t, err)
	require.NotNil(t, got.TrustScore)
	assert.InDelta(t, 0.75, *got.TrustScore, 1e-9)
}

func TestSelectUnscoredPagination(t *testing.T) {
	repo := testRepo(t)
	rec := testRecord()
	key := rec.Key()

	base := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		qt := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.CreateSample(rec, qt))
		require.NoError(t, repo.UpdateInfoProbe(key, qt, nil))
		require.NoError(t, repo.UpdateRulesProbe(key, qt, nil))
		require.NoError(t, repo.UpdatePlayersProbe(key, qt, nil))
	}

	page1, err := repo.SelectUnscored(nil, nil, 3)
	require.NoError(t, err)
	require.Len(t, page1, 3)

	last := page1[len(page1)-1]
	page2, err := repo.SelectUnscored(nil, &SampleCursor{
		Address: last.Address, Port: last.GamePort, Time: last.Time,
	}, 3)
	require.NoError(t, err)
	require.Len(t, page2, 2)

	seen := map[time.Time]bool{}
	for _, s := range append(page1, page2...) {
		seen[s.Time.UTC()] = true
	}
	assert.Len(t, seen, 5, "pages must not overlap")
}

func TestSelectUnscoredWindow(t *testing.T) {
	repo := testRepo(t)
	rec := testRecord()
	key := rec.Key()

	old := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	for _, qt := range []time.Time{old, recent} {
		require.NoError(t, repo.CreateSample(rec, qt))
		require.NoError(t, repo.UpdateInfoProbe(key, qt, nil))
		require.NoError(t, repo.UpdateRulesProbe(key, qt, nil))
		require.NoError(t, repo.UpdatePlayersProbe(key, qt, nil))
	}

	minTime := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	samples, err := repo.SelectUnscored(&minTime, nil, 10)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.True(t, samples[0].Time.Equal(recent))
}

func TestTrustAggregate(t *testing.T) {
	repo := testRepo(t)

	base := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)
	write := func(addr string, port uint16, t0 time.Time, score float64) {
		rec := testRecord()
		rec.Address = addr
		rec.GamePort = port
		require.NoError(t, repo.CreateSample(rec, t0))
		require.NoError(t, repo.UpdateTrustScores([]ScoreUpdate{{
			Address: addr, Port: port, Time: t0, Score: score,
		}}))
	}

	// Flagged: average well below the cutoff, spread over two hour buckets.
	write("10.0.0.1", 7777, base, 0.1)
	write("10.0.0.1", 7777, base.Add(10*time.Minute), 0.2)
	write("10.0.0.1", 7778, base.Add(time.Hour), 0.0)

	// Clean address.
	write("10.0.0.2", 7777, base, 0.9)

	entries, err := repo.TrustAggregate(0.31, base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, "10.0.0.1", e.Address)
	require.Len(t, e.Counts, 2)
	require.Len(t, e.Scores, 2)
	assert.Equal(t, int64(2), e.Counts[0])
	assert.InDelta(t, 0.15, e.Scores[0], 1e-9)
	assert.Equal(t, int64(1), e.Counts[1])
	assert.InDelta(t, 0.0, e.Scores[1], 1e-9)
}

func TestPruneSamples(t *testing.T) {
	repo := testRepo(t)
	rec := testRecord()

	old := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.CreateSample(rec, old))
	require.NoError(t, repo.CreateSample(rec, recent))

	n, err := repo.PruneSamples(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := repo.GetSample(rec.Key(), recent)
	require.NoError(t, err)
	assert.NotNil(t, got)
}
