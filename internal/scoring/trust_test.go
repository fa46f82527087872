package scoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/woozymasta/spoofspy/internal/models"
)

func boolPtr(v bool) *bool { return &v }

// consistentSample builds a sample where every probe responded and every
// population figure agrees with the directory.
func consistentSample(players int) *models.StateSample {
	pi := make(map[int]models.PlayerInfo, players)
	entries := make([]models.PlayerEntry, 0, players)
	for i := 0; i < players; i++ {
		pi[i] = models.PlayerInfo{Name: fmt.Sprintf("Player%d", i), Platform: "steam", Score: "0"}
		entries = append(entries, models.PlayerEntry{Name: fmt.Sprintf("Player%d", i), Index: i})
	}

	return &models.StateSample{
		Address:    "198.51.100.7",
		GamePort:   7777,
		Secure:     true,
		Players:    players,
		MaxPlayers: 64,

		InfoResponded:  boolPtr(true),
		A2SPlayerCount: players,
		A2SMaxPlayers:  64,

		RulesResponded:           boolPtr(true),
		NumPublicConnections:     64,
		NumOpenPublicConnections: 64 - players,
		PICount:                  players,
		PIObjects:                pi,

		PlayersResponded: boolPtr(true),
		A2SPlayers:       entries,
	}
}

func TestScoreConsistentSample(t *testing.T) {
	assert.InDelta(t, 1.0, Score(consistentSample(0)), 1e-9)
	assert.InDelta(t, 1.0, Score(consistentSample(17)), 1e-9)
	assert.InDelta(t, 1.0, Score(consistentSample(64)), 1e-9)
}

func TestScoreBounds(t *testing.T) {
	// Score must stay in [0, 1] even for absurd inputs.
	s := consistentSample(5)
	s.A2SPlayerCount = 10000
	s.NumPublicConnections = 10000
	s.A2SPlayers = nil
	s.PIObjects = nil
	got := Score(s)
	assert.GreaterOrEqual(t, got, 0.0)
	assert.LessOrEqual(t, got, 1.0)
}

func TestScoreDenyList(t *testing.T) {
	for _, addr := range []string{"51.222.28.26", "51.79.173.138", "51.195.45.25", "146.59.94.15"} {
		s := consistentSample(10)
		s.Address = addr
		assert.Zero(t, Score(s), addr)
	}

	s := consistentSample(10)
	s.Address = "62.102.148.162"
	s.GamePort = 47411
	assert.Zero(t, Score(s))

	// Same address on a different game port is not denied.
	s.GamePort = 7777
	assert.InDelta(t, 1.0, Score(s), 1e-9)
}

func TestScoreNoResponses(t *testing.T) {
	s := &models.StateSample{
		Address:          "198.51.100.7",
		GamePort:         7777,
		Secure:           true,
		Players:          20,
		InfoResponded:    boolPtr(false),
		RulesResponded:   boolPtr(false),
		PlayersResponded: boolPtr(false),
	}
	assert.InDelta(t, 1.0-3*0.33, Score(s), 1e-9)

	// Insecure on top of total silence clamps at zero.
	s.Secure = false
	assert.Zero(t, Score(s))
}

func TestScorePlayerCountMismatch(t *testing.T) {
	exact := Score(consistentSample(10))

	s := consistentSample(10)
	s.A2SPlayerCount = 0
	mismatched := Score(s)

	require.Less(t, mismatched, exact)
	// diff=10 sits between curve points 5 and 12.
	assert.InDelta(t, 1.0-(0.06+(0.2-0.06)*5.0/7.0), mismatched, 1e-9)
}

func TestScoreMonotonicInMismatch(t *testing.T) {
	prev := 2.0
	for _, advertised := range []int{0, 5, 12, 20, 40} {
		s := consistentSample(0)
		s.Players = advertised
		s.A2SPlayerCount = 0
		s.A2SPlayers = nil

		got := Score(s)
		assert.LessOrEqual(t, got, prev, "advertised %d", advertised)
		prev = got
	}
}

func TestInterp(t *testing.T) {
	assert.InDelta(t, 0.0, interp(0), 1e-9)
	assert.InDelta(t, 0.0, interp(-3), 1e-9)
	assert.InDelta(t, 0.01, interp(2), 1e-9)
	assert.InDelta(t, 0.06, interp(5), 1e-9)
	assert.InDelta(t, 1.0, interp(64), 1e-9)
	assert.InDelta(t, 5.0, interp(128), 1e-9)
	assert.InDelta(t, 5.0, interp(1000), 1e-9)

	// Midpoint between (2, 0.01) and (5, 0.06).
	assert.InDelta(t, 0.01+(0.06-0.01)*1.5/3.0, interp(3.5), 1e-9)
}

func TestBotLeniencyWinterWar(t *testing.T) {
	build := func(botNames bool) *models.StateSample {
		pi := make(map[int]models.PlayerInfo, 10)
		names := []string{
			"Perttu", "Antti", "Mikko", "Tuukka", "Joni",
			"Matti", "Luukas", "Valtteri", "Miika", "Seppo",
		}
		for i := 0; i < 10; i++ {
			name := names[i]
			if !botNames {
				name = fmt.Sprintf("Suspect%d", i)
			}
			pi[i] = models.PlayerInfo{Name: name, Platform: "steam", Score: "0"}
		}

		return &models.StateSample{
			Address:  "198.51.100.8",
			GamePort: 7777,
			Secure:   true,
			Players:  0,
			Map:      "WW-Kollaa",

			InfoResponded:  boolPtr(true),
			A2SPlayerCount: 0,
			A2SMapName:     "WW-Kollaa",

			RulesResponded:           boolPtr(true),
			NumPublicConnections:     64,
			NumOpenPublicConnections: 64,
			PICount:                  10,
			PIObjects:                pi,

			PlayersResponded: boolPtr(true),
		}
	}

	lenient := Score(build(true))
	strict := Score(build(false))
	assert.Greater(t, lenient, strict)
}

func TestBotLeniencyGOM(t *testing.T) {
	build := func(mutator, name string) *models.StateSample {
		pi := map[int]models.PlayerInfo{}
		for i := 0; i < 10; i++ {
			pi[i] = models.PlayerInfo{Name: name, Platform: "steam", Score: "0"}
		}

		return &models.StateSample{
			Address:  "198.51.100.9",
			GamePort: 7777,
			Secure:   true,

			InfoResponded: boolPtr(true),

			RulesResponded:           boolPtr(true),
			NumPublicConnections:     64,
			NumOpenPublicConnections: 64,
			PICount:                  10,
			PIObjects:                pi,
			MutatorsRunning:          []string{mutator},

			PlayersResponded: boolPtr(true),
		}
	}

	// Trang is a stock RS2 bot, recognized by both GOM sets.
	assert.Greater(t, Score(build("GOM3.u", "Trang")), Score(build("GOM3.u", "Imposter")))
	assert.Greater(t, Score(build("GOM4.u", "Young-Su")), Score(build("GOM4.u", "Imposter")))

	// Korean GOM4 names are not discounted under GOM3.
	assert.Equal(t, Score(build("GOM3.u", "Imposter")), Score(build("GOM3.u", "Young-Su")))
}

func TestStalePIEntriesIgnored(t *testing.T) {
	s := consistentSample(5)
	// Stale entries past PI_COUNT must not contribute to platform counts.
	s.PIObjects[7] = models.PlayerInfo{Name: "Ghost", Platform: "steam", Score: "0"}
	s.PIObjects[8] = models.PlayerInfo{Name: "Ghost2", Platform: "eos", Score: "0"}
	assert.InDelta(t, 1.0, Score(s), 1e-9)
}

func TestNameSets(t *testing.T) {
	assert.True(t, wwBots.contains("Perttu"))
	assert.False(t, wwBots.contains("perttu"), "matching is case sensitive")
	assert.True(t, rs2Bots.contains("Trang"))
	assert.False(t, rs2Bots.contains("Young-Su"))
	assert.True(t, gom4Bots.contains("Trang"), "union keeps the base set")
	assert.True(t, gom4Bots.contains("Young-Su"))
}
