// Package scoring computes the per-sample trust score: a deterministic
// heuristic in [0, 1] estimating whether a server's advertised player
// population is genuine. 1.0 is a perfect score, 0.0 the worst.
//
// Score is a pure function. All randomness (jitter, shuffling) lives in
// the callers; this package performs no I/O.
package scoring

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/woozymasta/spoofspy/internal/models"
)

// noResponsePenalty is subtracted flat for every protocol probe that did
// not respond.
const noResponsePenalty = 0.33

// Player-count difference penalty curve. Differences are interpolated
// linearly between the points and clamped at both ends.
var (
	playerCountX = []float64{0, 2, 5, 12, 20, 32, 64, 128}
	playerCountY = []float64{0.0, 0.01, 0.06, 0.2, 0.3, 0.4, 1.0, 5.0}
)

// Addresses hard-coded to score zero until the evaluation algorithm can
// detect them on its own.
var denyAddrs = map[string]struct{}{
	"51.222.28.26":  {},
	"51.79.173.138": {},
	"51.195.45.25":  {},
	"146.59.94.15":  {},
}

// A single known-bad endpoint denied by address and game port.
var denyEndpoint = models.ServerKey{Address: "62.102.148.162", GamePort: 47411}

// Score evaluates the trust score of one server state sample.
func Score(state *models.StateSample) float64 {
	score := 1.0
	players := state.Players // Steam only.

	var penalties, weights []float64

	if _, denied := denyAddrs[state.Address]; denied || state.Key() == denyEndpoint {
		log.Info().
			Str("address", state.Address).
			Uint16("port", state.GamePort).
			Msg("Using hard-coded zero score")
		return 0
	}

	isWW, isGOM3, isGOM4 := detectLenientMods(state)

	if !state.Secure {
		penalties = append(penalties, 0.1)
		weights = append(weights, 1.0)
	}

	if responded(state.InfoResponded) {
		diff := absInt(players - state.A2SPlayerCount)
		penalties = append(penalties, interp(float64(diff)))
		weights = append(weights, 1.0)
	} else {
		score -= noResponsePenalty
	}

	if responded(state.RulesResponded) {
		penalties = append(penalties, rulesPenalty(state, isWW, isGOM3, isGOM4))
		weights = append(weights, 3.0)
	} else {
		score -= noResponsePenalty
	}

	if responded(state.PlayersResponded) {
		diff := absInt(len(state.A2SPlayers) - players)
		penalties = append(penalties, interp(float64(diff)))
		weights = append(weights, 1.0)
	} else {
		score -= noResponsePenalty
	}

	for i, penalty := range penalties {
		score -= penalty * weights[i]
	}

	return clamp(score, 0.0, 1.0)
}

// rulesPenalty fuses the three rule-probe population diffs into one
// weighted penalty.
func rulesPenalty(state *models.StateSample, isWW, isGOM3, isGOM4 bool) float64 {
	players := state.Players

	// Connections include both Steam and EOS platforms.
	connPlayers := state.NumPublicConnections - state.NumOpenPublicConnections

	// PI_COUNT includes both platforms and non-player PIs.
	piCountDiff := absInt(state.PICount - connPlayers)

	// The server can report stale PIs for players that already left, so
	// only indices below PI_COUNT are live.
	actual := make(map[int]models.PlayerInfo, len(state.PIObjects))
	for idx, obj := range state.PIObjects {
		if idx < state.PICount {
			actual[idx] = obj
		}
	}

	var numSteam, numEOS int
	for _, obj := range actual {
		switch strings.ToLower(obj.Platform) {
		case "steam":
			numSteam++
		case "eos":
			numEOS++
		default:
			log.Error().
				Str("platform", obj.Platform).
				Str("name", obj.Name).
				Msg("Invalid player-info platform")
		}
	}

	steamDiff := float64(absInt(players - numSteam))
	eosDiff := float64(absInt((state.PICount - players) - numEOS))
	countDiff := float64(piCountDiff)

	// Servers running known bot mutators don't advertise bot counts in any
	// sensible way, so discount curated bot names from the diffs.
	if steamDiff > 2 && countDiff > 2 {
		var botCount int
		switch {
		case isWW:
			botCount = countBots(actual, wwBots)
		case isGOM3:
			botCount = countBots(actual, rs2Bots)
		case isGOM4:
			botCount = countBots(actual, gom4Bots)
		}

		if fix := float64(botCount) * 0.95; fix > 0 {
			countDiff = max(countDiff-fix, 0)
			steamDiff = max(steamDiff-fix, 0)
			log.Info().
				Str("address", state.Address).
				Uint16("port", state.GamePort).
				Float64("discount", fix).
				Float64("pi_count_diff", countDiff).
				Float64("steam_pi_diff", steamDiff).
				Msg("Applied bot-name leniency")
		}
	}

	return weightedAverage(
		[]float64{interp(countDiff), interp(steamDiff), interp(eosDiff)},
		[]float64{3.0, 2.5, 1.0},
	)
}

// detectLenientMods reports whether the sample looks like it runs a known
// bot-heavy mod: Winter War (both map names start with "WW") or the GOM3 /
// GOM4 mutators.
func detectLenientMods(state *models.StateSample) (isWW, isGOM3, isGOM4 bool) {
	muts := make([]string, 0, len(state.MutatorsRunning))
	for _, m := range state.MutatorsRunning {
		muts = append(muts, strings.ToLower(m))
	}

	switch {
	case responded(state.InfoResponded) &&
		strings.HasPrefix(state.Map, "WW") &&
		strings.HasPrefix(state.A2SMapName, "WW"):
		isWW = true
	case containsString(muts, "gom3.u"):
		isGOM3 = true
	case containsString(muts, "gom4.u"):
		isGOM4 = true
	}

	if isWW || isGOM3 || isGOM4 {
		log.Info().
			Str("address", state.Address).
			Uint16("port", state.GamePort).
			Str("map", state.Map).
			Strs("mutators", state.MutatorsRunning).
			Msg("Known mod detected, being lenient with bot players")
	}

	return isWW, isGOM3, isGOM4
}

// countBots counts live Steam player-info objects whose reported name is
// in the curated bot-name set.
func countBots(actual map[int]models.PlayerInfo, bots nameSet) int {
	count := 0
	for _, obj := range actual {
		if strings.EqualFold(obj.Platform, "steam") && bots.contains(obj.Name) {
			count++
		}
	}
	return count
}

// interp linearly interpolates diff against the player-count penalty
// curve, clamped at both ends.
func interp(diff float64) float64 {
	if diff <= playerCountX[0] {
		return playerCountY[0]
	}

	last := len(playerCountX) - 1
	if diff >= playerCountX[last] {
		return playerCountY[last]
	}

	for i := 1; i <= last; i++ {
		if diff <= playerCountX[i] {
			x0, x1 := playerCountX[i-1], playerCountX[i]
			y0, y1 := playerCountY[i-1], playerCountY[i]
			return y0 + (y1-y0)*(diff-x0)/(x1-x0)
		}
	}

	return playerCountY[last]
}

func weightedAverage(values, wts []float64) float64 {
	var sum, wsum float64
	for i, v := range values {
		sum += v * wts[i]
		wsum += wts[i]
	}
	return sum / wsum
}

func responded(flag *bool) bool {
	return flag != nil && *flag
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
