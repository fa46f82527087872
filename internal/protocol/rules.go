package protocol

import (
	"strconv"
	"strings"

	"github.com/woozymasta/spoofspy/internal/models"
)

// Well-known rule keys consumed during post-processing.
const (
	ruleNumOpenPublicConnections = "NumOpenPublicConnections"
	ruleNumPublicConnections     = "NumPublicConnections"
	rulePICount                  = "PI_COUNT"
	ruleMutatorsRunning          = "MutatorsRunning"
)

// postProcessRules pops the typed scalar keys and the mutator list out of
// the flat rule map, then reassembles PI_N_<idx>, PI_P_<idx> and PI_S_<idx>
// triples into indexed player-info objects. Servers may report stale
// trailing entries past the live PI_COUNT; those keys are consumed but no
// object is built for them. The leftover map is kept verbatim.
func postProcessRules(raw map[string]string) *RulesResult {
	rules := make(map[string]string, len(raw))
	for k, v := range raw {
		rules[k] = v
	}

	res := &RulesResult{}
	res.NumOpenPublicConnections = popInt(rules, ruleNumOpenPublicConnections, 0)
	res.NumPublicConnections = popInt(rules, ruleNumPublicConnections, 0)
	res.PICount = popInt(rules, rulePICount, 0)
	res.MutatorsRunning = parseMutators(rules)
	res.PIObjects = popPlayerInfos(rules, res.PICount)
	res.Rules = rules

	return res
}

// popInt removes key from rules and parses it as an integer, falling back
// to def when absent or malformed.
func popInt(rules map[string]string, key string, def int) int {
	v, ok := rules[key]
	if !ok {
		return def
	}
	delete(rules, key)

	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}

	return n
}

// parseMutators removes MutatorsRunning and splits it on commas after
// stripping parentheses and quotes.
func parseMutators(rules map[string]string) []string {
	v, ok := rules[ruleMutatorsRunning]
	if !ok {
		return nil
	}
	delete(rules, ruleMutatorsRunning)

	v = strings.NewReplacer("(", "", ")", "", `"`, "").Replace(v)
	if v == "" {
		return nil
	}

	return strings.Split(v, ",")
}

// popPlayerInfos reassembles indexed PI triples into player-info objects,
// removing every consumed key from the map. Indices at or past piCount are
// consumed without producing an object. Keys with non-numeric indices are
// left untouched.
func popPlayerInfos(rules map[string]string, piCount int) map[int]models.PlayerInfo {
	objs := make(map[int]models.PlayerInfo)

	for key, value := range rules {
		var field string
		switch {
		case strings.HasPrefix(key, "PI_N_"):
			field = "n"
		case strings.HasPrefix(key, "PI_P_"):
			field = "p"
		case strings.HasPrefix(key, "PI_S_"):
			field = "s"
		default:
			continue
		}

		idx, err := strconv.Atoi(key[len("PI_N_"):])
		if err != nil {
			continue
		}

		delete(rules, key)

		if idx >= piCount {
			continue
		}

		obj := objs[idx]
		switch field {
		case "n":
			obj.Name = value
		case "p":
			obj.Platform = value
		case "s":
			obj.Score = value
		}
		objs[idx] = obj
	}

	return objs
}
