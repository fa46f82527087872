// Package fake provides utilities for generating random server state data
// for testing and development purposes.
package fake

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/spoofspy/internal/models"
	"github.com/woozymasta/spoofspy/internal/scoring"
	"github.com/woozymasta/spoofspy/internal/storage"
)

// GenerateData populates the storage with a specified number of randomized
// servers, each carrying a short history of state samples with probe results
// and trust scores. It simulates honest servers alongside a share of spoofed
// ones that never answer protocol queries.
func GenerateData(store *storage.Repository, count int) {
	maps := []string{"VNTE-Resort", "VNTE-CuChi", "VNTE-Hue", "VNSU-AnLaoValley", "VNTE-Quad"}
	names := []string{"Hardcore 24/7", "EU Campaign", "US West Supremacy", "Asia Official", "Community Vanilla"}
	countriesHigh := []string{"US", "DE", "RU", "CN", "BR", "FR", "GB", "PL"}

	if err := store.SaveQuerySetting(models.QuerySetting{
		Name:     "fake",
		Filter:   `\appid\418460`,
		Limit:    count,
		IsActive: true,
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to save fake query setting")
	}

	for i := 0; i < count; i++ {
		ip := fmt.Sprintf("%d.%d.%d.%d", rand.Intn(220)+1, rand.Intn(255), rand.Intn(255), rand.Intn(255))
		gamePort := uint16(7777 + rand.Intn(100))
		players := rand.Intn(32)
		maxPlayers := 64

		rec := models.DiscoveryRecord{
			Address:    ip,
			GamePort:   gamePort,
			QueryPort:  uint16(27015 + rand.Intn(100)),
			Name:       fmt.Sprintf("%s #%d", names[rand.Intn(len(names))], rand.Intn(1000)),
			GameDir:    "rs2",
			Version:    "1.0.9",
			Product:    "rs2",
			Map:        maps[rand.Intn(len(maps))],
			AppID:      418460,
			Players:    players,
			MaxPlayers: maxPlayers,
			Secure:     rand.Float32() < 0.9,
			Dedicated:  true,
			OS:         "w",
		}

		entry := models.RegistryEntry{
			Address:     rec.Address,
			GamePort:    rec.GamePort,
			QueryPort:   rec.QueryPort,
			CountryCode: countriesHigh[rand.Intn(len(countriesHigh))],
			FirstSeen:   time.Now().UTC().Add(-time.Hour * 24 * 7),
			LastSeen:    time.Now().UTC(),
		}
		if err := store.UpsertServers([]models.RegistryEntry{entry}); err != nil {
			log.Warn().Err(err).Msg("Failed to generate fake server")
			continue
		}

		// 20% of generated servers behave like spoofed hosts: directory
		// presence with no protocol responses.
		spoofed := rand.Float32() < 0.2

		samples := 1 + rand.Intn(5)
		for n := 0; n < samples; n++ {
			t := time.Now().UTC().
				Add(-time.Duration(rand.Intn(24)) * time.Hour).
				Add(-time.Duration(n) * time.Minute).
				Truncate(time.Millisecond)

			if err := store.CreateSample(rec, t); err != nil {
				log.Warn().Err(err).Msg("Failed to generate fake sample")
				continue
			}

			key := rec.Key()
			writeProbes(store, key, t, rec, spoofed)

			sample, err := store.GetSample(key, t)
			if err != nil || sample == nil {
				log.Warn().Err(err).Msg("Failed to read back fake sample")
				continue
			}

			_ = store.UpdateTrustScores([]storage.ScoreUpdate{{
				Address: key.Address,
				Port:    key.GamePort,
				Time:    t,
				Score:   scoring.Score(sample),
			}})
		}
	}

	log.Info().Int("servers", count).Msg("Fake data generation finished")
}

// writeProbes fills the probe column families for one sample.
func writeProbes(store *storage.Repository, key models.ServerKey, t time.Time, rec models.DiscoveryRecord, spoofed bool) {
	if spoofed {
		_ = store.UpdateInfoProbe(key, t, nil)
		_ = store.UpdateRulesProbe(key, t, nil)
		_ = store.UpdatePlayersProbe(key, t, nil)
		_ = store.UpdateICMPProbe(key, t, nil)
		return
	}

	open := rec.MaxPlayers - rec.Players
	_ = store.UpdateInfoProbe(key, t, &storage.InfoProbe{
		ServerName:  rec.Name,
		MapName:     rec.Map,
		PlayerCount: rec.Players,
		MaxPlayers:  rec.MaxPlayers,
		OpenSlots:   &open,
	})

	pi := make(map[int]models.PlayerInfo, rec.Players)
	entries := make([]models.PlayerEntry, 0, rec.Players)
	for p := 0; p < rec.Players; p++ {
		name := fmt.Sprintf("Player%d", p)
		pi[p] = models.PlayerInfo{Name: name, Platform: "steam", Score: "0"}
		entries = append(entries, models.PlayerEntry{
			Name:     name,
			Index:    p,
			Score:    rand.Intn(50),
			Duration: rand.Float64() * 3600,
		})
	}

	_ = store.UpdateRulesProbe(key, t, &storage.RulesProbe{
		NumPublicConnections:     rec.MaxPlayers,
		NumOpenPublicConnections: open,
		PICount:                  rec.Players,
		PIObjects:                pi,
	})

	_ = store.UpdatePlayersProbe(key, t, &storage.PlayersProbe{Players: entries})

	_ = store.UpdateICMPProbe(key, t, &storage.ICMPProbe{
		Alive:      true,
		AvgRTTMs:   10 + rand.Float64()*90,
		JitterMs:   rand.Float64() * 10,
		PacketLoss: 0,
	})
}
