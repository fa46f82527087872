package dedup

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/woozymasta/spoofspy/internal/models"
)

func record(addr string, gamePort, queryPort uint16) models.DiscoveryRecord {
	return models.DiscoveryRecord{Address: addr, GamePort: gamePort, QueryPort: queryPort}
}

func TestDedupeNoDuplicates(t *testing.T) {
	var probes atomic.Int64
	d := New(func(string, uint16) bool {
		probes.Add(1)
		return true
	})

	records := []models.DiscoveryRecord{
		record("10.0.0.1", 7777, 27015),
		record("10.0.0.2", 7777, 27015),
		record("10.0.0.1", 7778, 27016),
	}

	got := d.Dedupe(records)

	assert.Equal(t, records, got)
	assert.Zero(t, probes.Load(), "unique records are never probed")
}

func TestDedupeSingleResponder(t *testing.T) {
	d := New(func(_ string, queryPort uint16) bool {
		return queryPort == 27016
	})

	records := []models.DiscoveryRecord{
		record("10.0.0.1", 7777, 27015),
		record("10.0.0.1", 7777, 27016),
		record("10.0.0.1", 7777, 27017),
		record("10.0.0.2", 7777, 27015),
	}

	got := d.Dedupe(records)

	require.Len(t, got, 2)
	assert.Equal(t, uint16(27016), got[0].QueryPort)
	assert.Equal(t, "10.0.0.2", got[1].Address)
}

func TestDedupeNoResponders(t *testing.T) {
	d := New(func(string, uint16) bool { return false })

	records := []models.DiscoveryRecord{
		record("10.0.0.1", 7777, 27016),
		record("10.0.0.1", 7777, 27015),
	}

	got := d.Dedupe(records)

	// First seen wins when nothing responds.
	require.Len(t, got, 1)
	assert.Equal(t, uint16(27016), got[0].QueryPort)
}

func TestDedupeMultipleResponders(t *testing.T) {
	d := New(func(string, uint16) bool { return true })

	records := []models.DiscoveryRecord{
		record("10.0.0.1", 7777, 27017),
		record("10.0.0.1", 7777, 27015),
		record("10.0.0.1", 7777, 27016),
	}

	got := d.Dedupe(records)

	require.Len(t, got, 1)
	assert.Equal(t, uint16(27015), got[0].QueryPort, "lowest query port wins the anomaly")
}

func TestDedupePreservesOrder(t *testing.T) {
	d := New(func(string, uint16) bool { return true })

	records := []models.DiscoveryRecord{
		record("10.0.0.5", 7777, 27015),
		record("10.0.0.1", 7777, 27015),
		record("10.0.0.1", 7777, 27016),
		record("10.0.0.9", 7777, 27015),
	}

	got := d.Dedupe(records)

	require.Len(t, got, 3)
	assert.Equal(t, "10.0.0.5", got[0].Address)
	assert.Equal(t, "10.0.0.1", got[1].Address)
	assert.Equal(t, "10.0.0.9", got[2].Address)
}

func TestDedupeSlowProbeTimesOut(t *testing.T) {
	d := New(func(_ string, queryPort uint16) bool {
		if queryPort == 27016 {
			time.Sleep(time.Hour) // never finishes
		}
		return false
	})
	d.wait = 100 * time.Millisecond

	records := []models.DiscoveryRecord{
		record("10.0.0.1", 7777, 27015),
		record("10.0.0.1", 7777, 27016),
	}

	start := time.Now()
	got := d.Dedupe(records)

	assert.Less(t, time.Since(start), 5*time.Second)
	require.Len(t, got, 1)
	assert.Equal(t, uint16(27015), got[0].QueryPort)
}
