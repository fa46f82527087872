package aggregate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/woozymasta/spoofspy/internal/coding"
	"github.com/woozymasta/spoofspy/internal/models"
)

type fakeStore struct {
	entries []models.TrustAggregateEntry
	err     error
	calls   int
}

func (f *fakeStore) TrustAggregate(cutoff float64, since time.Time) ([]models.TrustAggregateEntry, error) {
	f.calls++
	return f.entries, f.err
}

type fakeCache struct {
	key  string
	blob []byte
	ttl  time.Duration
	sets int
}

func (f *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.sets++
	f.key = key
	f.blob = value
	f.ttl = ttl
	return nil
}

type fakeLocker struct {
	acquired bool
	err      error
	releases int
}

func (f *fakeLocker) Acquire(ctx context.Context, name string, wait, hold time.Duration) (func(), bool, error) {
	if f.err != nil || !f.acquired {
		return func() {}, false, f.err
	}
	return func() { f.releases++ }, true, nil
}

func TestRebuildCachesBlob(t *testing.T) {
	coder, err := coding.NewCoder()
	require.NoError(t, err)
	defer coder.Close()

	store := &fakeStore{entries: []models.TrustAggregateEntry{
		{Address: "10.0.0.1", Counts: []int64{3, 1}, Scores: []float64{0.1, 0.2}},
	}}
	cache := &fakeCache{}
	locker := &fakeLocker{acquired: true}

	r := New(store, cache, locker, coder)
	r.Run(context.Background())

	require.Equal(t, 1, cache.sets)
	assert.Equal(t, TrustKey, cache.key)
	assert.Equal(t, 24*time.Hour, cache.ttl)
	assert.Equal(t, 1, locker.releases, "lock released after rebuild")

	var decoded []models.TrustAggregateEntry
	require.NoError(t, coder.Decode(cache.blob, &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, store.entries[0], decoded[0])
}

func TestRebuildSkipsWhenLockHeld(t *testing.T) {
	coder, err := coding.NewCoder()
	require.NoError(t, err)
	defer coder.Close()

	store := &fakeStore{}
	cache := &fakeCache{}
	locker := &fakeLocker{acquired: false}

	r := New(store, cache, locker, coder)
	r.Run(context.Background())

	assert.Zero(t, store.calls, "no query while another rebuild holds the lock")
	assert.Zero(t, cache.sets)
}

func TestRebuildLockError(t *testing.T) {
	coder, err := coding.NewCoder()
	require.NoError(t, err)
	defer coder.Close()

	store := &fakeStore{}
	cache := &fakeCache{}
	locker := &fakeLocker{err: errors.New("redis down")}

	r := New(store, cache, locker, coder)
	r.Run(context.Background())

	assert.Zero(t, store.calls)
	assert.Zero(t, cache.sets)
}

func TestRebuildQueryFailure(t *testing.T) {
	coder, err := coding.NewCoder()
	require.NoError(t, err)
	defer coder.Close()

	store := &fakeStore{err: errors.New("db locked")}
	cache := &fakeCache{}
	locker := &fakeLocker{acquired: true}

	r := New(store, cache, locker, coder)
	r.Run(context.Background())

	assert.Zero(t, cache.sets, "nothing cached on query failure")
	assert.Equal(t, 1, locker.releases, "lock released even on failure")
}
