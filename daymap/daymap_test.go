package daymap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WhereSoftwareGoesToDie/vaultaire/bucket"
	"github.com/WhereSoftwareGoesToDie/vaultaire/point"
	"github.com/WhereSoftwareGoesToDie/vaultaire/store"
)

type fakeStore struct {
	simple, extended []byte
	statErr          error
	readErr          error
}

func (f *fakeStore) Stat(oid string) (store.Stat, error) {
	if f.statErr != nil {
		return store.Stat{}, f.statErr
	}
	switch {
	case oid == string(bucket.SimpleDayOID("origin-a")):
		return store.Stat{Size: uint64(len(f.simple))}, nil
	case oid == string(bucket.ExtendedDayOID("origin-a")):
		return store.Stat{Size: uint64(len(f.extended))}, nil
	}
	return store.Stat{}, errors.New("unknown oid")
}

func (f *fakeStore) ReadFull(oid string) ([]byte, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	switch {
	case oid == string(bucket.SimpleDayOID("origin-a")):
		return f.simple, nil
	case oid == string(bucket.ExtendedDayOID("origin-a")):
		return f.extended, nil
	}
	return nil, errors.New("unknown oid")
}

func sampleMap() bucket.DayMap {
	return bucket.DayMap{
		{Start: 100, BucketCount: 16},
		{Start: 200, BucketCount: 32},
	}
}

// Scenario S6: a cache miss loads both day files; a subsequent call with an
// unchanged store is a cache hit that performs no further reads.
func TestRefreshOriginDaysCacheMissThenHit(t *testing.T) {
	dm := sampleMap()
	fs := &fakeStore{simple: EncodeDayMap(dm), extended: EncodeDayMap(dm)}
	c := New(fs, nil)

	var seen bucket.DayMap
	ok := c.WithSimpleDayMap("origin-a", func(d bucket.DayMap) { seen = d })
	assert.False(t, ok, "must be a miss before any refresh")

	c.RefreshOriginDays("origin-a")

	ok = c.WithSimpleDayMap("origin-a", func(d bucket.DayMap) { seen = d })
	require.True(t, ok)
	assert.Equal(t, dm, seen)

	expired, err := c.CacheExpired("origin-a")
	require.NoError(t, err)
	assert.False(t, expired, "unchanged store must not report expiry")
}

func TestRefreshOriginDaysReloadsOnSizeChange(t *testing.T) {
	dm := sampleMap()
	fs := &fakeStore{simple: EncodeDayMap(dm), extended: EncodeDayMap(dm)}
	c := New(fs, nil)
	c.RefreshOriginDays("origin-a")

	grown := append(sampleMap(), bucket.Epoch{Start: 300, BucketCount: 64})
	fs.simple = EncodeDayMap(grown)

	expired, err := c.CacheExpired("origin-a")
	require.NoError(t, err)
	assert.True(t, expired)

	c.RefreshOriginDays("origin-a")
	var seen bucket.DayMap
	c.WithSimpleDayMap("origin-a", func(d bucket.DayMap) { seen = d })
	assert.Equal(t, grown, seen)
}

func TestRefreshOriginDaysLeavesCacheOnLoadFailure(t *testing.T) {
	dm := sampleMap()
	fs := &fakeStore{simple: EncodeDayMap(dm), extended: EncodeDayMap(dm)}
	c := New(fs, nil)
	c.RefreshOriginDays("origin-a")

	fs.simple = []byte{0xff} // now a different, malformed size
	fs.readErr = errors.New("store unavailable")
	c.RefreshOriginDays("origin-a")

	var seen bucket.DayMap
	ok := c.WithSimpleDayMap("origin-a", func(d bucket.DayMap) { seen = d })
	require.True(t, ok)
	assert.Equal(t, dm, seen, "cache entry must survive a failed reload")
}

func TestDayMapEncodeDecodeRoundTrip(t *testing.T) {
	dm := sampleMap()
	decoded, err := decodeDayMap(EncodeDayMap(dm))
	require.NoError(t, err)
	assert.Equal(t, dm, decoded)
}
