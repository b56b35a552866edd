package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilfs/veilfs/store"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "origins.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = d.Close()
	})
	return d
}

func TestDatabase_Origins(t *testing.T) {
	d := openTestDB(t)

	ok, err := d.Has("http://a.test")
	require.NoError(t, err)
	assert.False(t, ok)

	dirA, err := d.GetPath("http://a.test")
	require.NoError(t, err)
	assert.NotEmpty(t, dirA)

	// The mapping is stable across calls and distinct across origins.
	again, err := d.GetPath("http://a.test")
	require.NoError(t, err)
	assert.Equal(t, dirA, again)

	dirB, err := d.GetPath("http://b.test")
	require.NoError(t, err)
	assert.NotEqual(t, dirA, dirB)

	ok, err = d.Has("http://a.test")
	require.NoError(t, err)
	assert.True(t, ok)

	all, err := d.ListAll()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, store.OriginRecord{Origin: "http://a.test", Directory: dirA}, all[0])
	assert.Equal(t, store.OriginRecord{Origin: "http://b.test", Directory: dirB}, all[1])

	require.NoError(t, d.Remove("http://a.test"))
	ok, err = d.Has("http://a.test")
	require.NoError(t, err)
	assert.False(t, ok)

	// Removing an unknown origin is a no-op.
	require.NoError(t, d.Remove("http://nope.test"))
}

func TestDatabase_UsageCounters(t *testing.T) {
	d := openTestDB(t)
	origin := "http://usage.test"

	bytes, valid, err := d.Usage(origin, store.StorageTypeTemporary)
	require.NoError(t, err)
	assert.Equal(t, int64(0), bytes)
	assert.False(t, valid)

	require.NoError(t, d.UpdateUsage(origin, store.StorageTypeTemporary, 250))
	require.NoError(t, d.UpdateUsage(origin, store.StorageTypeTemporary, -50))

	bytes, valid, err = d.Usage(origin, store.StorageTypeTemporary)
	require.NoError(t, err)
	assert.Equal(t, int64(200), bytes)
	assert.True(t, valid)

	// Counters are tracked per storage type.
	bytes, valid, err = d.Usage(origin, store.StorageTypePersistent)
	require.NoError(t, err)
	assert.Equal(t, int64(0), bytes)
	assert.False(t, valid)

	require.NoError(t, d.InvalidateUsage(origin, store.StorageTypeTemporary))
	bytes, valid, err = d.Usage(origin, store.StorageTypeTemporary)
	require.NoError(t, err)
	assert.Equal(t, int64(200), bytes)
	assert.False(t, valid)

	require.NoError(t, d.SetUsage(origin, store.StorageTypeTemporary, 123))
	bytes, valid, err = d.Usage(origin, store.StorageTypeTemporary)
	require.NoError(t, err)
	assert.Equal(t, int64(123), bytes)
	assert.True(t, valid)

	require.NoError(t, d.Remove(origin))
	bytes, valid, err = d.Usage(origin, store.StorageTypeTemporary)
	require.NoError(t, err)
	assert.Equal(t, int64(0), bytes)
	assert.False(t, valid)
}
