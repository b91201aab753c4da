package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/timeblocker/internal/apperr"
)

func backends(t *testing.T) map[string]Provider {
	t.Helper()
	dir := t.TempDir()

	db, err := Open(BackendSQLite, filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	fs, err := Open(BackendFile, filepath.Join(dir, "files"))
	require.NoError(t, err)

	return map[string]Provider{BackendSQLite: db, BackendFile: fs}
}

func TestProviderRoundTrip(t *testing.T) {
	for name, p := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := p.Get(KeyTimeBlocks)
			assert.ErrorIs(t, err, apperr.ErrNotFound)

			require.NoError(t, p.Set(KeyTimeBlocks, []byte(`[{"id":"1"}]`)))
			got, err := p.Get(KeyTimeBlocks)
			require.NoError(t, err)
			assert.JSONEq(t, `[{"id":"1"}]`, string(got))

			require.NoError(t, p.Set(KeyTimeBlocks, []byte(`[]`)))
			got, err = p.Get(KeyTimeBlocks)
			require.NoError(t, err)
			assert.Equal(t, "[]", string(got))
		})
	}
}

func TestProviderDelete(t *testing.T) {
	for name, p := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, p.Set(KeyCredentials, []byte(`{}`)))
			require.NoError(t, p.Delete(KeyCredentials))

			_, err := p.Get(KeyCredentials)
			assert.ErrorIs(t, err, apperr.ErrNotFound)

			// Deleting again is fine.
			assert.NoError(t, p.Delete(KeyCredentials))
		})
	}
}

func TestProviderKeysIndependent(t *testing.T) {
	for name, p := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, p.Set(KeyPreferences, []byte(`{"darkMode":true}`)))
			require.NoError(t, p.Set(KeyTimeBlocks, []byte(`[]`)))
			require.NoError(t, p.Delete(KeyTimeBlocks))

			got, err := p.Get(KeyPreferences)
			require.NoError(t, err)
			assert.JSONEq(t, `{"darkMode":true}`, string(got))
		})
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open("redis", t.TempDir())
	assert.Error(t, err)
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	db, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, db.Set(KeyTimeBlocks, []byte(`["x"]`)))
	require.NoError(t, db.Close())

	db, err = OpenSQLite(path)
	require.NoError(t, err)
	defer db.Close()
	got, err := db.Get(KeyTimeBlocks)
	require.NoError(t, err)
	assert.Equal(t, `["x"]`, string(got))
}
