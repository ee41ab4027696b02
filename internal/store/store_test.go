package store_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/streamchat/internal/store"
)

func TestKey_DependsOnContent(t *testing.T) {
	a := store.Key(1, 2, "hello")
	assert.Equal(t, a, store.Key(1, 2, "hello"))
	assert.NotEqual(t, a, store.Key(1, 2, "hello!"))
	assert.NotEqual(t, a, store.Key(1, 3, "hello"))
	assert.NotEqual(t, a, store.Key(2, 2, "hello"))
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, store.Config{}.Validate())
	assert.NoError(t, store.Config{Type: "sqlite", Path: "x.db"}.Validate())
	assert.Error(t, store.Config{Type: "sqlite"}.Validate())
	assert.Error(t, store.Config{Type: "redis"}.Validate())
	assert.Error(t, store.Config{TTL: -time.Second}.Validate())
}

// runStoreContract exercises behaviour shared by every implementation.
func runStoreContract(t *testing.T, s store.Store) {
	t.Helper()

	_, ok := s.Get("missing")
	assert.False(t, ok)

	require.NoError(t, s.Set("k", store.Record{Summary: "short", Tokens: 4, Model: "gpt-4"}))
	rec, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, "short", rec.Summary)
	assert.Equal(t, 4, rec.Tokens)
	assert.Equal(t, "gpt-4", rec.Model)
	assert.False(t, rec.CreatedAt.IsZero())

	require.NoError(t, s.Set("k", store.Record{Summary: "shorter", Tokens: 2}))
	rec, ok = s.Get("k")
	require.True(t, ok)
	assert.Equal(t, "shorter", rec.Summary)

	require.NoError(t, s.Delete("k"))
	_, ok = s.Get("k")
	assert.False(t, ok)
	require.NoError(t, s.Delete("k"), "deleting a missing key is fine")
}

func TestMemoryStore(t *testing.T) {
	s := store.NewMemoryStore(time.Hour)
	defer s.Close()
	runStoreContract(t, s)
}

func TestMemoryStore_Expiry(t *testing.T) {
	s := store.NewMemoryStore(20 * time.Millisecond)
	defer s.Close()

	require.NoError(t, s.Set("k", store.Record{Summary: "x"}))
	_, ok := s.Get("k")
	require.True(t, ok)

	time.Sleep(40 * time.Millisecond)
	_, ok = s.Get("k")
	assert.False(t, ok)
}

func TestMemoryStore_ClosedIgnoresWrites(t *testing.T) {
	s := store.NewMemoryStore(time.Hour)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	require.NoError(t, s.Set("k", store.Record{Summary: "x"}))
	_, ok := s.Get("k")
	assert.False(t, ok)
}

func TestSQLiteStore(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "summaries.db"), time.Hour)
	require.NoError(t, err)
	defer s.Close()
	runStoreContract(t, s)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "summaries.db")

	s, err := store.NewSQLiteStore(path, time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.Set("k", store.Record{Summary: "kept", Tokens: 3}))
	require.NoError(t, s.Close())

	reopened, err := store.NewSQLiteStore(path, time.Hour)
	require.NoError(t, err)
	defer reopened.Close()

	rec, ok := reopened.Get("k")
	require.True(t, ok)
	assert.Equal(t, "kept", rec.Summary)
}

func TestSQLiteStore_Expiry(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "summaries.db"), 20*time.Millisecond)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set("k", store.Record{Summary: "x"}))
	time.Sleep(40 * time.Millisecond)

	_, ok := s.Get("k")
	assert.False(t, ok)

	n, err := s.Purge()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestOpen(t *testing.T) {
	mem, err := store.Open(store.Config{})
	require.NoError(t, err)
	defer mem.Close()
	assert.IsType(t, &store.MemoryStore{}, mem)

	sq, err := store.Open(store.Config{Type: "sqlite", Path: filepath.Join(t.TempDir(), "s.db")})
	require.NoError(t, err)
	defer sq.Close()
	assert.IsType(t, &store.SQLiteStore{}, sq)
}
