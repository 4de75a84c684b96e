package cache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "nested", "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func TestKeyDependsOnStrategyAndData(t *testing.T) {
	data := []byte("GIF89a")

	assert.Equal(t, Key("gif", data), Key("gif", data))
	assert.NotEqual(t, Key("gif", data), Key("png", data))
	assert.NotEqual(t, Key("gif", data), Key("gif", []byte("GIF87a")))
	assert.Len(t, Key("gif", data), 32)
}

func TestPutGet(t *testing.T) {
	store := openStore(t)
	key := Key("png", []byte("raw"))

	entry, err := store.Get(key)
	require.NoError(t, err)
	assert.Nil(t, entry)

	require.NoError(t, store.Put(key, &Entry{Strategy: "png", Size: 3, Data: []byte("opt")}))

	entry, err = store.Get(key)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "png", entry.Strategy)
	assert.Equal(t, []byte("opt"), entry.Data)
}

func TestClear(t *testing.T) {
	store := openStore(t)
	require.NoError(t, store.Put(Key("gif", []byte("a")), &Entry{Strategy: "gif", Data: []byte("a")}))
	require.NoError(t, store.Put(Key("gif", []byte("b")), &Entry{Strategy: "gif", Data: []byte("b")}))

	count, err := store.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, store.Clear())

	count, err = store.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	entry, err := store.Get(Key("gif", []byte("a")))
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestReopenKeepsEntries(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cache.db")
	store, err := Open(dbPath)
	require.NoError(t, err)

	key := Key("svg", []byte("<svg/>"))
	require.NoError(t, store.Put(key, &Entry{Strategy: "svg", Data: []byte("<svg/>")}))
	require.NoError(t, store.Close())

	store, err = Open(dbPath)
	require.NoError(t, err)
	defer store.Close()

	entry, err := store.Get(key)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, []byte("<svg/>"), entry.Data)
}

func TestHandleOpensOnDemand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cache.db")
	first := NewHandle(dbPath)
	second := NewHandle(dbPath)
	assert.False(t, first.IsOpen())

	key := Key("gif", []byte("a"))
	require.NoError(t, first.Use(func(store *Store) error {
		return store.Put(key, &Entry{Strategy: "gif", Data: []byte("b")})
	}))
	assert.False(t, first.IsOpen())

	// the lock is gone, so another handle on the same file can open it right away
	require.NoError(t, second.Use(func(store *Store) error {
		entry, err := store.Get(key)
		require.NoError(t, err)
		require.NotNil(t, entry)
		return store.Clear()
	}))
}

func TestHandleIsSharedByConcurrentUsers(t *testing.T) {
	handle := NewHandle(filepath.Join(t.TempDir(), "cache.db"))

	outer, err := handle.Acquire()
	require.NoError(t, err)

	inner, err := handle.Acquire()
	require.NoError(t, err)
	assert.Same(t, outer, inner)

	require.NoError(t, handle.Release())
	assert.True(t, handle.IsOpen())
	require.NoError(t, handle.Release())
	assert.False(t, handle.IsOpen())

	assert.Error(t, handle.Release())
}
