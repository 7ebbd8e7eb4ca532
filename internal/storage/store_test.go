package storage

import (
	"context"
	"os"
	"testing"

	"github.com/annel0/pagedvolume/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupBadgerStore(t *testing.T) (*BadgerStore, string) {
	tempDir, err := os.MkdirTemp("", "chunk-store-test")
	if err != nil {
		t.Fatalf("Не удалось создать временную директорию: %v", err)
	}

	store, err := NewBadgerStore(tempDir)
	if err != nil {
		os.RemoveAll(tempDir)
		t.Fatalf("Не удалось создать хранилище: %v", err)
	}

	return store, tempDir
}

func cleanupBadgerStore(store *BadgerStore, tempDir string) {
	if store != nil {
		store.Close()
	}
	if tempDir != "" {
		os.RemoveAll(tempDir)
	}
}

// testChunkStore общий набор проверок для всех реализаций ChunkStore
func testChunkStore(t *testing.T, store interface {
	ChunkStore
	KeyLister
}) {
	ctx := context.Background()
	key := ChunkKey("test", vec.New(1, -2, 3))

	_, err := store.Load(ctx, key)
	assert.ErrorIs(t, err, ErrChunkNotFound)

	blob := []byte{1, 2, 3, 4}
	require.NoError(t, store.Store(ctx, key, blob))
	blob[0] = 99 // хранилище не должно зависеть от буфера вызывающего

	loaded, err := store.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, loaded)

	require.NoError(t, store.Store(ctx, key, []byte{5}))
	loaded, err = store.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte{5}, loaded)

	require.NoError(t, store.Store(ctx, ChunkKey("test", vec.New(0, 0, 0)), []byte{6}))
	require.NoError(t, store.Store(ctx, ChunkKey("other", vec.New(0, 0, 0)), []byte{7}))

	keys, err := store.Keys(ctx, ChunkPrefix("test"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"test:chunk:0:0:0", "test:chunk:1:-2:3"}, keys)

	require.NoError(t, store.Delete(ctx, key))
	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Load(ctx, key)
	assert.ErrorIs(t, err, ErrChunkNotFound)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = store.Load(cancelled, key)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
	_, err = store.Load(ctx, key)
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, store.Store(ctx, key, []byte{1}), ErrStoreClosed)
}

func TestMemoryStore(t *testing.T) {
	testChunkStore(t, NewMemoryStore())
}

func TestBadgerStore(t *testing.T) {
	store, tempDir := setupBadgerStore(t)
	defer cleanupBadgerStore(store, tempDir)

	testChunkStore(t, store)
}

func TestBadgerStorePersistsAcrossReopen(t *testing.T) {
	store, tempDir := setupBadgerStore(t)
	defer os.RemoveAll(tempDir)

	ctx := context.Background()
	key := ChunkKey("world", vec.New(-5, 0, 12))
	require.NoError(t, store.Store(ctx, key, []byte("chunk-data")))
	require.NoError(t, store.Close())

	reopened, err := NewBadgerStore(tempDir)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "chunk-data", string(loaded))
}

func TestChunkKeyRoundTrip(t *testing.T) {
	coords := []vec.Vec3{vec.New(0, 0, 0), vec.New(-1, 2, -3), vec.New(2147483647, -2147483648, 7)}
	for _, ns := range []string{"volume", "eu:west:volume"} {
		for _, c := range coords {
			key := ChunkKey(ns, c)
			gotNS, gotCoord, err := ParseChunkKey(key)
			require.NoError(t, err, key)
			assert.Equal(t, ns, gotNS)
			assert.Equal(t, c, gotCoord)
		}
	}

	assert.Equal(t, "volume:chunk:1:-2:3", ChunkKey("volume", vec.New(1, -2, 3)))

	_, _, err := ParseChunkKey("volume:block:1:2:3")
	assert.Error(t, err)
	_, _, err = ParseChunkKey("1:2")
	assert.Error(t, err)
}

// blobOnlyStore скрывает Keys у вложенного хранилища
type blobOnlyStore struct {
	ChunkStore
}

func TestListChunks(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	defer store.Close()

	want := []vec.Vec3{vec.New(0, 0, 0), vec.New(-1, 2, -3), vec.New(5, 0, 1)}
	for _, c := range want {
		require.NoError(t, store.Store(ctx, ChunkKey("world", c), []byte{1}))
	}
	// Чужое пространство имен с тем же префиксом и мусорный ключ
	require.NoError(t, store.Store(ctx, ChunkKey("world:chunk:1:2:3", vec.New(9, 9, 9)), []byte{1}))
	require.NoError(t, store.Store(ctx, "world:chunk:x", []byte{1}))
	require.NoError(t, store.Store(ctx, ChunkKey("other", vec.New(7, 7, 7)), []byte{1}))

	coords, err := ListChunks(ctx, store, "world")
	require.NoError(t, err)
	assert.ElementsMatch(t, want, coords)

	coords, err = ListChunks(ctx, store, "empty")
	require.NoError(t, err)
	assert.Empty(t, coords)

	_, err = ListChunks(ctx, blobOnlyStore{store}, "world")
	assert.ErrorIs(t, err, ErrListingUnsupported)
}
