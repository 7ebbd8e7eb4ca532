package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/annel0/pagedvolume/internal/storage"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockInvalidator реализует ChunkInvalidator для тестов.
type MockInvalidator struct {
	published []string
	handler   InvalidationHandler
	mutex     sync.RWMutex
	failWith  error
}

func NewMockInvalidator() *MockInvalidator {
	return &MockInvalidator{
		published: make([]string, 0),
	}
}

func (m *MockInvalidator) PublishInvalidation(ctx context.Context, key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.published = append(m.published, key)
	return nil
}

func (m *MockInvalidator) SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.handler = handler
	return nil
}

func (m *MockInvalidator) Close() error {
	return nil
}

// SimulateInvalidation симулирует получение уведомления от другого узла.
func (m *MockInvalidator) SimulateInvalidation(key string) error {
	m.mutex.RLock()
	handler := m.handler
	m.mutex.RUnlock()

	if handler != nil {
		return handler(key)
	}
	return nil
}

// GetPublished возвращает копию списка опубликованных ключей.
func (m *MockInvalidator) GetPublished() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	result := make([]string, len(m.published))
	copy(result, m.published)
	return result
}

func setupRedisStore(t *testing.T, cold storage.ChunkStore, inv ChunkInvalidator) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreWithClient(client, &CacheConfig{TTL: time.Minute}, cold, inv)
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func TestRedisStoreReadThrough(t *testing.T) {
	ctx := context.Background()
	cold := storage.NewMemoryStore()
	require.NoError(t, cold.Store(ctx, "v:chunk:0:0:0", []byte("blob")))

	store, mr := setupRedisStore(t, cold, nil)

	// Первое чтение - промах Redis, загрузка из холодного хранилища
	val, err := store.Load(ctx, "v:chunk:0:0:0")
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), val)
	assert.True(t, mr.Exists("v:chunk:0:0:0"), "блоб должен попасть в Redis")
	assert.Equal(t, time.Minute, mr.TTL("v:chunk:0:0:0"))

	// Второе чтение - попадание
	val, err = store.Load(ctx, "v:chunk:0:0:0")
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), val)

	m := store.GetMetrics()
	assert.Equal(t, int64(2), m.TotalRequests)
	assert.Equal(t, int64(1), m.CacheHits)
	assert.Equal(t, int64(1), m.CacheMisses)
	assert.Equal(t, int64(1), m.ColdLoads)
	assert.InDelta(t, 0.5, m.HitRatio, 1e-9)
}

func TestRedisStoreMissEverywhere(t *testing.T) {
	ctx := context.Background()

	withCold, _ := setupRedisStore(t, storage.NewMemoryStore(), nil)
	_, err := withCold.Load(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrChunkNotFound)

	redisOnly, _ := setupRedisStore(t, nil, nil)
	_, err = redisOnly.Load(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrChunkNotFound)

	_, err = redisOnly.get(ctx, "missing")
	assert.True(t, IsCacheMiss(err))
}

func TestRedisStoreDeleteKeepsLayersConsistentWhenRedisIsDown(t *testing.T) {
	ctx := context.Background()
	cold := storage.NewMemoryStore()
	inv := NewMockInvalidator()
	store, mr := setupRedisStore(t, cold, inv)

	require.NoError(t, store.Store(ctx, "v:chunk:4:0:0", []byte("blob")))
	mr.Close()

	err := store.Delete(ctx, "v:chunk:4:0:0")
	require.Error(t, err)

	// Ни один слой не изменен: блоб не может остаться только в Redis
	val, err := cold.Load(ctx, "v:chunk:4:0:0")
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), val)
	assert.Equal(t, []string{"v:chunk:4:0:0"}, inv.GetPublished())

	// После восстановления Redis удаление доходит до обоих слоев
	require.NoError(t, mr.Restart())
	require.NoError(t, store.Delete(ctx, "v:chunk:4:0:0"))
	assert.False(t, mr.Exists("v:chunk:4:0:0"))
	_, err = store.Load(ctx, "v:chunk:4:0:0")
	assert.ErrorIs(t, err, storage.ErrChunkNotFound)
	assert.Len(t, inv.GetPublished(), 2)
}

func TestRedisStoreKeys(t *testing.T) {
	ctx := context.Background()

	cold := storage.NewMemoryStore()
	withCold, mr := setupRedisStore(t, cold, nil)
	require.NoError(t, cold.Store(ctx, "v:chunk:0:0:0", []byte("a")))
	require.NoError(t, withCold.Store(ctx, "v:chunk:1:0:0", []byte("b")))
	// Ключи берутся из холодного хранилища, а не из Redis
	require.NoError(t, mr.Set("v:chunk:9:9:9", "only-hot"))

	keys, err := withCold.Keys(ctx, "v:chunk:")
	require.NoError(t, err)
	assert.Equal(t, []string{"v:chunk:0:0:0", "v:chunk:1:0:0"}, keys)

	redisOnly, _ := setupRedisStore(t, nil, nil)
	require.NoError(t, redisOnly.Store(ctx, "w:chunk:2:0:0", []byte("x")))
	require.NoError(t, redisOnly.Store(ctx, "w:chunk:1:0:0", []byte("x")))
	require.NoError(t, redisOnly.Store(ctx, "w*:chunk:1:0:0", []byte("x")))
	keys, err = redisOnly.Keys(ctx, "w:chunk:")
	require.NoError(t, err)
	assert.Equal(t, []string{"w:chunk:1:0:0", "w:chunk:2:0:0"}, keys)

	// Шаблонные символы в префиксе экранируются
	keys, err = redisOnly.Keys(ctx, "w*:")
	require.NoError(t, err)
	assert.Equal(t, []string{"w*:chunk:1:0:0"}, keys)

	unlisted, _ := setupRedisStore(t, blobOnlyStore{storage.NewMemoryStore()}, nil)
	_, err = unlisted.Keys(ctx, "v:chunk:")
	assert.ErrorIs(t, err, storage.ErrListingUnsupported)
}

// blobOnlyStore хранилище без перечисления ключей
type blobOnlyStore struct {
	storage.ChunkStore
}

func TestRedisStoreWriteThrough(t *testing.T) {
	ctx := context.Background()
	cold := storage.NewMemoryStore()
	inv := NewMockInvalidator()
	store, mr := setupRedisStore(t, cold, inv)

	require.NoError(t, store.Store(ctx, "v:chunk:1:2:3", []byte("new")))

	coldVal, err := cold.Load(ctx, "v:chunk:1:2:3")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), coldVal)

	hot, err := mr.Get("v:chunk:1:2:3")
	require.NoError(t, err)
	assert.Equal(t, "new", hot)
	assert.Equal(t, []string{"v:chunk:1:2:3"}, inv.GetPublished())
	assert.Equal(t, int64(1), store.GetMetrics().ColdWrites)

	require.NoError(t, store.Delete(ctx, "v:chunk:1:2:3"))
	assert.False(t, mr.Exists("v:chunk:1:2:3"))
	_, err = cold.Load(ctx, "v:chunk:1:2:3")
	assert.ErrorIs(t, err, storage.ErrChunkNotFound)
	assert.Len(t, inv.GetPublished(), 2)
}

func TestRedisStorePublishFailureDoesNotFailWrite(t *testing.T) {
	ctx := context.Background()
	inv := NewMockInvalidator()
	inv.failWith = errors.New("nats down")
	store, _ := setupRedisStore(t, storage.NewMemoryStore(), inv)

	assert.NoError(t, store.Store(ctx, "k", []byte("v")))
}

func TestRedisStoreFallsBackToColdWhenRedisIsDown(t *testing.T) {
	ctx := context.Background()
	cold := storage.NewMemoryStore()
	require.NoError(t, cold.Store(ctx, "k", []byte("cold")))

	store, mr := setupRedisStore(t, cold, nil)
	mr.Close()

	val, err := store.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("cold"), val)

	// Запись доходит до холодного хранилища даже без Redis
	require.NoError(t, store.Store(ctx, "k2", []byte("v2")))
	val, err = cold.Load(ctx, "k2")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), val)
}

func TestRedisStoreRemoteInvalidation(t *testing.T) {
	ctx := context.Background()
	inv := NewMockInvalidator()
	store, mr := setupRedisStore(t, storage.NewMemoryStore(), inv)

	require.NoError(t, mr.Set("v:chunk:0:0:1", "stale"))
	require.NoError(t, store.ListenInvalidations(ctx))
	require.NoError(t, inv.SimulateInvalidation("v:chunk:0:0:1"))

	assert.False(t, mr.Exists("v:chunk:0:0:1"))
	assert.Equal(t, int64(1), store.GetMetrics().Invalidations)

	noInv, _ := setupRedisStore(t, nil, nil)
	assert.Error(t, noInv.ListenInvalidations(ctx))
}

func TestRedisStoreClosed(t *testing.T) {
	ctx := context.Background()
	store, _ := setupRedisStore(t, nil, nil)

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, err := store.Load(ctx, "k")
	assert.ErrorIs(t, err, storage.ErrStoreClosed)
	assert.ErrorIs(t, store.Store(ctx, "k", nil), storage.ErrStoreClosed)
	assert.ErrorIs(t, store.Delete(ctx, "k"), storage.ErrStoreClosed)
}
