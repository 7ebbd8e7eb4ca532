package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/pagedvolume/internal/logging"
	"github.com/annel0/pagedvolume/internal/storage"
	"github.com/go-redis/redis/v8"
)

// RedisStore реализует storage.ChunkStore: Redis как горячий слой над холодным хранилищем.
//
// Особенности:
// - Read-Through: промах в Redis читается из холодного хранилища и кладется в Redis
// - Write-Through: запись сначала в холодное хранилище, затем в Redis
// - После записи и удаления рассылается инвалидация (если задан invalidator)
// - Метрики hit ratio и latency
//
// Холодное хранилище может быть nil: тогда Redis единственное хранилище.
// Close не закрывает холодное хранилище, им владеет вызывающий.
type RedisStore struct {
	client      *redis.Client
	config      *CacheConfig
	cold        storage.ChunkStore
	invalidator ChunkInvalidator

	metrics      *CacheMetrics
	metricsMutex sync.RWMutex

	// Статистика latency
	latencySum   int64 // в наносекундах
	latencyCount int64
	maxLatency   int64

	closed int32
}

// NewRedisStore подключается к Redis и создает горячий слой.
//
// Параметры:
//
//	config - конфигурация Redis
//	cold - холодное хранилище (может быть nil)
//	invalidator - рассылка инвалидаций (может быть nil)
//
// Возвращает:
//
//	*RedisStore - готовое к использованию хранилище
//	error - ошибка подключения
func NewRedisStore(config *CacheConfig, cold storage.ChunkStore, invalidator ChunkInvalidator) (*RedisStore, error) {
	if config == nil {
		config = &CacheConfig{}
	}
	config.applyDefaults()

	rdb := redis.NewClient(&redis.Options{
		Addr:         config.RedisURL,
		Password:     config.RedisPassword,
		DB:           config.RedisDB,
		PoolSize:     config.MaxConnections,
		PoolTimeout:  config.PoolTimeout,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.Info("Redis chunk cache initialized: %s (cold storage: %v)", config.RedisURL, cold != nil)
	return NewRedisStoreWithClient(rdb, config, cold, invalidator), nil
}

// NewRedisStoreWithClient создает горячий слой поверх готового клиента
func NewRedisStoreWithClient(client *redis.Client, config *CacheConfig, cold storage.ChunkStore, invalidator ChunkInvalidator) *RedisStore {
	if config == nil {
		config = &CacheConfig{}
	}
	config.applyDefaults()

	return &RedisStore{
		client:      client,
		config:      config,
		cold:        cold,
		invalidator: invalidator,
		metrics: &CacheMetrics{
			LastUpdate: time.Now(),
		},
	}
}

// Load возвращает блоб из Redis, при промахе из холодного хранилища
func (r *RedisStore) Load(ctx context.Context, key string) ([]byte, error) {
	if atomic.LoadInt32(&r.closed) == 1 {
		return nil, storage.ErrStoreClosed
	}

	start := time.Now()
	defer r.recordLatency(start)

	atomic.AddInt64(&r.metrics.TotalRequests, 1)

	val, err := r.get(ctx, key)
	if err == nil {
		atomic.AddInt64(&r.metrics.CacheHits, 1)
		r.updateHitRatio()
		return val, nil
	}

	atomic.AddInt64(&r.metrics.CacheMisses, 1)
	r.updateHitRatio()

	if !IsCacheMiss(err) {
		// Redis недоступен: холодное хранилище остается источником истины
		logging.Error("Redis Get error for key %s: %v", key, err)
		if r.cold == nil {
			return nil, err
		}
	}

	if r.cold == nil {
		return nil, storage.ErrChunkNotFound
	}

	val, err = r.cold.Load(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrChunkNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("cold storage load error: %w", err)
	}
	atomic.AddInt64(&r.metrics.ColdLoads, 1)

	// Кладем в Redis для следующих запросов
	if err := r.client.Set(ctx, key, val, r.config.TTL).Err(); err != nil {
		logging.Warn("Failed to populate Redis for key %s: %v", key, err)
	}

	return val, nil
}

// get читает блоб только из Redis. Возвращает ErrCacheMiss при отсутствии.
func (r *RedisStore) get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get error: %w", err)
	}
	return val, nil
}

// Store записывает блоб в холодное хранилище и в Redis, затем рассылает инвалидацию
func (r *RedisStore) Store(ctx context.Context, key string, blob []byte) error {
	if atomic.LoadInt32(&r.closed) == 1 {
		return storage.ErrStoreClosed
	}

	start := time.Now()
	defer r.recordLatency(start)

	if r.cold != nil {
		if err := r.cold.Store(ctx, key, blob); err != nil {
			return fmt.Errorf("cold storage store error: %w", err)
		}
		atomic.AddInt64(&r.metrics.ColdWrites, 1)
	}

	if err := r.client.Set(ctx, key, blob, r.config.TTL).Err(); err != nil {
		logging.Error("Redis Set error for key %s: %v", key, err)
		if r.cold == nil {
			return fmt.Errorf("redis set error: %w", err)
		}
		// Данные уже в холодном хранилище; устаревшую копию в Redis убираем
		r.client.Del(ctx, key)
	}

	r.publish(ctx, key)
	return nil
}

// Delete удаляет блоб из обоих слоев.
// Копия в Redis удаляется первой: если Redis недоступен, холодное хранилище не
// трогается и ошибка возвращается, так что удаленный блоб не остается в Redis.
// После удаления из холодного хранилища копия удаляется еще раз на случай
// read-through между двумя удалениями.
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if atomic.LoadInt32(&r.closed) == 1 {
		return storage.ErrStoreClosed
	}

	start := time.Now()
	defer r.recordLatency(start)

	if err := r.client.Del(ctx, key).Err(); err != nil {
		logging.Error("Redis Delete error for key %s: %v", key, err)
		return fmt.Errorf("redis delete error: %w", err)
	}

	if r.cold != nil {
		if err := r.cold.Delete(ctx, key); err != nil {
			return fmt.Errorf("cold storage delete error: %w", err)
		}
		if err := r.client.Del(ctx, key).Err(); err != nil {
			logging.Warn("Redis Delete retry failed for key %s: %v", key, err)
		}
	}

	r.publish(ctx, key)
	return nil
}

// Keys перечисляет ключи холодного хранилища; без него ключи в Redis
func (r *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if atomic.LoadInt32(&r.closed) == 1 {
		return nil, storage.ErrStoreClosed
	}

	if r.cold != nil {
		lister, ok := r.cold.(storage.KeyLister)
		if !ok {
			return nil, storage.ErrListingUnsupported
		}
		return lister.Keys(ctx, prefix)
	}

	var keys []string
	iter := r.client.Scan(ctx, 0, globEscaper.Replace(prefix)+"*", 256).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan error: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// globEscaper экранирует спецсимволы шаблона SCAN MATCH
var globEscaper = strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`)

// Invalidate удаляет только копию в Redis (по уведомлению другого узла)
func (r *RedisStore) Invalidate(ctx context.Context, key string) error {
	atomic.AddInt64(&r.metrics.Invalidations, 1)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete error: %w", err)
	}
	return nil
}

// ListenInvalidations подписывается на инвалидации других узлов
func (r *RedisStore) ListenInvalidations(ctx context.Context) error {
	if r.invalidator == nil {
		return errors.New("invalidator is not configured")
	}
	return r.invalidator.SubscribeInvalidations(ctx, func(key string) error {
		ctx, cancel := context.WithTimeout(context.Background(), r.config.PublishTimeout)
		defer cancel()
		return r.Invalidate(ctx, key)
	})
}

// publish рассылает инвалидацию; ошибка только логируется, данные уже сохранены
func (r *RedisStore) publish(ctx context.Context, key string) {
	if r.invalidator == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.PublishTimeout)
	defer cancel()

	if err := r.invalidator.PublishInvalidation(ctx, key); err != nil {
		logging.Error("Failed to publish invalidation for key %s: %v", key, err)
	}
}

// Close закрывает соединение с Redis
func (r *RedisStore) Close() error {
	if !atomic.CompareAndSwapInt32(&r.closed, 0, 1) {
		return nil
	}

	if err := r.client.Close(); err != nil {
		logging.Error("Error closing Redis connection: %v", err)
		return err
	}

	logging.Info("Redis chunk cache closed")
	return nil
}

// GetMetrics возвращает текущие метрики кеша.
func (r *RedisStore) GetMetrics() *CacheMetrics {
	r.updateLatencyMetrics()

	r.metricsMutex.RLock()
	defer r.metricsMutex.RUnlock()

	metrics := CacheMetrics{
		TotalRequests: atomic.LoadInt64(&r.metrics.TotalRequests),
		CacheHits:     atomic.LoadInt64(&r.metrics.CacheHits),
		CacheMisses:   atomic.LoadInt64(&r.metrics.CacheMisses),
		ColdLoads:     atomic.LoadInt64(&r.metrics.ColdLoads),
		ColdWrites:    atomic.LoadInt64(&r.metrics.ColdWrites),
		Invalidations: atomic.LoadInt64(&r.metrics.Invalidations),
		HitRatio:      r.metrics.HitRatio,
		AvgLatencyMs:  r.metrics.AvgLatencyMs,
		MaxLatencyMs:  r.metrics.MaxLatencyMs,
		LastUpdate:    time.Now(),
	}
	return &metrics
}

// recordLatency записывает latency метрику.
func (r *RedisStore) recordLatency(start time.Time) {
	latency := time.Since(start).Nanoseconds()

	atomic.AddInt64(&r.latencySum, latency)
	atomic.AddInt64(&r.latencyCount, 1)

	for {
		current := atomic.LoadInt64(&r.maxLatency)
		if latency <= current || atomic.CompareAndSwapInt64(&r.maxLatency, current, latency) {
			break
		}
	}

	if atomic.LoadInt64(&r.latencyCount)%100 == 0 {
		r.updateLatencyMetrics()
	}
}

// updateLatencyMetrics обновляет метрики latency.
func (r *RedisStore) updateLatencyMetrics() {
	count := atomic.LoadInt64(&r.latencyCount)
	if count == 0 {
		return
	}

	sum := atomic.LoadInt64(&r.latencySum)
	max := atomic.LoadInt64(&r.maxLatency)

	r.metricsMutex.Lock()
	r.metrics.AvgLatencyMs = float64(sum) / float64(count) / 1e6
	r.metrics.MaxLatencyMs = float64(max) / 1e6
	r.metricsMutex.Unlock()
}

// updateHitRatio обновляет hit ratio в метриках.
func (r *RedisStore) updateHitRatio() {
	hits := atomic.LoadInt64(&r.metrics.CacheHits)
	misses := atomic.LoadInt64(&r.metrics.CacheMisses)
	total := hits + misses

	if total > 0 {
		r.metricsMutex.Lock()
		r.metrics.HitRatio = float64(hits) / float64(total)
		r.metricsMutex.Unlock()
	}
}

// Проверка соответствия интерфейсу
var (
	_ storage.ChunkStore = (*RedisStore)(nil)
	_ storage.KeyLister  = (*RedisStore)(nil)
)
