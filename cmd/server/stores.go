package main

import (
	"context"
	"fmt"

	"github.com/annel0/pagedvolume/internal/api"
	"github.com/annel0/pagedvolume/internal/cache"
	"github.com/annel0/pagedvolume/internal/config"
	"github.com/annel0/pagedvolume/internal/logging"
	"github.com/annel0/pagedvolume/internal/metrics"
	"github.com/annel0/pagedvolume/internal/storage"
)

// storeChain хранилище блобов для пейджера и все, что нужно закрыть при остановке
type storeChain struct {
	store   storage.ChunkStore
	closers []func() error
	stats   map[string]api.StatsFunc
	redis   *cache.RedisStore
}

// buildStoreChain собирает хранилище по storage.backend:
//
//	memory - MemoryStore
//	badger - BadgerStore в storage.path
//	mysql  - MariaStore по storage.mysql_dsn
//	mongo  - MongoStore по storage.mongo_uri
//	s3     - S3Store в storage.s3.bucket
//	redis  - RedisStore над BadgerStore, с NATS инвалидацией при invalidation.enabled
func buildStoreChain(ctx context.Context, cfg *config.Config) (*storeChain, error) {
	chain := &storeChain{stats: make(map[string]api.StatsFunc)}

	switch cfg.Storage.Backend {
	case "memory":
		mem := storage.NewMemoryStore()
		chain.store = mem
		chain.closers = append(chain.closers, mem.Close)
		logging.Info("💾 Хранилище чанков в памяти (данные не переживут перезапуск)")
		return chain, nil

	case "mysql":
		maria, err := storage.NewMariaStore(cfg.Storage.MySQLDSN)
		if err != nil {
			return nil, err
		}
		chain.store = maria
		chain.closers = append(chain.closers, maria.Close)
		logging.Info("💾 MariaDB хранилище чанков")
		return chain, nil

	case "mongo":
		mongoStore, err := storage.NewMongoStore(storage.MongoConfig{
			URI:      cfg.Storage.MongoURI,
			Database: cfg.Storage.MongoDatabase,
		})
		if err != nil {
			return nil, err
		}
		chain.store = mongoStore
		chain.closers = append(chain.closers, mongoStore.Close)
		logging.Info("💾 MongoDB хранилище чанков")
		return chain, nil

	case "s3":
		s3Store, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:    cfg.Storage.S3.Bucket,
			Prefix:    cfg.Storage.S3.Prefix,
			Region:    cfg.Storage.S3.Region,
			Endpoint:  cfg.Storage.S3.Endpoint,
			AccessKey: cfg.Storage.S3.AccessKey,
			SecretKey: cfg.Storage.S3.SecretKey,
		})
		if err != nil {
			return nil, err
		}
		chain.store = s3Store
		chain.closers = append(chain.closers, s3Store.Close)
		logging.Info("💾 S3 хранилище чанков: s3://%s/%s", cfg.Storage.S3.Bucket, cfg.Storage.S3.Prefix)
		return chain, nil

	case "badger", "redis":
		badgerStore, err := storage.NewBadgerStore(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		chain.store = badgerStore
		chain.closers = append(chain.closers, badgerStore.Close)
		logging.Info("💾 BadgerDB хранилище: %s", badgerStore.Path())

		if cfg.Storage.Backend == "badger" {
			return chain, nil
		}

	default:
		return nil, fmt.Errorf("неизвестный storage.backend %q", cfg.Storage.Backend)
	}

	var invalidator cache.ChunkInvalidator
	if cfg.Invalidation.Enabled {
		natsInv, err := cache.NewNATSInvalidator(&cache.InvalidatorConfig{
			NATSURL: cfg.Invalidation.NATSURL,
			Subject: cfg.Invalidation.Subject,
		}, "")
		if err != nil {
			chain.Close()
			return nil, err
		}
		invalidator = natsInv
		// Закрывается после Redis: последние записи еще публикуют инвалидации
		chain.closers = append(chain.closers, natsInv.Close)
		chain.stats["invalidation"] = func() interface{} { return natsInv.GetMetrics() }
	}

	redisStore, err := cache.NewRedisStore(&cache.CacheConfig{
		RedisURL:       cfg.Cache.RedisURL,
		RedisPassword:  cfg.Cache.RedisPassword,
		RedisDB:        cfg.Cache.RedisDB,
		TTL:            cfg.Cache.TTL,
		MaxConnections: cfg.Cache.PoolSize,
	}, chain.store, invalidator)
	if err != nil {
		chain.Close()
		return nil, err
	}

	if invalidator != nil {
		if err := redisStore.ListenInvalidations(ctx); err != nil {
			logging.Error("Подписка на инвалидации не удалась: %v", err)
		}
	}

	chain.redis = redisStore
	chain.store = redisStore
	chain.closers = append(chain.closers, redisStore.Close)
	chain.stats["cache"] = func() interface{} { return redisStore.GetMetrics() }
	return chain, nil
}

// addSources подключает счетчики кеша к экспортеру метрик
func (c *storeChain) addSources(e *metrics.Exporter) {
	if c.redis == nil {
		return
	}
	r := c.redis
	e.AddSource("redis_cache", func() metrics.Snapshot {
		m := r.GetMetrics()
		return metrics.Snapshot{
			"hits":          m.CacheHits,
			"misses":        m.CacheMisses,
			"cold_loads":    m.ColdLoads,
			"cold_writes":   m.ColdWrites,
			"invalidations": m.Invalidations,
		}
	})
}

// Close закрывает хранилища в обратном порядке создания
func (c *storeChain) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			logging.Error("Ошибка закрытия хранилища: %v", err)
		}
	}
	c.closers = nil
}
