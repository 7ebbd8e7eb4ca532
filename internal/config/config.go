package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации сервера объема.
// Нулевые значения полей заменяются значениями по умолчанию в Default()/applyDefaults.
type Config struct {
	Volume       VolumeConfig       `yaml:"volume"`
	Storage      StorageConfig      `yaml:"storage"`
	Cache        CacheConfig        `yaml:"cache"`
	Invalidation InvalidationConfig `yaml:"invalidation"`
	Generator    GeneratorConfig    `yaml:"generator"`
	Server       ServerConfig       `yaml:"server"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// VolumeConfig параметры кеша чанков
type VolumeConfig struct {
	TargetMemoryMB  uint64 `yaml:"target_memory_mb"`
	ChunkSideLength uint16 `yaml:"chunk_side_length"`
	TableCapacity   int    `yaml:"table_capacity"`
}

// TargetMemoryBytes бюджет памяти в байтах
func (v VolumeConfig) TargetMemoryBytes() uint64 {
	return v.TargetMemoryMB << 20
}

// StorageConfig хранилище блобов чанков
type StorageConfig struct {
	Backend          string        `yaml:"backend"` // memory | badger | redis | mysql | mongo | s3
	Path             string        `yaml:"path"`
	MySQLDSN         string        `yaml:"mysql_dsn"`
	MongoURI         string        `yaml:"mongo_uri"`
	MongoDatabase    string        `yaml:"mongo_database"`
	S3               S3Config      `yaml:"s3"`
	Namespace        string        `yaml:"namespace"`
	Layout           string        `yaml:"layout"` // morton | linear
	OperationTimeout time.Duration `yaml:"operation_timeout"`
}

// S3Config объектное хранилище (AWS, MinIO, Localstack)
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// CacheConfig горячий слой Redis (используется при backend: redis)
type CacheConfig struct {
	RedisURL      string        `yaml:"redis_url"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
	PoolSize      int           `yaml:"pool_size"`
}

// InvalidationConfig рассылка инвалидаций через NATS
type InvalidationConfig struct {
	Enabled bool   `yaml:"enabled"`
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// GeneratorConfig процедурный пейджер для чанков, которых нет в хранилище
type GeneratorConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Seed      int64   `yaml:"seed"`
	SeaLevel  int32   `yaml:"sea_level"`
	Amplitude float64 `yaml:"amplitude"`
}

// ServerConfig порты и доступ к REST API
type ServerConfig struct {
	RESTPort    int           `yaml:"rest_port"`
	MetricsPort int           `yaml:"metrics_port"`
	JWTSecret   string        `yaml:"jwt_secret"` // пусто - из PAGEDVOLUME_JWT_SECRET; нет и там - без токенов
	TokenTTL    time.Duration `yaml:"token_ttl"`

	// MaxPrefetchChunks потолок чанков на один POST /api/prefetch; 0 - лимит объема
	MaxPrefetchChunks int `yaml:"max_prefetch_chunks"`
}

// TelemetryConfig трассировка OpenTelemetry
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Endpoint    string  `yaml:"endpoint"` // host:port OTLP HTTP; пусто - из OTEL_EXPORTER_OTLP_ENDPOINT или localhost:4318
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// LoggingConfig уровни и директория логов
type LoggingConfig struct {
	Dir          string `yaml:"dir"`
	ConsoleLevel string `yaml:"console_level"`
	FileLevel    string `yaml:"file_level"`
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "PAGEDVOLUME_REST_PORT", 8088)
}

// GetMetricsPort возвращает порт метрик с поддержкой fallback значений.
// 0 после fallback означает, что метрики отдает REST сервер на /metrics.
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "PAGEDVOLUME_METRICS_PORT", 0)
}

// GetJWTSecret возвращает секрет токенов: config -> env -> пусто
func (s *ServerConfig) GetJWTSecret() string {
	if s.JWTSecret != "" {
		return s.JWTSecret
	}
	return os.Getenv("PAGEDVOLUME_JWT_SECRET")
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// Default конфигурация по умолчанию: 64 МБ, чанки 32^3, хранилище в памяти
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Generator.Enabled = true
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Volume.TargetMemoryMB == 0 {
		c.Volume.TargetMemoryMB = 64
	}
	if c.Volume.ChunkSideLength == 0 {
		c.Volume.ChunkSideLength = 32
	}
	if c.Volume.TableCapacity == 0 {
		c.Volume.TableCapacity = 1 << 16
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data/volume"
	}
	if c.Storage.Namespace == "" {
		c.Storage.Namespace = "volume"
	}
	if c.Storage.Layout == "" {
		c.Storage.Layout = "morton"
	}
	if c.Storage.OperationTimeout == 0 {
		c.Storage.OperationTimeout = 5 * time.Second
	}
	if c.Cache.RedisURL == "" {
		c.Cache.RedisURL = "localhost:6379"
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = 30 * time.Minute
	}
	if c.Cache.PoolSize == 0 {
		c.Cache.PoolSize = 10
	}
	if c.Invalidation.NATSURL == "" {
		c.Invalidation.NATSURL = "nats://localhost:4222"
	}
	if c.Invalidation.Subject == "" {
		c.Invalidation.Subject = "volume.chunks.invalidate"
	}
	if c.Generator.Amplitude == 0 {
		c.Generator.Amplitude = 24
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "pagedvolume"
	}
	if c.Telemetry.SampleRatio == 0 {
		c.Telemetry.SampleRatio = 1
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
	if c.Logging.ConsoleLevel == "" {
		c.Logging.ConsoleLevel = "info"
	}
	if c.Logging.FileLevel == "" {
		c.Logging.FileLevel = "debug"
	}
}

// Validate проверяет значения, которые нельзя исправить значениями по умолчанию
func (c *Config) Validate() error {
	var errs []error

	side := c.Volume.ChunkSideLength
	if side == 0 || side > 256 || side&(side-1) != 0 {
		errs = append(errs, fmt.Errorf("volume.chunk_side_length: %d не является степенью двойки от 1 до 256", side))
	}
	if c.Volume.TargetMemoryMB < 1 {
		errs = append(errs, errors.New("volume.target_memory_mb: нужно не меньше 1 МБ"))
	}
	switch c.Storage.Backend {
	case "memory", "badger", "redis", "mongo":
	case "s3":
		if c.Storage.S3.Bucket == "" {
			errs = append(errs, errors.New("storage.s3.bucket: обязателен для backend s3"))
		}
	case "mysql":
		if c.Storage.MySQLDSN == "" {
			errs = append(errs, errors.New("storage.mysql_dsn: обязателен для backend mysql"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend: неизвестный тип %q", c.Storage.Backend))
	}
	switch c.Storage.Layout {
	case "morton", "linear":
	default:
		errs = append(errs, fmt.Errorf("storage.layout: неизвестный порядок %q", c.Storage.Layout))
	}
	if c.Storage.OperationTimeout < 0 {
		errs = append(errs, errors.New("storage.operation_timeout: отрицательное значение"))
	}
	if c.Server.MaxPrefetchChunks < 0 {
		errs = append(errs, errors.New("server.max_prefetch_chunks: отрицательное значение"))
	}
	if secret := c.Server.GetJWTSecret(); secret != "" && len(secret) < 16 {
		errs = append(errs, errors.New("server.jwt_secret: нужно не меньше 16 символов"))
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_ratio: %v вне диапазона [0, 1]", c.Telemetry.SampleRatio))
	}

	return errors.Join(errs...)
}

// Load читает YAML файл конфигурации.
// Если path == "", пытается прочитать из ENV PAGEDVOLUME_CONFIG или возвращает Default().
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("PAGEDVOLUME_CONFIG")
		if path == "" {
			return Default(), nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать конфигурацию %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("не удалось разобрать конфигурацию %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
