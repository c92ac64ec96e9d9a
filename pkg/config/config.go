// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Storage, Kafka, Redis, Index, Query, Compaction,
// Benchmark, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	Index      IndexConfig      `yaml:"index"`
	Query      QueryConfig      `yaml:"query"`
	Compaction CompactionConfig `yaml:"compaction"`
	Benchmark  BenchmarkConfig  `yaml:"benchmark"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings for the search service.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// StorageConfig selects and configures the statistics store backend.
// Driver is "sqlite" (embedded, default) or "postgres".
type StorageConfig struct {
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds the embedded database location and tuning knobs.
type SQLiteConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busyTimeout"`
	CacheKB     int           `yaml:"cacheKb"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds broker addresses and the mutation-feed topic.
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	ConsumerGroup string   `yaml:"consumerGroup"`
	MutationTopic string   `yaml:"mutationTopic"`
}

// RedisConfig holds Redis connection and query-cache parameters.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"poolSize"`
	MinIdleConns int           `yaml:"minIdleConns"`
	CacheTTL     time.Duration `yaml:"cacheTTL"`
}

// IndexConfig controls the builder and document intake limits.
type IndexConfig struct {
	BuildBatchSize   int `yaml:"buildBatchSize"`
	MaxContentLength int `yaml:"maxContentLength"`
}

// QueryConfig controls query execution limits and defaults.
type QueryConfig struct {
	DefaultLimit int    `yaml:"defaultLimit"`
	MaxResults   int    `yaml:"maxResults"`
	DefaultMode  string `yaml:"defaultMode"`
}

// CompactionConfig controls the tombstone reclamation policy. Threshold is
// the fraction of catalog rows that may be tombstoned before MaybeCompact
// fires; Auto enables the background check loop.
type CompactionConfig struct {
	Threshold      float64       `yaml:"threshold"`
	Auto           bool          `yaml:"auto"`
	CheckInterval  time.Duration `yaml:"checkInterval"`
	ReclaimTimeout time.Duration `yaml:"reclaimTimeout"`
}

// BenchmarkConfig holds the deletion-load benchmark parameters.
type BenchmarkConfig struct {
	Rounds        int     `yaml:"rounds"`
	QueryBatch    int     `yaml:"queryBatch"`
	DeleteBatch   int     `yaml:"deleteBatch"`
	Cursor        string  `yaml:"cursor"`
	Seed          int64   `yaml:"seed"`
	CheckpointPct float64 `yaml:"checkpointPct"`
	MaxQueryTerms int     `yaml:"maxQueryTerms"`
	TopK          int     `yaml:"topK"`
	Mode          string  `yaml:"mode"`
	OutputDir     string  `yaml:"outputDir"`
	QueryFile     string  `yaml:"queryFile"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// defaultConfig returns a Config with defaults suitable for local
// development: embedded sqlite storage, caching and the feed disabled until
// their backends are reachable.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path:        "data/index.db",
				BusyTimeout: 5 * time.Second,
				CacheKB:     65536,
			},
			Postgres: PostgresConfig{
				Host:            "localhost",
				Port:            5432,
				Database:        "searchindex",
				User:            "searchindex",
				Password:        "localdev",
				SSLMode:         "disable",
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "searchindex-group",
			MutationTopic: "index-mutations",
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			Password:     "",
			DB:           0,
			PoolSize:     10,
			MinIdleConns: 2,
			CacheTTL:     60 * time.Second,
		},
		Index: IndexConfig{
			BuildBatchSize:   500,
			MaxContentLength: 1048576,
		},
		Query: QueryConfig{
			DefaultLimit: 10,
			MaxResults:   100,
			DefaultMode:  "or",
		},
		Compaction: CompactionConfig{
			Threshold:      0.3,
			Auto:           false,
			CheckInterval:  30 * time.Second,
			ReclaimTimeout: 2 * time.Minute,
		},
		Benchmark: BenchmarkConfig{
			Rounds:        10,
			QueryBatch:    20,
			DeleteBatch:   100,
			Cursor:        "sequential",
			Seed:          42,
			CheckpointPct: 0,
			MaxQueryTerms: 3,
			TopK:          10,
			Mode:          "or",
			OutputDir:     "results",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads ISE_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ISE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ISE_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("ISE_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLite.Path = v
	}
	if v := os.Getenv("ISE_POSTGRES_HOST"); v != "" {
		cfg.Storage.Postgres.Host = v
	}
	if v := os.Getenv("ISE_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Storage.Postgres.Port = port
		}
	}
	if v := os.Getenv("ISE_POSTGRES_DATABASE"); v != "" {
		cfg.Storage.Postgres.Database = v
	}
	if v := os.Getenv("ISE_POSTGRES_USER"); v != "" {
		cfg.Storage.Postgres.User = v
	}
	if v := os.Getenv("ISE_POSTGRES_PASSWORD"); v != "" {
		cfg.Storage.Postgres.Password = v
	}
	if v := os.Getenv("ISE_POSTGRES_SSLMODE"); v != "" {
		cfg.Storage.Postgres.SSLMode = v
	}
	if v := os.Getenv("ISE_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("ISE_KAFKA_MUTATION_TOPIC"); v != "" {
		cfg.Kafka.MutationTopic = v
	}
	if v := os.Getenv("ISE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("ISE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("ISE_COMPACTION_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Compaction.Threshold = f
		}
	}
	if v := os.Getenv("ISE_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ISE_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("ISE_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
