// Package config loads the engine's configuration from a YAML file with
// environment-variable overrides, following the pattern used across the
// corpus: a typed struct decoded with gopkg.in/yaml.v3, then a small pass of
// getenv-default overrides for values that are usually supplied by the
// deployment environment rather than checked into a config file.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rowforge/rowforge/internal/util"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Spool    SpoolConfig    `yaml:"spool"`
	Redis    RedisConfig    `yaml:"redis"`
	Engine   EngineConfig   `yaml:"engine"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Addr   string `yaml:"addr"`
	APIKey string `yaml:"api_key"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type SpoolConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// EngineConfig carries the defaults for the configurable options enumerated
// in the specification: a job request may override any of these, but these
// are what a job gets when it doesn't.
type EngineConfig struct {
	ChunkSizeBytes             int64 `yaml:"chunk_size_bytes"`
	MaxParallelChunks          int   `yaml:"max_parallel_chunks"`
	EnableDeduplication        bool  `yaml:"enable_deduplication"`
	ReprocessFailures          bool  `yaml:"reprocess_failures"`
	BatchSize                  int64 `yaml:"batch_size"`
	BoundaryScanWindowBytes    int64 `yaml:"boundary_scan_window_bytes"`
	AnalysisSampleBytes        int64 `yaml:"analysis_sample_bytes"`
	ProgressFlushEveryNBatches int64 `yaml:"progress_flush_every_n_batches"`
}

type LoggingConfig struct {
	Format string `yaml:"format"` // "json" | "text"
	Level  string `yaml:"level"`  // "debug" | "info" | "warn" | "error"
}

// Default returns the configuration defaults from the specification's
// "Configurable options" table.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080"},
		Engine: EngineConfig{
			ChunkSizeBytes:             100 * 1024 * 1024,
			MaxParallelChunks:          10,
			EnableDeduplication:        true,
			ReprocessFailures:          true,
			BatchSize:                  1000,
			BoundaryScanWindowBytes:    1024,
			AnalysisSampleBytes:        1024 * 1024,
			ProgressFlushEveryNBatches: 10,
		},
		Logging: LoggingConfig{Format: "text", Level: "info"},
	}
}

// Load reads a YAML file into the defaults, then applies environment
// overrides for the fields most commonly supplied by the deployment
// environment (DSNs, secrets, bind address).
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Server.Addr = getenvDefault("ROWFORGE_ADDR", cfg.Server.Addr)
	cfg.Server.APIKey = getenvDefault("ROWFORGE_API_KEY", cfg.Server.APIKey)
	cfg.Postgres.DSN = getenvDefault("ROWFORGE_POSTGRES_DSN", cfg.Postgres.DSN)
	cfg.Spool.SQLitePath = getenvDefault("ROWFORGE_SPOOL_PATH", cfg.Spool.SQLitePath)
	cfg.Redis.Addr = getenvDefault("ROWFORGE_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Logging.Format = getenvDefault("ROWFORGE_LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.Level = getenvDefault("ROWFORGE_LOG_LEVEL", cfg.Logging.Level)

	if v := os.Getenv("ROWFORGE_MAX_PARALLEL_CHUNKS"); v != "" {
		if n, err := util.Atoi(v); err == nil {
			cfg.Engine.MaxParallelChunks = int(n)
		}
	}
	if v := os.Getenv("ROWFORGE_CHUNK_SIZE_BYTES"); v != "" {
		if n, err := util.Atoi(v); err == nil {
			cfg.Engine.ChunkSizeBytes = n
		}
	}
}

func getenvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
