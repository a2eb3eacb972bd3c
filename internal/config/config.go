// Package config defines the service configuration and how it is loaded.
package config

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/recon/internal/domain/dedupe"
	"github.com/okian/recon/internal/domain/similarity"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// QueueSize bounds the in-memory submission queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of ingestion workers. More than one
	// worker lets near-simultaneous duplicates race past each other.
	WorkerCount int `koanf:"worker_count"`

	// SubmissionCacheSize bounds how many submission ids are remembered for
	// replay protection. Zero or less means unbounded.
	SubmissionCacheSize int `koanf:"submission_cache_size"`

	StoreDriver string `koanf:"store_driver"`
	PostgresURL string `koanf:"postgres_url"`
	SQLitePath  string `koanf:"sqlite_path"`

	TimeThresholdMinutes      float64 `koanf:"time_threshold_minutes"`
	SimilarityThreshold       float64 `koanf:"similarity_threshold"`
	EnableSoftDeduplication   bool    `koanf:"enable_soft_deduplication"`
	EnableIntelligentMerge    bool    `koanf:"enable_intelligent_merge"`
	TemporalWeight            float64 `koanf:"temporal_weight"`
	TextualWeight             float64 `koanf:"textual_weight"`
	DurationWeight            float64 `koanf:"duration_weight"`
	DescriptionPrefix         int     `koanf:"description_prefix"`
	ComparisonCacheTTLSeconds int     `koanf:"comparison_cache_ttl_seconds"`
	CleanupPageSize           int     `koanf:"cleanup_page_size"`

	// MaxCleanupLimit caps the limit parameter of POST /duplicates/cleanup.
	MaxCleanupLimit int `koanf:"max_cleanup_limit"`

	// KafkaBrokers enables the Kafka source when non-empty.
	KafkaBrokers []string `koanf:"kafka_brokers"`
	KafkaTopic   string   `koanf:"kafka_topic"`
	KafkaGroupID string   `koanf:"kafka_group_id"`
}

// New returns a Config holding the defaults.
func New(_ context.Context) *Config {
	d := dedupe.DefaultConfig()
	return &Config{
		LogLevel:                  "info",
		LogFormat:                 "text",
		Addr:                      ":9080",
		QueueSize:                 10_000,
		WorkerCount:               1,
		SubmissionCacheSize:       100_000,
		StoreDriver:               DriverMemory,
		SQLitePath:                "recon.db",
		TimeThresholdMinutes:      d.TimeThresholdMinutes,
		SimilarityThreshold:       d.SimilarityThreshold,
		EnableSoftDeduplication:   d.EnableSoftDeduplication,
		EnableIntelligentMerge:    d.EnableIntelligentMerge,
		TemporalWeight:            d.Weights.Temporal,
		TextualWeight:             d.Weights.Textual,
		DurationWeight:            d.Weights.Duration,
		DescriptionPrefix:         d.DescriptionPrefix,
		ComparisonCacheTTLSeconds: int(d.CacheTTL / time.Second),
		CleanupPageSize:           d.PageSize,
		MaxCleanupLimit:           10_000,
		KafkaTopic:                "activities",
		KafkaGroupID:              "recon",
	}
}

// Engine returns the dedupe engine configuration.
func (c *Config) Engine() dedupe.Config {
	return dedupe.Config{
		TimeThresholdMinutes:    c.TimeThresholdMinutes,
		SimilarityThreshold:     c.SimilarityThreshold,
		EnableSoftDeduplication: c.EnableSoftDeduplication,
		EnableIntelligentMerge:  c.EnableIntelligentMerge,
		Weights: similarity.Weights{
			Temporal: c.TemporalWeight,
			Textual:  c.TextualWeight,
			Duration: c.DurationWeight,
		},
		DescriptionPrefix: c.DescriptionPrefix,
		CacheTTL:          time.Duration(c.ComparisonCacheTTLSeconds) * time.Second,
		PageSize:          c.CleanupPageSize,
	}
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.LogFormat != "text" && c.LogFormat != "json":
		return fmt.Errorf("%w: log_format %q", ErrInvalidConfig, c.LogFormat)
	case c.QueueSize <= 0:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.WorkerCount <= 0:
		return fmt.Errorf("%w: worker_count must be positive", ErrInvalidConfig)
	case c.MaxCleanupLimit <= 0:
		return fmt.Errorf("%w: max_cleanup_limit must be positive", ErrInvalidConfig)
	}

	switch c.StoreDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.PostgresURL == "" {
			return fmt.Errorf("%w: postgres_url is required for the postgres driver", ErrInvalidConfig)
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("%w: sqlite_path is required for the sqlite driver", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store_driver %q", ErrInvalidConfig, c.StoreDriver)
	}

	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return fmt.Errorf("%w: kafka_topic is required when kafka_brokers is set", ErrInvalidConfig)
	}

	if err := c.Engine().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
