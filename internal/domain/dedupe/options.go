package dedupe

import (
	"fmt"
	"math"
	"time"

	"github.com/okian/recon/internal/domain/fingerprint"
	"github.com/okian/recon/internal/domain/similarity"
	"github.com/okian/recon/pkg/logger"
)

// Defaults.
const (
	DefaultTimeThresholdMinutes = 5.0
	DefaultSimilarityThreshold  = 0.85
	DefaultCacheTTL             = 5 * time.Minute
	DefaultPageSize             = 500
)

// Config holds the engine parameters. It is fixed for the lifetime of an
// Engine.
type Config struct {
	// TimeThresholdMinutes is the tolerance window for fuzzy matching.
	// Fractions of a minute are allowed.
	TimeThresholdMinutes float64
	// SimilarityThreshold is the minimum combined score of a fuzzy match.
	SimilarityThreshold float64
	// EnableSoftDeduplication keeps fuzzy duplicates as marked rows
	// instead of rejecting them.
	EnableSoftDeduplication bool
	// EnableIntelligentMerge folds missing fields of a duplicate into its
	// canonical record.
	EnableIntelligentMerge bool

	Weights           similarity.Weights
	DescriptionPrefix int
	// CacheTTL bounds how long text comparison results are reused. Zero
	// disables the cache.
	CacheTTL time.Duration
	// PageSize is the scan page size and the number of clusters resolved
	// between cancellation checks.
	PageSize int
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		TimeThresholdMinutes:    DefaultTimeThresholdMinutes,
		SimilarityThreshold:     DefaultSimilarityThreshold,
		EnableSoftDeduplication: true,
		EnableIntelligentMerge:  false,
		Weights:                 similarity.DefaultWeights(),
		DescriptionPrefix:       fingerprint.DefaultPrefixLength,
		CacheTTL:                DefaultCacheTTL,
		PageSize:                DefaultPageSize,
	}
}

// Validate checks every field and returns an ErrInvalidConfig error naming
// the first bad one.
func (c Config) Validate() error {
	switch {
	case math.IsNaN(c.TimeThresholdMinutes) || math.IsInf(c.TimeThresholdMinutes, 0) || c.TimeThresholdMinutes < 0:
		return fmt.Errorf("%w: time threshold %v minutes", ErrInvalidConfig, c.TimeThresholdMinutes)
	case math.IsNaN(c.SimilarityThreshold) || c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1:
		return fmt.Errorf("%w: similarity threshold %v outside [0,1]", ErrInvalidConfig, c.SimilarityThreshold)
	case !c.Weights.Valid():
		return fmt.Errorf("%w: weights %+v", ErrInvalidConfig, c.Weights)
	case c.DescriptionPrefix < 1:
		return fmt.Errorf("%w: description prefix %d", ErrInvalidConfig, c.DescriptionPrefix)
	case c.CacheTTL < 0:
		return fmt.Errorf("%w: cache ttl %s is negative", ErrInvalidConfig, c.CacheTTL)
	case c.PageSize < 1:
		return fmt.Errorf("%w: page size %d", ErrInvalidConfig, c.PageSize)
	}
	return nil
}

// Window is the fuzzy tolerance window as a duration.
func (c Config) Window() time.Duration {
	return time.Duration(c.TimeThresholdMinutes * float64(time.Minute))
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the whole configuration. Options applied after it
// still override individual fields.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithTimeThreshold sets the fuzzy tolerance window in minutes.
func WithTimeThreshold(minutes float64) Option {
	return func(e *Engine) {
		e.cfg.TimeThresholdMinutes = minutes
	}
}

// WithSimilarityThreshold sets the minimum fuzzy score.
func WithSimilarityThreshold(threshold float64) Option {
	return func(e *Engine) {
		e.cfg.SimilarityThreshold = threshold
	}
}

func WithSoftDeduplication(enabled bool) Option {
	return func(e *Engine) {
		e.cfg.EnableSoftDeduplication = enabled
	}
}

func WithIntelligentMerge(enabled bool) Option {
	return func(e *Engine) {
		e.cfg.EnableIntelligentMerge = enabled
	}
}

// WithWeights sets the factor weights of the fuzzy score.
func WithWeights(w similarity.Weights) Option {
	return func(e *Engine) {
		e.cfg.Weights = w
	}
}

// WithDescriptionPrefix sets how many description runes take part in the
// fingerprint.
func WithDescriptionPrefix(n int) Option {
	return func(e *Engine) {
		e.cfg.DescriptionPrefix = n
	}
}

// WithCacheTTL sets the comparison cache TTL. Zero disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.cfg.CacheTTL = ttl
	}
}

func WithPageSize(n int) Option {
	return func(e *Engine) {
		e.cfg.PageSize = n
	}
}
