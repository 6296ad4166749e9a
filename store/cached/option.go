package cached

import (
	"log/slog"
	"time"
)

// Default configuration values.
const (
	DefaultKeyPrefix = "bulletin:msg:"
	DefaultTTL       = 10 * time.Minute
	DefaultScanCount = 500
)

type options struct {
	keyPrefix          string
	ttl                time.Duration
	scanCount          int64
	strictInvalidation bool
	logger             *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		keyPrefix: DefaultKeyPrefix,
		ttl:       DefaultTTL,
		scanCount: DefaultScanCount,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a cached store.
type Option func(*options)

// WithKeyPrefix sets the Redis key prefix for cached records.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.keyPrefix = prefix
		}
	}
}

// WithTTL sets how long a cached record lives.
func WithTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.ttl = d
		}
	}
}

// WithScanCount sets the SCAN batch hint used when invalidating.
func WithScanCount(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.scanCount = n
		}
	}
}

// WithStrictInvalidation makes DeleteAll fail with ErrInvalidationFailed
// when the cache cannot be cleared. The store itself is already cleared at
// that point. By default the failure is only logged.
func WithStrictInvalidation(strict bool) Option {
	return func(o *options) {
		o.strictInvalidation = strict
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
