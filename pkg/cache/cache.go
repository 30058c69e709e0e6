package cache

import (
	"fmt"
	"time"

	"github.com/mkonda/poolguard/pkg/config"
	"github.com/mkonda/poolguard/pkg/types"
)

// CacheDefaults holds all default configuration values for cache implementations
type CacheDefaults struct {
	MaxRetries   int
	Timeout      time.Duration
	TTL          time.Duration
	MaxLocalSize int

	MaxItemSize     int64 // Maximum size of a serialized key set
	S3MaxObjectSize int64
}

// Defaults provides the default configuration values for all cache implementations
var Defaults = CacheDefaults{
	MaxRetries:      3,                // Default number of retries for cache operations
	Timeout:         10 * time.Second, // Default timeout for cache operations
	TTL:             time.Hour,        // Default retention for cached key sets
	MaxLocalSize:    10,               // Default max local size for in-memory caches
	MaxItemSize:     400 * 1024,       // Below the DynamoDB 400KB item limit
	S3MaxObjectSize: 1024 * 1024,      // Maximum object size for S3 objects (1MB)
}

// Cache stores one fetched KeySet per identity pool. Implementations must
// return the stored set wholesale; entries are replaced, never mutated, so
// concurrent readers always observe a complete set.
//
// The ttl passed to Set is the retention window (freshness TTL plus the
// stale-grace period): the key provider judges freshness from the set's
// FetchedAt, while the cache only bounds how long an entry is held at all.
type Cache interface {
	Get(pool string) (*types.KeySet, bool)
	Set(pool string, ks *types.KeySet, ttl time.Duration)
}

// RetentionTTL computes how long a cached key set stays retrievable:
// the freshness window plus the stale-grace window.
func RetentionTTL(cfg *config.Config) time.Duration {
	if cfg == nil || cfg.Cache == nil || cfg.Cache.TTL <= 0 {
		return Defaults.TTL
	}
	return cfg.Cache.TTL + cfg.Cache.StaleGrace
}

// New creates a cache implementation based on the configuration
func New(cfg *config.Config) (Cache, error) {
	if cfg == nil || cfg.Cache == nil {
		return NewMemoryCache(), nil
	}

	maxLocal := cfg.Cache.MaxLocalSize
	if maxLocal <= 0 {
		maxLocal = Defaults.MaxLocalSize
	}

	cacheType := cfg.Cache.Type
	if cacheType == "" {
		cacheType = "memory"
	}

	switch cacheType {
	case "memory":
		return NewMemoryCache(), nil

	case "dynamodb":
		if cfg.Cache.DynamoDBTable == "" {
			return nil, fmt.Errorf("DynamoDB table name is required for DynamoDB cache")
		}

		return NewDynamoDBCache(
			cfg.Cache.DynamoDBTable,
			WithDynamoDBDefaultTTL(RetentionTTL(cfg)),
			WithDynamoDBMaxLocalSize(maxLocal),
		)

	case "s3":
		if cfg.Cache.S3Bucket == "" {
			return nil, fmt.Errorf("S3 bucket name is required for S3 cache")
		}
		if cfg.Cache.S3Prefix == "" {
			return nil, fmt.Errorf("S3 prefix is required for S3 cache")
		}

		return NewS3Cache(
			cfg.Cache.S3Bucket,
			cfg.Cache.S3Prefix,
			WithS3DefaultTTL(RetentionTTL(cfg)),
			WithS3MaxLocalSize(maxLocal),
		)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cacheType)
	}
}
