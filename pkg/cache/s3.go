package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/mkonda/poolguard/pkg/types"
)

// s3Cache implements the Cache interface using an S3 bucket, sharing one
// fetched key set per pool across service instances.
type s3Cache struct {
	client       *s3.Client
	bucketName   string
	prefix       string
	memCache     map[string]*localEntry // Local read-through layer
	memCacheMu   sync.RWMutex
	maxLocalSize int
	defaultTTL   time.Duration
}

// s3CacheItem wraps the key set with retention metadata
type s3CacheItem struct {
	Value      *types.KeySet `json:"value"`
	Expiration time.Time     `json:"expiration"`
	CreatedAt  time.Time     `json:"created_at"`
}

type s3CacheOptions struct {
	maxLocalSize int
	defaultTTL   time.Duration
	awsConfig    aws.Config
}

// S3CacheOption is a function that configures the S3 cache
type S3CacheOption func(*s3CacheOptions)

// WithS3MaxLocalSize sets the maximum size of the local read-through cache
func WithS3MaxLocalSize(size int) S3CacheOption {
	return func(o *s3CacheOptions) {
		o.maxLocalSize = size
	}
}

// WithS3DefaultTTL sets the default retention for cached key sets
func WithS3DefaultTTL(ttl time.Duration) S3CacheOption {
	return func(o *s3CacheOptions) {
		o.defaultTTL = ttl
	}
}

// WithS3AWSConfig sets a custom AWS configuration
func WithS3AWSConfig(cfg aws.Config) S3CacheOption {
	return func(o *s3CacheOptions) {
		o.awsConfig = cfg
	}
}

// NewS3Cache creates a new S3 cache with the given bucket and prefix
func NewS3Cache(bucketName, prefix string, opts ...S3CacheOption) (Cache, error) {
	options := &s3CacheOptions{
		maxLocalSize: Defaults.MaxLocalSize,
		defaultTTL:   Defaults.TTL,
	}

	for _, opt := range opts {
		opt(options)
	}

	var cfg aws.Config
	var err error

	if options.awsConfig.Credentials != nil {
		cfg = options.awsConfig
	} else {
		cfg, err = awsconfig.LoadDefaultConfig(context.TODO(),
			awsconfig.WithRetryMaxAttempts(Defaults.MaxRetries),
		)
		if err != nil {
			slog.Error("Failed to load AWS config for S3 cache", "error", err.Error())
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
	}

	return &s3Cache{
		client:       s3.NewFromConfig(cfg),
		bucketName:   bucketName,
		prefix:       prefix,
		memCache:     make(map[string]*localEntry),
		maxLocalSize: options.maxLocalSize,
		defaultTTL:   options.defaultTTL,
	}, nil
}

// Get retrieves the key set of a pool, local layer first, then S3.
func (c *s3Cache) Get(pool string) (*types.KeySet, bool) {
	if ks, found := c.getFromLocalCache(pool); found {
		slog.Debug("Local key set cache hit", "pool", pool)
		return ks, true
	}

	ks, found := c.getFromS3(pool)
	if found {
		c.storeInLocalCache(pool, ks, time.Time{})
		return ks, true
	}

	return nil, false
}

func (c *s3Cache) getFromLocalCache(pool string) (*types.KeySet, bool) {
	c.memCacheMu.RLock()
	entry, found := c.memCache[pool]
	c.memCacheMu.RUnlock()

	if !found {
		return nil, false
	}

	if time.Now().After(entry.expiration) {
		c.memCacheMu.Lock()
		delete(c.memCache, pool)
		c.memCacheMu.Unlock()
		return nil, false
	}

	c.memCacheMu.Lock()
	entry.lastAccess = time.Now()
	c.memCacheMu.Unlock()

	return entry.value, true
}

func (c *s3Cache) getFromS3(pool string) (*types.KeySet, bool) {
	objectKey := c.formatKey(pool)

	ctx, cancel := context.WithTimeout(context.Background(), Defaults.Timeout)
	defer cancel()

	resp, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(objectKey),
		Range:  aws.String(fmt.Sprintf("bytes=0-%d", Defaults.S3MaxObjectSize)),
	})

	if err != nil {
		var noSuchKey *s3types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			slog.Debug("Key set cache miss in S3", "pool", pool)
			return nil, false
		}

		slog.Error("Failed to get key set from S3", "pool", pool, "error", err)
		return nil, false
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("Error closing S3 response body", "error", err)
		}
	}()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, Defaults.S3MaxObjectSize))
	if err != nil {
		slog.Error("Failed to read S3 object body", "pool", pool, "error", err)
		return nil, false
	}

	var item s3CacheItem
	if err := json.Unmarshal(bodyBytes, &item); err != nil {
		slog.Error("Failed to decode S3 cache item", "pool", pool, "error", err)
		return nil, false
	}

	if time.Now().After(item.Expiration) {
		slog.Debug("S3 key set entry expired", "pool", pool)
		// Delete the expired object asynchronously
		go c.deleteObject(objectKey)
		return nil, false
	}

	slog.Debug("S3 key set cache hit", "pool", pool)
	return item.Value, true
}

// Set stores a key set with the given retention window.
func (c *s3Cache) Set(pool string, ks *types.KeySet, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	// Local layer first for fast access
	c.storeInLocalCache(pool, ks, time.Now().Add(ttl))

	// Then S3 for cross-instance sharing
	go c.storeInS3(pool, ks, ttl)
}

func (c *s3Cache) storeInLocalCache(pool string, ks *types.KeySet, expiration time.Time) {
	c.memCacheMu.Lock()
	defer c.memCacheMu.Unlock()

	if expiration.IsZero() {
		expiration = time.Now().Add(c.defaultTTL)
	}

	if len(c.memCache) >= c.maxLocalSize {
		c.evictLRU()
	}

	c.memCache[pool] = &localEntry{
		value:      ks,
		expiration: expiration,
		lastAccess: time.Now(),
	}
}

// evictLRU removes the least recently used entry from the local cache
func (c *s3Cache) evictLRU() {
	var oldestPool string
	var oldestTime time.Time

	for p, entry := range c.memCache {
		if oldestTime.IsZero() || entry.lastAccess.Before(oldestTime) {
			oldestPool = p
			oldestTime = entry.lastAccess
		}
	}

	if oldestPool != "" {
		delete(c.memCache, oldestPool)
	}
}

func (c *s3Cache) storeInS3(pool string, ks *types.KeySet, ttl time.Duration) {
	objectKey := c.formatKey(pool)

	item := s3CacheItem{
		Value:      ks,
		Expiration: time.Now().Add(ttl),
		CreatedAt:  time.Now(),
	}

	data, err := json.Marshal(item)
	if err != nil {
		slog.Error("Failed to marshal cache item", "pool", pool, "error", err)
		return
	}

	if int64(len(data)) > Defaults.S3MaxObjectSize {
		slog.Error("Key set too large to store in S3",
			"pool", pool,
			"size", len(data),
			"maxAllowed", Defaults.S3MaxObjectSize)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), Defaults.Timeout)
	defer cancel()

	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucketName),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"Expiration": item.Expiration.Format(time.RFC3339),
			"CreatedAt":  item.CreatedAt.Format(time.RFC3339),
		},
	})

	if err != nil {
		slog.Error("Failed to put key set in S3", "pool", pool, "error", err)
		return
	}

	slog.Debug("Cached key set in S3", "pool", pool, "ttl", ttl, "size", len(data))
}

// formatKey creates a consistent S3 object key from the pool identifier
func (c *s3Cache) formatKey(pool string) string {
	if c.prefix == "" {
		return pool
	}
	return fmt.Sprintf("%s/%s", c.prefix, pool)
}

// deleteObject removes an expired object from S3
func (c *s3Cache) deleteObject(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), Defaults.Timeout)
	defer cancel()

	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	})

	if err != nil {
		slog.Error("Failed to delete expired object from S3", "key", key, "error", err)
	} else {
		slog.Debug("Deleted expired object from S3", "key", key)
	}
}
