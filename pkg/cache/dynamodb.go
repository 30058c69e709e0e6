package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/mkonda/poolguard/pkg/types"
)

// localEntry represents an entry in the local read-through cache
type localEntry struct {
	value      *types.KeySet
	expiration time.Time
	lastAccess time.Time // For LRU eviction
}

// dynamoDBCache implements the Cache interface using DynamoDB, so multiple
// service instances can share one fetched key set per pool.
type dynamoDBCache struct {
	client       *dynamodb.Client
	tableName    string
	memCache     map[string]*localEntry // Local read-through layer
	memCacheMu   sync.RWMutex
	maxLocalSize int
	defaultTTL   time.Duration
}

type dynamoDBCacheOptions struct {
	maxLocalSize int
	defaultTTL   time.Duration
	awsConfig    aws.Config
}

// DynamoDBCacheOption is a function that configures the DynamoDB cache
type DynamoDBCacheOption func(*dynamoDBCacheOptions)

// WithDynamoDBMaxLocalSize sets the maximum size of the local read-through cache
func WithDynamoDBMaxLocalSize(size int) DynamoDBCacheOption {
	return func(o *dynamoDBCacheOptions) {
		o.maxLocalSize = size
	}
}

// WithDynamoDBDefaultTTL sets the default retention for cached key sets
func WithDynamoDBDefaultTTL(ttl time.Duration) DynamoDBCacheOption {
	return func(o *dynamoDBCacheOptions) {
		o.defaultTTL = ttl
	}
}

// WithDynamoDBAWSConfig sets a custom AWS configuration
func WithDynamoDBAWSConfig(cfg aws.Config) DynamoDBCacheOption {
	return func(o *dynamoDBCacheOptions) {
		o.awsConfig = cfg
	}
}

// NewDynamoDBCache creates a new DynamoDB cache with the given table name
func NewDynamoDBCache(tableName string, opts ...DynamoDBCacheOption) (Cache, error) {
	options := &dynamoDBCacheOptions{
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
			slog.Error("Failed to load AWS config for DynamoDB cache", "error", err.Error())
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
	}

	return &dynamoDBCache{
		client:       dynamodb.NewFromConfig(cfg),
		tableName:    tableName,
		memCache:     make(map[string]*localEntry),
		maxLocalSize: options.maxLocalSize,
		defaultTTL:   options.defaultTTL,
	}, nil
}

// Get retrieves the key set of a pool, local layer first, then DynamoDB.
func (c *dynamoDBCache) Get(pool string) (*types.KeySet, bool) {
	if ks, found := c.getFromLocalCache(pool); found {
		slog.Debug("Local key set cache hit", "pool", pool)
		return ks, true
	}

	ks, found := c.getFromDynamoDB(pool)
	if found {
		c.storeInLocalCache(pool, ks, time.Time{})
		return ks, true
	}

	return nil, false
}

func (c *dynamoDBCache) getFromLocalCache(pool string) (*types.KeySet, bool) {
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

func (c *dynamoDBCache) getFromDynamoDB(pool string) (*types.KeySet, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), Defaults.Timeout)
	defer cancel()

	input := &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]ddbtypes.AttributeValue{
			"Pool": &ddbtypes.AttributeValueMemberS{Value: pool},
		},
	}

	result, err := c.client.GetItem(ctx, input)
	if err != nil {
		slog.Error("Failed to get key set from DynamoDB",
			"pool", pool,
			"error", err.Error(),
			"table", c.tableName)
		return nil, false
	}

	if result.Item == nil {
		slog.Debug("Key set cache miss in DynamoDB", "pool", pool)
		return nil, false
	}

	valueAttr, ok := result.Item["KeySet"]
	if !ok {
		slog.Error("Invalid item format in DynamoDB - missing KeySet attribute", "pool", pool)
		return nil, false
	}

	valueStr, ok := valueAttr.(*ddbtypes.AttributeValueMemberS)
	if !ok {
		slog.Error("KeySet attribute is not a string in DynamoDB", "pool", pool)
		return nil, false
	}

	if len(valueStr.Value) > int(Defaults.MaxItemSize) {
		slog.Warn("DynamoDB key set exceeds maximum allowed size",
			"pool", pool,
			"size", len(valueStr.Value),
			"maxAllowed", Defaults.MaxItemSize)
		return nil, false
	}

	// Check retention expiry if present
	if expirationAttr, ok := result.Item["Expiration"]; ok {
		if expirationStr, ok := expirationAttr.(*ddbtypes.AttributeValueMemberS); ok {
			expiration, err := time.Parse(time.RFC3339, expirationStr.Value)
			if err == nil && time.Now().After(expiration) {
				slog.Debug("DynamoDB key set entry expired", "pool", pool)
				return nil, false
			}
		}
	}

	var ks types.KeySet
	if err := json.Unmarshal([]byte(valueStr.Value), &ks); err != nil {
		slog.Error("Failed to unmarshal key set from DynamoDB",
			"pool", pool,
			"error", err.Error())
		return nil, false
	}

	slog.Debug("DynamoDB key set cache hit", "pool", pool)
	return &ks, true
}

// Set stores a key set with the given retention window.
func (c *dynamoDBCache) Set(pool string, ks *types.KeySet, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	// Local layer first for fast access
	c.storeInLocalCache(pool, ks, time.Now().Add(ttl))

	// Then DynamoDB for cross-instance sharing
	go c.storeInDynamoDB(pool, ks, ttl)
}

func (c *dynamoDBCache) storeInLocalCache(pool string, ks *types.KeySet, expiration time.Time) {
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
func (c *dynamoDBCache) evictLRU() {
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

func (c *dynamoDBCache) storeInDynamoDB(pool string, ks *types.KeySet, ttl time.Duration) {
	valueJSON, err := json.Marshal(ks)
	if err != nil {
		slog.Error("Failed to marshal key set", "pool", pool, "error", err.Error())
		return
	}

	if len(valueJSON) > int(Defaults.MaxItemSize) {
		slog.Error("Key set too large to store in DynamoDB",
			"pool", pool,
			"size", len(valueJSON),
			"maxAllowed", Defaults.MaxItemSize)
		return
	}

	expiration := time.Now().Add(ttl).Format(time.RFC3339)
	// TTL timestamp for DynamoDB native expiry
	ttlTimestamp := time.Now().Add(ttl).Unix()

	ctx, cancel := context.WithTimeout(context.Background(), Defaults.Timeout)
	defer cancel()

	input := &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]ddbtypes.AttributeValue{
			"Pool":       &ddbtypes.AttributeValueMemberS{Value: pool},
			"KeySet":     &ddbtypes.AttributeValueMemberS{Value: string(valueJSON)},
			"Expiration": &ddbtypes.AttributeValueMemberS{Value: expiration},
			"TTL":        &ddbtypes.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttlTimestamp)},
			"FetchedAt":  &ddbtypes.AttributeValueMemberS{Value: ks.FetchedAt.Format(time.RFC3339)},
		},
	}

	if _, err := c.client.PutItem(ctx, input); err != nil {
		slog.Error("Failed to set key set in DynamoDB",
			"pool", pool,
			"error", err.Error(),
			"table", c.tableName)
		return
	}

	slog.Debug("Cached key set in DynamoDB", "pool", pool, "ttl", ttl, "size", len(valueJSON))
}
