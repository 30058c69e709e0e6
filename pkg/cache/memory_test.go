package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkonda/poolguard/pkg/config"
	"github.com/mkonda/poolguard/pkg/types"
)

func keySet(pool string, kids ...string) *types.KeySet {
	ks := &types.KeySet{Pool: pool, FetchedAt: time.Now()}
	for _, kid := range kids {
		ks.Keys = append(ks.Keys, types.JSONWebKey{KeyID: kid, KeyType: "RSA"})
	}
	return ks
}

func TestMemoryCache_SetGet(t *testing.T) {
	c := NewMemoryCache()

	ks := keySet("pool-a", "key-1")
	c.Set("pool-a", ks, time.Minute)

	got, found := c.Get("pool-a")
	require.True(t, found)
	assert.Equal(t, ks, got)

	_, found = c.Get("pool-b")
	assert.False(t, found)
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache()

	c.Set("pool-a", keySet("pool-a", "key-1"), 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	_, found := c.Get("pool-a")
	assert.False(t, found)
}

func TestMemoryCache_ReplaceEntry(t *testing.T) {
	c := NewMemoryCache()

	c.Set("pool-a", keySet("pool-a", "key-1"), time.Minute)
	c.Set("pool-a", keySet("pool-a", "key-2"), time.Minute)

	got, found := c.Get("pool-a")
	require.True(t, found)
	require.Len(t, got.Keys, 1)
	assert.Equal(t, "key-2", got.Keys[0].KeyID)
}

func TestMemoryCache_LRUEviction(t *testing.T) {
	c := NewMemoryCache().(*memoryCache)
	c.maxSize = 2

	c.Set("pool-a", keySet("pool-a"), time.Minute)
	c.Set("pool-b", keySet("pool-b"), time.Minute)

	// Touch pool-a so pool-b becomes the LRU entry
	_, found := c.Get("pool-a")
	require.True(t, found)

	c.Set("pool-c", keySet("pool-c"), time.Minute)

	_, found = c.Get("pool-b")
	assert.False(t, found)
	_, found = c.Get("pool-a")
	assert.True(t, found)
	_, found = c.Get("pool-c")
	assert.True(t, found)
}

func TestRetentionTTL(t *testing.T) {
	assert.Equal(t, Defaults.TTL, RetentionTTL(nil))
	assert.Equal(t, Defaults.TTL, RetentionTTL(&config.Config{}))

	cfg := &config.Config{Cache: &config.Cache{TTL: time.Hour, StaleGrace: 15 * time.Minute}}
	assert.Equal(t, 75*time.Minute, RetentionTTL(cfg))
}

func TestNew_UnsupportedType(t *testing.T) {
	cfg := &config.Config{Cache: &config.Cache{Type: "redis", TTL: time.Hour}}
	c, err := New(cfg)
	assert.Error(t, err)
	assert.Nil(t, c)
}

func TestNew_DynamoDBRequiresTable(t *testing.T) {
	cfg := &config.Config{Cache: &config.Cache{Type: "dynamodb", TTL: time.Hour}}
	c, err := New(cfg)
	assert.Error(t, err)
	assert.Nil(t, c)
}

func TestNew_S3RequiresBucketAndPrefix(t *testing.T) {
	cfg := &config.Config{Cache: &config.Cache{Type: "s3", TTL: time.Hour}}
	c, err := New(cfg)
	assert.Error(t, err)
	assert.Nil(t, c)

	cfg.Cache.S3Bucket = "bucket"
	c, err = New(cfg)
	assert.Error(t, err)
	assert.Nil(t, c)
}

func TestNew_DefaultsToMemory(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)
	assert.IsType(t, &memoryCache{}, c)
}
