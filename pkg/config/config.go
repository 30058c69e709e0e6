package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mkonda/poolguard/pkg/utils"
	"github.com/spf13/viper"
)

var (
	once     sync.Once
	instance *Config

	// Defaults
	tokenHeader    = "x-amzn-oidc-accesstoken" // Access token header stamped by the identity-aware balancer
	identityHeader = "x-amzn-oidc-identity"    // Pre-extracted identity header (informational)
	listenAddr     = ":8000"                   // Default listen address
	logLevel       = "info"                    // Default log level
	clockSkew      = time.Minute               // Default clock skew tolerance
	fetchTimeout   = 5 * time.Second           // Default key fetch timeout
	cacheType      = "memory"                  // Default cache type
	cacheTTL       = "1h"                      // Default key set TTL
	staleGrace     = "15m"                     // Default stale-grace window after TTL
	cacheMaxLocal  = 10                        // Default max local size for memory cache
	auditFlush     = "1m"                      // Default audit log flush interval
)

// Cache holds the key set cache configuration.
type Cache struct {
	Type          string        `mapstructure:"type"`           // Cache type (e.g., "memory", "dynamodb", "s3")
	TTL           time.Duration `mapstructure:"ttl"`            // Key set freshness window (ex: "5m", "1h", "24h")
	StaleGrace    time.Duration `mapstructure:"stale_grace"`    // Window after TTL during which a stale key set may still be served on fetch failure
	MaxLocalSize  int           `mapstructure:"max_local_size"` // Maximum size of local cache (if using memory cache)
	DynamoDBTable string        `mapstructure:"dynamodb_table"` // DynamoDB table name (if using DynamoDB cache)
	S3Bucket      string        `mapstructure:"s3_bucket"`      // S3 bucket name (if using S3 cache)
	S3Prefix      string        `mapstructure:"s3_prefix"`      // S3 prefix (if using S3 cache)
}

// Audit holds the S3 audit log configuration.
type Audit struct {
	Enabled       bool          `mapstructure:"enabled"`        // Enable the S3 audit trail of authentication decisions
	S3Bucket      string        `mapstructure:"s3_bucket"`      // S3 bucket receiving audit objects
	S3Prefix      string        `mapstructure:"s3_prefix"`      // S3 key prefix for audit objects
	FlushInterval time.Duration `mapstructure:"flush_interval"` // How often buffered audit records are flushed
}

type Config struct {
	UserPoolID string `mapstructure:"user_pool_id"` // Identity pool the tokens are issued by
	Region     string `mapstructure:"region"`       // Identity provider region
	ClientID   string `mapstructure:"client_id"`    // Expected client/audience identifier
	TokenUse   string `mapstructure:"token_use"`    // Optional pin to a single token purpose ("id" or "access"); empty accepts both

	Issuer  string `mapstructure:"issuer"`   // Expected issuer URL; derived from region+pool when empty
	JWKSURL string `mapstructure:"jwks_url"` // Key set endpoint; derived from issuer when empty

	TokenHeader    string `mapstructure:"token_header"`    // Header carrying the raw token
	IdentityHeader string `mapstructure:"identity_header"` // Companion header carrying the pre-extracted identity claim

	ListenAddr string `mapstructure:"listen_addr"` // HTTP listen address
	Debug      bool   `mapstructure:"debug"`       // Expose the header debug endpoint
	LogLevel   string `mapstructure:"log_level"`   // Log level (debug, info, warn, error)

	ClockSkew    time.Duration `mapstructure:"clock_skew"`    // Tolerance applied to exp/iat checks
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"` // Upper bound on a key fetch network call

	Cache *Cache `mapstructure:"cache"` // Key set cache configuration
	Audit *Audit `mapstructure:"audit"` // Audit log configuration
}

// NewConfig initializes and returns the configuration. It ensures that the config is loaded only once.
func NewConfig() (*Config, error) {
	var err error
	once.Do(func() {
		instance = &Config{}
		err = instance.LoadConfig()
	})
	return instance, err
}

// LoadConfig attempts to load configuration from a file or uses default values if not found.
func (c *Config) LoadConfig() error {
	// Set default config file name and path (yaml, json or toml or ...)
	configName := utils.GetEnv("CONFIG_NAME", "config") // Configuration file name without extension
	configPath := utils.GetEnv("CONFIG_PATH", ".")      // Configuration file path, default to current directory

	// Set environment variable handling first
	viper.SetEnvPrefix("poolguard") // Environment variable prefix, ex: "POOLGUARD_"
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	viper.AddConfigPath("/etc/poolguard/")
	viper.AddConfigPath(configPath)
	viper.SetConfigName(configName)

	// Set default values
	viper.SetDefault("token_header", tokenHeader)
	viper.SetDefault("identity_header", identityHeader)
	viper.SetDefault("listen_addr", listenAddr)
	viper.SetDefault("log_level", logLevel)
	viper.SetDefault("clock_skew", clockSkew)
	viper.SetDefault("fetch_timeout", fetchTimeout)
	viper.SetDefault("cache.type", cacheType)
	viper.SetDefault("cache.ttl", cacheTTL)
	viper.SetDefault("cache.stale_grace", staleGrace)
	viper.SetDefault("cache.max_local_size", cacheMaxLocal)
	viper.SetDefault("audit.flush_interval", auditFlush)

	// Explicitly bind all config keys to environment variables
	// Core settings
	_ = viper.BindEnv("user_pool_id")    // POOLGUARD_USER_POOL_ID
	_ = viper.BindEnv("region")          // POOLGUARD_REGION
	_ = viper.BindEnv("client_id")       // POOLGUARD_CLIENT_ID
	_ = viper.BindEnv("token_use")       // POOLGUARD_TOKEN_USE
	_ = viper.BindEnv("issuer")          // POOLGUARD_ISSUER
	_ = viper.BindEnv("jwks_url")        // POOLGUARD_JWKS_URL
	_ = viper.BindEnv("token_header")    // POOLGUARD_TOKEN_HEADER
	_ = viper.BindEnv("identity_header") // POOLGUARD_IDENTITY_HEADER
	_ = viper.BindEnv("listen_addr")     // POOLGUARD_LISTEN_ADDR
	_ = viper.BindEnv("debug")           // POOLGUARD_DEBUG
	_ = viper.BindEnv("log_level")       // POOLGUARD_LOG_LEVEL
	_ = viper.BindEnv("clock_skew")      // POOLGUARD_CLOCK_SKEW
	_ = viper.BindEnv("fetch_timeout")   // POOLGUARD_FETCH_TIMEOUT

	// Cache settings
	_ = viper.BindEnv("cache.type")           // POOLGUARD_CACHE_TYPE
	_ = viper.BindEnv("cache.ttl")            // POOLGUARD_CACHE_TTL
	_ = viper.BindEnv("cache.stale_grace")    // POOLGUARD_CACHE_STALE_GRACE
	_ = viper.BindEnv("cache.max_local_size") // POOLGUARD_CACHE_MAX_LOCAL_SIZE
	_ = viper.BindEnv("cache.dynamodb_table") // POOLGUARD_CACHE_DYNAMODB_TABLE
	_ = viper.BindEnv("cache.s3_bucket")      // POOLGUARD_CACHE_S3_BUCKET
	_ = viper.BindEnv("cache.s3_prefix")      // POOLGUARD_CACHE_S3_PREFIX

	// Audit settings
	_ = viper.BindEnv("audit.enabled")        // POOLGUARD_AUDIT_ENABLED
	_ = viper.BindEnv("audit.s3_bucket")      // POOLGUARD_AUDIT_S3_BUCKET
	_ = viper.BindEnv("audit.s3_prefix")      // POOLGUARD_AUDIT_S3_PREFIX
	_ = viper.BindEnv("audit.flush_interval") // POOLGUARD_AUDIT_FLUSH_INTERVAL

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; rely on defaults
		} else {
			return fmt.Errorf("problem reading config file: %w", err)
		}
	}

	if err := viper.Unmarshal(c); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	c.applyEnvCompat()

	return c.Validate()
}

// applyEnvCompat honors the conventional COGNITO_* environment variables
// set by the surrounding infrastructure for any field not configured
// through the POOLGUARD_ namespace.
func (c *Config) applyEnvCompat() {
	if c.UserPoolID == "" {
		c.UserPoolID = os.Getenv("COGNITO_USER_POOL_ID")
	}
	if c.Region == "" {
		c.Region = os.Getenv("COGNITO_REGION")
	}
	if c.ClientID == "" {
		c.ClientID = os.Getenv("COGNITO_APP_CLIENT_ID")
	}
}

// Validate checks if the configuration is valid and derives the issuer and
// key set endpoint when they are not set explicitly.
func (c *Config) Validate() error {
	if c.Issuer == "" {
		if c.UserPoolID == "" || c.Region == "" {
			return errors.New("user_pool_id and region are required when issuer is not set")
		}
		c.Issuer = fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", c.Region, c.UserPoolID)
	}

	if c.JWKSURL == "" {
		c.JWKSURL = strings.TrimSuffix(c.Issuer, "/") + "/.well-known/jwks.json"
	}

	if c.UserPoolID == "" {
		// Fall back to the issuer path segment as the pool identifier
		if idx := strings.LastIndex(c.Issuer, "/"); idx >= 0 && idx+1 < len(c.Issuer) {
			c.UserPoolID = c.Issuer[idx+1:]
		}
	}

	if c.ClientID == "" {
		return errors.New("client_id is required")
	}

	switch c.TokenUse {
	case "", "id", "access":
	default:
		return fmt.Errorf("invalid token_use %q: must be \"id\" or \"access\"", c.TokenUse)
	}

	if c.TokenHeader == "" {
		return errors.New("token_header is required")
	}

	if c.ClockSkew < 0 {
		return errors.New("clock_skew must not be negative")
	}

	if c.FetchTimeout <= 0 {
		return errors.New("fetch_timeout must be positive")
	}

	if c.Cache == nil {
		c.Cache = &Cache{
			Type:         cacheType,
			TTL:          time.Hour,
			StaleGrace:   15 * time.Minute,
			MaxLocalSize: cacheMaxLocal,
		}
	}
	if c.Cache.TTL <= 0 {
		return errors.New("cache.ttl must be positive")
	}
	if c.Cache.StaleGrace < 0 {
		return errors.New("cache.stale_grace must not be negative")
	}

	if c.Audit != nil && c.Audit.Enabled {
		if c.Audit.S3Bucket == "" {
			return errors.New("audit.s3_bucket is required when audit is enabled")
		}
		if c.Audit.FlushInterval <= 0 {
			return errors.New("audit.flush_interval must be positive")
		}
	}

	return nil
}
