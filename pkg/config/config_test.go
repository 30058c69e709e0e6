package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		UserPoolID:   "eu-west-1_TestPool",
		Region:       "eu-west-1",
		ClientID:     "test-client-id",
		TokenHeader:  "x-amzn-oidc-accesstoken",
		ClockSkew:    time.Minute,
		FetchTimeout: 5 * time.Second,
		Cache: &Cache{
			Type:       "memory",
			TTL:        time.Hour,
			StaleGrace: 15 * time.Minute,
		},
	}
}

func TestValidate_DerivesIssuerAndJWKSURL(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://cognito-idp.eu-west-1.amazonaws.com/eu-west-1_TestPool", cfg.Issuer)
	assert.Equal(t, "https://cognito-idp.eu-west-1.amazonaws.com/eu-west-1_TestPool/.well-known/jwks.json", cfg.JWKSURL)
}

func TestValidate_ExplicitIssuerWins(t *testing.T) {
	cfg := validConfig()
	cfg.Issuer = "https://issuer.example.com/pool-a"
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://issuer.example.com/pool-a", cfg.Issuer)
	assert.Equal(t, "https://issuer.example.com/pool-a/.well-known/jwks.json", cfg.JWKSURL)
}

func TestValidate_PoolFromIssuerPath(t *testing.T) {
	cfg := validConfig()
	cfg.UserPoolID = ""
	cfg.Issuer = "https://issuer.example.com/pool-from-path"
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "pool-from-path", cfg.UserPoolID)
}

func TestValidate_MissingPoolAndIssuer(t *testing.T) {
	cfg := validConfig()
	cfg.UserPoolID = ""
	cfg.Issuer = ""

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "user_pool_id and region")
}

func TestValidate_MissingClientID(t *testing.T) {
	cfg := validConfig()
	cfg.ClientID = ""

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "client_id")
}

func TestValidate_TokenUse(t *testing.T) {
	for _, use := range []string{"", "id", "access"} {
		cfg := validConfig()
		cfg.TokenUse = use
		assert.NoError(t, cfg.Validate(), "token_use %q should be accepted", use)
	}

	cfg := validConfig()
	cfg.TokenUse = "refresh"
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "token_use")
}

func TestValidate_NegativeClockSkew(t *testing.T) {
	cfg := validConfig()
	cfg.ClockSkew = -time.Second

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "clock_skew")
}

func TestValidate_NilCacheGetsDefaults(t *testing.T) {
	cfg := validConfig()
	cfg.Cache = nil
	require.NoError(t, cfg.Validate())

	require.NotNil(t, cfg.Cache)
	assert.Equal(t, "memory", cfg.Cache.Type)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 15*time.Minute, cfg.Cache.StaleGrace)
}

func TestValidate_AuditRequiresBucket(t *testing.T) {
	cfg := validConfig()
	cfg.Audit = &Audit{Enabled: true, FlushInterval: time.Minute}

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "audit.s3_bucket")

	cfg.Audit.S3Bucket = "audit-bucket"
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_EnvOverridesAndCompat(t *testing.T) {
	t.Setenv("POOLGUARD_CLIENT_ID", "env-client")
	t.Setenv("POOLGUARD_LISTEN_ADDR", ":9000")
	t.Setenv("COGNITO_USER_POOL_ID", "eu-west-1_EnvPool")
	t.Setenv("COGNITO_REGION", "eu-west-1")

	cfg := &Config{}
	require.NoError(t, cfg.LoadConfig())

	assert.Equal(t, "env-client", cfg.ClientID)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, "eu-west-1_EnvPool", cfg.UserPoolID)
	assert.Equal(t, "https://cognito-idp.eu-west-1.amazonaws.com/eu-west-1_EnvPool", cfg.Issuer)

	// Defaults fill everything not overridden
	assert.Equal(t, "x-amzn-oidc-accesstoken", cfg.TokenHeader)
	assert.Equal(t, time.Minute, cfg.ClockSkew)
	assert.Equal(t, "memory", cfg.Cache.Type)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 15*time.Minute, cfg.Cache.StaleGrace)
}
