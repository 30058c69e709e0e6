package utils

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("POOLGUARD_TEST_KEY", "value")
	assert.Equal(t, "value", GetEnv("POOLGUARD_TEST_KEY", "fallback"))
	assert.Equal(t, "fallback", GetEnv("POOLGUARD_TEST_MISSING", "fallback"))
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"WARN":  slog.LevelWarn,
		"Error": slog.LevelError,
	}
	for input, want := range cases {
		got, err := ParseLogLevel(input)
		assert.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseLogLevel("verbose")
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc.def.ghi", BearerToken("Bearer abc.def.ghi"))
	assert.Equal(t, "abc.def.ghi", BearerToken("bearer abc.def.ghi"))
	assert.Equal(t, "", BearerToken("Basic dXNlcjpwYXNz"))
	assert.Equal(t, "", BearerToken("Bearer"))
	assert.Equal(t, "", BearerToken(""))
}

func TestRedactToken(t *testing.T) {
	token := "eyJhbGciOiJSUzI1NiJ9.payload.signature"
	redacted := RedactToken(token, 4, 4)
	assert.NotEqual(t, token, redacted)
	assert.Contains(t, redacted, "eyJh")
	assert.Contains(t, redacted, "ture")

	// Short tokens are fully redacted
	assert.NotContains(t, RedactToken("short", 4, 4), "short")
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "hello", TruncateString("hello", 10))
	assert.Len(t, TruncateString("hello world", 8), 8)
}
