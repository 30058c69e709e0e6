package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mkonda/poolguard/pkg/auth"
	"github.com/mkonda/poolguard/pkg/config"
	"github.com/mkonda/poolguard/pkg/server"
	"github.com/mkonda/poolguard/pkg/types"
)

type stubVerifier struct {
	mock.Mock
}

func (m *stubVerifier) Verify(ctx context.Context, raw string) (*types.VerifiedToken, error) {
	args := m.Called(ctx, raw)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.VerifiedToken), args.Error(1)
}

type stubClaimsChecker struct {
	mock.Mock
}

func (m *stubClaimsChecker) Validate(vt *types.VerifiedToken) (*types.PoolClaims, error) {
	args := m.Called(vt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.PoolClaims), args.Error(1)
}

func serverConfig(debug bool) *config.Config {
	return &config.Config{
		TokenHeader:    "x-amzn-oidc-accesstoken",
		IdentityHeader: "x-amzn-oidc-identity",
		ListenAddr:     ":0",
		Debug:          debug,
	}
}

func stubMetricsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// testServer builds the full router with an always-allowing verifier for
// the given raw token.
func testServer(t *testing.T, debug bool, raw string) http.Handler {
	t.Helper()

	claims := &types.PoolClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-subject-1234",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TokenUse: types.TokenUseAccess,
		ClientID: "client-1",
		Username: "testuser",
		Groups:   []string{"developers"},
	}
	vt := &types.VerifiedToken{Raw: raw, SignatureValid: true, Claims: claims}

	verifier := new(stubVerifier)
	verifier.On("Verify", mock.Anything, raw).Return(vt, nil)

	checker := new(stubClaimsChecker)
	checker.On("Validate", vt).Return(claims, nil)

	cfg := serverConfig(debug)
	authenticator := auth.NewAuthenticator(cfg, verifier, checker)
	return server.Handler(cfg, authenticator, stubMetricsHandler())
}

func TestHealthz(t *testing.T) {
	handler := testServer(t, false, "token")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body, "version")
}

func TestMetricsRoute(t *testing.T) {
	handler := testServer(t, false, "token")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProtectedRoutes_RequireToken(t *testing.T) {
	handler := testServer(t, false, "token")

	for _, path := range []string{"/users/me", "/protected-resource"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code, "path %s", path)
		assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
	}
}

func TestWhoAmI(t *testing.T) {
	handler := testServer(t, false, "token")

	req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	req.Header.Set("x-amzn-oidc-accesstoken", "token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var principal types.Principal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &principal))
	assert.Equal(t, "user-subject-1234", principal.Subject)
	assert.Equal(t, "testuser", principal.Username)
}

func TestProtectedResource(t *testing.T) {
	handler := testServer(t, false, "token")

	req := httptest.NewRequest(http.MethodGet, "/protected-resource", nil)
	req.Header.Set("x-amzn-oidc-accesstoken", "token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "access granted", body["message"])
	assert.Equal(t, "user-subject-1234", body["subject"])
}

func TestDebugHeaders_GatedByConfig(t *testing.T) {
	withDebug := testServer(t, true, "token")
	withoutDebug := testServer(t, false, "token")

	req := httptest.NewRequest(http.MethodGet, "/debug/headers", nil)
	req.Header.Set("X-Test-Header", "hello")

	rec := httptest.NewRecorder()
	withDebug.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var headers map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &headers))
	assert.Equal(t, "hello", headers["X-Test-Header"])

	rec = httptest.NewRecorder()
	withoutDebug.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
