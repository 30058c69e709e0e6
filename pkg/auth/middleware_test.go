package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mkonda/poolguard/pkg/auth"
	"github.com/mkonda/poolguard/pkg/autherr"
	"github.com/mkonda/poolguard/pkg/types"
)

func TestMiddleware_RejectsWithoutToken(t *testing.T) {
	authenticator := auth.NewAuthenticator(testConfig(), new(MockVerifier), new(MockClaimsChecker))

	handler := authenticator.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run for an unauthenticated request")
	}))

	req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, map[string]string{"error": "unauthorized"}, body)
}

func TestMiddleware_GenericBodyForEveryFailureKind(t *testing.T) {
	// The response body must not leak which validation stage failed
	raw := "header.payload.signature"

	failures := []error{
		autherr.ErrSignatureInvalid,
		autherr.ErrUnknownKeyID,
		autherr.ErrKeyFetchFailure,
		autherr.ErrMalformedToken,
	}

	var bodies []string
	for _, failure := range failures {
		mockVerifier := new(MockVerifier)
		mockVerifier.On("Verify", mock.Anything, raw).Return(nil, failure)

		authenticator := auth.NewAuthenticator(testConfig(), mockVerifier, new(MockClaimsChecker))
		handler := authenticator.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

		req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
		req.Header.Set(tokenHeader, raw)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		bodies = append(bodies, rec.Body.String())
	}

	for _, body := range bodies[1:] {
		assert.Equal(t, bodies[0], body)
	}
}

func TestMiddleware_AttachesPrincipal(t *testing.T) {
	raw := "header.payload.signature"
	vt := &types.VerifiedToken{Raw: raw, SignatureValid: true, Claims: testClaims()}

	mockVerifier := new(MockVerifier)
	mockVerifier.On("Verify", mock.Anything, raw).Return(vt, nil)

	mockClaims := new(MockClaimsChecker)
	mockClaims.On("Validate", vt).Return(vt.Claims, nil)

	authenticator := auth.NewAuthenticator(testConfig(), mockVerifier, mockClaims)

	var seen *types.Principal
	handler := authenticator.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.PrincipalFromContext(r.Context())
		require.True(t, ok)
		seen = p
	}))

	req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	req.Header.Set(tokenHeader, raw)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "user-subject-1234", seen.Subject)
}

func TestMiddleware_SkipsWhenAlreadyAuthenticated(t *testing.T) {
	mockVerifier := new(MockVerifier)
	authenticator := auth.NewAuthenticator(testConfig(), mockVerifier, new(MockClaimsChecker))

	handlerRan := false
	handler := authenticator.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerRan = true
	}))

	principal := &types.Principal{Subject: "user-subject-1234"}
	req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	req = req.WithContext(auth.WithPrincipal(req.Context(), principal))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.True(t, handlerRan)
	mockVerifier.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything)
}

func TestPrincipalFromContext_Empty(t *testing.T) {
	p, ok := auth.PrincipalFromContext(context.Background())
	assert.False(t, ok)
	assert.Nil(t, p)
}
