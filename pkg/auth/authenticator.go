// Package auth runs the per-request authentication pipeline: extract the
// forwarded token from the designated header, verify its signature,
// validate its claims and attach the resulting Principal to the request
// context. The pipeline trusts nothing about the upstream proxy hop
// beyond "forward, never strip, never fabricate".
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mkonda/poolguard/pkg/auditlog"
	"github.com/mkonda/poolguard/pkg/autherr"
	"github.com/mkonda/poolguard/pkg/config"
	"github.com/mkonda/poolguard/pkg/types"
	"github.com/mkonda/poolguard/pkg/utils"
)

// MaxTokenLength is the maximum accepted length for a forwarded token.
const MaxTokenLength = 16384 // 16KB

// Verifier checks a raw token's signature.
type Verifier interface {
	Verify(ctx context.Context, raw string) (*types.VerifiedToken, error)
}

// ClaimsChecker validates the claims of a signature-verified token.
type ClaimsChecker interface {
	Validate(vt *types.VerifiedToken) (*types.PoolClaims, error)
}

// Authenticator orchestrates token extraction, signature verification and
// claims validation for incoming requests.
type Authenticator struct {
	tokenHeader    string
	identityHeader string
	verifier       Verifier
	claims         ClaimsChecker
	trail          auditlog.Trail
}

// NewAuthenticator builds the pipeline from its two validation stages.
func NewAuthenticator(cfg *config.Config, verifier Verifier, claims ClaimsChecker) *Authenticator {
	return &Authenticator{
		tokenHeader:    cfg.TokenHeader,
		identityHeader: cfg.IdentityHeader,
		verifier:       verifier,
		claims:         claims,
	}
}

// WithAuditTrail attaches a decision trail. Every middleware allow and
// deny is recorded to it.
func (a *Authenticator) WithAuditTrail(t auditlog.Trail) *Authenticator {
	a.trail = t
	return a
}

// Authenticate extracts the token from the request headers and runs it
// through both validation stages. Every failure wraps exactly one of the
// autherr kinds.
func (a *Authenticator) Authenticate(ctx context.Context, headers http.Header) (*types.Principal, error) {
	raw := headers.Get(a.tokenHeader)
	if raw == "" {
		// The balancer header is authoritative; a bearer Authorization
		// header is accepted as fallback for direct callers.
		raw = utils.BearerToken(headers.Get("Authorization"))
	}

	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("header %q absent or empty: %w", a.tokenHeader, autherr.ErrHeaderMissing)
	}

	if len(raw) > MaxTokenLength {
		return nil, fmt.Errorf("token exceeds %d bytes: %w", MaxTokenLength, autherr.ErrMalformedToken)
	}

	vt, err := a.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}

	claims, err := a.claims.Validate(vt)
	if err != nil {
		return nil, err
	}

	principal := types.NewPrincipal(claims)

	// The companion identity header is forwarded on trust; only the
	// verified claims are authoritative, so a mismatch is surfaced to
	// the logs and nothing else.
	if id := headers.Get(a.identityHeader); id != "" && id != principal.Subject {
		slog.Warn("Forwarded identity header disagrees with verified subject",
			"header", a.identityHeader,
			"forwarded", utils.TruncateString(id, 64),
			"subject", principal.Subject)
	}

	return principal, nil
}
