package validator

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/mkonda/poolguard/pkg/autherr"
	"github.com/mkonda/poolguard/pkg/config"
	"github.com/mkonda/poolguard/pkg/types"
)

// ClaimsValidator checks the semantic claims of a signature-verified
// token: issuer, token purpose, audience and the temporal claims with a
// configurable clock-skew tolerance.
type ClaimsValidator struct {
	issuer   string
	clientID string
	tokenUse string // Optional pin to a single purpose; empty accepts both
	skew     time.Duration
	now      func() time.Time
}

// ClaimsOption configures a ClaimsValidator.
type ClaimsOption func(*ClaimsValidator)

// WithClaimsClock overrides the time source. Used by tests.
func WithClaimsClock(now func() time.Time) ClaimsOption {
	return func(v *ClaimsValidator) {
		v.now = now
	}
}

// NewClaimsValidator creates a validator for the configured pool.
func NewClaimsValidator(cfg *config.Config, opts ...ClaimsOption) *ClaimsValidator {
	v := &ClaimsValidator{
		issuer:   cfg.Issuer,
		clientID: cfg.ClientID,
		tokenUse: cfg.TokenUse,
		skew:     cfg.ClockSkew,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(v)
	}

	return v
}

// Validate runs the ordered claims checks on a verified token and
// returns its claims when every check passes. The checks run strictly in
// order: issuer, purpose and audience, then the temporal claims.
func (v *ClaimsValidator) Validate(vt *types.VerifiedToken) (*types.PoolClaims, error) {
	if vt == nil || !vt.SignatureValid || vt.Claims == nil {
		// Guards the principal-construction invariant; a verified token
		// can only come out of the token verifier.
		return nil, errors.New("claims validation requires a signature-verified token")
	}

	claims := vt.Claims

	if claims.Issuer != v.issuer {
		return nil, fmt.Errorf("issuer %q, expected %q: %w", claims.Issuer, v.issuer, autherr.ErrIssuerMismatch)
	}

	if err := v.checkPurposeAndAudience(claims); err != nil {
		return nil, err
	}

	now := v.now()

	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("token carries no expiry: %w", autherr.ErrTokenExpired)
	}
	if !claims.ExpiresAt.Time.After(now.Add(-v.skew)) {
		return nil, fmt.Errorf("token expired at %s: %w", claims.ExpiresAt.Time.Format(time.RFC3339), autherr.ErrTokenExpired)
	}

	if claims.IssuedAt != nil && claims.IssuedAt.Time.After(now.Add(v.skew)) {
		return nil, fmt.Errorf("token issued in the future at %s: %w", claims.IssuedAt.Time.Format(time.RFC3339), autherr.ErrTokenExpired)
	}

	return claims, nil
}

// checkPurposeAndAudience enforces the per-purpose audience rule: an id
// token must carry the client identifier as its audience, an access
// token must carry it as its client_id claim.
func (v *ClaimsValidator) checkPurposeAndAudience(claims *types.PoolClaims) error {
	switch claims.TokenUse {
	case types.TokenUseID, types.TokenUseAccess:
	default:
		return fmt.Errorf("unrecognized token_use %q: %w", claims.TokenUse, autherr.ErrAudienceMismatch)
	}

	if v.tokenUse != "" && claims.TokenUse != v.tokenUse {
		return fmt.Errorf("token_use %q, expected %q: %w", claims.TokenUse, v.tokenUse, autherr.ErrAudienceMismatch)
	}

	switch claims.TokenUse {
	case types.TokenUseID:
		if !slices.Contains(claims.Audience, v.clientID) {
			return fmt.Errorf("audience %v does not include client %q: %w", claims.Audience, v.clientID, autherr.ErrAudienceMismatch)
		}
	case types.TokenUseAccess:
		if claims.ClientID != v.clientID {
			return fmt.Errorf("client_id %q, expected %q: %w", claims.ClientID, v.clientID, autherr.ErrAudienceMismatch)
		}
	}

	return nil
}
