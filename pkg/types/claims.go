package types

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token purposes stamped by the identity provider into the token_use claim.
const (
	TokenUseID     = "id"
	TokenUseAccess = "access"
)

// PoolClaims are the claims carried by tokens issued by a user pool.
// Access tokens carry client_id/username/scope; id tokens carry the
// audience plus the cognito:-prefixed profile claims. Both shapes decode
// into this one struct.
type PoolClaims struct {
	jwt.RegisteredClaims
	TokenUse        string           `json:"token_use,omitempty"`
	ClientID        string           `json:"client_id,omitempty"`
	Username        string           `json:"username,omitempty"`
	CognitoUsername string           `json:"cognito:username,omitempty"`
	Groups          []string         `json:"cognito:groups,omitempty"`
	Scope           string           `json:"scope,omitempty"`
	EmailVerified   bool             `json:"email_verified,omitempty"`
	AuthTime        *jwt.NumericDate `json:"auth_time,omitempty"`
}

// PreferredUsername returns the username claim regardless of token purpose.
func (c *PoolClaims) PreferredUsername() string {
	if c.Username != "" {
		return c.Username
	}
	return c.CognitoUsername
}

// VerifiedToken is a token whose signature has been checked against the
// pool's published keys. Construction is reserved to the token verifier;
// claims inside are trustworthy only after claims validation on top.
type VerifiedToken struct {
	Raw            string
	SignatureValid bool
	Header         map[string]any
	Claims         *PoolClaims
}

// Principal is the validated identity attached to a request. It is built
// only from a VerifiedToken that also passed claims validation, lives for
// the duration of the request and is never persisted.
type Principal struct {
	Subject   string    `json:"sub"`
	Username  string    `json:"username,omitempty"`
	Groups    []string  `json:"groups,omitempty"`
	TokenUse  string    `json:"token_use"`
	ClientID  string    `json:"client_id,omitempty"`
	Scope     string    `json:"scope,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewPrincipal builds a Principal from validated claims.
func NewPrincipal(claims *PoolClaims) *Principal {
	p := &Principal{
		Subject:  claims.Subject,
		Username: claims.PreferredUsername(),
		Groups:   claims.Groups,
		TokenUse: claims.TokenUse,
		ClientID: claims.ClientID,
		Scope:    claims.Scope,
	}
	// id tokens carry the client identifier as their audience
	if p.ClientID == "" && len(claims.Audience) > 0 {
		p.ClientID = claims.Audience[0]
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p
}
