// Package autherr defines the authentication error kinds shared by the
// key provider, token verifier, claims validator and request pipeline.
// Every kind maps to an unauthorized response with a generic message; the
// kind itself is only surfaced to logs and metrics.
package autherr

import "errors"

var (
	// ErrHeaderMissing is returned when the designated identity header is
	// absent or empty on the incoming request.
	ErrHeaderMissing = errors.New("identity header missing")

	// ErrMalformedToken is returned when the token does not parse as a
	// compact JWT, or declares an algorithm outside the allow-list.
	ErrMalformedToken = errors.New("malformed token")

	// ErrUnknownKeyID is returned when no published key matches the
	// token's kid, even after a key set refresh.
	ErrUnknownKeyID = errors.New("unknown key id")

	// ErrSignatureInvalid is returned when the token signature does not
	// verify against the resolved public key.
	ErrSignatureInvalid = errors.New("token signature invalid")

	// ErrIssuerMismatch is returned when the issuer claim differs from the
	// configured pool issuer.
	ErrIssuerMismatch = errors.New("issuer mismatch")

	// ErrAudienceMismatch is returned when the token purpose is not
	// recognized or the audience/client-id claim does not carry the
	// configured client identifier.
	ErrAudienceMismatch = errors.New("audience mismatch")

	// ErrTokenExpired is returned when a temporal claim fails: the token
	// is past its expiry, or issued implausibly far in the future.
	ErrTokenExpired = errors.New("token expired")

	// ErrKeyFetchFailure is returned when the key set cannot be fetched
	// and no cached set within the stale-grace window exists.
	ErrKeyFetchFailure = errors.New("key fetch failure")
)

// Kind returns the stable observability label for an authentication
// error. Unrecognized errors report as "internal".
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrHeaderMissing):
		return "header_missing"
	case errors.Is(err, ErrMalformedToken):
		return "malformed_token"
	case errors.Is(err, ErrUnknownKeyID):
		return "unknown_key_id"
	case errors.Is(err, ErrSignatureInvalid):
		return "signature_invalid"
	case errors.Is(err, ErrIssuerMismatch):
		return "issuer_mismatch"
	case errors.Is(err, ErrAudienceMismatch):
		return "audience_mismatch"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrKeyFetchFailure):
		return "key_fetch_failure"
	default:
		return "internal"
	}
}
