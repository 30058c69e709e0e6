// Package validator implements the two trust checks applied to a
// forwarded identity token: cryptographic signature verification against
// the pool's published keys, and semantic claims validation on top.
package validator

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mkonda/poolguard/pkg/autherr"
	"github.com/mkonda/poolguard/pkg/keyprovider"
	"github.com/mkonda/poolguard/pkg/types"
)

// allowedAlgorithms is the fixed allow-list of asymmetric signing
// algorithms. The unsigned "none" algorithm and all symmetric (HMAC)
// algorithms are absent, which blocks algorithm-confusion downgrades.
var allowedAlgorithms = []string{
	jwt.SigningMethodRS256.Name,
	jwt.SigningMethodRS384.Name,
	jwt.SigningMethodRS512.Name,
	jwt.SigningMethodES256.Name,
	jwt.SigningMethodES384.Name,
	jwt.SigningMethodES512.Name,
}

// TokenVerifier checks the signature of a raw compact token. Claims are
// decoded but deliberately not validated here; that is the claims
// validator's job.
type TokenVerifier struct {
	keys   keyprovider.KeyProvider
	parser *jwt.Parser
}

// NewTokenVerifier creates a verifier resolving keys through the given provider.
func NewTokenVerifier(keys keyprovider.KeyProvider) *TokenVerifier {
	return &TokenVerifier{
		keys: keys,
		parser: jwt.NewParser(
			jwt.WithValidMethods(allowedAlgorithms),
			jwt.WithoutClaimsValidation(),
		),
	}
}

// Verify parses the three-segment token and checks its signature against
// the signing key named by the token's kid. Only a token that passes
// yields a VerifiedToken.
func (v *TokenVerifier) Verify(ctx context.Context, raw string) (*types.VerifiedToken, error) {
	var claims types.PoolClaims
	token, err := v.parser.ParseWithClaims(raw, &claims, v.keyFunc(ctx))
	if err != nil {
		return nil, classifyParseError(err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("token did not verify: %w", autherr.ErrSignatureInvalid)
	}

	return &types.VerifiedToken{
		Raw:            raw,
		SignatureValid: true,
		Header:         token.Header,
		Claims:         &claims,
	}, nil
}

// keyFunc resolves the verification key for a parsed (not yet trusted)
// token header.
func (v *TokenVerifier) keyFunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("token header missing kid: %w", autherr.ErrMalformedToken)
		}

		key, err := v.keys.Key(ctx, kid)
		if err != nil {
			return nil, err
		}

		return key.Public, nil
	}
}

// classifyParseError maps jwt parse failures onto the pipeline's error
// kinds. Key provider errors pass through unchanged.
func classifyParseError(err error) error {
	switch {
	case errors.Is(err, autherr.ErrUnknownKeyID),
		errors.Is(err, autherr.ErrKeyFetchFailure),
		errors.Is(err, autherr.ErrMalformedToken):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%v: %w", err, autherr.ErrMalformedToken)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%v: %w", err, autherr.ErrSignatureInvalid)
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%v: %w", err, autherr.ErrMalformedToken)
	default:
		return fmt.Errorf("%v: %w", err, autherr.ErrSignatureInvalid)
	}
}
