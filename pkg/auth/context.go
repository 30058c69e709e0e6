package auth

import (
	"context"

	"github.com/mkonda/poolguard/pkg/types"
)

type contextKey string

const principalKey contextKey = "poolguard.principal"

// WithPrincipal returns a child context carrying the authenticated
// principal.
func WithPrincipal(ctx context.Context, p *types.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext retrieves the principal stored by the middleware.
// The boolean is false when the request never passed authentication.
func PrincipalFromContext(ctx context.Context) (*types.Principal, bool) {
	p, ok := ctx.Value(principalKey).(*types.Principal)
	return p, ok && p != nil
}
