package auth

import (
	"context"

	"github.com/goliatone/go-router"
)

var identityCtxKey = &contextKey{"identity"}

type contextKey struct {
	name string
}

// identityLocalsKey is the router locals key RequireRoles stores the identity under
const identityLocalsKey = "auth.identity"

// WithContext sets the Identity in the given context
func WithContext(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey, identity)
}

// FromContext finds the identity in the context.
func FromContext(ctx context.Context) (Identity, bool) {
	raw, ok := ctx.Value(identityCtxKey).(Identity)
	return raw, ok && raw != nil
}

// IdentityFromRouterContext returns the identity resolved by RequireRoles
func IdentityFromRouterContext(c router.Context) (Identity, bool) {
	raw, ok := c.Locals(identityLocalsKey).(Identity)
	return raw, ok && raw != nil
}

func setRouterIdentity(c router.Context, identity Identity) {
	c.Locals(identityLocalsKey, identity)
	c.SetContext(WithContext(c.Context(), identity))
}
