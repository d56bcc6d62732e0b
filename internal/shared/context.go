package shared

import "context"

// Identity is the trusted actor produced by the upstream authentication
// layer. Token verification happens before this engine runs; the engine only
// decides what the identity may do.
type Identity struct {
	UserID   int64
	DealerID int64
}

type identityContextKey struct{}

// ContextWithIdentity stores the identity in context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the identity from context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}
