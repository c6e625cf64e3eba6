package identity

import "context"

type principalKey struct{}

// WithPrincipal returns a context carrying the authenticated principal.
func WithPrincipal(ctx context.Context, address string) context.Context {
	return context.WithValue(ctx, principalKey{}, address)
}

// Principal returns the authenticated principal address, if any.
func Principal(ctx context.Context) (string, bool) {
	addr, ok := ctx.Value(principalKey{}).(string)
	return addr, ok && addr != ""
}
