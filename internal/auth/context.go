package auth

import "context"

type contextKey int

const rawKeyContextKey contextKey = iota

// ContextWithKey attaches the caller's raw credential to the request context.
// Transports set it; handlers read it through KeyFromContext.
func ContextWithKey(ctx context.Context, rawKey string) context.Context {
	return context.WithValue(ctx, rawKeyContextKey, rawKey)
}

// KeyFromContext returns the raw credential attached by the transport, empty
// when the request carried none.
func KeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(rawKeyContextKey).(string)
	return key
}
