package common

import "context"

type correlationKey struct{}

// WithCorrelationID attaches a request-scoped correlation identifier.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the identifier attached by WithCorrelationID, or "".
// Async continuations run on their own goroutine, so the value has to be
// captured at call time and re-attached there.
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}
