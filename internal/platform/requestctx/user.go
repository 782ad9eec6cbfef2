// Package requestctx carries the authenticated caller across HTTP handlers and
// the websocket sessions they upgrade into.
package requestctx

import (
	"context"
	"strings"
)

type userIDContextKey struct{}

// WithUserID stores a trimmed user identifier in context. A blank id leaves
// ctx unchanged.
func WithUserID(ctx context.Context, userID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, userIDContextKey{}, userID)
}

// UserID returns the user identifier stored in context, or "" for anonymous
// callers.
func UserID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(userIDContextKey{}).(string)
	return value
}
