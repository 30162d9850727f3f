package context

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys used across the application
type ContextKey string

const (
	// UserIDKey is the context key for the authenticated user id.
	// Set by the auth middleware, read by handlers.
	UserIDKey ContextKey = "user_id"
)

// WithUserID stores the authenticated user id on the context.
func WithUserID(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// UserID reads the authenticated user id from the context.
func UserID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(UserIDKey).(uuid.UUID)
	return id, ok
}
