package auth

import (
	"context"

	"github.com/google/uuid"
)

type claimsKey struct{}

// WithClaims stores the authenticated customer on ctx.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok && c != nil
}

// ContextWithUserID is WithClaims for callers that only know the id.
func ContextWithUserID(ctx context.Context, id uuid.UUID) context.Context {
	return WithClaims(ctx, &Claims{UserID: id})
}

func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	c, ok := ClaimsFromContext(ctx)
	if !ok {
		return uuid.Nil, false
	}
	return c.UserID, true
}
