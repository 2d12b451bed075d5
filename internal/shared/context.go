package shared

import (
	"context"

	"github.com/google/uuid"
)

type identityContextKey struct{}

// Identity carries the organization scope and acting user for a request.
// The platform's session layer populates it; the engine only reads it.
type Identity struct {
	OrgID  uuid.UUID
	UserID uuid.UUID
}

// ContextWithIdentity stores the request identity in context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the identity from context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}
