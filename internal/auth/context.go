// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithIdentity/FromContext for propagating auth info via context

package auth

import (
	"context"

	"github.com/gitplan/gitplan/internal/directory"
)

// identityKey is the key type for storing an Identity in context.Context.
type identityKey struct{}

// WithIdentity returns a new context with the resolved identity attached.
func WithIdentity(ctx context.Context, id *directory.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext retrieves the resolved identity from the context, returning nil
// if the request was not authenticated (public route or auth disabled).
func FromContext(ctx context.Context) *directory.Identity {
	id, _ := ctx.Value(identityKey{}).(*directory.Identity)
	return id
}

// IsAdmin reports whether the context carries an admin identity. Requests
// with no identity at all (auth disabled) are treated as admin.
func IsAdmin(ctx context.Context) bool {
	id := FromContext(ctx)
	return id == nil || id.Role == directory.RoleAdmin
}
