// Package auth verifies identity-provider ID tokens and attaches the
// caller's identity to the request context.
package auth

import "context"

// Identity is a verified caller
type Identity struct {
	Subject     string
	Email       string
	DisplayName string
	Claims      map[string]interface{}
}

type identityKey struct{}

// WithIdentity returns a context carrying id
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity attached to ctx, if any
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok && id != nil
}

// UserID returns the verified subject attached to ctx, or ""
func UserID(ctx context.Context) string {
	if id, ok := FromContext(ctx); ok {
		return id.Subject
	}
	return ""
}
