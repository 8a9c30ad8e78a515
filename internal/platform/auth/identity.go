package auth

import (
	"context"
	"strings"
)

// OrderCloud security profile roles checked by the shipping routes.
const (
	RoleShipmentAdmin = "ShipmentAdmin"
	// RoleFullAccess grants every role.
	RoleFullAccess = "FullAccess"
)

// Identity captures the authenticated principal extracted from a verified bearer token.
type Identity struct {
	Subject  string
	Username string
	ClientID string
	UserType string
	Roles    []string
	// Provider names the verifier that produced the identity ("firebase" or "ordercloud").
	Provider string
	Claims   map[string]any
}

// HasRole reports whether the identity carries role, comparing case-insensitively.
// FullAccess satisfies any role.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = strings.TrimSpace(role)
	if role == "" {
		return false
	}
	for _, r := range i.Roles {
		if strings.EqualFold(r, role) || strings.EqualFold(r, RoleFullAccess) {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the identity includes any of the provided roles.
func (i *Identity) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

type contextKey string

const identityContextKey contextKey = "github.com/ajsuth/headstart/internal/platform/auth/identity"

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
