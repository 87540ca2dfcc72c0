package auth

import (
	"context"
	"strings"
)

// Principal is the authenticated identity resolved at the HTTP boundary.
type Principal struct {
	UserID         string
	OrganizationID string
	Role           Role
}

type ctxKey string

const principalKey ctxKey = "auth_principal"

// ContextWithPrincipal stores the authenticated identity in the context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext extracts the authenticated identity from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalKey).(Principal)
	if !ok || strings.TrimSpace(p.UserID) == "" {
		return Principal{}, false
	}
	return p, true
}

// UserIDFromContext extracts the authenticated user ID from context.
func UserIDFromContext(ctx context.Context) (string, bool) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return "", false
	}
	return p.UserID, true
}
