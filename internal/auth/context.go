package auth

import (
	"context"
	"slices"
)

type contextKey string

const authContextKey contextKey = "sentinel_auth"

// AuthInfo holds authenticated identity information extracted from an API key.
type AuthInfo struct {
	KeyID     string
	KeyPrefix string
	Owner     string
	Scopes    []string
	RPMLimit  *int
}

func (a *AuthInfo) Allows(scope string) bool {
	return len(a.Scopes) == 0 || slices.Contains(a.Scopes, scope)
}

func ContextWithAuth(ctx context.Context, info *AuthInfo) context.Context {
	return context.WithValue(ctx, authContextKey, info)
}

func AuthFromContext(ctx context.Context) (*AuthInfo, bool) {
	info, ok := ctx.Value(authContextKey).(*AuthInfo)
	return info, ok
}
