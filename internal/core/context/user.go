// Package context provides request-scoped values extraction.
package context

import (
	"context"
)

// Role is the marketplace role carried by an authenticated caller.
type Role string

const (
	RoleRetailer Role = "retailer"
	RoleFactory  Role = "factory"
	RoleAdmin    Role = "admin"
)

// UserContext contains authenticated user information.
type UserContext struct {
	UserID    string
	Email     string
	Role      Role
	SessionID string
}

type userContextKey struct{}

// WithUser adds UserContext to context.
func WithUser(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// GetUser returns UserContext from context.
func GetUser(ctx context.Context) *UserContext {
	if v, ok := ctx.Value(userContextKey{}).(*UserContext); ok {
		return v
	}
	return nil
}

// GetUserID returns user ID from context or empty string.
func GetUserID(ctx context.Context) string {
	if u := GetUser(ctx); u != nil {
		return u.UserID
	}
	return ""
}

// HasRole checks if user has one of the given roles.
// Admins pass every role check.
func HasRole(ctx context.Context, roles ...Role) bool {
	u := GetUser(ctx)
	if u == nil {
		return false
	}
	if u.Role == RoleAdmin {
		return true
	}
	for _, r := range roles {
		if u.Role == r {
			return true
		}
	}
	return false
}
