package types

import "context"

type tenantIDKey struct{}
type userIDKey struct{}
type rolesKey struct{}

// WithTenantID returns a context carrying the tenant ID.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey{}, tenantID)
}

// TenantID extracts the tenant ID from the context.
func TenantID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(tenantIDKey{}).(string)
	return v, ok
}

// WithUserID returns a context carrying the user ID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserID extracts the user ID from the context.
func UserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userIDKey{}).(string)
	return v, ok
}

// WithRoles returns a context carrying the caller's roles.
func WithRoles(ctx context.Context, roles []string) context.Context {
	return context.WithValue(ctx, rolesKey{}, roles)
}

// Roles extracts the caller's roles from the context.
func Roles(ctx context.Context) ([]string, bool) {
	v, ok := ctx.Value(rolesKey{}).([]string)
	return v, ok
}
