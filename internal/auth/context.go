package auth

import (
	"context"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"soundmint.org/internal/domain"
)

type callerContextKey struct{}
type rolesContextKey struct{}

// ContextWithCaller stores the authenticated caller and its token roles.
func ContextWithCaller(ctx context.Context, caller common.Address, roles []string) context.Context {
	ctx = context.WithValue(ctx, callerContextKey{}, caller)
	if roles = dedupeRoles(roles); len(roles) > 0 {
		ctx = context.WithValue(ctx, rolesContextKey{}, roles)
	}
	return ctx
}

// CallerFromContext extracts the authenticated caller address.
func CallerFromContext(ctx context.Context) (common.Address, bool) {
	if ctx == nil {
		return common.Address{}, false
	}
	v, ok := ctx.Value(callerContextKey{}).(common.Address)
	if !ok || domain.IsZero(v) {
		return common.Address{}, false
	}
	return v, true
}

// RolesFromContext returns a copy of the roles stored in context.
func RolesFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	v, _ := ctx.Value(rolesContextKey{}).([]string)
	return slices.Clone(v)
}

// HasRole checks whether the context carries the role.
func HasRole(ctx context.Context, role string) bool {
	role = strings.TrimSpace(strings.ToLower(role))
	if role == "" {
		return false
	}
	return slices.Contains(RolesFromContext(ctx), role)
}
