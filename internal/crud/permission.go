package crud

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/10d3/nexora/internal/engine"
)

// Permission names an allowed operation as "{entity}:{verb}". Patterns may
// use "*" for either part.
type Permission string

// PermissionFor returns the permission guarding verb on entity.
func PermissionFor(entity string, verb engine.Verb) Permission {
	return Permission(entity + ":" + string(verb))
}

// User is the caller of a CRUD operation.
type User struct {
	ID          string       `json:"id" yaml:"id"`
	TenantID    string       `json:"tenantId" yaml:"tenant"`
	Role        string       `json:"role" yaml:"role"`
	Permissions []Permission `json:"permissions,omitempty" yaml:"permissions,omitempty"`
}

// PermissionChecker decides whether a user may perform an operation.
type PermissionChecker interface {
	Allowed(ctx context.Context, user User, perm Permission) (bool, error)
}

// PermissionError is returned when the checker denies an operation.
type PermissionError struct {
	UserID     string
	Permission Permission
	Reason     string
}

func (e *PermissionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("permission denied: %s for user %q: %s", e.Permission, e.UserID, e.Reason)
	}
	return fmt.Sprintf("permission denied: %s for user %q", e.Permission, e.UserID)
}

// IsPermissionError reports whether err wraps a *PermissionError.
func IsPermissionError(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe)
}

// RolePermissions grants permission patterns per role. A user's explicit
// Permissions are granted in addition to their role's.
type RolePermissions map[string][]Permission

// DefaultRoles is the stock role table.
func DefaultRoles() RolePermissions {
	return RolePermissions{
		"owner":  {"*"},
		"admin":  {"*"},
		"staff":  {"*:fetch", "*:get", "*:create", "*:update"},
		"viewer": {"*:fetch", "*:get"},
	}
}

// Allowed implements PermissionChecker.
func (r RolePermissions) Allowed(_ context.Context, user User, perm Permission) (bool, error) {
	for _, p := range user.Permissions {
		if matchPermission(p, perm) {
			return true, nil
		}
	}
	for _, p := range r[user.Role] {
		if matchPermission(p, perm) {
			return true, nil
		}
	}
	return false, nil
}

func matchPermission(pattern, perm Permission) bool {
	if pattern == "*" || pattern == perm {
		return true
	}
	pEntity, pVerb, ok := strings.Cut(string(pattern), ":")
	if !ok {
		return false
	}
	entity, verb, ok := strings.Cut(string(perm), ":")
	if !ok {
		return false
	}
	return (pEntity == "*" || pEntity == entity) && (pVerb == "*" || pVerb == verb)
}
