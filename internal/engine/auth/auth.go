package auth

import (
	"fmt"
	"slices"
)

// Permissions checked by the API.
const (
	PermDealsRead        = "deals.read"
	PermActionsInvoke    = "actions.invoke"
	PermProposalsRead    = "proposals.read"
	PermProposalsResolve = "proposal.resolve"
)

// Built-in roles. An operator is the human who confirms destructive actions;
// an agent may invoke actions but never resolve its own proposals.
const (
	RoleOperator = "operator"
	RoleAgent    = "agent"
	RoleViewer   = "viewer"
)

var rolePermissions = map[string][]string{
	RoleOperator: {PermDealsRead, PermActionsInvoke, PermProposalsRead, PermProposalsResolve},
	RoleAgent:    {PermDealsRead, PermActionsInvoke, PermProposalsRead},
	RoleViewer:   {PermDealsRead, PermProposalsRead},
}

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// RolePermissions lists what a built-in role grants.
func RolePermissions(role string) []string {
	return slices.Clone(rolePermissions[role])
}

// Effective merges explicit permissions with those granted by roles, sorted and deduplicated.
func Effective(roles, permissions []string) []string {
	out := slices.Clone(permissions)
	for _, r := range roles {
		out = append(out, rolePermissions[r]...)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Allows reports whether roles or explicit permissions grant perm.
func Allows(roles, permissions []string, perm string) bool {
	if slices.Contains(permissions, perm) {
		return true
	}
	for _, r := range roles {
		if slices.Contains(rolePermissions[r], perm) {
			return true
		}
	}
	return false
}

// Require returns a ForbiddenError unless perm is granted.
func Require(roles, permissions []string, perm string) error {
	if Allows(roles, permissions, perm) {
		return nil
	}
	return ForbiddenError{Permission: perm}
}
