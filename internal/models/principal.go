package models

import (
	"regexp"
	"slices"

	"github.com/google/uuid"
)

// Permission strings follow the <resource>.<action> convention.
const (
	PermissionAdminsRead   = "admins.read"
	PermissionAdminsUpdate = "admins.update"
	PermissionAdminsDelete = "admins.delete"
	PermissionAuditRead    = "audit.read"
	PermissionAuditUpdate  = "audit.update"
	PermissionRolesRead    = "roles.read"
	PermissionRolesUpdate  = "roles.update"
)

// AllPermissions is the full catalogue granted to the seeded superadmin role.
var AllPermissions = []string{
	PermissionAdminsRead,
	PermissionAdminsUpdate,
	PermissionAdminsDelete,
	PermissionAuditRead,
	PermissionAuditUpdate,
	PermissionRolesRead,
	PermissionRolesUpdate,
}

var permissionPattern = regexp.MustCompile(`^[a-z][a-z_]*\.[a-z][a-z_]*$`)

func IsValidPermission(permission string) bool {
	return permissionPattern.MatchString(permission)
}

// Principal is the authenticated identity decoded from a bearer token.
type Principal struct {
	ID    uuid.UUID     `json:"id"`
	Email string        `json:"email"`
	Name  string        `json:"name"`
	Role  PrincipalRole `json:"role"`
}

type PrincipalRole struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

// HasPermission reports an exact match; a nil permission set grants nothing.
func (p *Principal) HasPermission(permission string) bool {
	if p == nil {
		return false
	}
	return slices.Contains(p.Role.Permissions, permission)
}
