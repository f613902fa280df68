package auth

// Permission represents a named capability.
type Permission string

// Permission constants.
const (
	PermUserCreate    Permission = "user:create"
	PermUserRead      Permission = "user:read"
	PermUserUpdate    Permission = "user:update"
	PermUserDelete    Permission = "user:delete"
	PermLinkCreate    Permission = "link:create"
	PermLinkRead      Permission = "link:read"
	PermLinkUpdate    Permission = "link:update"
	PermLinkDelete    Permission = "link:delete"
	PermPaymentCreate Permission = "payment:create"
)

// rolePermissions is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleAdmin: {
		PermUserCreate,
		PermUserRead,
		PermUserUpdate,
		PermUserDelete,
		PermLinkCreate,
		PermLinkRead,
		PermLinkUpdate,
		PermLinkDelete,
		PermPaymentCreate,
	},
	RoleDeveloper: {
		PermLinkRead,
		PermPaymentCreate,
		PermLinkCreate,
		PermLinkDelete,
	},
	RoleViewer: {
		PermLinkRead,
		PermUserRead,
		PermPaymentCreate,
		PermLinkCreate,
		PermLinkDelete,
	},
}

// HasPermission returns true if the role grants perm.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns a copy of the permissions granted to a role,
// or nil for an unknown role.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	result := make([]Permission, len(perms))
	copy(result, perms)
	return result
}

// Authorize decides whether an authenticated identity may perform perm.
// A nil identity yields ErrUnauthenticated; a role lacking perm yields
// ErrForbidden.
func Authorize(identity *Identity, perm Permission) error {
	if identity == nil {
		return ErrUnauthenticated
	}
	if !HasPermission(identity.Role, perm) {
		return ErrForbidden
	}
	return nil
}
