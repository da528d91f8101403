package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleOwner      = "owner"
	RoleMember     = "member"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

// IsAdmin reports whether the role bypasses tenant ownership checks.
func IsAdmin(role string) bool { return role == RoleAdmin || role == RoleSuperAdmin }
