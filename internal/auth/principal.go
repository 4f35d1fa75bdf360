package auth

import "github.com/google/uuid"

// Role is the caller's platform role.
type Role string

const (
	RoleUser       Role = "USER"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// Principal is an already-authenticated caller.
type Principal struct {
	UserID uuid.UUID
	Role   Role
}

// IsAdmin reports whether the principal may administer gateways, coupons and reconciliation.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin || p.Role == RoleSuperAdmin
}

// System is the principal used by internal jobs (worker, webhooks).
var System = Principal{Role: RoleSuperAdmin}
