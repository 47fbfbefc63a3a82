package ledger

// Role is the caller's role as resolved by the authentication layer.
type Role string

const (
	RoleAdmin      Role = "Admin"
	RoleOwner      Role = "Owner"
	RoleTechnician Role = "Technician"
)

// Caller identifies who is invoking an operation. The engine treats it as
// an opaque, already-authenticated fact.
type Caller struct {
	ID   string
	Role Role
}

// Admin roles allowed to decide withdrawals and read platform reports.
var adminRoles = []Role{RoleAdmin, RoleOwner}

// RequireRole is the single authorization guard run at the top of every
// operation, before any store access.
func RequireRole(c Caller, allowed ...Role) error {
	for _, r := range allowed {
		if c.Role == r {
			return nil
		}
	}
	return ErrForbidden
}

func requireAdmin(c Caller) error { return RequireRole(c, adminRoles...) }

func requireTechnician(c Caller) error {
	if err := RequireRole(c, RoleTechnician); err != nil {
		return err
	}
	if c.ID == "" {
		return ErrForbidden
	}
	return nil
}
