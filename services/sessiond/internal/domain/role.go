package domain

// Role is the account type. The backend reports a single role field that
// doubles as the user "type".
type Role string

const (
	RoleSeeker       Role = "seeker"
	RoleListener     Role = "listener"
	RoleProfessional Role = "professional"
	RoleClient       Role = "client"
	RoleAdmin        Role = "admin"
)

// ValidRoles returns the set of valid roles.
func ValidRoles() []Role {
	return []Role{RoleSeeker, RoleListener, RoleProfessional, RoleClient, RoleAdmin}
}

// IsValidRole checks whether role is one of ValidRoles.
func IsValidRole(role string) bool {
	for _, r := range ValidRoles() {
		if string(r) == role {
			return true
		}
	}
	return false
}

// RequiresVerification reports whether accounts with this role must be
// verified before they may hold a session.
func (r Role) RequiresVerification() bool {
	return r == RoleProfessional || r == RoleListener
}
