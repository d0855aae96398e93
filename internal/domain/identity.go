package domain

import "time"

// Role is the closed set of roles an identity can hold.
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperadmin Role = "superadmin"
)

// Valid reports whether the role is a known member of the enumeration.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleSuperadmin:
		return true
	}
	return false
}

// ParseRole converts a raw string into a Role, defaulting to RoleUser for
// empty input.
func ParseRole(raw string) (Role, bool) {
	if raw == "" {
		return RoleUser, true
	}
	role := Role(raw)
	return role, role.Valid()
}

// ApplicationID identifies a front-end application behind the portal.
type ApplicationID string

// Applications shipped with the portal.
const (
	AppRegion14  ApplicationID = "region14"
	AppRegion2   ApplicationID = "region2"
	AppDashboard ApplicationID = "dashboard"
)

// IdentityStatus represents lifecycle states for an identity.
type IdentityStatus string

const (
	IdentityStatusActive   IdentityStatus = "ACTIVE"
	IdentityStatusInactive IdentityStatus = "INACTIVE"
)

// Identity is the domain model for a portal account. The auth core reads
// identities; it only writes LastLogin.
type Identity struct {
	ID           string
	Email        string
	PasswordHash string
	Role         Role
	AssignedApps []ApplicationID
	FirstName    string
	LastName     string
	Status       IdentityStatus
	LastLogin    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Active reports whether the identity may authenticate.
func (i *Identity) Active() bool {
	return i.Status == IdentityStatusActive
}

// HasApplicationAccess reports whether the identity may enter the given
// application. Superadmins have implicit access to every application.
func (i *Identity) HasApplicationAccess(app ApplicationID) bool {
	if i.Role == RoleSuperadmin {
		return true
	}
	for _, assigned := range i.AssignedApps {
		if assigned == app {
			return true
		}
	}
	return false
}

// FullName returns a display name, falling back to the email local part.
func (i *Identity) FullName() string {
	switch {
	case i.FirstName != "" && i.LastName != "":
		return i.FirstName + " " + i.LastName
	case i.FirstName != "":
		return i.FirstName
	case i.LastName != "":
		return i.LastName
	}
	for idx := 0; idx < len(i.Email); idx++ {
		if i.Email[idx] == '@' {
			return i.Email[:idx]
		}
	}
	return i.Email
}
