package auth

// IsValid checks if the role is one of the portal roles
func (r Role) IsValid() bool {
	switch r {
	case RoleMember, RoleLeader, RoleParticipant, RoleAdmin:
		return true
	default:
		return false
	}
}

// IsValid checks if the status is a known account status
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusActive:
		return true
	default:
		return false
	}
}

// GetAllRoles returns all portal roles
func GetAllRoles() []Role {
	return []Role{
		RoleMember,
		RoleLeader,
		RoleParticipant,
		RoleAdmin,
	}
}

// ParseRole safely parses a string into a Role
func ParseRole(roleStr string) (Role, bool) {
	role := Role(roleStr)
	return role, role.IsValid()
}

var roleSegments = map[string]Role{
	"members":      RoleMember,
	"leaders":      RoleLeader,
	"participants": RoleParticipant,
	"admins":       RoleAdmin,
}

// RoleFromSegment maps a route segment (e.g. "leaders") to its role.
// The singular role name is accepted as well.
func RoleFromSegment(segment string) (Role, bool) {
	if role, ok := roleSegments[segment]; ok {
		return role, true
	}
	return ParseRole(segment)
}

// Segment returns the plural route segment used for the role
func (r Role) Segment() string {
	for segment, role := range roleSegments {
		if role == r {
			return segment
		}
	}
	return string(r)
}

// StatusPolicy maps each role to the statuses that may authenticate
type StatusPolicy map[Role][]Status

// DefaultStatusPolicy only lets approved or active accounts in, for every role
func DefaultStatusPolicy() StatusPolicy {
	policy := StatusPolicy{}
	for _, role := range GetAllRoles() {
		policy[role] = []Status{StatusApproved, StatusActive}
	}
	return policy
}

// CanAuthenticate reports whether an account with the given role and
// status may hold a session
func (p StatusPolicy) CanAuthenticate(role Role, status Status) bool {
	allowed, ok := p[role]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == status {
			return true
		}
	}
	return false
}
