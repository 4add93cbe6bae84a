package auth

// RoleSet is the set of roles allowed on a resource
type RoleSet map[Role]struct{}

// NewRoleSet builds a role set, invalid roles are ignored
func NewRoleSet(roles ...Role) RoleSet {
	set := make(RoleSet, len(roles))
	for _, role := range roles {
		if role.IsValid() {
			set[role] = struct{}{}
		}
	}
	return set
}

// Contains reports whether role is in the set
func (s RoleSet) Contains(role Role) bool {
	_, ok := s[role]
	return ok
}

// Roles lists the set members in canonical order
func (s RoleSet) Roles() []Role {
	out := make([]Role, 0, len(s))
	for _, role := range GetAllRoles() {
		if s.Contains(role) {
			out = append(out, role)
		}
	}
	return out
}

// RoleGate is the single access predicate for role scoped resources
type RoleGate struct {
	policy StatusPolicy
}

// NewRoleGate uses policy to decide which statuses authenticate, nil
// means DefaultStatusPolicy
func NewRoleGate(policy StatusPolicy) RoleGate {
	if policy == nil {
		policy = DefaultStatusPolicy()
	}
	return RoleGate{policy: policy}
}

// Authorize reports whether identity may access a resource open to roles
func (g RoleGate) Authorize(identity Identity, roles RoleSet) bool {
	return g.Check(identity, roles) == nil
}

// Check is Authorize with the reason for a denial
func (g RoleGate) Check(identity Identity, roles RoleSet) error {
	if identity == nil {
		return ErrTokenMalformed
	}
	if !roles.Contains(identity.Role()) {
		return ErrRoleForbidden
	}
	return statusRejection(g.policy, identity.Role(), identity.Status())
}

var defaultRoleGate = NewRoleGate(nil)

// Authorize checks identity against roles with the default status policy
func Authorize(identity Identity, roles RoleSet) bool {
	return defaultRoleGate.Authorize(identity, roles)
}
