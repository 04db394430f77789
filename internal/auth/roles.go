package auth

import "strings"

// RoleSet is the set of provider roles that grant scribe rights. It is built
// once at startup from configuration.
type RoleSet map[string]struct{}

func NewRoleSet(roles []string) RoleSet {
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		if r = strings.TrimSpace(r); r != "" {
			set[r] = struct{}{}
		}
	}
	return set
}

// Intersects reports whether any of roles is in the set. An empty set grants
// nothing.
func (s RoleSet) Intersects(roles []string) bool {
	for _, r := range roles {
		if _, ok := s[r]; ok {
			return true
		}
	}
	return false
}
