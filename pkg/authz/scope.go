// Package authz checks the scope granted to an introspected token.
package authz

import "strings"

// ScopeSet is the space separated scope claim as a set.
type ScopeSet map[string]struct{}

func ParseScope(scope string) ScopeSet {
	fields := strings.Fields(scope)
	set := make(ScopeSet, len(fields))
	for _, field := range fields {
		set[field] = struct{}{}
	}
	return set
}

func (s ScopeSet) Has(scope string) bool {
	_, ok := s[scope]
	return ok
}

// HasAll is true for an empty requirement.
func (s ScopeSet) HasAll(required ...string) bool {
	for _, scope := range required {
		if !s.Has(scope) {
			return false
		}
	}
	return true
}

func (s ScopeSet) HasAny(required ...string) bool {
	for _, scope := range required {
		if s.Has(scope) {
			return true
		}
	}
	return false
}

// Missing lists required scopes not granted, in the order given.
func (s ScopeSet) Missing(required ...string) []string {
	var missing []string
	for _, scope := range required {
		if !s.Has(scope) {
			missing = append(missing, scope)
		}
	}
	return missing
}
