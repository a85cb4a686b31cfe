package gateway

import "sort"

// ScopeTable maps a scope name to the resource descriptor it grants. It is
// immutable once built and safe to share.
type ScopeTable struct {
	m map[string]string
}

// NewScopeTable copies entries.
func NewScopeTable(entries map[string]string) ScopeTable {
	m := make(map[string]string, len(entries))
	for k, v := range entries {
		m[k] = v
	}
	return ScopeTable{m: m}
}

// Lookup returns the resource for scope.
func (t ScopeTable) Lookup(scope string) (string, bool) {
	r, ok := t.m[scope]
	return r, ok
}

// Len returns the number of scopes.
func (t ScopeTable) Len() int { return len(t.m) }

// Scopes lists scope names in sorted order.
func (t ScopeTable) Scopes() []string {
	out := make([]string, 0, len(t.m))
	for k := range t.m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
