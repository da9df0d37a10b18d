// Package auth authenticates API keys and maps roles to capabilities.
package auth

import (
	"slices"
	"strings"

	"github.com/go-faster/errors"
)

// Capability is a permission to call a group of operations.
type Capability string

const (
	CapOrdersRead      Capability = "orders:read"
	CapOrdersWrite     Capability = "orders:write"
	CapPaymentsWrite   Capability = "payments:write"
	CapAnalyticsRead   Capability = "analytics:read"
	CapAnalyticsExport Capability = "analytics:export"
)

// Capabilities returns every capability.
func Capabilities() []Capability {
	return []Capability{CapOrdersRead, CapOrdersWrite, CapPaymentsWrite, CapAnalyticsRead, CapAnalyticsExport}
}

// Role names a set of capabilities.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleStaff   Role = "staff"
	RoleAnalyst Role = "analyst"
)

// Policy maps roles to capability sets. Unknown roles have no capabilities.
type Policy map[Role]map[Capability]struct{}

// DefaultPolicy returns the built-in role table.
func DefaultPolicy() Policy {
	return Policy{
		RoleAdmin:   set(Capabilities()...),
		RoleManager: set(CapOrdersRead, CapOrdersWrite, CapPaymentsWrite, CapAnalyticsRead, CapAnalyticsExport),
		RoleStaff:   set(CapOrdersRead, CapOrdersWrite, CapPaymentsWrite),
		RoleAnalyst: set(CapOrdersRead, CapAnalyticsRead, CapAnalyticsExport),
	}
}

func set(caps ...Capability) map[Capability]struct{} {
	m := make(map[Capability]struct{}, len(caps))
	for _, c := range caps {
		m[c] = struct{}{}
	}
	return m
}

// Allows reports whether role holds capability.
func (p Policy) Allows(role Role, c Capability) bool {
	_, ok := p[role][c]
	return ok
}

// ParsePolicy reads "role=cap1+cap2" entries on top of DefaultPolicy. A listed
// role replaces its default capabilities.
func ParsePolicy(entries []string) (Policy, error) {
	p := DefaultPolicy()
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		role, caps, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(role) == "" {
			return nil, errors.Errorf("role entry %q: want role=cap1+cap2", entry)
		}
		granted := make(map[Capability]struct{})
		for _, c := range strings.Split(caps, "+") {
			c = strings.TrimSpace(c)
			if c == "" {
				continue
			}
			if !slices.Contains(Capabilities(), Capability(c)) {
				return nil, errors.Errorf("role entry %q: unknown capability %q", entry, c)
			}
			granted[Capability(c)] = struct{}{}
		}
		p[Role(strings.TrimSpace(role))] = granted
	}
	return p, nil
}
