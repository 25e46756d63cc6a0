package permission

import (
	"fmt"
	"math/bits"
	"sort"
	"strings"
)

// Permission is a single permission bit.
type Permission uint64

const (
	ViewProducts Permission = 1 << iota
	ManageCart
	Checkout
	ViewOrders
	ManageOrders
	ManageProducts
	ViewAnalytics
	ManageUsers
	ViewAuditLog
	SystemSettings

	permissionCount = iota
)

var permissionNames = map[Permission]string{
	ViewProducts:   "view_products",
	ManageCart:     "manage_cart",
	Checkout:       "checkout",
	ViewOrders:     "view_orders",
	ManageOrders:   "manage_orders",
	ManageProducts: "manage_products",
	ViewAnalytics:  "view_analytics",
	ManageUsers:    "manage_users",
	ViewAuditLog:   "view_audit_log",
	SystemSettings: "system_settings",
}

// String returns the stable wire name of p.
func (p Permission) String() string {
	if name, ok := permissionNames[p]; ok {
		return name
	}
	return fmt.Sprintf("permission(%d)", uint64(p))
}

// ParsePermission resolves a wire name back to its Permission.
func ParsePermission(name string) (Permission, bool) {
	for p, n := range permissionNames {
		if n == name {
			return p, true
		}
	}
	return 0, false
}

// Set is a bitflag set of permissions.
type Set uint64

// NewSet builds a set from the given permissions.
func NewSet(perms ...Permission) Set {
	var s Set
	for _, p := range perms {
		s = s.With(p)
	}
	return s
}

// Has reports whether every bit of p is present in s. The zero permission is never held.
func (s Set) Has(p Permission) bool {
	if p == 0 {
		return false
	}
	return uint64(s)&uint64(p) == uint64(p)
}

// With returns a copy of s with p added.
func (s Set) With(p Permission) Set {
	return s | Set(p)
}

// Without returns a copy of s with p removed.
func (s Set) Without(p Permission) Set {
	return s &^ Set(p)
}

// Union returns the permissions held by either set.
func (s Set) Union(other Set) Set {
	return s | other
}

// Len returns the number of permissions in s.
func (s Set) Len() int {
	return bits.OnesCount64(uint64(s))
}

// Raw returns the underlying bits.
func (s Set) Raw() uint64 {
	return uint64(s)
}

// List returns the permissions in s ordered by bit position.
func (s Set) List() []Permission {
	out := make([]Permission, 0, s.Len())
	for i := 0; i < permissionCount; i++ {
		p := Permission(1) << i
		if s.Has(p) {
			out = append(out, p)
		}
	}
	return out
}

// Names returns the wire names of the permissions in s, sorted.
func (s Set) Names() []string {
	list := s.List()
	names := make([]string, 0, len(list))
	for _, p := range list {
		names = append(names, p.String())
	}
	sort.Strings(names)
	return names
}

func (s Set) String() string {
	return "[" + strings.Join(s.Names(), ",") + "]"
}
