package permission

import "strings"

// Role is a position in the ordered role list.
type Role int

const (
	Guest Role = iota
	User
	Manager
	Admin
)

var roleNames = [...]string{"guest", "user", "manager", "admin"}

func (r Role) String() string {
	if !r.Valid() {
		return "unknown"
	}
	return roleNames[r]
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	return r >= Guest && r <= Admin
}

// AtLeast reports whether r sits at or above required in the role order.
func (r Role) AtLeast(required Role) bool {
	return r.Valid() && required.Valid() && r >= required
}

// Satisfies applies the role check used by RequireRole: with allowHigher any role at or
// above required passes, otherwise only an exact match does.
func (r Role) Satisfies(required Role, allowHigher bool) bool {
	if allowHigher {
		return r.AtLeast(required)
	}
	return r.Valid() && r == required
}

// ParseRole resolves a role name. Matching is case-insensitive.
func ParseRole(name string) (Role, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range roleNames {
		if n == name {
			return Role(i), true
		}
	}
	return Guest, false
}

/*
====================================
ROLE TABLE
====================================
*/

var roleTable = map[Role]Set{
	Guest: NewSet(ViewProducts, ManageCart),
	User:  NewSet(ViewProducts, ManageCart, Checkout, ViewOrders),
	Manager: NewSet(ViewProducts, ManageCart, Checkout, ViewOrders,
		ManageOrders, ManageProducts, ViewAnalytics),
	Admin: NewSet(ViewProducts, ManageCart, Checkout, ViewOrders,
		ManageOrders, ManageProducts, ViewAnalytics,
		ManageUsers, ViewAuditLog, SystemSettings),
}

// ForRole returns the static permission set granted to role. Unknown roles get nothing.
func ForRole(role Role) Set {
	return roleTable[role]
}

// Effective merges the role's table entry with any per-user grants.
func Effective(role Role, granted Set) Set {
	return ForRole(role).Union(granted)
}
