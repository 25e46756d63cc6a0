// Package permission provides the ordered role set, the permission bitflag type, and the
// static role to permission table used by storeguard authorization checks.
//
// # Roles
//
// Roles form a strict order: guest < user < manager < admin. A role check with
// higher roles allowed passes for any role at or above the required level.
//
// # Permissions
//
// Permissions are single bits in a [Set]. The table returned by [ForRole] is fixed at
// compile time and never mutated at runtime.
//
// # What this package must NOT do
//
//   - Access Redis, databases, or the network.
//   - Import storeguard, session, or token.
package permission
