// Package rbac implements role based access control.
//
// Roles grant dotted permissions such as "students.read"; the wildcard "*"
// grants everything and "students.*" grants every students permission. A
// user's effective permissions are resolved by Checker:
//
//  1. the union of the permissions of the roles assigned in user_roles
//  2. when that union is empty, the built-in defaults of the assigned roles
//  3. when the user has no assignments, or the RBAC tables do not exist yet,
//     the built-in defaults of the legacy role stored on the user row
//
// Results are cached per user for a short TTL and every mutation made
// through Service invalidates the cache.
//
// The built-in mapping is embedded from defaults.yaml and written to the
// database by Service.EnsureDefaults at startup.
//
// Enforcer turns a permission into route middleware according to the
// global auth mode:
//
//	enforcer := rbac.NewEnforcer(checker, cfg.Auth.Mode, metrics)
//	router.Handle("/students", enforcer.RequirePermission("students.read")(h))
//
// Two invariants are enforced on mutation: the admin role keeps "*", and
// at least one active user keeps the admin role.
package rbac
