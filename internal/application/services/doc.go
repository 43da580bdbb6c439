// Package services provides the engine's application layer.
//
// This package contains the services that sit between the transport and the
// store:
//   - Paginated, visibility-scoped reads with tag hydration (QueryService)
//   - The write pipeline and association matrix commits (MutationService)
//   - Exclusive edit locks for lockable tables (LockService, LockSweeper)
//   - Role-based permission checks (PermissionService)
//
// Services receive their table descriptors as tablespec.Entity values and
// never hold global state; ServiceManager wires them over one connection.
package services
