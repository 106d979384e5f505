// Package rbac implements capability-based authorization: scoped roles,
// organization policy overrides, role assignments, and the resolver that
// turns them into allow or deny decisions.
//
// # Model
//
// A Role is a named set of capability keys with a scope and a type:
//
//	ORG  - applies across the whole organization
//	SITE - applies on the one site named by each assignment
//
//	SYSTEM - provisioned per organization and immutable
//	CUSTOM - created and edited by administrators
//
// CUSTOM roles can never hold a capability the registry marks as blocked for
// custom roles. An Assignment binds a user to a role, with a site exactly
// when the role is SITE scoped; the site must belong to the organization.
//
// An OrgPolicy disables (or re-enables) a policy-controllable capability for
// a whole organization. Policies only restrict: they deny keys that roles
// grant and never grant anything.
//
// # Resolution
//
// Resolver.Resolve loads a Snapshot of the user's grants and the org's
// policies in one consistent read and hands it to Evaluate:
//
//	perms, err := resolver.Resolve(ctx, rbac.Query{
//		OrgID:  "org-1",
//		UserID: "user-7",
//		SiteID: "site-3",
//	})
//	if err != nil {
//		// the store failed; deny
//	}
//	if perms["content.publish"].Allowed { ... }
//
// ORG grants apply with or without a site; SITE grants apply only when the
// query names their site. Each EffectivePermission carries the reason and
// the sorted names of the roles that grant it.
//
// # Writes and caching
//
// RoleStore, PolicyStore and AssignmentStore validate input, then apply the
// change under a per-organization lock (a PostgreSQL advisory lock, or a
// mutex for the in-memory repository) and re-validate against the state seen
// inside the lock. After commit the org's cache generation is advanced, so
// any resolve that starts after a write returns sees it. If that step fails
// the write still stands and the error wraps ErrCacheInvalidation.
//
// Every mutation and every denial made by PermissionMiddleware is written to
// the audit log.
//
// # HTTP
//
// Manager wires everything from a Config and registers the admin API:
//
//	m, err := rbac.NewManager(rbac.Config{DB: db, Cache: cache})
//	if err := m.Initialize(ctx); err != nil { ... }
//	m.RegisterRoutes(router)
//
// Handlers for role, policy and assignment changes are gated on the
// org.roles.manage, org.policies.manage and org.members.manage
// capabilities. Users may always read their own effective permissions.
package rbac
