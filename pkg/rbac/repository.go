package rbac

import (
	"context"
	"time"
)

// Reader holds the lookups shared by a Repository and a write transaction.
// Missing roles and assignments are reported as *authzerr.NotFoundError.
type Reader interface {
	GetRole(ctx context.Context, roleID string) (*Role, error)
	GetAssignment(ctx context.Context, assignmentID string) (*Assignment, error)
}

// Repository persists roles, assignments and policies
type Repository interface {
	Reader

	ListRoles(ctx context.Context, orgID string, scope *Scope) ([]Role, error)
	ListAssignments(ctx context.Context, orgID, userID string) ([]Assignment, error)
	// ListPolicies returns the stored override rows for orgID
	ListPolicies(ctx context.Context, orgID string) (map[string]bool, error)

	// Snapshot reads a user's grants and the org's policies atomically
	Snapshot(ctx context.Context, orgID, userID string) (*Snapshot, error)

	// WithOrgLock runs fn in a transaction serialized with every other
	// writer of orgID. fn's changes commit only if it returns nil.
	WithOrgLock(ctx context.Context, orgID string, fn func(tx Tx) error) error
}

// Tx is the write side of a Repository, valid only inside WithOrgLock
type Tx interface {
	Reader

	// FindRoleByName returns nil when no role matches
	FindRoleByName(ctx context.Context, orgID, name string, scope Scope) (*Role, error)
	InsertRole(ctx context.Context, role *Role) error
	ReplaceRoleCapabilities(ctx context.Context, roleID string, keys []string, updatedAt time.Time) error
	DeleteRole(ctx context.Context, roleID string) error
	CountRoleAssignments(ctx context.Context, roleID string) (int, error)

	// GetPolicy reports the stored row for key, if any
	GetPolicy(ctx context.Context, orgID, key string) (enabled bool, found bool, err error)
	UpsertPolicy(ctx context.Context, policy OrgPolicy) error
	DeletePolicy(ctx context.Context, orgID, key string) error

	// FindAssignment returns nil when the tuple is not assigned
	FindAssignment(ctx context.Context, orgID, userID, roleID, siteID string) (*Assignment, error)
	InsertAssignment(ctx context.Context, a *Assignment) error
	DeleteAssignment(ctx context.Context, assignmentID string) error
}

// SiteDirectory answers which organization owns a site
type SiteDirectory interface {
	// SiteOrg returns the owning org, or found=false for an unknown site
	SiteOrg(ctx context.Context, siteID string) (orgID string, found bool, err error)
}
