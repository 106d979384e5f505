package rbac

import (
	"sort"
	"time"
)

// Scope is where a role applies
type Scope string

const (
	ScopeOrg  Scope = "ORG"  // Organization-wide
	ScopeSite Scope = "SITE" // One site within the organization
)

// Valid reports whether s is a known scope
func (s Scope) Valid() bool {
	return s == ScopeOrg || s == ScopeSite
}

// RoleType distinguishes fixed system roles from editable custom roles
type RoleType string

const (
	RoleTypeSystem RoleType = "SYSTEM"
	RoleTypeCustom RoleType = "CUSTOM"
)

// Valid reports whether t is a known role type
func (t RoleType) Valid() bool {
	return t == RoleTypeSystem || t == RoleTypeCustom
}

// MaxRoleNameLength bounds role names after trimming
const MaxRoleNameLength = 100

// Role is a named, scoped bundle of capability keys owned by one organization
type Role struct {
	ID             string    `json:"id"`
	OrgID          string    `json:"org_id"`
	Name           string    `json:"name"`
	Scope          Scope     `json:"scope"`
	Type           RoleType  `json:"type"`
	CapabilityKeys []string  `json:"capability_keys"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Assignment binds a user to a role, optionally at one site
type Assignment struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	UserID    string    `json:"user_id"`
	RoleID    string    `json:"role_id"`
	SiteID    *string   `json:"site_id"`
	CreatedAt time.Time `json:"created_at"`
}

// SiteKey returns the site id or "" for an org-wide assignment
func (a Assignment) SiteKey() string {
	if a.SiteID == nil {
		return ""
	}
	return *a.SiteID
}

// OrgPolicy is an organization override for a policy-controllable capability
type OrgPolicy struct {
	OrgID     string    `json:"org_id"`
	Key       string    `json:"key"`
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Decision reasons
const (
	ReasonGranted        = "granted by role"
	ReasonPolicyDisabled = "disabled by organization policy"
	ReasonNotGranted     = "not present in any assigned role"
)

// EffectivePermission is the resolved decision for one capability
type EffectivePermission struct {
	Key           string   `json:"key"`
	Allowed       bool     `json:"allowed"`
	PolicyEnabled bool     `json:"policy_enabled"`
	Reason        string   `json:"reason"`
	RoleSources   []string `json:"role_sources"`
}

// Query identifies one resolution. An empty SiteID is the bare
// organization context; an empty Module means every module.
type Query struct {
	OrgID  string
	UserID string
	SiteID string
	Module string
}

// Grant is one assignment of the user together with its role definition
type Grant struct {
	AssignmentID   string
	RoleID         string
	RoleName       string
	Scope          Scope
	SiteID         string
	CapabilityKeys []string
}

// Snapshot is a consistent read of everything a resolution needs for one
// (org, user): the user's grants and the org's stored policy rows
type Snapshot struct {
	Grants   []Grant
	Policies map[string]bool
}

// RoleTemplate is a suggested bundle of capabilities
type RoleTemplate struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Scope          Scope    `json:"scope"`
	CapabilityKeys []string `json:"capability_keys"`
}

// normalizeKeys returns keys deduplicated and sorted, never nil
func normalizeKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func cloneRole(r Role) Role {
	r.CapabilityKeys = append([]string(nil), r.CapabilityKeys...)
	if r.CapabilityKeys == nil {
		r.CapabilityKeys = []string{}
	}
	return r
}

func cloneAssignment(a Assignment) Assignment {
	if a.SiteID != nil {
		site := *a.SiteID
		a.SiteID = &site
	}
	return a
}
