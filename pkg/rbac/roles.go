package rbac

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/authzerr"
	"github.com/platinummonkey/gatekeeper/pkg/capabilities"
)

// System role names
const (
	RoleOwner  = "Owner"
	RoleAdmin  = "Admin"
	RoleEditor = "Editor"
	RoleViewer = "Viewer"
)

// systemRoleScopes reserves each system role name at the scope it is
// provisioned with. CUSTOM roles cannot take these names.
var systemRoleScopes = map[string]Scope{
	RoleOwner:  ScopeOrg,
	RoleAdmin:  ScopeOrg,
	RoleEditor: ScopeSite,
	RoleViewer: ScopeSite,
}

func reservedRoleName(name string, scope Scope) bool {
	reserved, ok := systemRoleScopes[name]
	return ok && reserved == scope
}

// RoleStore manages role definitions
type RoleStore struct {
	w        *writer
	registry *capabilities.Registry
}

// NewRoleStore creates a role store
func NewRoleStore(repo Repository, registry *capabilities.Registry, cache Cache, opts ...StoreOption) *RoleStore {
	return &RoleStore{
		w:        newWriter(repo, cache, opts),
		registry: registry,
	}
}

// GetRole returns a role by ID
func (s *RoleStore) GetRole(ctx context.Context, roleID string) (*Role, error) {
	return s.w.repo.GetRole(ctx, roleID)
}

// ListRoles lists an organization's roles, optionally limited to one scope
func (s *RoleStore) ListRoles(ctx context.Context, orgID string, scope *Scope) ([]Role, error) {
	if scope != nil && !scope.Valid() {
		return nil, &authzerr.InvalidArgumentError{Field: "scope", Reason: "must be ORG or SITE"}
	}
	return s.w.repo.ListRoles(ctx, orgID, scope)
}

// validateKeys normalizes keys and applies the registry and custom-role rules
func (s *RoleStore) validateKeys(roleType RoleType, keys []string) ([]string, error) {
	keys = normalizeKeys(keys)
	if err := s.registry.ValidateKeys(keys); err != nil {
		return nil, err
	}
	if roleType == RoleTypeCustom {
		if blocked := s.registry.BlockedForCustomRoles(keys); len(blocked) > 0 {
			return nil, &authzerr.BlockedCapabilityError{Keys: blocked}
		}
	}
	return keys, nil
}

// CreateRole creates a role. Names are unique per (org, scope).
func (s *RoleStore) CreateRole(ctx context.Context, orgID, name string, scope Scope, roleType RoleType, keys []string) (*Role, error) {
	if orgID == "" {
		return nil, &authzerr.InvalidArgumentError{Field: "org_id", Reason: "is required"}
	}
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > MaxRoleNameLength {
		return nil, &authzerr.InvalidArgumentError{Field: "name", Reason: "must be 1 to 100 characters"}
	}
	if !scope.Valid() {
		return nil, &authzerr.InvalidArgumentError{Field: "scope", Reason: "must be ORG or SITE"}
	}
	if !roleType.Valid() {
		return nil, &authzerr.InvalidArgumentError{Field: "type", Reason: "must be SYSTEM or CUSTOM"}
	}

	keys, err := s.validateKeys(roleType, keys)
	if err != nil {
		return nil, err
	}
	if roleType == RoleTypeCustom && reservedRoleName(name, scope) {
		return nil, &authzerr.DuplicateRoleError{OrgID: orgID, Name: name, Scope: string(scope)}
	}

	now := s.w.timestamp()
	role := &Role{
		ID:             uuid.New().String(),
		OrgID:          orgID,
		Name:           name,
		Scope:          scope,
		Type:           roleType,
		CapabilityKeys: keys,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.w.mutate(ctx, opCreateRole, orgID, func(tx Tx) error {
		existing, err := tx.FindRoleByName(ctx, orgID, name, scope)
		if err != nil {
			return err
		}
		if existing != nil {
			return &authzerr.DuplicateRoleError{OrgID: orgID, Name: name, Scope: string(scope)}
		}
		return tx.InsertRole(ctx, role)
	})

	event := audit.NewEvent(ctx, audit.EventTypeRoleCreate, audit.EventStatusSuccess).
		WithResource(audit.ResourceTypeRole, role.ID)
	event.Metadata["name"] = name
	event.Metadata["scope"] = string(scope)
	event.Metadata["type"] = string(roleType)
	event.Metadata["capability_keys"] = keys
	s.w.record(ctx, orgID, event, err)

	if err != nil && !committed(err) {
		return nil, err
	}
	out := cloneRole(*role)
	return &out, err
}

// UpdateRoleCapabilities replaces a CUSTOM role's capability set
func (s *RoleStore) UpdateRoleCapabilities(ctx context.Context, roleID string, keys []string) (*Role, error) {
	current, err := s.w.repo.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}

	var before []string
	var updated *Role
	err = s.w.mutate(ctx, opUpdateRole, current.OrgID, func(tx Tx) error {
		role, err := tx.GetRole(ctx, roleID)
		if err != nil {
			return err
		}
		if role.Type == RoleTypeSystem {
			return &authzerr.ImmutableRoleError{RoleID: roleID}
		}

		validated, err := s.validateKeys(role.Type, keys)
		if err != nil {
			return err
		}

		now := s.w.timestamp()
		if err := tx.ReplaceRoleCapabilities(ctx, roleID, validated, now); err != nil {
			return err
		}

		before = role.CapabilityKeys
		role.CapabilityKeys = validated
		role.UpdatedAt = now
		updated = role
		return nil
	})

	event := audit.NewEvent(ctx, audit.EventTypeRoleUpdate, audit.EventStatusSuccess).
		WithResource(audit.ResourceTypeRole, roleID)
	if updated != nil {
		event.WithChanges(
			map[string]interface{}{"capability_keys": before},
			map[string]interface{}{"capability_keys": updated.CapabilityKeys},
		)
	}
	s.w.record(ctx, current.OrgID, event, err)

	if err != nil && !committed(err) {
		return nil, err
	}
	return updated, err
}

// DeleteRole deletes a CUSTOM role that has no assignments
func (s *RoleStore) DeleteRole(ctx context.Context, roleID string) error {
	current, err := s.w.repo.GetRole(ctx, roleID)
	if err != nil {
		return err
	}

	err = s.w.mutate(ctx, opDeleteRole, current.OrgID, func(tx Tx) error {
		role, err := tx.GetRole(ctx, roleID)
		if err != nil {
			return err
		}
		if role.Type == RoleTypeSystem {
			return &authzerr.ImmutableRoleError{RoleID: roleID}
		}

		count, err := tx.CountRoleAssignments(ctx, roleID)
		if err != nil {
			return err
		}
		if count > 0 {
			return &authzerr.RoleInUseError{RoleID: roleID, Assignments: count}
		}
		return tx.DeleteRole(ctx, roleID)
	})

	event := audit.NewEvent(ctx, audit.EventTypeRoleDelete, audit.EventStatusSuccess).
		WithResource(audit.ResourceTypeRole, roleID)
	event.Metadata["name"] = current.Name
	event.Metadata["scope"] = string(current.Scope)
	s.w.record(ctx, current.OrgID, event, err)

	return err
}

// ProvisionSystemRoles creates any missing system role of the organization
// and returns all of them. Existing roles are left untouched.
func (s *RoleStore) ProvisionSystemRoles(ctx context.Context, orgID string) ([]Role, error) {
	if orgID == "" {
		return nil, &authzerr.InvalidArgumentError{Field: "org_id", Reason: "is required"}
	}

	var roles, created []Role
	err := s.w.mutate(ctx, opProvisionRoles, orgID, func(tx Tx) error {
		roles, created = nil, nil
		now := s.w.timestamp()
		for _, tmpl := range SystemRoleTemplates(s.registry) {
			existing, err := tx.FindRoleByName(ctx, orgID, tmpl.Name, tmpl.Scope)
			if err != nil {
				return err
			}
			if existing != nil {
				if existing.Type != RoleTypeSystem {
					return &authzerr.DuplicateRoleError{OrgID: orgID, Name: tmpl.Name, Scope: string(tmpl.Scope)}
				}
				roles = append(roles, *existing)
				continue
			}

			role := &Role{
				ID:             uuid.New().String(),
				OrgID:          orgID,
				Name:           tmpl.Name,
				Scope:          tmpl.Scope,
				Type:           RoleTypeSystem,
				CapabilityKeys: normalizeKeys(tmpl.CapabilityKeys),
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := tx.InsertRole(ctx, role); err != nil {
				return err
			}
			roles = append(roles, *role)
			created = append(created, *role)
		}
		return nil
	})

	if len(created) > 0 || (err != nil && !committed(err)) {
		names := make([]string, 0, len(created))
		for _, r := range created {
			names = append(names, r.Name)
		}
		event := audit.NewEvent(ctx, audit.EventTypeRolesProvision, audit.EventStatusSuccess).
			WithResource(audit.ResourceTypeRole, orgID)
		event.Metadata["created"] = names
		s.w.record(ctx, orgID, event, err)
	}

	if err != nil && !committed(err) {
		return nil, err
	}
	return roles, err
}

// SystemRoleTemplates returns the fixed roles every organization receives.
// Keys absent from registry are dropped.
func SystemRoleTemplates(registry *capabilities.Registry) []RoleTemplate {
	all := registry.Keys()
	admin := make([]string, 0, len(all))
	for _, k := range all {
		if k != "org.billing.manage" {
			admin = append(admin, k)
		}
	}

	return []RoleTemplate{
		{
			Name:           RoleOwner,
			Description:    "Full control of the organization, including billing",
			Scope:          ScopeOrg,
			CapabilityKeys: all,
		},
		{
			Name:           RoleAdmin,
			Description:    "Manages every site, member and policy but not billing",
			Scope:          ScopeOrg,
			CapabilityKeys: admin,
		},
		{
			Name:        RoleEditor,
			Description: "Creates, edits and publishes content on one site",
			Scope:       ScopeSite,
			CapabilityKeys: knownKeys(registry,
				"content.view", "content.edit", "content.delete", "content.publish",
				"collections.view", "collections.manage",
				"media.view", "media.upload", "media.delete",
				"builder.view", "builder.edit", "builder.publish",
			),
		},
		{
			Name:        RoleViewer,
			Description: "Read-only access to one site",
			Scope:       ScopeSite,
			CapabilityKeys: knownKeys(registry,
				"content.view", "collections.view", "media.view", "builder.view",
			),
		},
	}
}

// CustomRoleTemplates returns suggested starting points for CUSTOM roles.
// They never contain keys blocked for custom roles.
func CustomRoleTemplates(registry *capabilities.Registry) []RoleTemplate {
	templates := []RoleTemplate{
		{
			Name:        "Content Author",
			Description: "Writes drafts and uploads media without publishing",
			Scope:       ScopeSite,
			CapabilityKeys: []string{
				"content.view", "content.edit", "collections.view", "media.view", "media.upload",
			},
		},
		{
			Name:        "Publisher",
			Description: "Reviews and publishes content and pages",
			Scope:       ScopeSite,
			CapabilityKeys: []string{
				"content.view", "content.edit", "content.publish",
				"builder.view", "builder.publish", "media.view",
			},
		},
		{
			Name:        "Member Manager",
			Description: "Invites members and manages their assignments",
			Scope:       ScopeOrg,
			CapabilityKeys: []string{
				"org.members.view", "org.members.manage",
			},
		},
		{
			Name:        "Auditor",
			Description: "Reads the audit trail and membership",
			Scope:       ScopeOrg,
			CapabilityKeys: []string{
				"org.members.view", "org.audit.view",
			},
		},
	}

	for i := range templates {
		keys := make([]string, 0, len(templates[i].CapabilityKeys))
		for _, k := range knownKeys(registry, templates[i].CapabilityKeys...) {
			if len(registry.BlockedForCustomRoles([]string{k})) == 0 {
				keys = append(keys, k)
			}
		}
		templates[i].CapabilityKeys = keys
	}
	return templates
}

func knownKeys(registry *capabilities.Registry, keys ...string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range normalizeKeys(keys) {
		if registry.Has(k) {
			out = append(out, k)
		}
	}
	return out
}
