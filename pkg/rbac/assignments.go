package rbac

import (
	"context"

	"github.com/google/uuid"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/authzerr"
)

// AssignmentStore binds users to roles
type AssignmentStore struct {
	w     *writer
	sites SiteDirectory
}

// NewAssignmentStore creates an assignment store. sites answers site
// ownership for SITE assignments.
func NewAssignmentStore(repo Repository, sites SiteDirectory, cache Cache, opts ...StoreOption) *AssignmentStore {
	if sites == nil {
		sites = NewStaticSiteDirectory(nil)
	}
	return &AssignmentStore{
		w:     newWriter(repo, cache, opts),
		sites: sites,
	}
}

// GetAssignment returns an assignment by ID
func (s *AssignmentStore) GetAssignment(ctx context.Context, assignmentID string) (*Assignment, error) {
	return s.w.repo.GetAssignment(ctx, assignmentID)
}

// ListForUser returns the user's assignments in the organization, oldest
// first
func (s *AssignmentStore) ListForUser(ctx context.Context, orgID, userID string) ([]Assignment, error) {
	return s.w.repo.ListAssignments(ctx, orgID, userID)
}

// checkScope verifies that the presence of a site agrees with the role scope
func checkScope(role *Role, siteID string) error {
	hasSite := siteID != ""
	if (role.Scope == ScopeSite) != hasSite {
		return &authzerr.ScopeMismatchError{RoleID: role.ID, Scope: string(role.Scope), HasSite: hasSite}
	}
	return nil
}

// Assign binds userID to roleID, at siteID for SITE roles. Assigning an
// existing tuple returns the existing assignment with created=false.
func (s *AssignmentStore) Assign(ctx context.Context, orgID, userID, roleID string, siteID *string) (*Assignment, bool, error) {
	if orgID == "" {
		return nil, false, &authzerr.InvalidArgumentError{Field: "org_id", Reason: "is required"}
	}
	if userID == "" {
		return nil, false, &authzerr.InvalidArgumentError{Field: "user_id", Reason: "is required"}
	}
	site := ""
	if siteID != nil {
		site = *siteID
	}

	role, err := s.w.repo.GetRole(ctx, roleID)
	if err != nil {
		return nil, false, err
	}
	if role.OrgID != orgID {
		return nil, false, &authzerr.NotFoundError{Kind: "role", ID: roleID}
	}
	if err := checkScope(role, site); err != nil {
		return nil, false, err
	}

	if site != "" {
		owner, found, err := s.sites.SiteOrg(ctx, site)
		if err != nil {
			return nil, false, err
		}
		if !found || owner != orgID {
			return nil, false, &authzerr.CrossOrgSiteError{OrgID: orgID, SiteID: site}
		}
	}

	var result *Assignment
	created := false
	err = s.w.mutate(ctx, opAssign, orgID, func(tx Tx) error {
		role, err := tx.GetRole(ctx, roleID)
		if err != nil {
			return err
		}
		if role.OrgID != orgID {
			return &authzerr.NotFoundError{Kind: "role", ID: roleID}
		}
		if err := checkScope(role, site); err != nil {
			return err
		}

		existing, err := tx.FindAssignment(ctx, orgID, userID, roleID, site)
		if err != nil {
			return err
		}
		if existing != nil {
			result = existing
			return nil
		}

		a := &Assignment{
			ID:        uuid.New().String(),
			OrgID:     orgID,
			UserID:    userID,
			RoleID:    roleID,
			CreatedAt: s.w.timestamp(),
		}
		if site != "" {
			a.SiteID = &site
		}
		if err := tx.InsertAssignment(ctx, a); err != nil {
			return err
		}
		result = a
		created = true
		return nil
	})

	if created || (err != nil && !committed(err)) {
		resourceID := ""
		if result != nil {
			resourceID = result.ID
		}
		event := audit.NewEvent(ctx, audit.EventTypeAssignmentCreate, audit.EventStatusSuccess).
			WithResource(audit.ResourceTypeAssignment, resourceID)
		event.SiteID = site
		event.Metadata["user_id"] = userID
		event.Metadata["role_id"] = roleID
		event.Metadata["role_name"] = role.Name
		s.w.record(ctx, orgID, event, err)
	}

	if err != nil && !committed(err) {
		return nil, false, err
	}
	return result, created, err
}

// Revoke deletes an assignment. Revoking an absent assignment succeeds.
func (s *AssignmentStore) Revoke(ctx context.Context, assignmentID string) error {
	a, err := s.w.repo.GetAssignment(ctx, assignmentID)
	if authzerr.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.revoke(ctx, a)
}

// RevokeInOrg is Revoke restricted to one organization. An assignment of
// another organization is treated as absent.
func (s *AssignmentStore) RevokeInOrg(ctx context.Context, orgID, assignmentID string) error {
	a, err := s.w.repo.GetAssignment(ctx, assignmentID)
	if authzerr.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if a.OrgID != orgID {
		return nil
	}
	return s.revoke(ctx, a)
}

func (s *AssignmentStore) revoke(ctx context.Context, a *Assignment) error {
	deleted := false
	err := s.w.mutate(ctx, opRevoke, a.OrgID, func(tx Tx) error {
		current, err := tx.GetAssignment(ctx, a.ID)
		if authzerr.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.DeleteAssignment(ctx, current.ID); err != nil {
			return err
		}
		deleted = true
		return nil
	})

	if deleted || (err != nil && !committed(err)) {
		event := audit.NewEvent(ctx, audit.EventTypeAssignmentRevoke, audit.EventStatusSuccess).
			WithResource(audit.ResourceTypeAssignment, a.ID)
		event.SiteID = a.SiteKey()
		event.Metadata["user_id"] = a.UserID
		event.Metadata["role_id"] = a.RoleID
		s.w.record(ctx, a.OrgID, event, err)
	}

	return err
}
