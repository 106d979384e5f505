package rbac

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/authzerr"
)

// memoryState holds every row of a MemoryStore. Writers mutate a clone and
// swap it in on success, so a failed mutation leaves no trace.
type memoryState struct {
	roles       map[string]Role
	assignments map[string]Assignment
	// policies is keyed by org, then capability key
	policies map[string]map[string]OrgPolicy
}

func newMemoryState() *memoryState {
	return &memoryState{
		roles:       make(map[string]Role),
		assignments: make(map[string]Assignment),
		policies:    make(map[string]map[string]OrgPolicy),
	}
}

func (s *memoryState) clone() *memoryState {
	out := newMemoryState()
	for id, r := range s.roles {
		out.roles[id] = cloneRole(r)
	}
	for id, a := range s.assignments {
		out.assignments[id] = cloneAssignment(a)
	}
	for org, rows := range s.policies {
		m := make(map[string]OrgPolicy, len(rows))
		for k, p := range rows {
			m[k] = p
		}
		out.policies[org] = m
	}
	return out
}

// MemoryStore is an in-process Repository. A single mutex serializes all
// writers, which is stricter than the per-org lock of PostgresStore.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memoryState
}

// NewMemoryStore creates an empty in-memory repository
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemoryState()}
}

// GetRole returns the role or a NotFoundError
func (s *MemoryStore) GetRole(ctx context.Context, roleID string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.getRole(roleID)
}

// GetAssignment returns the assignment or a NotFoundError
func (s *MemoryStore) GetAssignment(ctx context.Context, assignmentID string) (*Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.getAssignment(assignmentID)
}

// ListRoles returns the roles of orgID ordered by scope and name
func (s *MemoryStore) ListRoles(ctx context.Context, orgID string, scope *Scope) ([]Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	roles := make([]Role, 0)
	for _, r := range s.state.roles {
		if r.OrgID != orgID {
			continue
		}
		if scope != nil && r.Scope != *scope {
			continue
		}
		roles = append(roles, cloneRole(r))
	}
	sort.Slice(roles, func(i, j int) bool {
		if roles[i].Scope != roles[j].Scope {
			return roles[i].Scope < roles[j].Scope
		}
		return roles[i].Name < roles[j].Name
	})
	return roles, nil
}

// ListAssignments returns the user's assignments in orgID by creation time
func (s *MemoryStore) ListAssignments(ctx context.Context, orgID, userID string) ([]Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.userAssignments(orgID, userID), nil
}

// ListPolicies returns the stored override rows for orgID
func (s *MemoryStore) ListPolicies(ctx context.Context, orgID string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.policyMap(orgID), nil
}

// Snapshot reads grants and policies under one read lock
func (s *MemoryStore) Snapshot(ctx context.Context, orgID, userID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{Policies: s.state.policyMap(orgID)}
	for _, a := range s.state.userAssignments(orgID, userID) {
		r, ok := s.state.roles[a.RoleID]
		if !ok || r.OrgID != orgID {
			continue
		}
		snap.Grants = append(snap.Grants, Grant{
			AssignmentID:   a.ID,
			RoleID:         r.ID,
			RoleName:       r.Name,
			Scope:          r.Scope,
			SiteID:         a.SiteKey(),
			CapabilityKeys: append([]string(nil), r.CapabilityKeys...),
		})
	}
	return snap, nil
}

// WithOrgLock runs fn against a private copy of the state and publishes it
// only when fn succeeds
func (s *MemoryStore) WithOrgLock(ctx context.Context, orgID string, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&memoryTx{state: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *memoryState) getRole(roleID string) (*Role, error) {
	r, ok := s.roles[roleID]
	if !ok {
		return nil, &authzerr.NotFoundError{Kind: "role", ID: roleID}
	}
	out := cloneRole(r)
	return &out, nil
}

func (s *memoryState) getAssignment(assignmentID string) (*Assignment, error) {
	a, ok := s.assignments[assignmentID]
	if !ok {
		return nil, &authzerr.NotFoundError{Kind: "assignment", ID: assignmentID}
	}
	out := cloneAssignment(a)
	return &out, nil
}

func (s *memoryState) userAssignments(orgID, userID string) []Assignment {
	out := make([]Assignment, 0)
	for _, a := range s.assignments {
		if a.OrgID == orgID && a.UserID == userID {
			out = append(out, cloneAssignment(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *memoryState) policyMap(orgID string) map[string]bool {
	out := make(map[string]bool, len(s.policies[orgID]))
	for k, p := range s.policies[orgID] {
		out[k] = p.Enabled
	}
	return out
}

// memoryTx implements Tx over a cloned memoryState
type memoryTx struct {
	state *memoryState
}

func (t *memoryTx) GetRole(ctx context.Context, roleID string) (*Role, error) {
	return t.state.getRole(roleID)
}

func (t *memoryTx) GetAssignment(ctx context.Context, assignmentID string) (*Assignment, error) {
	return t.state.getAssignment(assignmentID)
}

func (t *memoryTx) FindRoleByName(ctx context.Context, orgID, name string, scope Scope) (*Role, error) {
	for _, r := range t.state.roles {
		if r.OrgID == orgID && r.Name == name && r.Scope == scope {
			out := cloneRole(r)
			return &out, nil
		}
	}
	return nil, nil
}

func (t *memoryTx) InsertRole(ctx context.Context, role *Role) error {
	if existing, _ := t.FindRoleByName(ctx, role.OrgID, role.Name, role.Scope); existing != nil {
		return &authzerr.DuplicateRoleError{OrgID: role.OrgID, Name: role.Name, Scope: string(role.Scope)}
	}
	t.state.roles[role.ID] = cloneRole(*role)
	return nil
}

func (t *memoryTx) ReplaceRoleCapabilities(ctx context.Context, roleID string, keys []string, updatedAt time.Time) error {
	r, ok := t.state.roles[roleID]
	if !ok {
		return &authzerr.NotFoundError{Kind: "role", ID: roleID}
	}
	r.CapabilityKeys = append([]string{}, keys...)
	r.UpdatedAt = updatedAt
	t.state.roles[roleID] = r
	return nil
}

func (t *memoryTx) DeleteRole(ctx context.Context, roleID string) error {
	delete(t.state.roles, roleID)
	return nil
}

func (t *memoryTx) CountRoleAssignments(ctx context.Context, roleID string) (int, error) {
	count := 0
	for _, a := range t.state.assignments {
		if a.RoleID == roleID {
			count++
		}
	}
	return count, nil
}

func (t *memoryTx) GetPolicy(ctx context.Context, orgID, key string) (bool, bool, error) {
	p, ok := t.state.policies[orgID][key]
	return p.Enabled, ok, nil
}

func (t *memoryTx) UpsertPolicy(ctx context.Context, policy OrgPolicy) error {
	rows, ok := t.state.policies[policy.OrgID]
	if !ok {
		rows = make(map[string]OrgPolicy)
		t.state.policies[policy.OrgID] = rows
	}
	rows[policy.Key] = policy
	return nil
}

func (t *memoryTx) DeletePolicy(ctx context.Context, orgID, key string) error {
	delete(t.state.policies[orgID], key)
	return nil
}

func (t *memoryTx) FindAssignment(ctx context.Context, orgID, userID, roleID, siteID string) (*Assignment, error) {
	for _, a := range t.state.assignments {
		if a.OrgID == orgID && a.UserID == userID && a.RoleID == roleID && a.SiteKey() == siteID {
			out := cloneAssignment(a)
			return &out, nil
		}
	}
	return nil, nil
}

func (t *memoryTx) InsertAssignment(ctx context.Context, a *Assignment) error {
	if existing, _ := t.FindAssignment(ctx, a.OrgID, a.UserID, a.RoleID, a.SiteKey()); existing != nil {
		return nil
	}
	t.state.assignments[a.ID] = cloneAssignment(*a)
	return nil
}

func (t *memoryTx) DeleteAssignment(ctx context.Context, assignmentID string) error {
	delete(t.state.assignments, assignmentID)
	return nil
}
