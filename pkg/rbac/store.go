package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/gatekeeper/pkg/authzerr"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation
const uniqueViolation = "23505"

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// PostgresStore implements Repository on PostgreSQL. Writers of one org are
// serialized with a transaction-scoped advisory lock keyed by the org id.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL repository
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const roleSelect = `
	SELECT r.id, r.org_id, r.name, r.scope, r.type, r.created_at, r.updated_at,
	       COALESCE(array_agg(rc.capability_key ORDER BY rc.capability_key)
	                FILTER (WHERE rc.capability_key IS NOT NULL), '{}')
	FROM rbac_roles r
	LEFT JOIN rbac_role_capabilities rc ON rc.role_id = r.id
`

func scanRole(scan func(dest ...interface{}) error) (*Role, error) {
	var role Role
	var scope, roleType string
	var keys pq.StringArray

	if err := scan(&role.ID, &role.OrgID, &role.Name, &scope, &roleType, &role.CreatedAt, &role.UpdatedAt, &keys); err != nil {
		return nil, err
	}

	role.Scope = Scope(scope)
	role.Type = RoleType(roleType)
	role.CapabilityKeys = []string(keys)
	if role.CapabilityKeys == nil {
		role.CapabilityKeys = []string{}
	}
	return &role, nil
}

func getRole(ctx context.Context, q querier, roleID string) (*Role, error) {
	row := q.QueryRowContext(ctx, roleSelect+" WHERE r.id = $1 GROUP BY r.id", roleID)
	role, err := scanRole(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &authzerr.NotFoundError{Kind: "role", ID: roleID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

const assignmentSelect = `SELECT id, org_id, user_id, role_id, site_id, created_at FROM rbac_assignments`

func scanAssignment(scan func(dest ...interface{}) error) (*Assignment, error) {
	var a Assignment
	var siteID sql.NullString
	if err := scan(&a.ID, &a.OrgID, &a.UserID, &a.RoleID, &siteID, &a.CreatedAt); err != nil {
		return nil, err
	}
	if siteID.Valid {
		site := siteID.String
		a.SiteID = &site
	}
	return &a, nil
}

func getAssignment(ctx context.Context, q querier, assignmentID string) (*Assignment, error) {
	row := q.QueryRowContext(ctx, assignmentSelect+" WHERE id = $1", assignmentID)
	a, err := scanAssignment(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &authzerr.NotFoundError{Kind: "assignment", ID: assignmentID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return a, nil
}

// GetRole retrieves a role by ID
func (s *PostgresStore) GetRole(ctx context.Context, roleID string) (*Role, error) {
	return getRole(ctx, s.db, roleID)
}

// GetAssignment retrieves an assignment by ID
func (s *PostgresStore) GetAssignment(ctx context.Context, assignmentID string) (*Assignment, error) {
	return getAssignment(ctx, s.db, assignmentID)
}

// ListRoles lists an organization's roles, optionally limited to one scope
func (s *PostgresStore) ListRoles(ctx context.Context, orgID string, scope *Scope) ([]Role, error) {
	query := roleSelect + " WHERE r.org_id = $1"
	args := []interface{}{orgID}
	if scope != nil {
		query += " AND r.scope = $2"
		args = append(args, string(*scope))
	}
	query += " GROUP BY r.id ORDER BY r.scope, r.name"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	roles := make([]Role, 0)
	for rows.Next() {
		role, err := scanRole(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, *role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating roles: %w", err)
	}
	return roles, nil
}

// ListAssignments lists a user's assignments in an organization, oldest first
func (s *PostgresStore) ListAssignments(ctx context.Context, orgID, userID string) ([]Assignment, error) {
	rows, err := s.db.QueryContext(ctx,
		assignmentSelect+" WHERE org_id = $1 AND user_id = $2 ORDER BY created_at, id", orgID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	assignments := make([]Assignment, 0)
	for rows.Next() {
		a, err := scanAssignment(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		assignments = append(assignments, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assignments: %w", err)
	}
	return assignments, nil
}

func listPolicies(ctx context.Context, q querier, orgID string) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT capability_key, enabled FROM rbac_org_policies WHERE org_id = $1", orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	defer rows.Close()

	policies := make(map[string]bool)
	for rows.Next() {
		var key string
		var enabled bool
		if err := rows.Scan(&key, &enabled); err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		policies[key] = enabled
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating policies: %w", err)
	}
	return policies, nil
}

// ListPolicies returns the stored override rows for an organization
func (s *PostgresStore) ListPolicies(ctx context.Context, orgID string) (map[string]bool, error) {
	return listPolicies(ctx, s.db, orgID)
}

const snapshotGrantsQuery = `
	SELECT a.id, r.id, r.name, r.scope, COALESCE(a.site_id, ''),
	       COALESCE(array_agg(rc.capability_key ORDER BY rc.capability_key)
	                FILTER (WHERE rc.capability_key IS NOT NULL), '{}')
	FROM rbac_assignments a
	JOIN rbac_roles r ON r.id = a.role_id AND r.org_id = a.org_id
	LEFT JOIN rbac_role_capabilities rc ON rc.role_id = r.id
	WHERE a.org_id = $1 AND a.user_id = $2
	GROUP BY a.id, r.id
	ORDER BY a.created_at, a.id
`

// Snapshot reads grants and policies inside one REPEATABLE READ transaction
// so both queries see the same committed state
func (s *PostgresStore) Snapshot(ctx context.Context, orgID, userID string) (*Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin snapshot: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // read-only

	rows, err := tx.QueryContext(ctx, snapshotGrantsQuery, orgID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load grants: %w", err)
	}

	snap := &Snapshot{}
	for rows.Next() {
		var g Grant
		var scope string
		var keys pq.StringArray
		if err := rows.Scan(&g.AssignmentID, &g.RoleID, &g.RoleName, &scope, &g.SiteID, &keys); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		g.Scope = Scope(scope)
		g.CapabilityKeys = []string(keys)
		snap.Grants = append(snap.Grants, g)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating grants: %w", err)
	}
	rows.Close()

	snap.Policies, err = listPolicies(ctx, tx, orgID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to end snapshot: %w", err)
	}
	return snap, nil
}

// WithOrgLock runs fn in a transaction holding the org's advisory lock
func (s *PostgresStore) WithOrgLock(ctx context.Context, orgID string, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", orgID); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("failed to lock organization: %w", err)
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// pgTx implements Tx over a *sql.Tx
type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) GetRole(ctx context.Context, roleID string) (*Role, error) {
	return getRole(ctx, t.tx, roleID)
}

func (t *pgTx) GetAssignment(ctx context.Context, assignmentID string) (*Assignment, error) {
	return getAssignment(ctx, t.tx, assignmentID)
}

func (t *pgTx) FindRoleByName(ctx context.Context, orgID, name string, scope Scope) (*Role, error) {
	row := t.tx.QueryRowContext(ctx,
		roleSelect+" WHERE r.org_id = $1 AND r.name = $2 AND r.scope = $3 GROUP BY r.id",
		orgID, name, string(scope))
	role, err := scanRole(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find role: %w", err)
	}
	return role, nil
}

func (t *pgTx) InsertRole(ctx context.Context, role *Role) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO rbac_roles (id, org_id, name, scope, type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		role.ID, role.OrgID, role.Name, string(role.Scope), string(role.Type), role.CreatedAt, role.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return &authzerr.DuplicateRoleError{OrgID: role.OrgID, Name: role.Name, Scope: string(role.Scope)}
		}
		return fmt.Errorf("failed to create role: %w", err)
	}

	return t.insertCapabilities(ctx, role.ID, role.CapabilityKeys)
}

func (t *pgTx) insertCapabilities(ctx context.Context, roleID string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO rbac_role_capabilities (role_id, capability_key)
		SELECT $1, unnest($2::text[])`,
		roleID, pq.Array(keys),
	)
	if err != nil {
		return fmt.Errorf("failed to store role capabilities: %w", err)
	}
	return nil
}

func (t *pgTx) ReplaceRoleCapabilities(ctx context.Context, roleID string, keys []string, updatedAt time.Time) error {
	if _, err := t.tx.ExecContext(ctx, "DELETE FROM rbac_role_capabilities WHERE role_id = $1", roleID); err != nil {
		return fmt.Errorf("failed to clear role capabilities: %w", err)
	}
	if err := t.insertCapabilities(ctx, roleID, keys); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, "UPDATE rbac_roles SET updated_at = $2 WHERE id = $1", roleID, updatedAt); err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteRole(ctx context.Context, roleID string) error {
	if _, err := t.tx.ExecContext(ctx, "DELETE FROM rbac_roles WHERE id = $1", roleID); err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	return nil
}

func (t *pgTx) CountRoleAssignments(ctx context.Context, roleID string) (int, error) {
	var count int
	if err := t.tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM rbac_assignments WHERE role_id = $1", roleID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count role assignments: %w", err)
	}
	return count, nil
}

func (t *pgTx) GetPolicy(ctx context.Context, orgID, key string) (bool, bool, error) {
	var enabled bool
	err := t.tx.QueryRowContext(ctx,
		"SELECT enabled FROM rbac_org_policies WHERE org_id = $1 AND capability_key = $2",
		orgID, key).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("failed to get policy: %w", err)
	}
	return enabled, true, nil
}

func (t *pgTx) UpsertPolicy(ctx context.Context, policy OrgPolicy) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO rbac_org_policies (org_id, capability_key, enabled, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (org_id, capability_key)
		DO UPDATE SET enabled = EXCLUDED.enabled, updated_at = EXCLUDED.updated_at`,
		policy.OrgID, policy.Key, policy.Enabled, policy.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to set policy: %w", err)
	}
	return nil
}

func (t *pgTx) DeletePolicy(ctx context.Context, orgID, key string) error {
	if _, err := t.tx.ExecContext(ctx,
		"DELETE FROM rbac_org_policies WHERE org_id = $1 AND capability_key = $2", orgID, key); err != nil {
		return fmt.Errorf("failed to delete policy: %w", err)
	}
	return nil
}

func (t *pgTx) FindAssignment(ctx context.Context, orgID, userID, roleID, siteID string) (*Assignment, error) {
	row := t.tx.QueryRowContext(ctx,
		assignmentSelect+" WHERE org_id = $1 AND user_id = $2 AND role_id = $3 AND COALESCE(site_id, '') = $4",
		orgID, userID, roleID, siteID)
	a, err := scanAssignment(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find assignment: %w", err)
	}
	return a, nil
}

func (t *pgTx) InsertAssignment(ctx context.Context, a *Assignment) error {
	var siteID interface{}
	if a.SiteID != nil {
		siteID = *a.SiteID
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO rbac_assignments (id, org_id, user_id, role_id, site_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING`,
		a.ID, a.OrgID, a.UserID, a.RoleID, siteID, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create assignment: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteAssignment(ctx context.Context, assignmentID string) error {
	if _, err := t.tx.ExecContext(ctx, "DELETE FROM rbac_assignments WHERE id = $1", assignmentID); err != nil {
		return fmt.Errorf("failed to delete assignment: %w", err)
	}
	return nil
}
