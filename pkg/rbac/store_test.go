package rbac

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeeper/pkg/authzerr"
)

var roleColumns = []string{"id", "org_id", "name", "scope", "type", "created_at", "updated_at", "capability_keys"}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

func TestPostgresStore_GetRole(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE r.id = $1 GROUP BY r.id")).
		WithArgs("role-1").
		WillReturnRows(sqlmock.NewRows(roleColumns).
			AddRow("role-1", testOrg, "Editor", "SITE", "SYSTEM", now, now, "{content.edit,content.view}"))

	role, err := store.GetRole(context.Background(), "role-1")
	require.NoError(t, err)
	assert.Equal(t, "Editor", role.Name)
	assert.Equal(t, ScopeSite, role.Scope)
	assert.Equal(t, RoleTypeSystem, role.Type)
	assert.Equal(t, []string{"content.edit", "content.view"}, role.CapabilityKeys)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRole_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE r.id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetRole(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, authzerr.IsNotFound(err))

	var nf *authzerr.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "role", nf.Kind)
}

func TestPostgresStore_GetRole_EmptyCapabilities(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE r.id = $1")).
		WillReturnRows(sqlmock.NewRows(roleColumns).
			AddRow("role-1", testOrg, "Empty", "ORG", "CUSTOM", now, now, "{}"))

	role, err := store.GetRole(context.Background(), "role-1")
	require.NoError(t, err)
	assert.NotNil(t, role.CapabilityKeys)
	assert.Empty(t, role.CapabilityKeys)
}

func TestPostgresStore_ListRoles(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	t.Run("all scopes", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("WHERE r.org_id = $1 GROUP BY r.id ORDER BY r.scope, r.name")).
			WithArgs(testOrg).
			WillReturnRows(sqlmock.NewRows(roleColumns).
				AddRow("r1", testOrg, "Admin", "ORG", "SYSTEM", now, now, "{org.view}").
				AddRow("r2", testOrg, "Viewer", "SITE", "SYSTEM", now, now, "{content.view}"))

		roles, err := store.ListRoles(context.Background(), testOrg, nil)
		require.NoError(t, err)
		require.Len(t, roles, 2)
		assert.Equal(t, "Admin", roles[0].Name)
	})

	t.Run("site scope", func(t *testing.T) {
		scope := ScopeSite
		mock.ExpectQuery(regexp.QuoteMeta("WHERE r.org_id = $1 AND r.scope = $2")).
			WithArgs(testOrg, "SITE").
			WillReturnRows(sqlmock.NewRows(roleColumns))

		roles, err := store.ListRoles(context.Background(), testOrg, &scope)
		require.NoError(t, err)
		assert.NotNil(t, roles)
		assert.Empty(t, roles)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListAssignments(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE org_id = $1 AND user_id = $2 ORDER BY created_at, id")).
		WithArgs(testOrg, "u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "org_id", "user_id", "role_id", "site_id", "created_at"}).
			AddRow("a1", testOrg, "u1", "r1", nil, now).
			AddRow("a2", testOrg, "u1", "r2", testSite, now))

	assignments, err := store.ListAssignments(context.Background(), testOrg, "u1")
	require.NoError(t, err)
	require.Len(t, assignments, 2)
	assert.Nil(t, assignments[0].SiteID)
	require.NotNil(t, assignments[1].SiteID)
	assert.Equal(t, testSite, *assignments[1].SiteID)
}

func TestPostgresStore_Snapshot(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM rbac_assignments a")).
		WithArgs(testOrg, "u1").
		WillReturnRows(sqlmock.NewRows([]string{"aid", "rid", "name", "scope", "site_id", "keys"}).
			AddRow("a1", "r1", "Admin", "ORG", "", "{org.members.view,org.view}").
			AddRow("a2", "r2", "Editor", "SITE", testSite, "{content.edit}"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM rbac_org_policies WHERE org_id = $1")).
		WithArgs(testOrg).
		WillReturnRows(sqlmock.NewRows([]string{"capability_key", "enabled"}).
			AddRow("content.publish", false))
	mock.ExpectCommit()

	snap, err := store.Snapshot(context.Background(), testOrg, "u1")
	require.NoError(t, err)
	require.Len(t, snap.Grants, 2)
	assert.Equal(t, ScopeOrg, snap.Grants[0].Scope)
	assert.Equal(t, []string{"org.members.view", "org.view"}, snap.Grants[0].CapabilityKeys)
	assert.Equal(t, testSite, snap.Grants[1].SiteID)
	assert.Equal(t, map[string]bool{"content.publish": false}, snap.Policies)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Snapshot_QueryError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM rbac_assignments a")).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := store.Snapshot(context.Background(), testOrg, "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load grants")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_WithOrgLock(t *testing.T) {
	lockQuery := regexp.QuoteMeta("SELECT pg_advisory_xact_lock(hashtext($1))")

	t.Run("commits on success", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(lockQuery).WithArgs(testOrg).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM rbac_org_policies")).
			WithArgs(testOrg, "content.publish").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := store.WithOrgLock(context.Background(), testOrg, func(tx Tx) error {
			return tx.DeletePolicy(context.Background(), testOrg, "content.publish")
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(lockQuery).WithArgs(testOrg).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		boom := errors.New("boom")
		err := store.WithOrgLock(context.Background(), testOrg, func(tx Tx) error {
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lock failure", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(lockQuery).WillReturnError(errors.New("lock timeout"))
		mock.ExpectRollback()

		called := false
		err := store.WithOrgLock(context.Background(), testOrg, func(tx Tx) error {
			called = true
			return nil
		})
		require.Error(t, err)
		assert.False(t, called)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgTx_InsertRole(t *testing.T) {
	now := time.Now()
	role := &Role{
		ID:             "r1",
		OrgID:          testOrg,
		Name:           "Publisher",
		Scope:          ScopeSite,
		Type:           RoleTypeCustom,
		CapabilityKeys: []string{"content.publish", "content.view"},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	t.Run("inserts role and capabilities", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO rbac_roles")).
			WithArgs("r1", testOrg, "Publisher", "SITE", "CUSTOM", now, now).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO rbac_role_capabilities")).
			WithArgs("r1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectCommit()

		err := store.WithOrgLock(context.Background(), testOrg, func(tx Tx) error {
			return tx.InsertRole(context.Background(), role)
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation is a duplicate", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO rbac_roles")).
			WillReturnError(&pq.Error{Code: "23505"})
		mock.ExpectRollback()

		err := store.WithOrgLock(context.Background(), testOrg, func(tx Tx) error {
			return tx.InsertRole(context.Background(), role)
		})
		var dup *authzerr.DuplicateRoleError
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, "Publisher", dup.Name)
		assert.ErrorIs(t, err, authzerr.ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgTx_FindAssignment_None(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("COALESCE(site_id, '') = $4")).
		WithArgs(testOrg, "u1", "r1", "").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectCommit()

	err := store.WithOrgLock(context.Background(), testOrg, func(tx Tx) error {
		a, err := tx.FindAssignment(context.Background(), testOrg, "u1", "r1", "")
		assert.Nil(t, a)
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgTx_InsertAssignment_NullSite(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO rbac_assignments")).
		WithArgs("a1", testOrg, "u1", "r1", nil, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.WithOrgLock(context.Background(), testOrg, func(tx Tx) error {
		return tx.InsertAssignment(context.Background(), &Assignment{
			ID: "a1", OrgID: testOrg, UserID: "u1", RoleID: "r1", CreatedAt: now,
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgTx_GetPolicy(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT enabled FROM rbac_org_policies")).
		WithArgs(testOrg, "media.upload").
		WillReturnRows(sqlmock.NewRows([]string{"enabled"}).AddRow(false))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT enabled FROM rbac_org_policies")).
		WithArgs(testOrg, "content.publish").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectCommit()

	err := store.WithOrgLock(context.Background(), testOrg, func(tx Tx) error {
		enabled, found, err := tx.GetPolicy(context.Background(), testOrg, "media.upload")
		require.NoError(t, err)
		assert.True(t, found)
		assert.False(t, enabled)

		_, found, err = tx.GetPolicy(context.Background(), testOrg, "content.publish")
		require.NoError(t, err)
		assert.False(t, found)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgTx_CountRoleAssignments(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM rbac_assignments WHERE role_id = $1")).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectCommit()

	err := store.WithOrgLock(context.Background(), testOrg, func(tx Tx) error {
		n, err := tx.CountRoleAssignments(context.Background(), "r1")
		assert.Equal(t, 3, n)
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
