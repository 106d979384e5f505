package rbac

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLSiteDirectory_TableName(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"", "sites", "tenant.sites", "site_v2"} {
		_, err := NewSQLSiteDirectory(db, table)
		assert.NoError(t, err, table)
	}
	for _, table := range []string{"sites; DROP TABLE x", "1sites", "a.b.c", "si-tes"} {
		_, err := NewSQLSiteDirectory(db, table)
		assert.Error(t, err, table)
	}
}

func TestSQLSiteDirectory_SiteOrg(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dir, err := NewSQLSiteDirectory(db, "tenant.sites")
	require.NoError(t, err)
	query := regexp.QuoteMeta("SELECT org_id FROM tenant.sites WHERE id = $1")

	mock.ExpectQuery(query).WithArgs(testSite).
		WillReturnRows(sqlmock.NewRows([]string{"org_id"}).AddRow(testOrg))
	org, found, err := dir.SiteOrg(context.Background(), testSite)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, testOrg, org)

	mock.ExpectQuery(query).WithArgs("unknown").WillReturnError(sql.ErrNoRows)
	_, found, err = dir.SiteOrg(context.Background(), "unknown")
	require.NoError(t, err)
	assert.False(t, found)

	mock.ExpectQuery(query).WithArgs(testSite).WillReturnError(errors.New("connection refused"))
	_, _, err = dir.SiteOrg(context.Background(), testSite)
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStaticSiteDirectory(t *testing.T) {
	dir := NewStaticSiteDirectory(map[string]string{testSite: testOrg})

	org, found, err := dir.SiteOrg(context.Background(), testSite)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, testOrg, org)

	_, found, _ = dir.SiteOrg(context.Background(), otherSite)
	assert.False(t, found)

	dir.Add(otherSite, otherOrg)
	org, found, _ = dir.SiteOrg(context.Background(), otherSite)
	assert.True(t, found)
	assert.Equal(t, otherOrg, org)
}
