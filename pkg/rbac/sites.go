package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sync"
)

// DefaultSitesTable is the tenant subsystem's site table
const DefaultSitesTable = "sites"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// SQLSiteDirectory reads site ownership from a table with id and org_id
// columns
type SQLSiteDirectory struct {
	db    *sql.DB
	query string
}

// NewSQLSiteDirectory creates a directory over table, which may be
// schema-qualified
func NewSQLSiteDirectory(db *sql.DB, table string) (*SQLSiteDirectory, error) {
	if table == "" {
		table = DefaultSitesTable
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid sites table name: %q", table)
	}
	return &SQLSiteDirectory{
		db:    db,
		query: "SELECT org_id FROM " + table + " WHERE id = $1",
	}, nil
}

// SiteOrg returns the organization owning siteID
func (d *SQLSiteDirectory) SiteOrg(ctx context.Context, siteID string) (string, bool, error) {
	var orgID string
	err := d.db.QueryRowContext(ctx, d.query, siteID).Scan(&orgID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up site: %w", err)
	}
	return orgID, true, nil
}

// StaticSiteDirectory is a map of site id to org id
type StaticSiteDirectory struct {
	mu    sync.RWMutex
	sites map[string]string
}

// NewStaticSiteDirectory creates a directory seeded with sites
func NewStaticSiteDirectory(sites map[string]string) *StaticSiteDirectory {
	d := &StaticSiteDirectory{sites: make(map[string]string, len(sites))}
	for site, org := range sites {
		d.sites[site] = org
	}
	return d
}

// Add registers siteID as owned by orgID
func (d *StaticSiteDirectory) Add(siteID, orgID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sites[siteID] = orgID
}

func (d *StaticSiteDirectory) SiteOrg(ctx context.Context, siteID string) (string, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	org, ok := d.sites[siteID]
	return org, ok, nil
}
