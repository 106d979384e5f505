package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/rbac"
)

func (a *app) printAssignments(cf *commonFlags, assignments []rbac.Assignment) error {
	if cf.output == OutputJSON {
		return a.printJSON(assignments)
	}
	rows := make([][]string, 0, len(assignments))
	for _, as := range assignments {
		site := as.SiteKey()
		if site == "" {
			site = "-"
		}
		rows = append(rows, []string{as.ID, as.UserID, as.RoleID, site, as.CreatedAt.Format(time.RFC3339)})
	}
	return a.printTable([]string{"ID", "USER", "ROLE", "SITE", "CREATED"}, rows)
}

func (a *app) newAssignCommand() *Command {
	var userID, roleID, siteID string
	cmd := a.newCommand("assign", "Assign a role to a user", func(cmd *Command, cf *commonFlags, _ []string) error {
		if err := cf.requireOrg(); err != nil {
			return err
		}
		if userID == "" || roleID == "" {
			return fmt.Errorf("-assignee and -role are required")
		}
		c, err := a.client(cf)
		if err != nil {
			return err
		}
		as, created, err := c.Assign(context.Background(), cf.org, userID, roleID, siteID)
		if err != nil {
			return err
		}
		if !created {
			a.logger.WithField("assignment_id", as.ID).Info("assignment already existed")
		}
		return a.printAssignments(cf, []rbac.Assignment{*as})
	})
	cmd.Flags.StringVar(&userID, "assignee", "", "User ID receiving the role")
	cmd.Flags.StringVar(&roleID, "role", "", "Role ID")
	cmd.Flags.StringVar(&siteID, "site", "", "Site ID, required for SITE roles")
	return cmd
}

func (a *app) newRevokeCommand() *Command {
	var assignmentID string
	cmd := a.newCommand("revoke", "Remove a role assignment", func(cmd *Command, cf *commonFlags, _ []string) error {
		if err := cf.requireOrg(); err != nil {
			return err
		}
		if assignmentID == "" {
			return fmt.Errorf("-assignment is required")
		}
		c, err := a.client(cf)
		if err != nil {
			return err
		}
		if err := c.Revoke(context.Background(), cf.org, assignmentID); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "revoked assignment %s\n", assignmentID)
		return nil
	})
	cmd.Flags.StringVar(&assignmentID, "assignment", "", "Assignment ID")
	return cmd
}

func (a *app) newAssignmentsCommand() *Command {
	var userID string
	cmd := a.newCommand("assignments", "List the role assignments of a user", func(cmd *Command, cf *commonFlags, _ []string) error {
		if err := cf.requireOrg(); err != nil {
			return err
		}
		if userID == "" {
			return fmt.Errorf("-assignee is required")
		}
		c, err := a.client(cf)
		if err != nil {
			return err
		}
		assignments, err := c.ListAssignments(context.Background(), cf.org, userID)
		if err != nil {
			return err
		}
		return a.printAssignments(cf, assignments)
	})
	cmd.Flags.StringVar(&userID, "assignee", "", "User ID")
	return cmd
}

func (a *app) printPermissions(cf *commonFlags, perms []rbac.EffectivePermission) error {
	if cf.output == OutputJSON {
		return a.printJSON(perms)
	}
	rows := make([][]string, 0, len(perms))
	for _, p := range perms {
		rows = append(rows, []string{p.Key, yesNo(p.Allowed), p.Reason, strings.Join(p.RoleSources, ",")})
	}
	return a.printTable([]string{"CAPABILITY", "ALLOWED", "REASON", "ROLES"}, rows)
}

// subject returns the user to resolve: -for when set, otherwise the caller
func subject(forUser string, cf *commonFlags) (string, error) {
	if forUser != "" {
		return forUser, nil
	}
	if cf.user == "" {
		return "", fmt.Errorf("-for or -user is required")
	}
	return cf.user, nil
}

func (a *app) newResolveCommand() *Command {
	var forUser, siteID, module string
	var allowedOnly bool
	cmd := a.newCommand("resolve", "Show the effective permissions of a user", func(cmd *Command, cf *commonFlags, _ []string) error {
		if err := cf.requireOrg(); err != nil {
			return err
		}
		userID, err := subject(forUser, cf)
		if err != nil {
			return err
		}
		c, err := a.client(cf)
		if err != nil {
			return err
		}
		resolved, err := c.Permissions(context.Background(), cf.org, userID, siteID, module)
		if err != nil {
			return err
		}

		perms := make([]rbac.EffectivePermission, 0, len(resolved))
		for _, p := range resolved {
			if allowedOnly && !p.Allowed {
				continue
			}
			perms = append(perms, p)
		}
		sort.Slice(perms, func(i, j int) bool { return perms[i].Key < perms[j].Key })
		return a.printPermissions(cf, perms)
	})
	cmd.Flags.StringVar(&forUser, "for", "", "User to resolve (defaults to -user)")
	cmd.Flags.StringVar(&siteID, "site", "", "Site ID; empty resolves the organization context")
	cmd.Flags.StringVar(&module, "module", "", "Only resolve capabilities of this module")
	cmd.Flags.BoolVar(&allowedOnly, "allowed", false, "Only show allowed capabilities")
	return cmd
}

// ErrDenied is returned by check when the capability is not allowed
var ErrDenied = errors.New("capability denied")

func (a *app) newCheckCommand() *Command {
	var forUser, siteID string
	cmd := a.newCommand("check", "Check one capability of a user", func(cmd *Command, cf *commonFlags, args []string) error {
		if err := cf.requireOrg(); err != nil {
			return err
		}
		if len(args) != 1 {
			return fmt.Errorf("usage: check [flags] <capability>")
		}
		userID, err := subject(forUser, cf)
		if err != nil {
			return err
		}
		c, err := a.client(cf)
		if err != nil {
			return err
		}
		perm, err := c.Check(context.Background(), cf.org, userID, siteID, args[0])
		if err != nil {
			return err
		}
		if err := a.printPermissions(cf, []rbac.EffectivePermission{*perm}); err != nil {
			return err
		}
		if !perm.Allowed {
			return fmt.Errorf("%w: %s", ErrDenied, perm.Reason)
		}
		return nil
	})
	cmd.Flags.StringVar(&forUser, "for", "", "User to check (defaults to -user)")
	cmd.Flags.StringVar(&siteID, "site", "", "Site ID; empty checks the organization context")
	return cmd
}
