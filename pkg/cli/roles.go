package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/platinummonkey/gatekeeper/pkg/rbac"
)

func (a *app) printRoles(cf *commonFlags, roles []rbac.Role) error {
	if cf.output == OutputJSON {
		return a.printJSON(roles)
	}
	rows := make([][]string, 0, len(roles))
	for _, r := range roles {
		rows = append(rows, []string{r.ID, r.Name, string(r.Scope), string(r.Type), strings.Join(r.CapabilityKeys, ",")})
	}
	return a.printTable([]string{"ID", "NAME", "SCOPE", "TYPE", "CAPABILITIES"}, rows)
}

func (a *app) newRolesCommand() *Command {
	var scope string
	cmd := a.newCommand("roles", "List the roles of an organization", func(cmd *Command, cf *commonFlags, _ []string) error {
		if err := cf.requireOrg(); err != nil {
			return err
		}
		c, err := a.client(cf)
		if err != nil {
			return err
		}
		roles, err := c.ListRoles(context.Background(), cf.org, rbac.Scope(strings.ToUpper(scope)))
		if err != nil {
			return err
		}
		return a.printRoles(cf, roles)
	})
	cmd.Flags.StringVar(&scope, "scope", "", "Only list roles of this scope (ORG, SITE)")
	return cmd
}

func (a *app) newCreateRoleCommand() *Command {
	var name, scope, keys string
	cmd := a.newCommand("create-role", "Create a custom role", func(cmd *Command, cf *commonFlags, _ []string) error {
		if err := cf.requireOrg(); err != nil {
			return err
		}
		if name == "" {
			return fmt.Errorf("-name is required")
		}
		c, err := a.client(cf)
		if err != nil {
			return err
		}
		role, err := c.CreateRole(context.Background(), cf.org, name, rbac.Scope(strings.ToUpper(scope)), splitKeys(keys))
		if err != nil {
			return err
		}
		a.logger.WithField("role_id", role.ID).Info("role created")
		return a.printRoles(cf, []rbac.Role{*role})
	})
	cmd.Flags.StringVar(&name, "name", "", "Role name")
	cmd.Flags.StringVar(&scope, "scope", string(rbac.ScopeSite), "Role scope (ORG, SITE)")
	cmd.Flags.StringVar(&keys, "capabilities", "", "Comma separated capability keys")
	return cmd
}

func (a *app) newUpdateRoleCommand() *Command {
	var roleID, keys string
	cmd := a.newCommand("update-role", "Replace the capabilities of a custom role", func(cmd *Command, cf *commonFlags, _ []string) error {
		if err := cf.requireOrg(); err != nil {
			return err
		}
		if roleID == "" {
			return fmt.Errorf("-role is required")
		}
		c, err := a.client(cf)
		if err != nil {
			return err
		}
		role, err := c.UpdateRoleCapabilities(context.Background(), cf.org, roleID, splitKeys(keys))
		if err != nil {
			return err
		}
		return a.printRoles(cf, []rbac.Role{*role})
	})
	cmd.Flags.StringVar(&roleID, "role", "", "Role ID")
	cmd.Flags.StringVar(&keys, "capabilities", "", "Comma separated capability keys")
	return cmd
}

func (a *app) newDeleteRoleCommand() *Command {
	var roleID string
	cmd := a.newCommand("delete-role", "Delete an unassigned custom role", func(cmd *Command, cf *commonFlags, _ []string) error {
		if err := cf.requireOrg(); err != nil {
			return err
		}
		if roleID == "" {
			return fmt.Errorf("-role is required")
		}
		c, err := a.client(cf)
		if err != nil {
			return err
		}
		if err := c.DeleteRole(context.Background(), cf.org, roleID); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "deleted role %s\n", roleID)
		return nil
	})
	cmd.Flags.StringVar(&roleID, "role", "", "Role ID")
	return cmd
}

func (a *app) newProvisionCommand() *Command {
	return a.newCommand("provision", "Create any missing system roles of an organization", func(cmd *Command, cf *commonFlags, _ []string) error {
		if err := cf.requireOrg(); err != nil {
			return err
		}
		c, err := a.client(cf)
		if err != nil {
			return err
		}
		roles, err := c.ProvisionSystemRoles(context.Background(), cf.org)
		if err != nil {
			return err
		}
		return a.printRoles(cf, roles)
	})
}
