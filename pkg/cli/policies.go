package cli

import (
	"context"
	"fmt"
	"sort"
	"strconv"
)

func (a *app) newPoliciesCommand() *Command {
	return a.newCommand("policies", "Show the organization policy of every controllable capability", func(cmd *Command, cf *commonFlags, _ []string) error {
		if err := cf.requireOrg(); err != nil {
			return err
		}
		c, err := a.client(cf)
		if err != nil {
			return err
		}
		policies, err := c.GetPolicies(context.Background(), cf.org)
		if err != nil {
			return err
		}
		if cf.output == OutputJSON {
			return a.printJSON(policies)
		}

		keys := make([]string, 0, len(policies))
		for k := range policies {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		rows := make([][]string, 0, len(keys))
		for _, k := range keys {
			rows = append(rows, []string{k, yesNo(policies[k])})
		}
		return a.printTable([]string{"CAPABILITY", "ENABLED"}, rows)
	})
}

func (a *app) newSetPolicyCommand() *Command {
	var key, enabled string
	cmd := a.newCommand("set-policy", "Enable or disable a capability for an organization", func(cmd *Command, cf *commonFlags, _ []string) error {
		if err := cf.requireOrg(); err != nil {
			return err
		}
		if key == "" {
			return fmt.Errorf("-capability is required")
		}
		on, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("invalid -enabled value %q", enabled)
		}
		c, err := a.client(cf)
		if err != nil {
			return err
		}
		policy, err := c.SetPolicy(context.Background(), cf.org, key, on)
		if err != nil {
			return err
		}
		if cf.output == OutputJSON {
			return a.printJSON(policy)
		}
		fmt.Fprintf(a.out, "%s enabled=%t\n", policy.Key, policy.Enabled)
		return nil
	})
	cmd.Flags.StringVar(&key, "capability", "", "Policy-controllable capability key")
	cmd.Flags.StringVar(&enabled, "enabled", "false", "Whether the capability is enabled")
	return cmd
}

func (a *app) newResetPolicyCommand() *Command {
	var key string
	cmd := a.newCommand("reset-policy", "Remove an organization policy override", func(cmd *Command, cf *commonFlags, _ []string) error {
		if err := cf.requireOrg(); err != nil {
			return err
		}
		if key == "" {
			return fmt.Errorf("-capability is required")
		}
		c, err := a.client(cf)
		if err != nil {
			return err
		}
		if err := c.ResetPolicy(context.Background(), cf.org, key); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%s reset to default\n", key)
		return nil
	})
	cmd.Flags.StringVar(&key, "capability", "", "Policy-controllable capability key")
	return cmd
}
