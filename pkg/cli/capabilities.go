package cli

import (
	"context"
	"strings"
)

func (a *app) newCapabilitiesCommand() *Command {
	var module string
	cmd := a.newCommand("capabilities", "List the capability catalog", func(cmd *Command, cf *commonFlags, _ []string) error {
		c, err := a.client(cf)
		if err != nil {
			return err
		}
		caps, err := c.ListCapabilities(context.Background(), module)
		if err != nil {
			return err
		}
		if cf.output == OutputJSON {
			return a.printJSON(caps)
		}

		rows := make([][]string, 0, len(caps))
		for _, cp := range caps {
			var flags []string
			if cp.IsDangerous {
				flags = append(flags, "dangerous")
			}
			if cp.CanBePolicyControlled {
				flags = append(flags, "policy")
			}
			if cp.BlockedForCustomRoles {
				flags = append(flags, "system-only")
			}
			rows = append(rows, []string{cp.Key, cp.Module, string(cp.RiskLevel), strings.Join(flags, ",")})
		}
		return a.printTable([]string{"KEY", "MODULE", "RISK", "FLAGS"}, rows)
	})
	cmd.Flags.StringVar(&module, "module", "", "Only list capabilities of this module")
	return cmd
}

func (a *app) newTemplatesCommand() *Command {
	return a.newCommand("templates", "List suggested custom role templates", func(cmd *Command, cf *commonFlags, _ []string) error {
		c, err := a.client(cf)
		if err != nil {
			return err
		}
		templates, err := c.Templates(context.Background())
		if err != nil {
			return err
		}
		if cf.output == OutputJSON {
			return a.printJSON(templates)
		}

		rows := make([][]string, 0, len(templates))
		for _, t := range templates {
			rows = append(rows, []string{t.Name, string(t.Scope), strings.Join(t.CapabilityKeys, ",")})
		}
		return a.printTable([]string{"NAME", "SCOPE", "CAPABILITIES"}, rows)
	})
}
