package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/platinummonkey/gatekeeper/pkg/client"
)

// Output formats
const (
	OutputTable = "table"
	OutputJSON  = "json"
)

// commonFlags are accepted by every subcommand
type commonFlags struct {
	server string
	user   string
	header string
	org    string
	output string
}

func (a *app) newCommand(name, description string, run func(cmd *Command, cf *commonFlags, args []string) error) *Command {
	cmd := &Command{
		Name:        name,
		Description: description,
		Flags:       flag.NewFlagSet(name, flag.ContinueOnError),
	}
	cmd.Flags.SetOutput(a.out)

	cf := &commonFlags{}
	cmd.Flags.StringVar(&cf.server, "server", getEnv("GATEKEEPER_URL", "http://localhost:8080"), "Gatekeeper server URL")
	cmd.Flags.StringVar(&cf.user, "user", getEnv("GATEKEEPER_USER", ""), "User ID to act as")
	cmd.Flags.StringVar(&cf.header, "principal-header", getEnv("GATEKEEPER_PRINCIPAL_HEADER", "X-User-ID"), "Header carrying the acting user ID")
	cmd.Flags.StringVar(&cf.org, "org", getEnv("GATEKEEPER_ORG", ""), "Organization ID")
	cmd.Flags.StringVar(&cf.output, "output", OutputTable, "Output format (table, json)")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if cf.output != OutputTable && cf.output != OutputJSON {
			return fmt.Errorf("invalid output format %q (must be table or json)", cf.output)
		}
		return run(cmd, cf, cmd.Flags.Args())
	}
	return cmd
}

func (cf *commonFlags) requireOrg() error {
	if cf.org == "" {
		return fmt.Errorf("-org is required")
	}
	return nil
}

func (a *app) client(cf *commonFlags) (*client.Client, error) {
	a.logger.WithField("server", cf.server).Debug("connecting")
	return client.New(cf.server, client.WithPrincipal(cf.header, cf.user))
}

func (a *app) printJSON(v interface{}) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTable writes rows under header with aligned columns
func (a *app) printTable(header []string, rows [][]string) error {
	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// splitKeys parses a comma separated capability list
func splitKeys(s string) []string {
	keys := []string{}
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
