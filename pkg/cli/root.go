package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/sirupsen/logrus"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// app is the state shared by every subcommand
type app struct {
	out    io.Writer
	logger *logrus.Logger
}

// NewRootCommand creates the root command. Results are written to out and
// diagnostics to logger.
func NewRootCommand(out io.Writer, logger *logrus.Logger) *Command {
	if out == nil {
		out = os.Stdout
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	a := &app{out: out, logger: logger}

	root := &Command{
		Name:        "gatekeeper-cli",
		Description: "Gatekeeper - capability based authorization admin CLI",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("gatekeeper-cli", flag.ContinueOnError),
	}
	root.Flags.SetOutput(out)

	for _, cmd := range []*Command{
		a.newCapabilitiesCommand(),
		a.newTemplatesCommand(),
		a.newRolesCommand(),
		a.newCreateRoleCommand(),
		a.newUpdateRoleCommand(),
		a.newDeleteRoleCommand(),
		a.newProvisionCommand(),
		a.newPoliciesCommand(),
		a.newSetPolicyCommand(),
		a.newResetPolicyCommand(),
		a.newAssignCommand(),
		a.newRevokeCommand(),
		a.newAssignmentsCommand(),
		a.newResolveCommand(),
		a.newCheckCommand(),
	} {
		root.Subcommands[cmd.Name] = cmd
	}

	return root
}

// Execute runs the subcommand named by args[0]
func (c *Command) Execute(args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		return c.usage()
	}

	subcmd, ok := c.Subcommands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command: %s", args[0])
	}
	err := subcmd.Run(args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	return err
}

// usage prints the command usage
func (c *Command) usage() error {
	out := c.Flags.Output()
	fmt.Fprintf(out, "Usage: %s <command> [flags]\n\n", c.Name)
	fmt.Fprintf(out, "Commands:\n")

	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}
