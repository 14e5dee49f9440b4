package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// errPlanRejected makes the process exit with status 2 when a plan fails
// validation, so scripts can tell a rejected plan from a usage error.
var errPlanRejected = errors.New("plan rejected")

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		if errors.Is(err, errPlanRejected) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gatecheck",
		Short: "Check execution plans before they run",
		Long: `gatecheck validates an execution plan against a registry of nodes,
workflows, tools and services.

It validates locally against a registry file, or remotely against a
running plangate server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(validateCmd())
	root.AddCommand(searchCmd())
	return root
}
