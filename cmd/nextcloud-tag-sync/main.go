// Command nextcloud-tag-sync is the thin CLI wiring for the sync
// engine: load configuration, build the stores, run one pass of the
// orchestrator, and map the result to the exit codes of spec.md §6.
// Scheduling (running this periodically) is left to an OS-level
// timer, per spec.md §1.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// cobra already printed the error; translate it to the exit
		// code the run function attached, falling back to 2 (fatal).
		code := 2
		if ec, ok := err.(exitCoder); ok {
			code = ec.ExitCode()
		}
		os.Exit(code)
	}
}

type exitCoder interface {
	ExitCode() int
}

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) ExitCode() int { return e.code }
func (e *exitError) Unwrap() error { return e.err }

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "nextcloud-tag-sync",
		Short: "Reconcile user tags between a local filesystem and Nextcloud",
	}
	root.AddCommand(newSyncCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// version is set via -ldflags at release build time; "dev" otherwise.
var version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}
