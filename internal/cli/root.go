// Package cli implements the sqlviz command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/malbeclabs/sqlviz/pkg/config"
)

type ExitCode int

const (
	exitCodeSuccess = 0
	exitCodeError   = 1
)

// BuildInfo is set from ldflags by the main package.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

const flagVerbose = "verbose"

func NewRootCmd(build BuildInfo) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "sqlviz",
		Short:         "Answer questions about a database with SQL, tables and charts.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cmd.Help(); err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().BoolP(flagVerbose, "v", false, "set debug logging level")
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		NewAskCmd(build).Command(),
		NewBatchCmd(build).Command(),
		NewLoadCmd().Command(),
		NewPingCmd().Command(),
		NewServeCmd(build).Command(),
		NewVersionCmd(build).Command(),
	)
	return rootCmd
}

func Run(build BuildInfo) ExitCode {
	if err := NewRootCmd(build).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCodeError
	}
	return exitCodeSuccess
}
