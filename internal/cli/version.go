package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

type VersionCmd struct {
	build BuildInfo
}

func NewVersionCmd(build BuildInfo) *VersionCmd {
	return &VersionCmd{build: build}
}

func (c *VersionCmd) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sqlviz %s (commit %s, built %s)\n", c.build.Version, c.build.Commit, c.build.Date)
		},
	}
}
