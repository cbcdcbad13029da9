package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), versionString())
		},
	}
}

// versionString returns e.g. "cg 0.4.0 (abc1234, 2026-10-01)".
func versionString() string {
	return fmt.Sprintf("cg %s (%s, %s)", appVersion, appCommit, appDate)
}
