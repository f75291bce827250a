package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/batsched/batsched/internal/common/build"
)

func versionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Version: %s\nCommit: %s\nGo version: %s\nBuilt: %s\n",
				build.ReleaseVersion, build.GitCommit, build.GoVersion, build.BuildTime)
			return err
		},
	}
	return cmd
}
