package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/batsched/batsched/internal/common/logging"
)

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batsched",
		Short: "batsched makes scheduling decisions for batch simulations.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := cmd.Flags().GetString("logLevel")
			if err != nil {
				return err
			}
			format, err := cmd.Flags().GetString("logFormat")
			if err != nil {
				return err
			}
			parsedLevel, err := logrus.ParseLevel(level)
			if err != nil {
				return err
			}
			return logging.ConfigureLogging(parsedLevel, format, cmd.ErrOrStderr())
		},
	}
	cmd.PersistentFlags().String("logLevel", "info", "Log level: trace, debug, info, warn or error.")
	cmd.PersistentFlags().String("logFormat", "text", "Log format: text or json.")

	cmd.AddCommand(
		replayCmd(),
		versionCmd(),
	)

	return cmd
}
