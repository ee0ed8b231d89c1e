// Package app provides the commands of the weather-places binary.
package app

import (
	"log/slog"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with its subcommands.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:               "weather-places",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Short:             "Ordered place list with live weather and air quality",
		Run: func(cmd *cobra.Command, _ []string) {
			if err := cmd.Help(); err != nil {
				slog.Error("Error displaying help", "error", err)
			}
		},
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())
	return root
}
