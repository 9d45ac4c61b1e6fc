package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/good-listener/backend/sod/internal/config"
)

func newRootCmd() *cobra.Command {
	var logLevel string
	root := &cobra.Command{
		Use:           "sodctl",
		Short:         "Speech onset detection tools",
		Long:          `sodctl runs the speech onset detector offline, lists tunings, checks a running server and generates the detector's documentation tables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := config.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	root.AddCommand(
		newDetectCmd(),
		newDocsCmd(),
		newPresetsCmd(),
		newHealthCmd(),
		newVersionCmd(),
	)
	return root
}
