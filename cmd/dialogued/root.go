package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gendialogue/dialogue-backend/internal/config"
	"github.com/gendialogue/dialogue-backend/internal/logging"
)

type app struct {
	cfg    *config.Config
	logger *logrus.Logger
}

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "dialogued",
		Short:         "Dialogue backend: conferences, live transcripts and summaries",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logging.New(cfg.Logging)
			return nil
		},
	}

	rootCmd.AddCommand(
		newServeCmd(a),
		newMigrateCmd(a),
		newCreateUserCmd(a),
		newSetPasswordCmd(a),
	)

	return rootCmd
}
