package main

import (
	"github.com/itstheanurag/codesandbox/internal/server"
	"github.com/spf13/cobra"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Build or pull the images and start both shared containers, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, logger, err := setup()
		if err != nil {
			return err
		}

		core, err := server.NewCore(conf, logger)
		if err != nil {
			return err
		}
		defer core.Engine.Close()

		if err := core.Environments.EnsureAll(cmd.Context()); err != nil {
			return err
		}
		logger.Info().Msg("environments ready")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(bootstrapCmd)
}
