package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itstheanurag/codesandbox/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Bootstrap both environments and serve the debug and judge API",
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, logger, err := setup()
		if err != nil {
			return err
		}

		srv, err := server.New(conf, logger)
		if err != nil {
			return err
		}

		go func() {
			if err := srv.Start(); err != nil {
				logger.Fatal().Err(err).Msg("server crashed")
			}
		}()

		// graceful shutdown
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Stop(ctx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
