package main

import (
	"os"

	"github.com/itstheanurag/codesandbox/internal/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "codesandbox",
	Short:         "Compile, run and judge untrusted submissions in shared Docker environments",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a TOML config file")
}

// setup loads the config and builds the process logger from it.
func setup() (*config.Config, *zerolog.Logger, error) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	conf, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, &logger, err
	}

	if !conf.Log.Pretty {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(conf.Log.Level)
	if err != nil {
		logger.Warn().Str("level", conf.Log.Level).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	logger = logger.Level(level)
	return conf, &logger, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
		logger.Fatal().Err(err).Msg("command failed")
	}
}
