package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/roomchat/internal/app"
	"github.com/vovakirdan/roomchat/internal/config"
	"github.com/vovakirdan/roomchat/internal/log"
)

type rootOptions struct {
	configPath string
	envFile    string
	overrides  config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "roomchat",
		Short:         "Multi-room chat server with persisted history",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default ./config.yaml)")
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config")
	flags.StringVar(&opts.overrides.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&opts.overrides.DBDriver, "db-driver", "", "storage backend: sqlite or badger")
	flags.StringVar(&opts.overrides.DBPath, "db-path", "", "database file (sqlite) or directory (badger)")

	cmd.AddCommand(newServeCmd(opts), newRoomsCmd(opts), newHistoryCmd(opts))
	return cmd
}

// load resolves configuration: .env, then defaults < file < env < flags.
// writeDefault creates the config file when it is missing.
func (o *rootOptions) load(writeDefault bool) (*config.Config, *zerolog.Logger, error) {
	if err := config.LoadEnvFiles(o.envFile); err != nil {
		return nil, nil, err
	}

	bootstrap := log.New(o.overrides.LogLevel)
	loadConfig := config.LoadExisting
	if writeDefault {
		loadConfig = config.Load
	}
	cfg, path, err := loadConfig(bootstrap, o.configPath)
	if err != nil {
		return nil, nil, err
	}
	cfg.UpdateFrom(o.overrides)
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger := log.New(cfg.LogLevel)
	logger.Debug().Str("config", path).Msg("configuration loaded")
	return &cfg, logger, nil
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.overrides.Addr = addr
			cfg, logger, err := opts.load(true)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("init app: %w", err)
			}

			logger.Info().Str("addr", cfg.Addr).Msg("starting roomchat server")
			if err := application.Run(ctx); err != nil {
				return fmt.Errorf("server exited with error: %w", err)
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address")

	return cmd
}
