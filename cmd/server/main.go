package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/mchat/internal/app"
	"github.com/vovakirdan/mchat/internal/config"
	mlog "github.com/vovakirdan/mchat/internal/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		flags      config.Config
	)

	cmd := &cobra.Command{
		Use:           "mchat-server",
		Short:         "Run the mchat chat server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// A missing .env is fine.
			_ = godotenv.Load()

			boot := mlog.New("info", "console")
			cfg, path, err := config.Load(boot, configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg.UpdateFrom(flags)

			logger := mlog.New(cfg.LogLevel, cfg.LogFormat)
			logger.Info().Str("config", path).Str("addr", cfg.Addr).Str("admin_addr", cfg.AdminAddr).Msg("starting mchat server")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			if err := application.Run(ctx); err != nil {
				return fmt.Errorf("server exited with error: %w", err)
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "path to config.yaml")
	f.StringVar(&flags.Addr, "addr", "", "protocol listen address")
	f.StringVar(&flags.AdminAddr, "admin-addr", "", "admin HTTP listen address")
	f.StringVar(&flags.DatabasePath, "db", "", "SQLite database path")
	f.StringVar(&flags.LogLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	f.StringVar(&flags.LogFormat, "log-format", "", "log format (console, json)")
	f.DurationVar(&flags.HeartbeatInterval, "heartbeat", 0, "heartbeat interval")

	return cmd
}
