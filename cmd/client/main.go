package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/mchat/internal/client"
	"github.com/vovakirdan/mchat/internal/config"
	mlog "github.com/vovakirdan/mchat/internal/log"
	"github.com/vovakirdan/mchat/internal/store/cache"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath, server, name, cachePath string

	cmd := &cobra.Command{
		Use:           "mchat [room]",
		Short:         "Interactive mchat client",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()

			boot := mlog.New("warn", "console")
			cfg, _, err := config.LoadClient(boot, configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if server != "" {
				cfg.Server = server
			}
			if name != "" {
				cfg.Name = name
			}
			if cachePath != "" {
				cfg.CachePath = cachePath
			}

			logger := mlog.NewWriter(os.Stderr, cfg.LogLevel, cfg.LogFormat)

			st, err := cache.NewStore(cfg.CachePath)
			if err != nil {
				return fmt.Errorf("open cache: %w", err)
			}
			defer st.Close()

			opts := client.OptionsFrom(cfg)
			opts.Cache = st
			c := client.New(opts, logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return c.Run(gctx) })

			r := newREPL(c, os.Stdin, os.Stdout)
			g.Go(func() error {
				defer stop()
				return r.run(gctx, cfg.Server, cfg.Name, args)
			})
			return g.Wait()
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "path to client.yaml")
	f.StringVarP(&server, "server", "s", "", "server address (host[:port] or ws://...)")
	f.StringVarP(&name, "name", "n", "", "display name")
	f.StringVar(&cachePath, "cache", "", "local cache database path")

	return cmd
}
