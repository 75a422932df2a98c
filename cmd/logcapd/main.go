package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/modoterra/logcap/internal/buildinfo"
	"github.com/modoterra/logcap/pkg/config"
	"github.com/modoterra/logcap/pkg/daemon"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		listen     string
	)

	root := &cobra.Command{
		Use:          "logcapd",
		Short:        "Session-scoped device log capture daemon",
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(configPath, listen)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "config file (default is $XDG_CONFIG_HOME/logcap/config.yaml)")
	root.Flags().StringVar(&listen, "listen", "", `listen address: ":8080", "unix:/path/to.sock" or "systemd"`)

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String("logcapd"))
		},
	})
	return root
}

func run(configPath, listen string) error {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Server.Listen = listen
	}

	var level slog.LevelVar
	lvl, _ := config.ParseLevel(cfg.Log.Level)
	level.Set(lvl)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	d, err := daemon.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	loader.Watch(func(next *config.Config, err error) {
		if err != nil {
			logger.Error("config reload rejected", "path", loader.File(), "err", err)
			return
		}
		if listen != "" {
			next.Server.Listen = listen
		}
		if lvl, err := config.ParseLevel(next.Log.Level); err == nil {
			level.Set(lvl)
		}
		d.ApplyConfig(next)
	})

	logger.Info("starting logcapd",
		"version", buildinfo.Version,
		"listen", cfg.Server.Listen,
		"config", loader.File(),
		"raw_dir", cfg.Data.RawDir,
		"structured_dir", cfg.Data.StructuredDir)
	if err := d.Run(ctx); err != nil {
		logger.Error("daemon error", "err", err)
		return err
	}
	return nil
}
