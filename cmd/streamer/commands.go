package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rickgao/bfx-stream/internal/config"
	"github.com/rickgao/bfx-stream/internal/database"
	"github.com/rickgao/bfx-stream/internal/journal"
	"github.com/rickgao/bfx-stream/internal/version"
)

const defaultConfigPath = "configs/streamer.yaml"

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "streamer",
		Short:         "Bitfinex websocket streamer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")

	root.AddCommand(
		newRunCmd(&configPath),
		newStatusCmd(&configPath),
		newMigrateCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

func newRunCmd(configPath *string) *cobra.Command {
	var skipStatus bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect, subscribe and stream until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(*configPath, skipStatus)
		},
	}
	cmd.Flags().BoolVar(&skipStatus, "skip-status", false, "do not check platform status before connecting")
	return cmd
}

func newStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the platform status reported by the REST API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWithDefaults(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.API.Timeout)
			defer cancel()

			status, err := newRESTClient(cfg, cliLogger()).GetPlatformStatus(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status)
			return nil
		},
	}
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the connection journal table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAndValidate(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !cfg.Journal.Enabled {
				return fmt.Errorf("journal is not enabled in %s", *configPath)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			pool, err := database.Connect(ctx, cfg.Journal.Database, "bfx-stream-migrate")
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := journal.Migrate(ctx, pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "connection_events ready")
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

// cliLogger keeps one-shot commands free of request retry chatter.
func cliLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
