// streamer keeps a pool of Bitfinex websocket connections open, issues the
// configured channel subscriptions and optionally journals connection
// lifecycle to Postgres and relays channel events to Redis.
//
// Usage: go run ./cmd/streamer run --config configs/streamer.yaml
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rickgao/bfx-stream/internal/api"
	"github.com/rickgao/bfx-stream/internal/config"
	"github.com/rickgao/bfx-stream/internal/connection"
	"github.com/rickgao/bfx-stream/internal/database"
	"github.com/rickgao/bfx-stream/internal/journal"
	"github.com/rickgao/bfx-stream/internal/metrics"
	"github.com/rickgao/bfx-stream/internal/poller"
	"github.com/rickgao/bfx-stream/internal/relay"
	"github.com/rickgao/bfx-stream/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "streamer:", err)
		os.Exit(1)
	}
}

func run(configPath string, skipStatus bool) error {
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	logger.Info("starting streamer",
		"version", version.String(),
		"config", configPath,
		"wss_url", cfg.API.WSURL,
		"connections", cfg.Connections.Connections(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	restClient := newRESTClient(cfg, logger)

	if !skipStatus {
		if err := checkPlatform(ctx, restClient, logger); err != nil {
			return err
		}
	}

	collectors := metrics.New(prometheus.DefaultRegisterer)

	statusPoller := poller.New(poller.Config{
		Interval: cfg.API.StatusInterval,
		Timeout:  cfg.API.Timeout,
	}, restClient, func(_, to api.PlatformStatus) {
		collectors.SetPlatformOperative(to == api.PlatformOperative)
	}, logger.With("component", "poller"))
	statusPoller.Start(ctx)

	managerCfg, err := managerConfig(cfg)
	if err != nil {
		return err
	}
	opts := []connection.Option{connection.WithMetrics(collectors)}

	var jrn *journal.Journal
	if cfg.Journal.Enabled {
		jrn, err = startJournal(ctx, cfg, collectors, logger)
		if err != nil {
			return err
		}
		opts = append(opts, connection.WithLifecycle(jrn.Record))
	}

	manager := connection.NewManager(managerCfg, logger, opts...)
	defer manager.Dispose()

	if err := registerListeners(manager, cfg.Subscriptions, logger); err != nil {
		return err
	}

	var rly *relay.Relay
	if cfg.Relay.Enabled {
		rly, err = startRelay(ctx, cfg, manager, collectors, logger)
		if err != nil {
			return err
		}
	}

	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           createHealthHandler(manager, statusPoller, cfg.Metrics.Path),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("starting health server", "port", cfg.Metrics.Port)
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server error", "error", err)
		}
	}()

	runErr := make(chan error, 1)
	go func() {
		runErr <- manager.Run(ctx)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		if err := manager.Close(connection.CloseNormal, "shutdown"); err != nil {
			logger.Warn("close connections", "error", err)
		}
		err = <-runErr
	case err = <-runErr:
	}

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	healthServer.Shutdown(shutdownCtx)
	statusPoller.Stop(shutdownCtx)
	if rly != nil {
		rly.Stop(shutdownCtx)
	}
	if jrn != nil {
		jrn.Stop(shutdownCtx)
	}

	if err != nil {
		return fmt.Errorf("connection manager: %w", err)
	}
	logger.Info("streamer stopped")
	return nil
}

func newLogger(cfg *config.StreamerConfig) (*slog.Logger, error) {
	level, err := cfg.Logging.SlogLevel()
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})).With("instance_id", cfg.Instance.ID)
	slog.SetDefault(logger)
	return logger, nil
}

func newRESTClient(cfg *config.StreamerConfig, logger *slog.Logger) *api.Client {
	return api.NewClient(
		cfg.API.RestURL,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
	)
}

func checkPlatform(ctx context.Context, client *api.Client, logger *slog.Logger) error {
	status, err := client.GetPlatformStatus(ctx)
	if err != nil {
		return err
	}
	if status != api.PlatformOperative {
		return fmt.Errorf("platform is in %s", status)
	}
	logger.Info("platform status", "status", status)
	return nil
}

func startJournal(ctx context.Context, cfg *config.StreamerConfig, m *metrics.Collectors, logger *slog.Logger) (*journal.Journal, error) {
	logger.Info("connecting to database",
		"host", cfg.Journal.Database.Host,
		"port", cfg.Journal.Database.Port,
		"database", cfg.Journal.Database.Name,
	)

	pool, err := database.Connect(ctx, cfg.Journal.Database, "bfx-stream-"+cfg.Instance.ID)
	if err != nil {
		return nil, err
	}
	if err := journal.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	j := journal.New(journal.Config{
		BatchSize:     cfg.Journal.BatchSize,
		FlushInterval: cfg.Journal.FlushInterval,
		BufferSize:    cfg.Journal.BufferSize,
	}, cfg.Instance.ID, pool, m, logger.With("component", "journal"))

	// The pool outlives the writer: Stop flushes through it.
	context.AfterFunc(ctx, pool.Close)

	return j, j.Start(ctx)
}

func startRelay(ctx context.Context, cfg *config.StreamerConfig, src relay.Source, m *metrics.Collectors, logger *slog.Logger) (*relay.Relay, error) {
	rdb, err := relay.Dial(ctx, cfg.Relay)
	if err != nil {
		return nil, err
	}

	r := relay.New(relayConfig(cfg.Relay), rdb, m, logger.With("component", "relay"))
	if err := r.Attach(src); err != nil {
		rdb.Close()
		return nil, err
	}

	context.AfterFunc(ctx, func() { rdb.Close() })
	r.Start(ctx)
	return r, nil
}
