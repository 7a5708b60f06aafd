package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/bfx-stream/internal/api"
	"github.com/rickgao/bfx-stream/internal/auth"
	"github.com/rickgao/bfx-stream/internal/backoff"
	"github.com/rickgao/bfx-stream/internal/config"
	"github.com/rickgao/bfx-stream/internal/connection"
	"github.com/rickgao/bfx-stream/internal/events"
	"github.com/rickgao/bfx-stream/internal/poller"
	"github.com/rickgao/bfx-stream/internal/relay"
	"github.com/rickgao/bfx-stream/internal/router"
)

// managerConfig maps the loaded configuration onto the connection manager.
func managerConfig(cfg *config.StreamerConfig) (connection.ManagerConfig, error) {
	conns := cfg.Connections

	mc := connection.ManagerConfig{
		WSURL:            cfg.API.WSURL,
		Connections:      conns.Connections(),
		ReconnectTimeout: conns.ReconnectTimeout.Value(),
		Backoff: backoff.Config{
			Floor:   conns.BackoffFloor,
			Ceiling: conns.BackoffCeiling,
			Jitter:  conns.BackoffJitter,
			Factor:  conns.BackoffFactor,
		},
		Client: connection.ClientConfig{
			PingInterval:     conns.PingInterval,
			PingTimeout:      conns.PingTimeout,
			WriteTimeout:     conns.WriteTimeout,
			HandshakeTimeout: conns.HandshakeTimeout,
			BufferSize:       conns.BufferSize,
		},
	}

	if cfg.API.HasCredentials() {
		creds, err := auth.LoadCredentials(cfg.API.APIKey, cfg.API.APISecret, cfg.API.Filters)
		if err != nil {
			return connection.ManagerConfig{}, fmt.Errorf("load credentials: %w", err)
		}
		mc.Credentials = creds
	}
	return mc, nil
}

func relayConfig(cfg config.RelayConfig) relay.Config {
	names := cfg.Events
	if len(names) == 0 {
		names = router.PublicEvents
	}
	return relay.Config{
		Prefix:     cfg.Prefix,
		Events:     names,
		BufferSize: cfg.BufferSize,
	}
}

// subscriber is the part of *connection.Manager the listeners need.
type subscriber interface {
	On(h events.Handler, names ...string) error
	Subscribe(channel string, params map[string]any) (string, error)
}

// registerListeners issues subs once the pool is open and logs server
// errors. Buckets replay their subscriptions after a reconnect, so subs
// are sent only once.
func registerListeners(m subscriber, subs []config.SubscriptionConfig, logger *slog.Logger) error {
	err := m.On(func(context.Context, ...any) error {
		for _, sub := range subs {
			subID, err := m.Subscribe(sub.Channel, sub.Params)
			if err != nil {
				logger.Error("subscribe failed", "channel", sub.Channel, "params", sub.Params, "error", err)
				continue
			}
			logger.Debug("subscription requested", "channel", sub.Channel, "sub_id", subID)
		}
		logger.Info("subscriptions requested", "count", len(subs))
		return nil
	}, connection.EventOpen)
	if err != nil {
		return err
	}

	return m.On(func(_ context.Context, args ...any) error {
		logger.Warn("server reported an error", "args", args)
		return nil
	}, connection.EventWSSError)
}

// statusSource is the part of *connection.Manager the health server reads.
type statusSource interface {
	Stats() connection.ManagerStats
	BucketStats() []connection.BucketStats
	Reconnection() connection.Reconnection
}

// platformSource is the part of *poller.Poller the health server reads.
type platformSource interface {
	Last() poller.Snapshot
}

// createHealthHandler creates the HTTP handler for health checks, metrics
// and bucket inspection.
func createHealthHandler(m statusSource, platform platformSource, metricsPath string) http.Handler {
	mux := http.NewServeMux()

	mux.Handle(metricsPath, promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		stats := m.Stats()
		rec := m.Reconnection()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		health.Components["private"] = map[string]any{
			"state":         stats.State,
			"authenticated": stats.Authenticated,
			"reconnecting":  rec.Status,
			"attempts":      rec.Attempts,
		}
		health.Components["buckets"] = map[string]any{
			"total":         stats.Buckets,
			"open":          stats.OpenBuckets,
			"subscriptions": stats.Subscriptions,
			"pending":       stats.Pending,
		}

		last := platform.Last()
		platformStatus := "unknown"
		if last.Known {
			platformStatus = last.Status.String()
		}
		health.Components["platform"] = map[string]any{
			"status":     platformStatus,
			"checked_at": last.CheckedAt,
			"failures":   last.Failures,
		}

		switch {
		case stats.State == connection.StateTerminated.String():
			health.Status = "unhealthy"
		case rec.Status || stats.OpenBuckets < stats.Buckets:
			health.Status = "degraded"
		case last.Known && last.Status != api.PlatformOperative:
			health.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/buckets", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"buckets": m.BucketStats(),
		})
	})

	return mux
}
