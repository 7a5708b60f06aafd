package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bfx_stream"

// Collectors groups the client's metrics. A nil *Collectors is valid and
// records nothing.
type Collectors struct {
	OpenConnections   *prometheus.GaugeVec
	Subscriptions     *prometheus.GaugeVec
	FramesReceived    *prometheus.CounterVec
	ReconnectAttempts prometheus.Counter
	ReconnectEpisodes prometheus.Counter
	Downtime          prometheus.Histogram
	FatalExits        *prometheus.CounterVec
	ListenerErrors    prometheus.Counter
	QueueDropped      *prometheus.CounterVec
	PlatformOperative prometheus.Gauge
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer to
// expose them through promhttp.Handler.
func New(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)

	return &Collectors{
		OpenConnections:   f.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: "open_connections", Help: "Open websocket connections"}, []string{"role"}),
		Subscriptions:     f.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: "subscriptions", Help: "Channel subscriptions by state"}, []string{"state"}),
		FramesReceived:    f.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "frames_received_total", Help: "Inbound frames by kind"}, []string{"kind"}),
		ReconnectAttempts: f.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "reconnect_attempts_total", Help: "Private connection reconnection attempts"}),
		ReconnectEpisodes: f.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "reconnect_episodes_total", Help: "Recoverable private connection failures"}),
		Downtime:          f.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "downtime_seconds", Help: "Private connection downtime per reconnection episode", Buckets: prometheus.ExponentialBuckets(0.5, 2, 12)}),
		FatalExits:        f.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "fatal_exits_total", Help: "Client terminations by reason"}, []string{"reason"}),
		ListenerErrors:    f.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "listener_errors_total", Help: "Failures raised by event listeners"}),
		QueueDropped:      f.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "queue_dropped_total", Help: "Items evicted from bounded queues"}, []string{"queue"}),
		PlatformOperative: f.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "platform_operative", Help: "1 when the platform status endpoint reports operative"}),
	}
}

func (c *Collectors) ConnectionOpened(role string) {
	if c == nil {
		return
	}
	c.OpenConnections.WithLabelValues(role).Inc()
}

func (c *Collectors) ConnectionClosed(role string) {
	if c == nil {
		return
	}
	c.OpenConnections.WithLabelValues(role).Dec()
}

// SetSubscriptions records the pool-wide subscription counts.
func (c *Collectors) SetSubscriptions(pending, active int) {
	if c == nil {
		return
	}
	c.Subscriptions.WithLabelValues("pending").Set(float64(pending))
	c.Subscriptions.WithLabelValues("active").Set(float64(active))
}

func (c *Collectors) FrameReceived(kind string) {
	if c == nil {
		return
	}
	c.FramesReceived.WithLabelValues(kind).Inc()
}

func (c *Collectors) ReconnectStarted() {
	if c == nil {
		return
	}
	c.ReconnectEpisodes.Inc()
}

func (c *Collectors) ReconnectAttempted() {
	if c == nil {
		return
	}
	c.ReconnectAttempts.Inc()
}

func (c *Collectors) Reconnected(downtime time.Duration) {
	if c == nil {
		return
	}
	c.Downtime.Observe(downtime.Seconds())
}

func (c *Collectors) Fatal(reason string) {
	if c == nil {
		return
	}
	c.FatalExits.WithLabelValues(reason).Inc()
}

func (c *Collectors) ListenerFailed() {
	if c == nil {
		return
	}
	c.ListenerErrors.Inc()
}

func (c *Collectors) Dropped(queue string, n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.QueueDropped.WithLabelValues(queue).Add(float64(n))
}

func (c *Collectors) SetPlatformOperative(operative bool) {
	if c == nil {
		return
	}
	if operative {
		c.PlatformOperative.Set(1)
	} else {
		c.PlatformOperative.Set(0)
	}
}
