package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus metrics registry and standard meters.
type Metrics struct {
	Registry *prometheus.Registry

	// Discovery side.
	DiscoveryEvents   *prometheus.CounterVec
	ActiveSessions    prometheus.Gauge
	ActiveTopicRoutes prometheus.Gauge
	DispatcherDepth   prometheus.Gauge
	DispatcherDrops   prometheus.Counter

	// Command side.
	CommandsTotal   *prometheus.CounterVec
	CommandRetries  prometheus.Counter
	PendingCommands prometheus.Gauge
	CommandDuration *prometheus.HistogramVec
	ConfigErrors    prometheus.Counter

	OperationTotal   *prometheus.CounterVec
	OperationSeconds *prometheus.HistogramVec
}

// NewMetrics creates a custom Prometheus registry with standard routectl metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	discoveryEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "routectl_discovery_events_total",
		Help: "Discovery events by kind and outcome.",
	}, []string{"kind", "result"})

	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "routectl_sessions",
		Help: "Number of sessions currently derived from discovery.",
	})

	activeRoutes := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "routectl_topic_routes",
		Help: "Number of topic routes currently derived from discovery.",
	})

	dispatcherDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "routectl_dispatcher_queue_depth",
		Help: "Events queued for listener dispatch.",
	})

	dispatcherDrops := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "routectl_dispatcher_drops_total",
		Help: "Listener events dropped due to dispatcher overflow.",
	})

	commandsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "routectl_admin_commands_total",
		Help: "Admin commands sent to the target routing service.",
	}, []string{"op", "result"})

	commandRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "routectl_admin_retries_total",
		Help: "Admin command send attempts beyond the first.",
	})

	pendingCommands := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "routectl_admin_pending_commands",
		Help: "Commands awaiting a successful response.",
	})

	commandDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "routectl_admin_send_duration_seconds",
		Help:    "Duration of admin request/reply exchanges.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op", "result"})

	configErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "routectl_admin_config_errors_total",
		Help: "Commands abandoned due to configuration errors.",
	})

	opTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "routectl_operation_total",
		Help: "Total number of operations.",
	}, []string{"operation", "status"})

	opSeconds := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "routectl_operation_duration_seconds",
		Help:    "Duration of operations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})

	reg.MustRegister(
		discoveryEvents, activeSessions, activeRoutes,
		dispatcherDepth, dispatcherDrops,
		commandsTotal, commandRetries, pendingCommands, commandDuration,
		configErrors, opTotal, opSeconds,
	)

	return &Metrics{
		Registry:          reg,
		DiscoveryEvents:   discoveryEvents,
		ActiveSessions:    activeSessions,
		ActiveTopicRoutes: activeRoutes,
		DispatcherDepth:   dispatcherDepth,
		DispatcherDrops:   dispatcherDrops,
		CommandsTotal:     commandsTotal,
		CommandRetries:    commandRetries,
		PendingCommands:   pendingCommands,
		CommandDuration:   commandDuration,
		ConfigErrors:      configErrors,
		OperationTotal:    opTotal,
		OperationSeconds:  opSeconds,
	}
}
