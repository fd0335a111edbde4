package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus implements Collector with Prometheus metrics on a private
// registry.
type Prometheus struct {
	starts        *prometheus.CounterVec
	startFailures *prometheus.CounterVec
	earlyExits    *prometheus.CounterVec
	stops         *prometheus.CounterVec
	stopDuration  *prometheus.HistogramVec
	rpcs          *prometheus.CounterVec
	rpcDuration   *prometheus.HistogramVec
	diagnostics   *prometheus.CounterVec
	running       prometheus.Gauge

	registry *prometheus.Registry
}

// NewPrometheus creates a collector whose metric names are prefixed with
// namespace ("toolhost" when empty).
func NewPrometheus(namespace string) *Prometheus {
	if namespace == "" {
		namespace = "toolhost"
	}

	p := &Prometheus{registry: prometheus.NewRegistry()}

	p.starts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_starts_total",
			Help:      "Total number of tool server processes spawned",
		},
		[]string{"server"},
	)

	p.startFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_start_failures_total",
			Help:      "Total number of tool server spawns that failed",
		},
		[]string{"server", "code"},
	)

	p.earlyExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_early_exits_total",
			Help:      "Total number of tool servers that exited during startup",
		},
		[]string{"server", "exit_code"},
	)

	p.stops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_stops_total",
			Help:      "Total number of tool server stops",
		},
		[]string{"server", "confirmed"},
	)

	p.stopDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "server_stop_duration_seconds",
			Help:      "Time taken to terminate a tool server",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 8},
		},
		[]string{"server"},
	)

	p.rpcs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "Total number of requests sent to tool servers by outcome",
		},
		[]string{"server", "outcome"},
	)

	p.rpcDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_duration_seconds",
			Help:      "Round trip time of requests to tool servers",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"server"},
	)

	p.diagnostics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diagnostic_lines_total",
			Help:      "Total number of stderr lines drained from tool servers",
		},
		[]string{"server"},
	)

	p.running = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running_servers",
			Help:      "Number of tool servers currently registered",
		},
	)

	p.registry.MustRegister(
		p.starts,
		p.startFailures,
		p.earlyExits,
		p.stops,
		p.stopDuration,
		p.rpcs,
		p.rpcDuration,
		p.diagnostics,
		p.running,
	)

	return p
}

// ServerStarted implements Collector.
func (p *Prometheus) ServerStarted(server string) {
	p.starts.WithLabelValues(server).Inc()
}

// ServerStartFailed implements Collector.
func (p *Prometheus) ServerStartFailed(server, code string) {
	p.startFailures.WithLabelValues(server, code).Inc()
}

// ServerEarlyExit implements Collector.
func (p *Prometheus) ServerEarlyExit(server string, exitCode int) {
	p.earlyExits.WithLabelValues(server, strconv.Itoa(exitCode)).Inc()
}

// ServerStopped implements Collector.
func (p *Prometheus) ServerStopped(server string, confirmed bool, duration time.Duration) {
	p.stops.WithLabelValues(server, strconv.FormatBool(confirmed)).Inc()
	p.stopDuration.WithLabelValues(server).Observe(duration.Seconds())
}

// RPCCompleted implements Collector.
func (p *Prometheus) RPCCompleted(server, outcome string, duration time.Duration) {
	p.rpcs.WithLabelValues(server, outcome).Inc()
	p.rpcDuration.WithLabelValues(server).Observe(duration.Seconds())
}

// DiagnosticLine implements Collector.
func (p *Prometheus) DiagnosticLine(server string) {
	p.diagnostics.WithLabelValues(server).Inc()
}

// RunningServers implements Collector.
func (p *Prometheus) RunningServers(n int) {
	p.running.Set(float64(n))
}

// Registry returns the Prometheus registry for HTTP handler setup.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

var _ Collector = (*Prometheus)(nil)
