package orchestrator

import (
	"github.com/Fuabioo/toolhost/internal/core"
	"github.com/Fuabioo/toolhost/internal/logsink"
	"github.com/Fuabioo/toolhost/internal/metrics"
	"github.com/Fuabioo/toolhost/internal/rpc"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSink sets where lifecycle events, diagnostics and RPC traffic go.
func WithSink(sink logsink.Sink) Option {
	return func(o *Orchestrator) {
		o.sink = sink
	}
}

// WithCorrelator replaces the default LineCorrelator.
func WithCorrelator(c rpc.Correlator) Option {
	return func(o *Orchestrator) {
		o.correlator = c
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c metrics.Collector) Option {
	return func(o *Orchestrator) {
		o.metrics = c
	}
}

// WithTimeouts overrides the wait bounds.
func WithTimeouts(t core.TimeoutsConfig) Option {
	return func(o *Orchestrator) {
		o.timeouts = t
	}
}

// WithConcurrency bounds how many servers StartEnabled spawns at once.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}
