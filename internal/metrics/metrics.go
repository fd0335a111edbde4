// Package metrics records orchestrator activity.
package metrics

import (
	"time"
)

// RPC outcome labels.
const (
	OutcomeOK          = "ok"
	OutcomeServerError = "server_error"
	OutcomeStartFailed = "start_failed"
	OutcomeTimeout     = "timeout"
	OutcomeMalformed   = "malformed"
	OutcomeTransport   = "transport"
)

// Collector receives orchestrator events.
type Collector interface {
	// ServerStarted records a successful spawn.
	ServerStarted(server string)

	// ServerStartFailed records a spawn that failed, by error code.
	ServerStartFailed(server, code string)

	// ServerEarlyExit records a process that died within its startup grace.
	ServerEarlyExit(server string, exitCode int)

	// ServerStopped records a stop and how long termination took.
	ServerStopped(server string, confirmed bool, duration time.Duration)

	// RPCCompleted records one SendCommand round trip.
	RPCCompleted(server, outcome string, duration time.Duration)

	// DiagnosticLine records one drained stderr line.
	DiagnosticLine(server string)

	// RunningServers records the current registry size.
	RunningServers(n int)
}

type noopCollector struct{}

func (noopCollector) ServerStarted(string)                       {}
func (noopCollector) ServerStartFailed(string, string)           {}
func (noopCollector) ServerEarlyExit(string, int)                {}
func (noopCollector) ServerStopped(string, bool, time.Duration)  {}
func (noopCollector) RPCCompleted(string, string, time.Duration) {}
func (noopCollector) DiagnosticLine(string)                      {}
func (noopCollector) RunningServers(int)                         {}

// Noop returns a collector that discards everything.
func Noop() Collector {
	return noopCollector{}
}
