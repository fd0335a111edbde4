package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Fuabioo/toolhost/internal/core"
	"github.com/Fuabioo/toolhost/internal/errors"
	"github.com/Fuabioo/toolhost/internal/logsink"
	"github.com/Fuabioo/toolhost/internal/orchestrator"
)

// outputJSON marshals and prints JSON to stdout.
func outputJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// getExitCode maps error codes to CLI exit codes.
func getExitCode(err error) int {
	if err == nil {
		return 0
	}

	code := errors.Code(err)
	switch code {
	case errors.CodeServerNotFound, errors.CodeServerDisabled:
		return 4 // Unknown or unusable server
	case errors.CodeExecutableNotFound, errors.CodeSpawnFailed, errors.CodeEarlyExit:
		return 5 // Server failed to start
	case errors.CodeConfigInvalid, errors.CodeConfigLocked, errors.CodeNameCollision:
		return 3 // Configuration problem
	case "":
		// Not a toolhost error - could be usage error
		return 1 // General error
	default:
		return 1 // General error
	}
}

// loadConfig loads the configuration from the data directory.
func loadConfig() (*core.Config, error) {
	dataDir, err := core.EnsureDataDir()
	if err != nil {
		return nil, fmt.Errorf("failed to prepare data directory: %w", err)
	}

	cfg, err := core.LoadConfig(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// newSink builds the log sink for CLI commands. Everything goes to stderr so
// stdout stays clean for results and the MCP protocol.
func newSink(cfg *core.Config) *logsink.ZerologSink {
	level := cfg.Logging.Level
	switch {
	case flagVerbose:
		level = "debug"
	case flagQuiet:
		level = "error"
	}
	return logsink.New(logsink.Options{
		Stdout: os.Stderr,
		Stderr: os.Stderr,
		Level:  level,
		Format: cfg.Logging.Format,
	})
}

// newOrchestrator builds and loads an orchestrator from cfg.
func newOrchestrator(cfg *core.Config, sink logsink.Sink, opts ...orchestrator.Option) (*orchestrator.Orchestrator, error) {
	opts = append([]orchestrator.Option{
		orchestrator.WithSink(sink),
		orchestrator.WithTimeouts(cfg.Timeouts),
		orchestrator.WithConcurrency(cfg.Concurrency),
	}, opts...)

	orch := orchestrator.New(core.NewServerStore(cfg.ServersFile), opts...)
	if err := orch.Load(); err != nil {
		return nil, err
	}
	return orch, nil
}

// printError prints an error to stderr with appropriate formatting.
func printError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}
