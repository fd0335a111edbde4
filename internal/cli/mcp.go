package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Fuabioo/toolhost/internal/logsink"
	"github.com/Fuabioo/toolhost/internal/mcp"
	"github.com/Fuabioo/toolhost/internal/metrics"
	"github.com/Fuabioo/toolhost/internal/orchestrator"
	"github.com/Fuabioo/toolhost/internal/rpc"
	"github.com/spf13/cobra"
)

var (
	mcpFlagAutostart   bool
	mcpFlagWatch       bool
	mcpFlagMetricsAddr string
	mcpFlagPairByID    bool
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server on stdio",
	Long: `Starts the Model Context Protocol (MCP) server on stdio.

This command is used by MCP clients (Claude Desktop, etc.) to drive toolhost.
It should not be run directly by users. All logging goes to stderr.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().BoolVar(&mcpFlagAutostart, "autostart", false, "Start every enabled server on launch")
	mcpCmd.Flags().BoolVar(&mcpFlagWatch, "watch", false, "Reload the servers file when it changes")
	mcpCmd.Flags().StringVar(&mcpFlagMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. 127.0.0.1:9464)")
	mcpCmd.Flags().BoolVar(&mcpFlagPairByID, "pair-by-id", false, "Match responses to requests by id, allowing concurrent calls per server")
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if mcpFlagMetricsAddr != "" {
		cfg.Metrics.Addr = mcpFlagMetricsAddr
	}

	sink := newSink(cfg)
	opts := []orchestrator.Option{}
	if mcpFlagPairByID {
		opts = append(opts, orchestrator.WithCorrelator(rpc.NewDemuxCorrelator(sink)))
	}

	var prom *metrics.Prometheus
	if cfg.Metrics.Addr != "" {
		prom = metrics.NewPrometheus("toolhost")
		opts = append(opts, orchestrator.WithMetrics(prom))
	}

	orch, err := newOrchestrator(cfg, sink, opts...)
	if err != nil {
		return err
	}
	defer orch.StopAll()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if prom != nil {
		srv := serveMetrics(cfg.Metrics.Addr, prom, sink)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if mcpFlagWatch {
		go func() {
			if err := orch.Watch(ctx); err != nil {
				sink.Log(fmt.Sprintf("configuration watcher stopped: %v", err), logsink.TagWarning)
			}
		}()
	}

	if mcpFlagAutostart {
		if err := orch.StartEnabled(ctx); err != nil {
			sink.Log(fmt.Sprintf("some servers failed to start: %v", err), logsink.TagWarning)
		}
	}

	return mcp.NewServer(orch, GetVersion()).Serve(ctx, os.Stdin, os.Stdout, os.Stderr)
}

func serveMetrics(addr string, prom *metrics.Prometheus, sink logsink.Sink) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", prom.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		sink.Log(fmt.Sprintf("serving metrics on http://%s/metrics", addr), logsink.TagInfo)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sink.Log(fmt.Sprintf("metrics server failed: %v", err), logsink.TagError)
		}
	}()
	return srv
}
