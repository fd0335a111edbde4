package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var callFlagTimeout time.Duration

var callCmd = &cobra.Command{
	Use:   "call <server> <method> [<params-json>]",
	Short: "Send one JSON-RPC request to a server",
	Long: `Starts the server if needed, sends a single request and prints the
response as JSON. The server is stopped before the command exits.

Example:
  toolhost call fs tools/list
  toolhost call fs tools/call '{"name":"read_file","arguments":{"path":"/tmp/a"}}'`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runCall,
}

func init() {
	callCmd.Flags().DurationVar(&callFlagTimeout, "timeout", 0, "Response timeout (default from config)")
}

func runCall(cmd *cobra.Command, args []string) error {
	server, method := args[0], args[1]

	var params interface{}
	if len(args) == 3 && args[2] != "" {
		if err := json.Unmarshal([]byte(args[2]), &params); err != nil {
			return fmt.Errorf("params is not valid JSON: %w", err)
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if callFlagTimeout > 0 {
		cfg.Timeouts.Request = callFlagTimeout
	}

	orch, err := newOrchestrator(cfg, newSink(cfg))
	if err != nil {
		return err
	}
	defer orch.StopAll()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resp := orch.SendCommand(ctx, server, method, params)
	if err := outputJSON(resp); err != nil {
		return err
	}

	if resp.Failed() {
		if len(resp.Error.Raw) > 0 {
			return fmt.Errorf("%s returned error: %s", server, resp.Error.Raw)
		}
		return fmt.Errorf("%s returned error %d: %s", server, resp.Error.Code, resp.Error.Message)
	}
	return nil
}
