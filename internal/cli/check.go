package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/Fuabioo/toolhost/internal/errors"
	"github.com/spf13/cobra"
)

// checkMargin is added to the startup grace so the liveness check has run
// before results are read.
const checkMargin = 250 * time.Millisecond

var checkCmd = &cobra.Command{
	Use:   "check [<name>...]",
	Short: "Verify that servers start",
	Long: `Starts each named server (all enabled servers by default), waits out the
startup grace period, reports which ones are still running, then stops them.

Exits non-zero when any server fails to start.`,
	RunE: runCheck,
}

type checkResult struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	PID   int    `json:"pid,omitempty"`
	Error string `json:"error,omitempty"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	orch, err := newOrchestrator(cfg, newSink(cfg))
	if err != nil {
		return err
	}
	defer orch.StopAll()

	names := args
	if len(names) == 0 {
		names = orch.ActiveServerNames()
	}
	if len(names) == 0 {
		if !flagQuiet {
			fmt.Println("No enabled servers")
		}
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results := make([]checkResult, len(names))
	for i, name := range names {
		results[i].Name = name
		if err := orch.Start(name); err != nil {
			results[i].Error = err.Error()
		}
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("check interrupted: %w", ctx.Err())
	case <-time.After(cfg.Timeouts.StartupGrace + checkMargin):
	}

	failed := 0
	for i := range results {
		r := &results[i]
		if r.Error == "" {
			details, err := orch.ServerDetails(r.Name)
			switch {
			case err != nil:
				r.Error = err.Error()
			case !details.Running:
				r.Error = errors.CodeEarlyExit + ": exited during startup"
			default:
				r.OK = true
				r.PID = details.PID
			}
		}
		if !r.OK {
			failed++
		}
	}

	if flagJSON {
		if err := outputJSON(results); err != nil {
			return err
		}
	} else {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSTATUS\tDETAIL")
		for _, r := range results {
			if r.OK {
				fmt.Fprintf(w, "%s\tok\tpid %d\n", r.Name, r.PID)
			} else {
				fmt.Fprintf(w, "%s\tfailed\t%s\n", r.Name, r.Error)
			}
		}
		w.Flush()
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d server(s) failed to start", failed, len(results))
	}
	return nil
}
