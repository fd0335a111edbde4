package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/Fuabioo/toolhost/internal/core"
	"github.com/spf13/cobra"
)

var (
	addFlagPort        int
	addFlagDisabled    bool
	addFlagDescription string
	addFlagCwd         string
	addFlagEnv         map[string]string
)

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "List configured tool servers",
	Long: `Lists the tool servers in the servers file.

Records that cannot be used are reported on stderr and left out. When no
usable record exists a default configuration is written first.

Outputs a table by default, or JSON with the --json flag.`,
	Args: cobra.NoArgs,
	RunE: runServersList,
}

var serversAddCmd = &cobra.Command{
	Use:   "add <name> <command> [-- <args>...]",
	Short: "Add a tool server",
	Long: `Adds a server record to the servers file.

Put launch arguments that start with a dash after "--":

  toolhost servers add fs npx --port 8080 -- -y @modelcontextprotocol/server-filesystem /tmp`,
	Args: cobra.MinimumNArgs(2),
	RunE: runServersAdd,
}

var serversRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a tool server",
	Args:  cobra.ExactArgs(1),
	RunE:  runServersRemove,
}

func init() {
	serversAddCmd.Flags().IntVar(&addFlagPort, "port", 0, "Port the server listens on, informational")
	serversAddCmd.Flags().BoolVar(&addFlagDisabled, "disabled", false, "Add the server disabled")
	serversAddCmd.Flags().StringVar(&addFlagDescription, "description", "", "Human-readable description")
	serversAddCmd.Flags().StringVar(&addFlagCwd, "cwd", "", "Working directory for the server process")
	serversAddCmd.Flags().StringToStringVar(&addFlagEnv, "env", nil, "Extra environment variables (KEY=VALUE)")

	serversCmd.AddCommand(serversAddCmd)
	serversCmd.AddCommand(serversRemoveCmd)
}

func runServersList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store := core.NewServerStore(cfg.ServersFile)
	result, err := store.Load()
	if err != nil {
		return err
	}

	if !flagQuiet {
		for _, note := range result.Notes {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", note)
		}
		if result.Synthesized {
			fmt.Fprintf(os.Stderr, "No usable servers found; wrote defaults to %s\n", store.Path())
		}
	}

	if flagJSON {
		output := map[string]interface{}{
			"path":    store.Path(),
			"servers": result.Specs,
		}
		return outputJSON(output)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tENABLED\tPORT\tCOMMAND")

	for _, spec := range result.Specs {
		command := strings.TrimSpace(spec.Command + " " + strings.Join(spec.Args, " "))
		fmt.Fprintf(w, "%s\t%t\t%d\t%s\n", spec.Name, spec.Enabled, spec.Port, command)
	}

	w.Flush()
	return nil
}

func runServersAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	spec := core.ServerSpec{
		Name:        args[0],
		Command:     args[1],
		Args:        append([]string{}, args[2:]...),
		Port:        addFlagPort,
		Enabled:     !addFlagDisabled,
		Env:         addFlagEnv,
		Cwd:         addFlagCwd,
		Description: addFlagDescription,
	}

	store := core.NewServerStore(cfg.ServersFile)
	if err := store.Add(spec); err != nil {
		return err
	}

	if flagJSON {
		return outputJSON(spec)
	}

	if !flagQuiet {
		fmt.Printf("Added server %s\n", spec.Name)
	}
	return nil
}

func runServersRemove(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store := core.NewServerStore(cfg.ServersFile)
	if err := store.Remove(args[0]); err != nil {
		return err
	}

	if flagJSON {
		return outputJSON(map[string]interface{}{"removed": args[0]})
	}

	if !flagQuiet {
		fmt.Printf("Removed server %s\n", args[0])
	}
	return nil
}
