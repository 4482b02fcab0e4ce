package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/fyrsmithlabs/storeharness/internal/config"
	"github.com/fyrsmithlabs/storeharness/internal/docstore"
	"github.com/fyrsmithlabs/storeharness/internal/harness"
	"github.com/fyrsmithlabs/storeharness/internal/services"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(servicesCmd)
	servicesCmd.AddCommand(servicesUpCmd)
	servicesCmd.AddCommand(servicesStatusCmd)
	servicesCmd.AddCommand(servicesDownCmd)
}

// servicesCmd is the parent command for service operations
var servicesCmd = &cobra.Command{
	Use:   "services",
	Short: "Start, probe and remove test service containers",
}

var servicesUpCmd = &cobra.Command{
	Use:   "up [service...]",
	Short: "Start services that are not reachable",
	Long: `Probe each service and launch its container if it is unreachable.

Without arguments, starts the services the selected backends need.
Containers keep running after the command exits, whatever
services.teardown says.

Examples:
  # Services for the configured backends
  storeharness services up

  # Services for a custom selector
  storeharness services up --backends "qdrant, sql"

  # Named services
  storeharness services up tika graphdb`,
	RunE: runServicesUp,
}

var servicesStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Probe every configured service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		b, err := services.NewFromConfig(cfg, nil, logger)
		if err != nil {
			return err
		}
		renderStatuses(os.Stdout, b.Statuses(cmd.Context()))
		return nil
	},
}

var servicesDownCmd = &cobra.Command{
	Use:   "down [service...]",
	Short: "Remove service containers",
	Long: `Force-remove the containers of the named services, or of every
configured service when none is named.`,
	RunE: runServicesDown,
}

func runServicesUp(cmd *cobra.Command, args []string) error {
	names := args
	if len(names) == 0 {
		sel, err := selector()
		if err != nil {
			return err
		}
		names = requiredServices(sel, cfg)
	}
	if len(names) == 0 {
		fmt.Println("Selected backends need no services.")
		return nil
	}

	b, err := services.NewFromConfig(persistentConfig(cfg), nil, logger)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := b.Ensure(cmd.Context(), name); err != nil {
			return fmt.Errorf("starting %s: %w", name, err)
		}
		fmt.Printf("%s: ready\n", name)
	}
	return nil
}

// persistentConfig returns a copy of c whose launcher leaves containers
// running after the command exits.
func persistentConfig(c *config.Config) *config.Config {
	out := *c
	out.Services.Teardown = false
	return &out
}

func runServicesDown(cmd *cobra.Command, args []string) error {
	names := args
	if len(names) == 0 {
		names = config.ServiceNames()
	}

	launcher, err := services.NewLauncher(cfg)
	if err != nil {
		return err
	}
	remover, ok := launcher.(services.Remover)
	if !ok {
		return fmt.Errorf("launcher %s cannot remove containers", launcher.Name())
	}

	for _, name := range names {
		svc, err := services.FromConfig(cfg, name)
		if err != nil {
			return err
		}
		if err := remover.Remove(cmd.Context(), svc.ContainerName); err != nil {
			return err
		}
		fmt.Printf("%s: removed %s\n", svc.Name, svc.ContainerName)
	}
	return nil
}

// requiredServices lists, in a stable order, the services the selected
// backends depend on.
func requiredServices(sel harness.Selector, cfg *config.Config) []string {
	sqlURL := ""
	if cfg.SQL.Type == config.SQLTypePostgres {
		sqlURL = cfg.SQL.PostgresURL.Value()
	}
	seen := map[string]bool{}
	var out []string
	for _, kind := range sel.Kinds() {
		if name, ok := docstore.ServiceFor(kind, sqlURL); ok && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func renderStatuses(out io.Writer, statuses []services.Status) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tENDPOINT\tPROBE\tSTATUS")
	for _, st := range statuses {
		status := "reachable"
		if !st.Reachable {
			status = "unreachable"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", st.Name, st.Endpoint, st.ProbeURL, status)
	}
	w.Flush()
}
