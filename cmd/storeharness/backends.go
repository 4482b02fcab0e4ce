package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fyrsmithlabs/storeharness/internal/config"
	"github.com/fyrsmithlabs/storeharness/internal/docstore"
	"github.com/fyrsmithlabs/storeharness/internal/harness"
	"github.com/spf13/cobra"
)

var (
	planTags         []string
	planParams       []string
	planNeedsBackend bool
	planStrictTags   bool
)

func init() {
	rootCmd.AddCommand(backendsCmd)
	rootCmd.AddCommand(planCmd)

	planCmd.Flags().StringSliceVar(&planTags, "tags", nil, "explicit test categories (disables name inference)")
	planCmd.Flags().StringSliceVar(&planParams, "param", nil, "extra parametrization ids")
	planCmd.Flags().BoolVar(&planNeedsBackend, "needs-backend", true, "expand each test over the selected backends")
	planCmd.Flags().BoolVar(&planStrictTags, "strict-tags", false, "disable category inference from test names (default: run.strict_tags)")
}

// backendsCmd lists every backend kind and whether it is selected
var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List backend kinds and the current selection",
	Args:  cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		sel, err := selector()
		if err != nil {
			return err
		}
		renderBackends(os.Stdout, sel, cfg)
		return nil
	},
}

// planCmd shows how test names expand under the selector
var planCmd = &cobra.Command{
	Use:   "plan <test name>...",
	Short: "Show which backend instances of a test run or skip",
	Long: `Expand test names against the backend selector and print the run/skip
decision of every instance.

Examples:
  storeharness plan --backends memory TestWriteDocuments TestElasticsearchSettings
  storeharness plan --tags weaviate,slow TestFilters
  storeharness plan --needs-backend=false --param tfidf-memory,dpr-elasticsearch TestRetriever`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sel, err := selector()
		if err != nil {
			return err
		}
		strict := cfg.Run.StrictTags
		if cmd.Flags().Changed("strict-tags") {
			strict = planStrictTags
		}
		c := harness.NewController(sel, harness.WithStrictTags(strict), harness.WithLogger(logger))
		renderPlan(os.Stdout, c, planDecls(args))
		return nil
	},
}

func planDecls(names []string) []harness.Decl {
	decls := make([]harness.Decl, 0, len(names))
	for _, name := range names {
		decls = append(decls, harness.Decl{
			Name:         name,
			Tags:         planTags,
			NeedsBackend: planNeedsBackend,
			Params:       planParams,
		})
	}
	return decls
}

func renderBackends(out io.Writer, sel harness.Selector, cfg *config.Config) {
	sqlURL := ""
	if cfg.SQL.Type == config.SQLTypePostgres {
		sqlURL = cfg.SQL.PostgresURL.Value()
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BACKEND\tSELECTED\tSERVICE")
	for _, kind := range docstore.Kinds() {
		selected := "no"
		if sel.Contains(kind) {
			selected = "yes"
		}
		service := "-"
		if name, ok := docstore.ServiceFor(kind, sqlURL); ok {
			service = name
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", kind, selected, service)
	}
	w.Flush()
}

func renderPlan(out io.Writer, c *harness.Controller, decls []harness.Decl) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TEST\tTAGS\tDECISION\tREASON")
	for _, d := range decls {
		for _, inst := range c.Expand(d) {
			name := inst.Name
			if inst.ID != "" {
				name += "/" + inst.ID
			}
			decision := "run"
			if inst.Skipped() {
				decision = "skip"
			}
			tags := strings.Join(inst.Tags, ",")
			if tags == "" {
				tags = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, tags, decision, inst.SkipReason)
		}
	}
	w.Flush()
}
