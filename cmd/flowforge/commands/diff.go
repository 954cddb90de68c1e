package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flowforge-io/flowforge/pkg/config"
	"github.com/flowforge-io/flowforge/pkg/diff"
	"github.com/flowforge-io/flowforge/pkg/engine"
	"github.com/flowforge-io/flowforge/pkg/stores"
)

// planEntry is one row of the computed plan.
type planEntry struct {
	Kind    string   `json:"kind"`
	Name    string   `json:"name"`
	Action  string   `json:"action"`
	Changed []string `json:"changed,omitempty"`
}

func newDiffCommand() *cobra.Command {
	var prune bool

	cmd := &cobra.Command{
		Use:   "diff [path...]",
		Short: "Show what apply would change",
		Long: `Compare the manifest against the recorded state and print the planned
action per resource: create, noop, update (with the changed attributes),
or replace. No remote calls are made; the comparison uses the state
recorded by the last apply.`,
		Example: `  # Diff manifests in the current directory
  flowforge diff

  # Include deletions of resources no longer declared
  flowforge diff --prune`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sources := args
			if len(sources) == 0 {
				sources = []string{"."}
			}

			rt, err := newRuntime(ctx, false)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			manifest, err := rt.parser.Parse(ctx, sources)
			if err != nil {
				return err
			}
			if len(manifest.Errors) > 0 {
				for _, e := range manifest.Errors {
					fmt.Fprintf(os.Stderr, "%s:%d:%d: %s\n", e.File, e.Line, e.Column, e.Message)
				}
				return fmt.Errorf("manifest has %d validation problem(s)", len(manifest.Errors))
			}

			var entries []planEntry
			declared := make(map[string]bool)
			for _, rc := range manifest.Resources {
				kind, desired, err := config.Desired(rc)
				if err != nil {
					return err
				}
				declared[string(kind)+"/"+rc.Name] = true

				record, err := rt.store.GetRecord(ctx, kind, rc.Name)
				if err != nil && !errors.Is(err, stores.ErrNotFound) {
					return err
				}

				entry := planEntry{Kind: string(kind), Name: rc.Name}
				if !record.Present() {
					entry.Action = "create"
				} else {
					plan, err := diff.Plan(kind, record.Inputs, desired)
					if err != nil {
						return err
					}
					entry.Action = string(plan.Action)
					entry.Changed = plan.Changed
				}
				entries = append(entries, entry)
			}

			if prune {
				records, err := rt.store.ListRecords(ctx, "")
				if err != nil {
					return err
				}
				for _, record := range records {
					if !declared[string(record.Kind)+"/"+record.Name] {
						entries = append(entries, planEntry{
							Kind: string(record.Kind), Name: record.Name, Action: "delete",
						})
					}
				}
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(entries)
			}
			printPlan(entries)
			return nil
		},
	}

	cmd.Flags().BoolVar(&prune, "prune", false, "include deletions of undeclared resources")

	return cmd
}

func printPlan(entries []planEntry) {
	counts := make(map[string]int)
	for _, e := range entries {
		counts[e.Action]++
		line := fmt.Sprintf("%-8s %s/%s", e.Action, e.Kind, e.Name)
		if len(e.Changed) > 0 {
			line += " (" + strings.Join(e.Changed, ", ") + ")"
		}
		fmt.Println(line)
	}
	fmt.Printf("\nPlan: %d to create, %d to update, %d to replace, %d to delete, %d unchanged\n",
		counts["create"], counts["update"], counts["replace"], counts["delete"], counts[string(engine.DiffNoOp)])
}
