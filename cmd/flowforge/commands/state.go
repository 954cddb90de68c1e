package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flowforge-io/flowforge/pkg/engine"
)

func newStateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect the recorded state",
		Long: `Inspect the state database: recorded resources, pass history, and
pending asset upload handoffs. Secret-tagged attribute values are stored
redacted and are shown redacted here.`,
	}

	cmd.AddCommand(newStateRecordsCommand())
	cmd.AddCommand(newStatePassesCommand())
	cmd.AddCommand(newStateEventsCommand())
	cmd.AddCommand(newStateHandoffsCommand())

	return cmd
}

func newStateRecordsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "records [kind]",
		Short: "List recorded resources",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx, false)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			var kind engine.Kind
			if len(args) > 0 {
				kind = engine.Kind(args[0])
			}
			records, err := rt.store.ListRecords(ctx, kind)
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(records)
			}
			for _, r := range records {
				fmt.Printf("%-16s %-24s %s\n", r.Kind, r.Name, r.ExternalID)
			}
			fmt.Printf("\n%d record(s)\n", len(records))
			return nil
		},
	}
}

func newStatePassesCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "passes",
		Short: "List reconciliation passes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx, false)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			passes, err := rt.store.ListPasses(ctx, limit, 0)
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(passes)
			}
			for _, p := range passes {
				fmt.Printf("%s  %-10s  %s  %s\n", p.ID, p.Status, p.StartedAt.Format("2006-01-02 15:04:05"), p.Manifest)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum passes to list")

	return cmd
}

func newStateEventsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "events <pass-id>",
		Short: "List the events of a pass",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx, false)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			events, err := rt.store.ListEvents(ctx, args[0])
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(events)
			}
			for _, e := range events {
				line := fmt.Sprintf("%-10s %-8s %s/%s", e.Operation, e.Action, e.Kind, e.Name)
				if e.Error != nil {
					line += "  ERROR: " + *e.Error
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}

func newStateHandoffsCommand() *cobra.Command {
	var complete string

	cmd := &cobra.Command{
		Use:   "handoffs",
		Short: "List pending asset upload handoffs",
		Long: `List asset upload handoffs awaiting completion. Once the external actor
has uploaded the file bytes, mark the handoff done with --complete.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx, false)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			if complete != "" {
				if err := rt.store.CompleteHandoff(ctx, complete); err != nil {
					return err
				}
				fmt.Printf("handoff %s completed\n", complete)
				return nil
			}

			handoffs, err := rt.store.ListPendingHandoffs(ctx)
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(handoffs)
			}
			for _, h := range handoffs {
				fmt.Printf("%-24s %s  issued %s\n", h.ExternalID, h.UploadURL, h.IssuedAt.Format("2006-01-02 15:04:05"))
			}
			fmt.Printf("\n%d pending handoff(s)\n", len(handoffs))
			return nil
		},
	}

	cmd.Flags().StringVar(&complete, "complete", "", "mark the given handoff as completed")

	return cmd
}
