package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/flowforge-io/flowforge/pkg/config"
	"github.com/flowforge-io/flowforge/pkg/engine"
	"github.com/flowforge-io/flowforge/pkg/stores"
	"github.com/flowforge-io/flowforge/pkg/telemetry"
)

func newApplyCommand() *cobra.Command {
	var prune bool

	cmd := &cobra.Command{
		Use:   "apply [path...]",
		Short: "Reconcile the manifest against the remote system",
		Long: `Reconcile every declared resource against the remote API.

For each resource this command:
  - Refreshes the recorded state from the remote system (drift detection)
  - Diffs recorded inputs against the manifest
  - Creates, updates in place, or replaces as the diff demands
  - Records the outcome in the state database

Asset creations produce an upload handoff: the presigned URL and form
fields are recorded and printed; the file bytes must be uploaded by an
external actor.`,
		Example: `  # Apply manifests from the current directory
  flowforge apply

  # Apply and delete resources no longer declared
  flowforge apply --prune ./manifests`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sources := args
			if len(sources) == 0 {
				sources = []string{"."}
			}

			rt, err := newRuntime(ctx, true)
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

			return runApply(ctx, rt, manifest, prune)
		},
	}

	cmd.Flags().BoolVar(&prune, "prune", false, "delete resources no longer declared")

	return cmd
}

func runApply(ctx context.Context, rt *runtime, manifest *config.Manifest, prune bool) error {
	now := time.Now().UTC()
	pass := &stores.Pass{
		ID:        uuid.New().String(),
		Manifest:  strings.Join(manifest.SourceFiles, ","),
		Status:    stores.PassStatusRunning,
		StartedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := rt.store.CreatePass(ctx, pass); err != nil {
		return err
	}

	ctx, span := rt.telemetry.Tracer.StartPassSpan(ctx, pass.ID)
	defer span.End()
	logger := telemetry.WithPass(rt.logger, pass.ID)

	declared := make(map[string]bool)
	var failures []string

	for _, rc := range manifest.Resources {
		if err := ctx.Err(); err != nil {
			msg := err.Error()
			_ = rt.store.UpdatePassStatus(context.WithoutCancel(ctx), pass.ID, stores.PassStatusCancelled, &msg)
			return err
		}

		kind, desired, err := config.Desired(rc)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", rc.Name, err))
			appendEvent(ctx, rt, pass.ID, rc.Kind, rc.Name, "reconcile", "", err)
			continue
		}
		declared[string(kind)+"/"+rc.Name] = true

		if err := reconcileOne(ctx, rt, logger, pass.ID, kind, rc, desired); err != nil {
			failures = append(failures, fmt.Sprintf("%s/%s: %v", kind, rc.Name, err))
		}
	}

	if prune {
		pruneUndeclared(ctx, rt, logger, pass.ID, declared, &failures)
	}

	if len(failures) > 0 {
		msg := strings.Join(failures, "; ")
		telemetry.RecordError(span, errors.New(msg))
		_ = rt.store.UpdatePassStatus(ctx, pass.ID, stores.PassStatusFailed, &msg)
		return fmt.Errorf("pass %s failed: %d resource(s) errored", pass.ID, len(failures))
	}

	telemetry.RecordSuccess(span)
	if err := rt.store.UpdatePassStatus(ctx, pass.ID, stores.PassStatusCompleted, nil); err != nil {
		return err
	}
	logger.Info().Int("resources", len(manifest.Resources)).Msg("Pass completed")
	fmt.Printf("Pass %s completed: %d resource(s) reconciled\n", pass.ID, len(manifest.Resources))
	return nil
}

// reconcileOne drives one resource through read-refresh, diff, and the
// resulting lifecycle operation, then records the outcome.
func reconcileOne(ctx context.Context, rt *runtime, logger zerolog.Logger, passID string, kind engine.Kind, rc config.ResourceConfig, desired engine.Attrs) error {
	log := telemetry.WithResource(logger, string(kind), rc.Name)

	record, err := rt.store.GetRecord(ctx, kind, rc.Name)
	if errors.Is(err, stores.ErrNotFound) {
		record = &engine.Record{Kind: kind, Name: rc.Name, Inputs: engine.Attrs{}}
	} else if err != nil {
		return err
	}
	record.Annotations = rc.Annotations

	// Refresh before diffing so drifted or externally deleted objects are
	// recreated rather than patched into a void.
	if record.Present() {
		refreshed, present, err := rt.dispatcher.Read(ctx, record)
		if err != nil {
			appendEvent(ctx, rt, passID, string(kind), rc.Name, "read", "", err)
			return err
		}
		if !present {
			log.Warn().Msg("Remote object missing, will recreate")
		}
		record = refreshed
		record.Annotations = rc.Annotations
	}

	action := "create"
	if record.Present() {
		plan, err := rt.dispatcher.Diff(kind, record.Inputs, desired)
		if err != nil {
			appendEvent(ctx, rt, passID, string(kind), rc.Name, "diff", "", err)
			return err
		}
		action = string(plan.Action)
	}

	updated, handoff, err := rt.dispatcher.Reconcile(ctx, record, desired)
	appendEvent(ctx, rt, passID, string(kind), rc.Name, "reconcile", action, err)
	if updated != nil {
		updated.Annotations = rc.Annotations
		if saveErr := rt.store.SaveRecord(ctx, updated); saveErr != nil && err == nil {
			err = saveErr
		}
	}
	if err != nil {
		return err
	}

	if handoff != nil {
		if err := rt.store.SaveHandoff(ctx, *handoff); err != nil {
			return err
		}
		if pending, err := rt.store.ListPendingHandoffs(ctx); err == nil {
			rt.telemetry.Metrics.SetPendingHandoffs(float64(len(pending)))
		}
		log.Info().Str("upload_url", handoff.UploadURL).Msg("Asset registered, upload pending")
		fmt.Printf("asset %s: upload pending at %s\n", rc.Name, handoff.UploadURL)
	}

	log.Info().Str("action", action).Msg("Resource reconciled")
	return nil
}

// pruneUndeclared deletes recorded resources that are no longer declared.
func pruneUndeclared(ctx context.Context, rt *runtime, logger zerolog.Logger, passID string, declared map[string]bool, failures *[]string) {
	records, err := rt.store.ListRecords(ctx, "")
	if err != nil {
		*failures = append(*failures, err.Error())
		return
	}

	for _, record := range records {
		if declared[string(record.Kind)+"/"+record.Name] {
			continue
		}

		deleted, err := rt.dispatcher.Delete(ctx, record)
		appendEvent(ctx, rt, passID, string(record.Kind), record.Name, "delete", "delete", err)
		if err != nil {
			*failures = append(*failures, fmt.Sprintf("%s/%s: %v", record.Kind, record.Name, err))
			continue
		}
		if deleted != nil && !deleted.Present() {
			if err := rt.store.DeleteRecord(ctx, record.Kind, record.Name); err != nil {
				*failures = append(*failures, fmt.Sprintf("%s/%s: %v", record.Kind, record.Name, err))
				continue
			}
		}
		resourceLogger := telemetry.WithResource(logger, string(record.Kind), record.Name)
		resourceLogger.Info().Msg("Undeclared resource deleted")
	}
}

func appendEvent(ctx context.Context, rt *runtime, passID, kind, name, operation, action string, opErr error) {
	event := &stores.Event{
		PassID:    passID,
		Kind:      kind,
		Name:      name,
		Operation: operation,
		Action:    action,
		CreatedAt: time.Now().UTC(),
	}
	if opErr != nil {
		msg := opErr.Error()
		event.Error = &msg
	}
	if err := rt.store.AppendEvent(ctx, event); err != nil {
		rt.logger.Warn().Err(err).Msg("Failed to record pass event")
	}
}
