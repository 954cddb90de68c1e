package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowforge-io/flowforge/pkg/diff"
	"github.com/flowforge-io/flowforge/pkg/engine"
	"github.com/flowforge-io/flowforge/pkg/mapper"
	"github.com/flowforge-io/flowforge/pkg/schema"
)

// Invoker sends one logical remote request. The api package provides the
// production implementation.
type Invoker interface {
	Invoke(ctx context.Context, method, path string, payload map[string]any) (map[string]any, error)
}

// Guard is consulted before destructive operations. A nil error allows
// the operation; a denial is returned to the caller unchanged.
type Guard interface {
	Allow(ctx context.Context, op engine.Operation, record *engine.Record) error
}

// OperationObserver receives per-operation telemetry.
type OperationObserver interface {
	ObserveOperation(kind engine.Kind, op engine.Operation, err error, duration time.Duration)
}

// Dispatcher executes the resource lifecycle against the remote API:
// schema validation, diff planning, create/read/update/delete dispatch,
// replace orchestration and asset upload handoffs.
type Dispatcher struct {
	invoker  Invoker
	guard    Guard
	observer OperationObserver
	handoffs *Tracker
	logger   zerolog.Logger
	now      func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithGuard installs a policy guard for destructive operations.
func WithGuard(g Guard) Option {
	return func(d *Dispatcher) { d.guard = g }
}

// WithObserver installs a telemetry observer.
func WithObserver(o OperationObserver) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// WithLogger sets the dispatcher logger.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// NewDispatcher creates a dispatcher backed by the given remote invoker.
func NewDispatcher(invoker Invoker, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		invoker:  invoker,
		handoffs: NewTracker(),
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.handoffs.now = d.now
	return d
}

// Handoffs exposes the upload handoff tracker.
func (d *Dispatcher) Handoffs() *Tracker {
	return d.handoffs
}

// Diff plans the state transition for one resource instance without
// touching the remote system.
func (d *Dispatcher) Diff(kind engine.Kind, previous, desired engine.Attrs) (engine.DiffPlan, error) {
	return diff.Plan(kind, previous, desired)
}

// Create registers a new remote object from the desired inputs and returns
// the tracked record. Asset creates additionally return the upload handoff
// the external actor needs to transfer the file bytes; the engine does not
// wait for that transfer.
func (d *Dispatcher) Create(ctx context.Context, kind engine.Kind, name string, inputs engine.Attrs) (rec *engine.Record, h *engine.UploadHandoff, err error) {
	defer d.observe(kind, engine.OpCreate, d.now(), &err)

	if err = schema.Validate(kind, inputs); err != nil {
		return nil, nil, withContext(err, name, engine.OpCreate)
	}

	req, err := mapper.BuildCreate(kind, inputs)
	if err != nil {
		return nil, nil, withContext(err, name, engine.OpCreate)
	}

	response, err := d.invoker.Invoke(ctx, req.Method, req.Path, req.Payload)
	if err != nil {
		return nil, nil, withContext(err, name, engine.OpCreate)
	}

	externalID, err := mapper.ExternalID(kind, inputs, response)
	if err != nil {
		return nil, nil, withContext(err, name, engine.OpCreate)
	}
	outputs, err := mapper.Outputs(kind, inputs, response)
	if err != nil {
		return nil, nil, withContext(err, name, engine.OpCreate)
	}

	record := &engine.Record{
		Kind:       kind,
		Name:       name,
		ExternalID: externalID,
		Inputs:     inputs,
		Outputs:    outputs,
		UpdatedAt:  d.now(),
	}

	var handoff *engine.UploadHandoff
	if kind == engine.KindAsset {
		if issued, ok := mapper.Handoff(externalID, response); ok {
			issued.IssuedAt = d.now()
			d.handoffs.Issue(issued)
			handoff = &issued
		}
	}

	d.logger.Info().
		Str("kind", string(kind)).
		Str("name", name).
		Str("external_id", externalID).
		Msg("created remote object")
	return record, handoff, nil
}

// Read refreshes a record against the remote system. A remote not-found is
// drift, not an error: the returned record has its external id cleared and
// present reports false.
func (d *Dispatcher) Read(ctx context.Context, record *engine.Record) (rec *engine.Record, present bool, err error) {
	defer d.observe(record.Kind, engine.OpRead, d.now(), &err)

	if !record.Present() {
		return record, false, nil
	}

	req, err := mapper.BuildRead(record.Kind, record.ExternalID)
	if err != nil {
		return nil, false, withContext(err, record.Name, engine.OpRead)
	}

	response, err := d.invoker.Invoke(ctx, req.Method, req.Path, nil)
	if err != nil {
		if engine.IsNotFound(err) {
			d.logger.Warn().
				Str("kind", string(record.Kind)).
				Str("name", record.Name).
				Str("external_id", record.ExternalID).
				Msg("remote object vanished")
			gone := *record
			gone.ExternalID = ""
			gone.Outputs = nil
			gone.UpdatedAt = d.now()
			return &gone, false, nil
		}
		return nil, false, withContext(err, record.Name, engine.OpRead)
	}

	outputs, err := mapper.Outputs(record.Kind, record.Inputs, response)
	if err != nil {
		return nil, false, withContext(err, record.Name, engine.OpRead)
	}

	refreshed := *record
	refreshed.Outputs = outputs
	refreshed.UpdatedAt = d.now()
	return &refreshed, true, nil
}

// Update patches the changed attributes in place and returns the refreshed
// record. The remote call carries only the changed subset.
func (d *Dispatcher) Update(ctx context.Context, record *engine.Record, desired engine.Attrs, changed []string) (rec *engine.Record, err error) {
	defer d.observe(record.Kind, engine.OpUpdate, d.now(), &err)

	if !record.Present() {
		return nil, engine.NewValidationError(
			"cannot update an object that is not tracked remotely", nil,
		).WithResource(record.Name).WithOperation(string(engine.OpUpdate))
	}
	if err = schema.Validate(record.Kind, desired); err != nil {
		return nil, withContext(err, record.Name, engine.OpUpdate)
	}

	req, err := mapper.BuildUpdate(record.Kind, record.ExternalID, desired, changed)
	if err != nil {
		return nil, withContext(err, record.Name, engine.OpUpdate)
	}

	response, err := d.invoker.Invoke(ctx, req.Method, req.Path, req.Payload)
	if err != nil {
		return nil, withContext(err, record.Name, engine.OpUpdate)
	}

	outputs, err := mapper.Outputs(record.Kind, desired, response)
	if err != nil {
		return nil, withContext(err, record.Name, engine.OpUpdate)
	}

	updated := *record
	updated.Inputs = desired
	updated.Outputs = outputs
	updated.UpdatedAt = d.now()

	d.logger.Info().
		Str("kind", string(record.Kind)).
		Str("name", record.Name).
		Str("external_id", record.ExternalID).
		Strs("changed", changed).
		Msg("updated remote object")
	return &updated, nil
}

// Delete removes the remote object. Deleting an already-absent object is a
// success: the remote end state is what was asked for. The returned record
// has its external id cleared.
func (d *Dispatcher) Delete(ctx context.Context, record *engine.Record) (rec *engine.Record, err error) {
	defer d.observe(record.Kind, engine.OpDelete, d.now(), &err)

	if !record.Present() {
		return record, nil
	}
	if err = d.allow(ctx, engine.OpDelete, record); err != nil {
		return nil, err
	}

	req, err := mapper.BuildDelete(record.Kind, record.ExternalID)
	if err != nil {
		return nil, withContext(err, record.Name, engine.OpDelete)
	}

	if _, err = d.invoker.Invoke(ctx, req.Method, req.Path, nil); err != nil && !engine.IsNotFound(err) {
		return nil, withContext(err, record.Name, engine.OpDelete)
	}

	d.handoffs.Discard(record.ExternalID)

	deleted := *record
	deleted.ExternalID = ""
	deleted.Outputs = nil
	deleted.UpdatedAt = d.now()

	d.logger.Info().
		Str("kind", string(record.Kind)).
		Str("name", record.Name).
		Msg("deleted remote object")
	return &deleted, nil
}

// Reconcile drives one resource instance to its desired inputs: create when
// absent, otherwise plan the transition and execute it. A replace deletes
// first and creates second; if the create half fails the returned record is
// absent, matching the true remote state.
func (d *Dispatcher) Reconcile(ctx context.Context, record *engine.Record, desired engine.Attrs) (*engine.Record, *engine.UploadHandoff, error) {
	if !record.Present() {
		return d.Create(ctx, record.Kind, record.Name, desired)
	}

	plan, err := d.Diff(record.Kind, record.Inputs, desired)
	if err != nil {
		return nil, nil, withContext(err, record.Name, engine.OpDiff)
	}

	switch plan.Action {
	case engine.DiffNoOp:
		return record, nil, nil

	case engine.DiffUpdate:
		updated, err := d.Update(ctx, record, desired, plan.Changed)
		return updated, nil, err

	case engine.DiffReplace:
		deleted, err := d.Delete(ctx, record)
		if err != nil {
			return nil, nil, err
		}
		created, handoff, err := d.Create(ctx, record.Kind, record.Name, desired)
		if err != nil {
			// The old object is gone and the new one does not exist; the
			// absent record is the truthful state to persist.
			return deleted, nil, err
		}
		return created, handoff, nil
	}

	return nil, nil, engine.NewValidationError(
		fmt.Sprintf("unknown diff action %q", plan.Action), nil,
	).WithResource(record.Name)
}

func (d *Dispatcher) allow(ctx context.Context, op engine.Operation, record *engine.Record) error {
	if d.guard == nil {
		return nil
	}
	if err := d.guard.Allow(ctx, op, record); err != nil {
		return withContext(err, record.Name, op)
	}
	return nil
}

func (d *Dispatcher) observe(kind engine.Kind, op engine.Operation, start time.Time, err *error) {
	if d.observer == nil {
		return
	}
	d.observer.ObserveOperation(kind, op, *err, d.now().Sub(start))
}

// withContext stamps the resource name and operation onto classified
// errors so callers see where a failure happened.
func withContext(err error, name string, op engine.Operation) error {
	var pe *engine.ProviderError
	if asProviderError(err, &pe) {
		annotated := *pe
		if annotated.Resource == "" {
			annotated.Resource = name
		}
		if annotated.Operation == "" {
			annotated.Operation = string(op)
		}
		return &annotated
	}
	return err
}

func asProviderError(err error, target **engine.ProviderError) bool {
	for err != nil {
		if pe, ok := err.(*engine.ProviderError); ok {
			*target = pe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
