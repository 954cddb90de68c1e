package stores

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/flowforge-io/flowforge/pkg/engine"
	"github.com/flowforge-io/flowforge/pkg/secret"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{Path: filepath.Join(t.TempDir(), "state.db")})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return store
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected an error for an empty path")
	}
}

func TestRecordRoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	record := &engine.Record{
		Kind:       engine.KindSite,
		Name:       "main-site",
		ExternalID: "s1",
		Inputs: engine.Attrs{
			"display_name": "Marketing Site",
			"time_zone":    "Europe/Berlin",
		},
		Outputs:     engine.Attrs{"id": "s1", "short_name": "marketing-site"},
		Annotations: map[string]string{"flowforge.io/protected": "true"},
		UpdatedAt:   time.Now().UTC().Truncate(time.Second),
	}
	if err := store.SaveRecord(ctx, record); err != nil {
		t.Fatalf("SaveRecord: %v", err)
	}

	loaded, err := store.GetRecord(ctx, engine.KindSite, "main-site")
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if loaded.ExternalID != "s1" || loaded.Inputs["display_name"] != "Marketing Site" {
		t.Fatalf("loaded = %+v", loaded)
	}
	if loaded.Outputs["short_name"] != "marketing-site" {
		t.Fatalf("outputs = %v", loaded.Outputs)
	}
	if loaded.Annotations["flowforge.io/protected"] != "true" {
		t.Fatalf("annotations = %v", loaded.Annotations)
	}
}

func TestSaveRecordUpserts(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	record := &engine.Record{
		Kind: engine.KindWebhook, Name: "publish-hook", ExternalID: "w1",
		Inputs: engine.Attrs{"url": "https://example.com/hook"}, UpdatedAt: time.Now(),
	}
	if err := store.SaveRecord(ctx, record); err != nil {
		t.Fatalf("SaveRecord: %v", err)
	}

	record.ExternalID = "w2"
	if err := store.SaveRecord(ctx, record); err != nil {
		t.Fatalf("SaveRecord upsert: %v", err)
	}

	loaded, err := store.GetRecord(ctx, engine.KindWebhook, "publish-hook")
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if loaded.ExternalID != "w2" {
		t.Fatalf("upsert did not replace: %+v", loaded)
	}
}

func TestSecretsNeverReachDisk(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	record := &engine.Record{
		Kind: engine.KindSite, Name: "main-site", ExternalID: "s1",
		Inputs: engine.Attrs{
			"workspace_id": secret.New("super-secret-workspace"),
			"display_name": "Marketing Site",
		},
		UpdatedAt: time.Now(),
	}
	if err := store.SaveRecord(ctx, record); err != nil {
		t.Fatalf("SaveRecord: %v", err)
	}

	var inputs string
	err := store.db.QueryRowContext(ctx,
		`SELECT inputs FROM records WHERE kind = ? AND name = ?`,
		string(engine.KindSite), "main-site").Scan(&inputs)
	if err != nil {
		t.Fatalf("raw read: %v", err)
	}
	if strings.Contains(inputs, "super-secret-workspace") {
		t.Fatalf("secret persisted in plaintext: %s", inputs)
	}
	if !strings.Contains(inputs, secret.Redacted) {
		t.Fatalf("secret attribute missing its redacted placeholder: %s", inputs)
	}
}

func TestGetRecordNotFound(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	_, err := store.GetRecord(context.Background(), engine.KindSite, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListAndDeleteRecords(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b"} {
		record := &engine.Record{
			Kind: engine.KindRedirect, Name: name,
			Inputs: engine.Attrs{}, UpdatedAt: time.Now(),
		}
		if err := store.SaveRecord(ctx, record); err != nil {
			t.Fatalf("SaveRecord: %v", err)
		}
	}

	records, err := store.ListRecords(ctx, engine.KindRedirect)
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(records) != 2 || records[0].Name != "a" || records[1].Name != "b" {
		t.Fatalf("records = %+v", records)
	}

	if err := store.DeleteRecord(ctx, engine.KindRedirect, "a"); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}
	if err := store.DeleteRecord(ctx, engine.KindRedirect, "a"); err != nil {
		t.Fatalf("deleting a missing record must succeed: %v", err)
	}

	all, err := store.ListRecords(ctx, "")
	if err != nil {
		t.Fatalf("ListRecords all: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("all = %+v", all)
	}
}

func TestPassLifecycle(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	pass := &Pass{
		ID:        uuid.New().String(),
		Manifest:  "site.cue",
		Status:    PassStatusRunning,
		StartedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.CreatePass(ctx, pass); err != nil {
		t.Fatalf("CreatePass: %v", err)
	}

	if err := store.AppendEvent(ctx, &Event{
		PassID: pass.ID, Kind: "site", Name: "main-site",
		Operation: "create", Action: "replace", CreatedAt: now,
	}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	if err := store.UpdatePassStatus(ctx, pass.ID, PassStatusCompleted, nil); err != nil {
		t.Fatalf("UpdatePassStatus: %v", err)
	}

	loaded, err := store.GetPass(ctx, pass.ID)
	if err != nil {
		t.Fatalf("GetPass: %v", err)
	}
	if loaded.Status != PassStatusCompleted || loaded.CompletedAt == nil {
		t.Fatalf("pass = %+v", loaded)
	}

	events, err := store.ListEvents(ctx, pass.ID)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 || events[0].Operation != "create" {
		t.Fatalf("events = %+v", events)
	}

	passes, err := store.ListPasses(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListPasses: %v", err)
	}
	if len(passes) != 1 {
		t.Fatalf("passes = %+v", passes)
	}

	if err := store.UpdatePassStatus(ctx, "missing", PassStatusFailed, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHandoffLifecycle(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	h := engine.UploadHandoff{
		ExternalID:       "a1",
		UploadURL:        "https://uploads.example.com/a1",
		UploadParameters: map[string]string{"key": "assets/a1"},
		IssuedAt:         time.Now().UTC().Truncate(time.Second),
	}
	if err := store.SaveHandoff(ctx, h); err != nil {
		t.Fatalf("SaveHandoff: %v", err)
	}

	pending, err := store.ListPendingHandoffs(ctx)
	if err != nil {
		t.Fatalf("ListPendingHandoffs: %v", err)
	}
	if len(pending) != 1 || pending[0].UploadParameters["key"] != "assets/a1" {
		t.Fatalf("pending = %+v", pending)
	}

	if err := store.CompleteHandoff(ctx, "a1"); err != nil {
		t.Fatalf("CompleteHandoff: %v", err)
	}
	if err := store.CompleteHandoff(ctx, "a1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("completing twice must report ErrNotFound, got %v", err)
	}

	pending, err = store.ListPendingHandoffs(ctx)
	if err != nil {
		t.Fatalf("ListPendingHandoffs: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending after complete = %+v", pending)
	}

	if err := store.DeleteHandoff(ctx, "a1"); err != nil {
		t.Fatalf("DeleteHandoff: %v", err)
	}
}
