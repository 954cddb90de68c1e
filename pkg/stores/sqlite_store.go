package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/flowforge-io/flowforge/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore persists resource records, reconciliation passes, lifecycle
// events and pending upload handoffs in a local SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: cfg.Path}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Foreign keys are a connection-level setting.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs the embedded schema migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// SaveRecord upserts a resource record. Inputs are serialized through the
// secret-aware JSON encoding, so secret attribute values reach the disk
// only in redacted form.
func (s *SQLiteStore) SaveRecord(ctx context.Context, record *engine.Record) error {
	inputs, err := json.Marshal(record.Inputs)
	if err != nil {
		return fmt.Errorf("failed to encode record inputs: %w", err)
	}
	outputs, err := json.Marshal(record.Outputs)
	if err != nil {
		return fmt.Errorf("failed to encode record outputs: %w", err)
	}
	annotations, err := json.Marshal(record.Annotations)
	if err != nil {
		return fmt.Errorf("failed to encode record annotations: %w", err)
	}

	query := `
		INSERT INTO records (kind, name, external_id, inputs, outputs, annotations, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (kind, name) DO UPDATE SET
			external_id = excluded.external_id,
			inputs = excluded.inputs,
			outputs = excluded.outputs,
			annotations = excluded.annotations,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		string(record.Kind), record.Name, record.ExternalID,
		string(inputs), string(outputs), string(annotations), record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

// GetRecord retrieves one record by kind and name. Secret attribute values
// come back redacted; callers re-supply secrets from configuration.
func (s *SQLiteStore) GetRecord(ctx context.Context, kind engine.Kind, name string) (*engine.Record, error) {
	query := `
		SELECT kind, name, external_id, inputs, outputs, annotations, updated_at
		FROM records
		WHERE kind = ? AND name = ?
	`
	return s.scanRecord(s.db.QueryRowContext(ctx, query, string(kind), name))
}

// ListRecords lists the records of one kind ordered by name. An empty kind
// lists everything.
func (s *SQLiteStore) ListRecords(ctx context.Context, kind engine.Kind) ([]*engine.Record, error) {
	query := `
		SELECT kind, name, external_id, inputs, outputs, annotations, updated_at
		FROM records
		WHERE (? = '' OR kind = ?)
		ORDER BY kind, name
	`

	rows, err := s.db.QueryContext(ctx, query, string(kind), string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	records := []*engine.Record{}
	for rows.Next() {
		record, err := s.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return records, nil
}

// DeleteRecord removes a record. Deleting a missing record is not an error.
func (s *SQLiteStore) DeleteRecord(ctx context.Context, kind engine.Kind, name string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE kind = ? AND name = ?`, string(kind), name)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanRecord(row rowScanner) (*engine.Record, error) {
	var (
		record                       engine.Record
		kind                         string
		inputs, outputs, annotations string
	)
	err := row.Scan(&kind, &record.Name, &record.ExternalID, &inputs, &outputs, &annotations, &record.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}

	record.Kind = engine.Kind(kind)
	if err := json.Unmarshal([]byte(inputs), &record.Inputs); err != nil {
		return nil, fmt.Errorf("failed to decode record inputs: %w", err)
	}
	if err := json.Unmarshal([]byte(outputs), &record.Outputs); err != nil {
		return nil, fmt.Errorf("failed to decode record outputs: %w", err)
	}
	if err := json.Unmarshal([]byte(annotations), &record.Annotations); err != nil {
		return nil, fmt.Errorf("failed to decode record annotations: %w", err)
	}
	return &record, nil
}

// CreatePass creates a reconciliation pass row.
func (s *SQLiteStore) CreatePass(ctx context.Context, pass *Pass) error {
	query := `
		INSERT INTO passes (id, manifest, status, started_at, completed_at, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		pass.ID, pass.Manifest, pass.Status,
		pass.StartedAt, pass.CompletedAt, pass.Error,
		pass.CreatedAt, pass.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create pass: %w", err)
	}
	return nil
}

// GetPass retrieves a pass by ID.
func (s *SQLiteStore) GetPass(ctx context.Context, id string) (*Pass, error) {
	query := `
		SELECT id, manifest, status, started_at, completed_at, error, created_at, updated_at
		FROM passes
		WHERE id = ?
	`
	pass := &Pass{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&pass.ID, &pass.Manifest, &pass.Status,
		&pass.StartedAt, &pass.CompletedAt, &pass.Error,
		&pass.CreatedAt, &pass.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pass: %w", err)
	}
	return pass, nil
}

// UpdatePassStatus advances a pass to the given status. Terminal statuses
// also record the completion time.
func (s *SQLiteStore) UpdatePassStatus(ctx context.Context, id string, status PassStatus, errMsg *string) error {
	var completedAt *time.Time
	if status == PassStatusCompleted || status == PassStatusFailed || status == PassStatusCancelled {
		now := time.Now()
		completedAt = &now
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE passes
		SET status = ?, error = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`, status, errMsg, completedAt, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update pass status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPasses lists passes newest-first with pagination.
func (s *SQLiteStore) ListPasses(ctx context.Context, limit, offset int) ([]*Pass, error) {
	query := `
		SELECT id, manifest, status, started_at, completed_at, error, created_at, updated_at
		FROM passes
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list passes: %w", err)
	}
	defer rows.Close()

	passes := []*Pass{}
	for rows.Next() {
		pass := &Pass{}
		err := rows.Scan(
			&pass.ID, &pass.Manifest, &pass.Status,
			&pass.StartedAt, &pass.CompletedAt, &pass.Error,
			&pass.CreatedAt, &pass.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pass: %w", err)
		}
		passes = append(passes, pass)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate passes: %w", err)
	}
	return passes, nil
}

// AppendEvent records one lifecycle step of a pass.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO events (pass_id, kind, name, operation, action, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, event.PassID, event.Kind, event.Name, event.Operation, event.Action, event.Error, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		event.ID = id
	}
	return nil
}

// ListEvents lists the events of a pass in insertion order.
func (s *SQLiteStore) ListEvents(ctx context.Context, passID string) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pass_id, kind, name, operation, action, error, created_at
		FROM events
		WHERE pass_id = ?
		ORDER BY id
	`, passID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID, &event.PassID, &event.Kind, &event.Name,
			&event.Operation, &event.Action, &event.Error, &event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}

// SaveHandoff upserts a pending upload handoff.
func (s *SQLiteStore) SaveHandoff(ctx context.Context, h engine.UploadHandoff) error {
	params, err := json.Marshal(h.UploadParameters)
	if err != nil {
		return fmt.Errorf("failed to encode handoff parameters: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO handoffs (external_id, upload_url, parameters, issued_at, completed_at)
		VALUES (?, ?, ?, ?, NULL)
		ON CONFLICT (external_id) DO UPDATE SET
			upload_url = excluded.upload_url,
			parameters = excluded.parameters,
			issued_at = excluded.issued_at,
			completed_at = NULL
	`, h.ExternalID, h.UploadURL, string(params), h.IssuedAt)
	if err != nil {
		return fmt.Errorf("failed to save handoff: %w", err)
	}
	return nil
}

// CompleteHandoff marks a handoff as transferred.
func (s *SQLiteStore) CompleteHandoff(ctx context.Context, externalID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE handoffs SET completed_at = ? WHERE external_id = ? AND completed_at IS NULL
	`, time.Now(), externalID)
	if err != nil {
		return fmt.Errorf("failed to complete handoff: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteHandoff drops a handoff, used when the asset itself is deleted.
func (s *SQLiteStore) DeleteHandoff(ctx context.Context, externalID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM handoffs WHERE external_id = ?`, externalID)
	if err != nil {
		return fmt.Errorf("failed to delete handoff: %w", err)
	}
	return nil
}

// ListPendingHandoffs lists the handoffs still awaiting their transfer,
// oldest first.
func (s *SQLiteStore) ListPendingHandoffs(ctx context.Context) ([]engine.UploadHandoff, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT external_id, upload_url, parameters, issued_at
		FROM handoffs
		WHERE completed_at IS NULL
		ORDER BY issued_at, external_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list handoffs: %w", err)
	}
	defer rows.Close()

	handoffs := []engine.UploadHandoff{}
	for rows.Next() {
		var (
			h      engine.UploadHandoff
			params string
		)
		if err := rows.Scan(&h.ExternalID, &h.UploadURL, &params, &h.IssuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan handoff: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &h.UploadParameters); err != nil {
			return nil, fmt.Errorf("failed to decode handoff parameters: %w", err)
		}
		handoffs = append(handoffs, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate handoffs: %w", err)
	}
	return handoffs, nil
}
