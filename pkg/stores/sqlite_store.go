package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"

	"github.com/ftschopp/pve-scripts/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("run not found")

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	config Config
	logger zerolog.Logger
	now    func() time.Time
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Logger          zerolog.Logger
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: is a separate database.
	if cfg.Path == MemoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		config: cfg,
		logger: cfg.Logger.With().Str("component", "stores").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Init opens the database with WAL journaling and a busy timeout.
func (s *SQLiteStore) Init(ctx context.Context) error {
	if s.config.Path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(s.config.Path), 0o750); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := s.config.Path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if s.config.Path != MemoryPath {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.config.MaxOpenConns)
	db.SetMaxIdleConns(s.config.MaxIdleConns)
	db.SetConnMaxLifetime(s.config.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	s.logger.Debug().Str("path", s.config.Path).Msg("history database opened")
	return nil
}

// Close closes the database connection
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

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Open creates, initializes and migrates a store in one call.
func Open(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	store, err := NewSQLiteStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Publish appends an engine event to the timeline. A run_started event
// also creates the run row so interrupted runs remain visible.
func (s *SQLiteStore) Publish(ctx context.Context, event engine.Event) error {
	if event.Type == engine.EventRunStarted {
		planPath, _ := event.Details["plan"].(string)
		query := `
			INSERT OR IGNORE INTO runs (id, operation, plan_path, status, started_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`
		now := s.now()
		if _, err := s.db.ExecContext(ctx, query,
			event.RunID,
			string(event.Operation),
			planPath,
			RunStatusRunning,
			event.Timestamp.UTC(),
			now,
			now,
		); err != nil {
			return fmt.Errorf("failed to create run: %w", err)
		}
	}

	var details *string
	if len(event.Details) > 0 {
		data, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("failed to encode event details: %w", err)
		}
		str := string(data)
		details = &str
	}

	query := `
		INSERT INTO events (id, run_id, type, level, phase, resource, message, details, timestamp, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM events WHERE run_id = ?))
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.RunID,
		string(event.Type),
		event.Level,
		string(event.Phase),
		event.Resource,
		event.Message,
		details,
		event.Timestamp.UTC(),
		event.RunID,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

// SaveOutcome stores the final state of a run and its resource results,
// replacing anything previously recorded for the same run.
func (s *SQLiteStore) SaveOutcome(ctx context.Context, planPath string, outcome *engine.Outcome) error {
	if outcome == nil {
		return fmt.Errorf("outcome is required")
	}

	metadata, err := json.Marshal(RunMetadata{Summary: outcome.Summary(), Phases: outcome.Phases})
	if err != nil {
		return fmt.Errorf("failed to encode run metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()
	completed := outcome.CompletedAt.UTC()
	query := `
		INSERT INTO runs (id, operation, plan_path, status, started_at, completed_at, duration_ms, error, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			plan_path = excluded.plan_path,
			status = excluded.status,
			completed_at = excluded.completed_at,
			duration_ms = excluded.duration_ms,
			error = excluded.error,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`
	if _, err := tx.ExecContext(ctx, query,
		outcome.RunID,
		string(outcome.Operation),
		planPath,
		string(outcome.Status),
		outcome.StartedAt.UTC(),
		completed,
		outcome.Duration.Milliseconds(),
		nullString(outcome.Error),
		string(metadata),
		now,
		now,
	); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM resource_results WHERE run_id = ?`, outcome.RunID); err != nil {
		return fmt.Errorf("failed to clear resource results: %w", err)
	}

	insert := `
		INSERT INTO resource_results (run_id, seq, kind, resource_id, name, phase, result, reason, code, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for i, r := range outcome.Resources {
		if _, err := tx.ExecContext(ctx, insert,
			outcome.RunID,
			i+1,
			string(r.Kind),
			r.ID,
			r.Name,
			string(r.Phase),
			string(r.Result),
			r.Reason,
			string(r.Code),
			nullString(r.Error),
			r.StartedAt.UTC(),
			r.Duration.Milliseconds(),
		); err != nil {
			return fmt.Errorf("failed to save result for %s: %w", r.ResourceRef, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}

	s.logger.Debug().
		Str("run_id", outcome.RunID).
		Int("resources", len(outcome.Resources)).
		Msg("run outcome saved")
	return nil
}

const runColumns = `id, operation, plan_path, status, started_at, completed_at, duration_ms, error, metadata, created_at, updated_at`

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns retrieves runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}

	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE (? = '' OR operation = ?)
		  AND (? = '' OR status = ?)
		ORDER BY started_at DESC, id
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query,
		filter.Operation, filter.Operation,
		filter.Status, filter.Status,
		limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// DeleteRunsBefore removes runs started before the given time along with
// their results and events.
func (s *SQLiteStore) DeleteRunsBefore(ctx context.Context, before time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cutoff := before.UTC()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM events WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)`, cutoff); err != nil {
		return 0, fmt.Errorf("failed to delete events: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete runs: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit deletion: %w", err)
	}
	return deleted, nil
}

// ListResourceResults returns a run's results in processing order.
func (s *SQLiteStore) ListResourceResults(ctx context.Context, runID string) ([]*ResourceResult, error) {
	query := `
		SELECT id, run_id, seq, kind, resource_id, name, phase, result, reason, code, error, started_at, duration_ms
		FROM resource_results
		WHERE run_id = ?
		ORDER BY seq
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list resource results: %w", err)
	}
	defer rows.Close()

	results := []*ResourceResult{}
	for rows.Next() {
		r := &ResourceResult{}
		err := rows.Scan(
			&r.ID,
			&r.RunID,
			&r.Seq,
			&r.Kind,
			&r.ResourceID,
			&r.Name,
			&r.Phase,
			&r.Result,
			&r.Reason,
			&r.Code,
			&r.Error,
			&r.StartedAt,
			&r.DurationMs,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource result: %w", err)
		}
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resource results: %w", err)
	}

	return results, nil
}

// GetEvents retrieves a run's events in publication order.
func (s *SQLiteStore) GetEvents(ctx context.Context, runID string, limit, offset int) ([]*Event, error) {
	if limit <= 0 {
		limit = -1
	}

	query := `
		SELECT id, run_id, type, level, phase, resource, message, details, timestamp, seq
		FROM events
		WHERE run_id = ?
		ORDER BY seq
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.RunID,
			&event.Type,
			&event.Level,
			&event.Phase,
			&event.Resource,
			&event.Message,
			&event.Details,
			&event.Timestamp,
			&event.Seq,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// HealthCheck verifies the database is reachable.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// DecodeMetadata decodes the run's metadata blob.
func (r *Run) DecodeMetadata() (RunMetadata, error) {
	var md RunMetadata
	if r.Metadata == "" {
		return md, nil
	}
	if err := json.Unmarshal([]byte(r.Metadata), &md); err != nil {
		return md, fmt.Errorf("failed to decode run metadata: %w", err)
	}
	return md, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	err := row.Scan(
		&run.ID,
		&run.Operation,
		&run.PlanPath,
		&run.Status,
		&run.StartedAt,
		&run.CompletedAt,
		&run.DurationMs,
		&run.Error,
		&run.Metadata,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ Store = (*SQLiteStore)(nil)
