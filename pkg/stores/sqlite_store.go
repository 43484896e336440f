package stores

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

var _ Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens its own database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
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

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// CommitTx commits a transaction
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

const runColumns = `id, source, entries, status, config, fingerprint, error, metadata, started_at, completed_at, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*Run, error) {
	run := &Run{}
	err := row.Scan(
		&run.ID,
		&run.Source,
		&run.Entries,
		&run.Status,
		&run.Config,
		&run.Fingerprint,
		&run.Error,
		&run.Metadata,
		&run.StartedAt,
		&run.CompletedAt,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	return run, err
}

// CreateRun creates a new run record. An empty ID is filled with a UUID.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	now := time.Now().UTC()
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = RunStatusPending
	}
	if run.Entries == "" {
		run.Entries = "[]"
	}
	if run.Metadata == "" {
		run.Metadata = "{}"
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}
	run.StartedAt = run.StartedAt.UTC()
	run.CreatedAt = now
	run.UpdatedAt = now

	query := `INSERT INTO runs (` + runColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Source,
		run.Entries,
		run.Status,
		run.Config,
		run.Fingerprint,
		run.Error,
		run.Metadata,
		run.StartedAt,
		run.CompletedAt,
		run.CreatedAt,
		run.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// CompleteRun stores the outcome of a run. The fingerprint is derived from
// config.
func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, status RunStatus, config *string, errMsg *string) error {
	query := `
		UPDATE runs
		SET status = ?, config = ?, fingerprint = ?, error = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`

	now := time.Now().UTC()
	var completedAt *time.Time
	if status.Terminal() {
		completedAt = &now
	}

	var fingerprint *string
	if config != nil {
		fp := Fingerprint(*config)
		fingerprint = &fp
	}

	result, err := s.db.ExecContext(ctx, query, status, config, fingerprint, errMsg, completedAt, now, id)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}

	return nil
}

// ListRuns lists runs, newest first
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Source != "" {
		where = append(where, "source = ?")
		args = append(args, filter.Source)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY started_at DESC, created_at DESC LIMIT ? OFFSET ?`

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
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

// LatestRun returns the most recent successful run for source.
func (s *SQLiteStore) LatestRun(ctx context.Context, source string) (*Run, error) {
	runs, err := s.ListRuns(ctx, RunFilter{Source: source, Status: RunStatusSucceeded, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("no successful run for %s: %w", source, ErrNotFound)
	}
	return runs[0], nil
}

// DeleteRun deletes a run and, by cascade, its summaries and findings
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}

	return nil
}

// SaveSummaries stores entry summaries in one transaction
func (s *SQLiteStore) SaveSummaries(ctx context.Context, summaries []*EntrySummary) error {
	query := `
		INSERT INTO entry_summaries (
			id, run_id, position, entry, summary,
			added_count, modified_count, typechange_count, fallback_write_count, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to prepare summary insert: %w", err)
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for _, es := range summaries {
			if es.ID == "" {
				es.ID = uuid.NewString()
			}
			es.CreatedAt = now
			_, err := stmt.ExecContext(ctx,
				es.ID,
				es.RunID,
				es.Position,
				es.Entry,
				es.Summary,
				es.AddedCount,
				es.ModifiedCount,
				es.TypeChangeCount,
				es.FallbackWriteCount,
				es.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to save summary for entry %s: %w", es.Entry, err)
			}
		}
		return nil
	})
}

// ListSummaries returns the summaries of a run in evaluation order
func (s *SQLiteStore) ListSummaries(ctx context.Context, runID string) ([]*EntrySummary, error) {
	query := `
		SELECT id, run_id, position, entry, summary,
			added_count, modified_count, typechange_count, fallback_write_count, created_at
		FROM entry_summaries
		WHERE run_id = ?
		ORDER BY position
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list summaries: %w", err)
	}
	defer rows.Close()

	summaries := []*EntrySummary{}
	for rows.Next() {
		es := &EntrySummary{}
		err := rows.Scan(
			&es.ID,
			&es.RunID,
			&es.Position,
			&es.Entry,
			&es.Summary,
			&es.AddedCount,
			&es.ModifiedCount,
			&es.TypeChangeCount,
			&es.FallbackWriteCount,
			&es.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		summaries = append(summaries, es)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating summaries: %w", err)
	}

	return summaries, nil
}

// SaveFindings stores findings in one transaction
func (s *SQLiteStore) SaveFindings(ctx context.Context, findings []*Finding) error {
	query := `
		INSERT INTO findings (run_id, kind, rule, severity, entry, key, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	return s.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		for _, f := range findings {
			f.CreatedAt = now
			result, err := tx.ExecContext(ctx, query,
				f.RunID,
				f.Kind,
				f.Rule,
				f.Severity,
				f.Entry,
				f.Key,
				f.Message,
				f.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to save finding: %w", err)
			}
			if f.ID, err = result.LastInsertId(); err != nil {
				return fmt.Errorf("failed to get finding id: %w", err)
			}
		}
		return nil
	})
}

// ListFindings returns the findings of a run
func (s *SQLiteStore) ListFindings(ctx context.Context, runID string) ([]*Finding, error) {
	query := `
		SELECT id, run_id, kind, rule, severity, entry, key, message, created_at
		FROM findings
		WHERE run_id = ?
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}
	defer rows.Close()

	findings := []*Finding{}
	for rows.Next() {
		f := &Finding{}
		err := rows.Scan(
			&f.ID,
			&f.RunID,
			&f.Kind,
			&f.Rule,
			&f.Severity,
			&f.Entry,
			&f.Key,
			&f.Message,
			&f.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		findings = append(findings, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating findings: %w", err)
	}

	return findings, nil
}

// HealthCheck verifies the database is reachable
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = s.RollbackTx(tx)
		return err
	}

	return s.CommitTx(tx)
}

// Fingerprint returns the hex SHA256 of a serialized configuration.
func Fingerprint(config string) string {
	sum := sha256.Sum256([]byte(config))
	return hex.EncodeToString(sum[:])
}
