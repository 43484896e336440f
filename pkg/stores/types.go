package stores

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// RunStatus represents the status of an evaluation run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusRejected  RunStatus = "rejected" // evaluated, but a schema or policy check refused it
)

// Terminal reports whether no further transition is expected.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusRejected
}

// FindingKind distinguishes the check that produced a finding
type FindingKind string

const (
	FindingKindPolicy FindingKind = "policy"
	FindingKindSchema FindingKind = "schema"
)

// Run represents one chain evaluation
type Run struct {
	ID          string     `json:"id"`
	Source      string     `json:"source"`
	Entries     string     `json:"entries"` // JSON array of entry names
	Status      RunStatus  `json:"status"`
	Config      *string    `json:"config,omitempty"`      // JSON blob
	Fingerprint *string    `json:"fingerprint,omitempty"` // SHA256 of Config
	Error       *string    `json:"error,omitempty"`
	Metadata    string     `json:"metadata"` // JSON blob
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// EntrySummary is the persisted summary of one entry of a run
type EntrySummary struct {
	ID                 string    `json:"id"`
	RunID              string    `json:"run_id"`
	Position           int       `json:"position"`
	Entry              string    `json:"entry"`
	Summary            string    `json:"summary"` // JSON blob
	AddedCount         int       `json:"added_count"`
	ModifiedCount      int       `json:"modified_count"`
	TypeChangeCount    int       `json:"typechange_count"`
	FallbackWriteCount int       `json:"fallback_write_count"`
	CreatedAt          time.Time `json:"created_at"`
}

// Finding is a schema violation or policy violation recorded for a run
type Finding struct {
	ID        int64       `json:"id"`
	RunID     string      `json:"run_id"`
	Kind      FindingKind `json:"kind"`
	Rule      string      `json:"rule"` // policy name or schema name
	Severity  string      `json:"severity"`
	Entry     *string     `json:"entry,omitempty"`
	Key       *string     `json:"key,omitempty"`
	Message   string      `json:"message"`
	CreatedAt time.Time   `json:"created_at"`
}

// RunFilter narrows ListRuns
type RunFilter struct {
	Source string
	Status RunStatus
	Limit  int
	Offset int
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	CompleteRun(ctx context.Context, id string, status RunStatus, config *string, errMsg *string) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
	LatestRun(ctx context.Context, source string) (*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Entry summaries
	SaveSummaries(ctx context.Context, summaries []*EntrySummary) error
	ListSummaries(ctx context.Context, runID string) ([]*EntrySummary, error)

	// Findings
	SaveFindings(ctx context.Context, findings []*Finding) error
	ListFindings(ctx context.Context, runID string) ([]*Finding, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
