package stores

import (
	"context"
	"time"

	"github.com/ftschopp/pve-scripts/pkg/engine"
)

// RunStatusRunning marks a run whose outcome has not been saved, either
// because it is in progress or because the process was interrupted.
const RunStatusRunning = "running"

// Run represents a recorded start or stop run.
type Run struct {
	ID          string     `json:"id"`
	Operation   string     `json:"operation"`
	PlanPath    string     `json:"plan_path"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMs  int64      `json:"duration_ms"`
	Error       *string    `json:"error,omitempty"`
	Metadata    string     `json:"metadata"` // JSON blob: summary and phase timings
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// RunMetadata is the decoded form of Run.Metadata.
type RunMetadata struct {
	Summary engine.Summary       `json:"summary"`
	Phases  []engine.PhaseTiming `json:"phases,omitempty"`
}

// ResourceResult is one row of a run's per-resource outcome.
type ResourceResult struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	Seq        int       `json:"seq"`
	Kind       string    `json:"kind"`
	ResourceID string    `json:"resource_id"`
	Name       string    `json:"name"`
	Phase      string    `json:"phase"`
	Result     string    `json:"result"`
	Reason     string    `json:"reason,omitempty"`
	Code       string    `json:"code,omitempty"`
	Error      *string   `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
}

// Event represents an append-only timeline event.
type Event struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Type      string    `json:"type"`
	Level     string    `json:"level"`
	Phase     string    `json:"phase,omitempty"`
	Resource  string    `json:"resource,omitempty"`
	Message   string    `json:"message"`
	Details   *string   `json:"details,omitempty"` // JSON blob
	Timestamp time.Time `json:"timestamp"`
	Seq       int64     `json:"seq"`
}

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	Operation string
	Status    string
	Limit     int
	Offset    int
}

// Store defines the interface for the run history.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Publish records an engine event. It implements engine.EventSink.
	Publish(ctx context.Context, event engine.Event) error

	// Run operations
	SaveOutcome(ctx context.Context, planPath string, outcome *engine.Outcome) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
	DeleteRunsBefore(ctx context.Context, before time.Time) (int64, error)

	// Result and event operations
	ListResourceResults(ctx context.Context, runID string) ([]*ResourceResult, error)
	GetEvents(ctx context.Context, runID string, limit, offset int) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
