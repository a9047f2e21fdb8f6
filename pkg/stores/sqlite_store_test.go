package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ftschopp/pve-scripts/pkg/adapters"
	"github.com/ftschopp/pve-scripts/pkg/engine"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := Open(context.Background(), Config{Path: MemoryPath})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

var baseTime = time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)

func startedEvent(runID string, op engine.Operation, at time.Time) engine.Event {
	return engine.Event{
		ID:        runID + "-started",
		RunID:     runID,
		Type:      engine.EventRunStarted,
		Level:     engine.LevelInfo,
		Operation: op,
		Message:   string(op) + " run started",
		Timestamp: at,
		Details:   map[string]interface{}{"plan": "/etc/pvestack/plan.yaml"},
	}
}

func sampleOutcome(runID string, at time.Time) *engine.Outcome {
	return &engine.Outcome{
		RunID:       runID,
		Operation:   engine.OperationStart,
		Status:      engine.RunStatusPartialSuccess,
		StartedAt:   at,
		CompletedAt: at.Add(42 * time.Second),
		Duration:    42 * time.Second,
		Resources: []engine.ResourceResult{
			{
				ResourceRef: engine.ResourceRef{Kind: adapters.KindVM, ID: "100", Name: "truenas"},
				Phase:       engine.PhaseVM,
				Result:      engine.ResultStarted,
				StartedAt:   at,
				Duration:    30 * time.Second,
			},
			{
				ResourceRef: engine.ResourceRef{Kind: adapters.KindMount, ID: "/mnt/media", Name: "10.0.0.10:/tank/media"},
				Phase:       engine.PhaseMounts,
				Result:      engine.ResultFailed,
				Code:        engine.CodeMountFailed,
				Error:       "[MOUNT_FAILED] mount failed",
				StartedAt:   at.Add(30 * time.Second),
				Duration:    2 * time.Second,
			},
			{
				ResourceRef: engine.ResourceRef{Kind: adapters.KindContainer, ID: "101", Name: "jellyfin"},
				Phase:       engine.PhaseContainers,
				Result:      engine.ResultSkipped,
				Reason:      engine.ReasonUnmetDependency,
				Code:        engine.CodeDependencyUnmet,
				StartedAt:   at.Add(32 * time.Second),
			},
		},
		Phases: []engine.PhaseTiming{
			{Phase: engine.PhaseVM, StartedAt: at, Duration: 30 * time.Second},
		},
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: MemoryPath})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("expected health check to fail before Init")
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("expected error for empty path")
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"runs", "resource_results", "events"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// Running migrations twice is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Errorf("second migration failed: %v", err)
	}
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	ctx := context.Background()

	store, err := Open(ctx, Config{Path: path})
	if err != nil {
		t.Fatalf("failed to open file store: %v", err)
	}
	if err := store.SaveOutcome(ctx, "plan.yaml", sampleOutcome("run-file", baseTime)); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(ctx, Config{Path: path})
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()

	if _, err := reopened.GetRun(ctx, "run-file"); err != nil {
		t.Errorf("run should survive reopening: %v", err)
	}
}

func TestPublishCreatesRunningRun(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.Publish(ctx, startedEvent("run-1", engine.OperationStart, baseTime)); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}

	run, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if run.Status != RunStatusRunning {
		t.Errorf("expected running, got %s", run.Status)
	}
	if run.PlanPath != "/etc/pvestack/plan.yaml" {
		t.Errorf("unexpected plan path %q", run.PlanPath)
	}
	if run.CompletedAt != nil {
		t.Error("running run should have no completion time")
	}
	if !run.StartedAt.Equal(baseTime) {
		t.Errorf("expected start %v, got %v", baseTime, run.StartedAt)
	}
}

func TestSaveOutcome(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.Publish(ctx, startedEvent("run-1", engine.OperationStart, baseTime)); err != nil {
		t.Fatal(err)
	}
	outcome := sampleOutcome("run-1", baseTime)
	if err := store.SaveOutcome(ctx, "/etc/pvestack/plan.yaml", outcome); err != nil {
		t.Fatalf("failed to save outcome: %v", err)
	}

	run, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != string(engine.RunStatusPartialSuccess) {
		t.Errorf("expected partial_success, got %s", run.Status)
	}
	if run.DurationMs != 42000 {
		t.Errorf("expected 42000ms, got %d", run.DurationMs)
	}
	if run.CompletedAt == nil || !run.CompletedAt.Equal(baseTime.Add(42*time.Second)) {
		t.Errorf("unexpected completion time %v", run.CompletedAt)
	}
	if run.Error != nil {
		t.Errorf("expected no run error, got %q", *run.Error)
	}

	md, err := run.DecodeMetadata()
	if err != nil {
		t.Fatal(err)
	}
	if md.Summary.Total != 3 || md.Summary.Failed != 1 || md.Summary.Skipped != 1 {
		t.Errorf("unexpected summary %+v", md.Summary)
	}
	if len(md.Phases) != 1 || md.Phases[0].Phase != engine.PhaseVM {
		t.Errorf("unexpected phases %+v", md.Phases)
	}

	results, err := store.ListResourceResults(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	wantOrder := []string{"100", "/mnt/media", "101"}
	for i, r := range results {
		if r.ResourceID != wantOrder[i] || r.Seq != i+1 {
			t.Errorf("result %d: got %s seq %d", i, r.ResourceID, r.Seq)
		}
	}
	if results[1].Code != string(engine.CodeMountFailed) || results[1].Error == nil {
		t.Errorf("expected mount failure details, got %+v", results[1])
	}
	if results[2].Reason != engine.ReasonUnmetDependency || results[2].Error != nil {
		t.Errorf("unexpected skip row %+v", results[2])
	}

	// Saving again replaces the results instead of duplicating them.
	if err := store.SaveOutcome(ctx, "/etc/pvestack/plan.yaml", outcome); err != nil {
		t.Fatal(err)
	}
	results, err = store.ListResourceResults(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Errorf("expected 3 results after resave, got %d", len(results))
	}
}

func TestSaveOutcomeWithoutStartEvent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	outcome := sampleOutcome("run-2", baseTime)
	outcome.Status = engine.RunStatusFailed
	outcome.Error = "[READINESS_TIMEOUT] vm did not report running"
	if err := store.SaveOutcome(ctx, "plan.cue", outcome); err != nil {
		t.Fatal(err)
	}

	run, err := store.GetRun(ctx, "run-2")
	if err != nil {
		t.Fatal(err)
	}
	if run.Error == nil || *run.Error != outcome.Error {
		t.Errorf("expected run error to be stored, got %v", run.Error)
	}
	if run.Operation != "start" || run.PlanPath != "plan.cue" {
		t.Errorf("unexpected run %+v", run)
	}

	if err := store.SaveOutcome(ctx, "plan.cue", nil); err == nil {
		t.Error("expected error for nil outcome")
	}
}

func TestGetRunNotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetRun(context.Background(), "missing")
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestEventsOrdered(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	events := []engine.Event{
		startedEvent("run-1", engine.OperationStop, baseTime),
		{ID: "e2", RunID: "run-1", Type: engine.EventPhaseStarted, Level: engine.LevelInfo, Phase: engine.PhaseContainers, Message: "containers phase started", Timestamp: baseTime},
		{ID: "e3", RunID: "run-1", Type: engine.EventResourceResult, Level: engine.LevelError, Phase: engine.PhaseContainers, Resource: "container 101", Message: "container 101 failed", Timestamp: baseTime, Details: map[string]interface{}{"code": "ADAPTER_COMMAND_FAILED"}},
		{ID: "e4", RunID: "run-1", Type: engine.EventRunCompleted, Level: engine.LevelWarn, Message: "stop run completed", Timestamp: baseTime},
		{ID: "other", RunID: "run-2", Type: engine.EventPhaseStarted, Level: engine.LevelInfo, Message: "unrelated", Timestamp: baseTime},
	}
	for _, e := range events {
		if err := store.Publish(ctx, e); err != nil {
			t.Fatalf("failed to publish %s: %v", e.ID, err)
		}
	}

	got, err := store.GetEvents(ctx, "run-1", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 events, got %d", len(got))
	}
	for i, e := range got {
		if e.ID != events[i].ID || e.Seq != int64(i+1) {
			t.Errorf("event %d: got %s seq %d", i, e.ID, e.Seq)
		}
	}
	if got[2].Details == nil || *got[2].Details != `{"code":"ADAPTER_COMMAND_FAILED"}` {
		t.Errorf("unexpected details %v", got[2].Details)
	}
	if got[1].Details != nil {
		t.Error("events without details should store NULL")
	}

	page, err := store.GetEvents(ctx, "run-1", 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].ID != "e2" {
		t.Errorf("unexpected page %v", page)
	}
}

func TestListRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i, op := range []engine.Operation{engine.OperationStart, engine.OperationStop, engine.OperationStart} {
		o := sampleOutcome(string(rune('a'+i)), baseTime.Add(time.Duration(i)*time.Hour))
		o.Operation = op
		if op == engine.OperationStop {
			o.Status = engine.RunStatusSuccess
		}
		if err := store.SaveOutcome(ctx, "plan.yaml", o); err != nil {
			t.Fatal(err)
		}
	}

	all, err := store.ListRuns(ctx, RunFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != "c" || all[2].ID != "a" {
		t.Errorf("expected newest first, got %v", runIDs(all))
	}

	starts, err := store.ListRuns(ctx, RunFilter{Operation: "start"})
	if err != nil {
		t.Fatal(err)
	}
	if len(starts) != 2 {
		t.Errorf("expected 2 start runs, got %v", runIDs(starts))
	}

	ok, err := store.ListRuns(ctx, RunFilter{Status: "success"})
	if err != nil {
		t.Fatal(err)
	}
	if len(ok) != 1 || ok[0].ID != "b" {
		t.Errorf("expected run b, got %v", runIDs(ok))
	}

	limited, err := store.ListRuns(ctx, RunFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].ID != "b" {
		t.Errorf("expected run b, got %v", runIDs(limited))
	}
}

func TestDeleteRunsBefore(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	old := baseTime.Add(-48 * time.Hour)
	if err := store.Publish(ctx, startedEvent("old", engine.OperationStart, old)); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveOutcome(ctx, "plan.yaml", sampleOutcome("old", old)); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveOutcome(ctx, "plan.yaml", sampleOutcome("new", baseTime)); err != nil {
		t.Fatal(err)
	}

	deleted, err := store.DeleteRunsBefore(ctx, baseTime.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted run, got %d", deleted)
	}

	if _, err := store.GetRun(ctx, "old"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("old run should be gone, got %v", err)
	}
	results, err := store.ListResourceResults(ctx, "old")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("results should cascade, got %d", len(results))
	}
	events, err := store.GetEvents(ctx, "old", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("events should be removed, got %d", len(events))
	}
	if _, err := store.GetRun(ctx, "new"); err != nil {
		t.Errorf("new run should remain: %v", err)
	}
}

func runIDs(runs []*Run) []string {
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.ID
	}
	return ids
}
