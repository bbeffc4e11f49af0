package stores

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/trendfire/trendfire/pkg/telemetry"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := Open(context.Background(), MemoryPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func createTestRun(t *testing.T, store *SQLiteStore, id string) *Run {
	t.Helper()
	run := &Run{ID: id, ConfigPath: "trendfire.cue", Project: "goa-fire"}
	if err := store.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	return run
}

func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: MemoryPath})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("health check passed before Init")
	}
	if err := store.Migrate(ctx); err == nil {
		t.Error("migrate succeeded before Init")
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

	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("NewSQLiteStore accepted an empty path")
	}
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"runs", "tasks", "events"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	if err := store.Migrate(ctx); err != nil {
		t.Errorf("second migrate failed: %v", err)
	}
}

func TestFileStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")
	ctx := context.Background()

	store, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := store.CreateRun(ctx, &Run{ID: "run-1", ConfigPath: "trendfire.cue", Project: "goa-fire"}); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	store, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer store.Close()
	if _, err := store.GetRun(ctx, "run-1"); err != nil {
		t.Errorf("run lost after reopen: %v", err)
	}
}

func TestRunCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := createTestRun(t, store, "run-001")
	if run.Status != RunStatusRunning {
		t.Errorf("default status = %s, want running", run.Status)
	}

	retrieved, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if retrieved.ConfigPath != "trendfire.cue" || retrieved.Project != "goa-fire" {
		t.Errorf("retrieved run = %+v", retrieved)
	}
	if !retrieved.StartedAt.Equal(run.StartedAt) {
		t.Errorf("StartedAt = %v, want %v", retrieved.StartedAt, run.StartedAt)
	}
	if retrieved.CompletedAt != nil || retrieved.Error != nil {
		t.Error("new run has completion fields set")
	}

	if err := store.FinishRun(ctx, run.ID, RunStatusRunning, nil); err == nil {
		t.Error("FinishRun accepted a non-terminal status")
	}

	errMsg := "boundary: no features"
	if err := store.FinishRun(ctx, run.ID, RunStatusFailed, &errMsg); err != nil {
		t.Fatalf("failed to finish run: %v", err)
	}

	updated, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get updated run: %v", err)
	}
	if updated.Status != RunStatusFailed {
		t.Errorf("Status = %s, want failed", updated.Status)
	}
	if updated.Error == nil || *updated.Error != errMsg {
		t.Errorf("Error = %v, want %s", updated.Error, errMsg)
	}
	if updated.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}

	createTestRun(t, store, "run-002")
	runs, err := store.ListRuns(ctx, 0, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("ListRuns() returned %d runs, want 2", len(runs))
	}

	if _, err := store.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun(missing) error = %v, want ErrNotFound", err)
	}
	if err := store.FinishRun(ctx, "missing", RunStatusCompleted, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("FinishRun(missing) error = %v, want ErrNotFound", err)
	}
}

func TestTaskCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestRun(t, store, "run-001")
	createTestRun(t, store, "run-002")

	submitted := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	tasks := []*Task{
		{RequestID: "req-1", RunID: "run-001", Product: "landsat", Destination: "asset", Target: "projects/p/assets/Trend2023_landsat", Description: "Landsat_Trends_2023", Operation: "projects/p/operations/A", State: "PENDING", SubmittedAt: submitted},
		{RequestID: "req-2", RunID: "run-001", Product: "landsat", Destination: "drive", Target: "Trend2023_landsat", Description: "Trend2023_landsat", Operation: "projects/p/operations/B", State: "PENDING", SubmittedAt: submitted.Add(time.Second)},
		{RequestID: "req-3", RunID: "run-002", Product: "rain", Destination: "asset", Target: "projects/p/assets/Trend2022_rain_new", Description: "Precipitation_Trend_1982_2022", Operation: "projects/p/operations/C", State: "RUNNING", SubmittedAt: submitted.Add(2 * time.Second)},
	}
	for _, task := range tasks {
		if err := store.CreateTask(ctx, task); err != nil {
			t.Fatalf("failed to create task %s: %v", task.RequestID, err)
		}
	}

	got, err := store.GetTask(ctx, "req-2")
	if err != nil {
		t.Fatalf("failed to get task: %v", err)
	}
	if got.Destination != "drive" || got.Operation != "projects/p/operations/B" || !got.SubmittedAt.Equal(tasks[1].SubmittedAt) {
		t.Errorf("task = %+v", got)
	}

	tests := []struct {
		name   string
		filter TaskFilter
		want   []string
	}{
		{name: "all", filter: TaskFilter{}, want: []string{"req-1", "req-2", "req-3"}},
		{name: "by run", filter: TaskFilter{RunID: "run-001"}, want: []string{"req-1", "req-2"}},
		{name: "by product", filter: TaskFilter{Product: "rain"}, want: []string{"req-3"}},
		{name: "by state", filter: TaskFilter{State: "PENDING"}, want: []string{"req-1", "req-2"}},
		{name: "limit", filter: TaskFilter{Limit: 1}, want: []string{"req-1"}},
		{name: "no match", filter: TaskFilter{RunID: "run-001", Product: "rain"}, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := store.ListTasks(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListTasks() error = %v", err)
			}
			ids := make([]string, 0, len(list))
			for _, task := range list {
				ids = append(ids, task.RequestID)
			}
			if len(ids) != len(tt.want) {
				t.Fatalf("ListTasks() = %v, want %v", ids, tt.want)
			}
			for i := range ids {
				if ids[i] != tt.want[i] {
					t.Errorf("ListTasks() = %v, want %v", ids, tt.want)
					break
				}
			}
		})
	}

	errMsg := "quota exceeded"
	if err := store.UpdateTaskState(ctx, "req-1", "FAILED", &errMsg); err != nil {
		t.Fatalf("failed to update task state: %v", err)
	}
	updated, err := store.GetTask(ctx, "req-1")
	if err != nil {
		t.Fatalf("failed to get task: %v", err)
	}
	if updated.State != "FAILED" || updated.Error == nil || *updated.Error != errMsg {
		t.Errorf("updated task = %+v", updated)
	}

	if err := store.UpdateTaskState(ctx, "missing", "FAILED", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateTaskState(missing) error = %v, want ErrNotFound", err)
	}
	if err := store.CreateTask(ctx, &Task{RequestID: "req-x", RunID: "no-such-run", Product: "rain", Destination: "asset", Target: "t", Description: "d", Operation: "o", State: "PENDING"}); err == nil {
		t.Error("task for an unknown run was accepted")
	}
	if err := store.CreateTask(ctx, tasks[0]); err == nil {
		t.Error("duplicate request id was accepted")
	}
}

func TestEventOperations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	runID := "run-001"
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	events := []*Event{
		{ID: "e1", RunID: &runID, Type: "run.started", Level: EventLevelInfo, Message: "started", Timestamp: base},
		{ID: "e2", RunID: &runID, Type: "policy.violation", Level: EventLevelWarning, Message: "warn", Timestamp: base.Add(time.Second)},
		{ID: "e3", Type: "run.failed", Level: EventLevelError, Message: "failed", Timestamp: base.Add(2 * time.Second)},
	}
	for _, e := range events {
		if err := store.AppendEvent(ctx, e); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
	}

	all, err := store.GetEvents(ctx, nil, nil, 0, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(all) != 3 || all[0].ID != "e1" || all[2].ID != "e3" {
		t.Errorf("events out of order: %+v", all)
	}

	byRun, err := store.GetEvents(ctx, &runID, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to get events by run: %v", err)
	}
	if len(byRun) != 2 {
		t.Errorf("got %d events for run, want 2", len(byRun))
	}

	level := EventLevelError
	byLevel, err := store.GetEvents(ctx, nil, &level, 10, 0)
	if err != nil {
		t.Fatalf("failed to get events by level: %v", err)
	}
	if len(byLevel) != 1 || byLevel[0].RunID != nil {
		t.Errorf("events by level = %+v", byLevel)
	}

	paged, err := store.GetEvents(ctx, nil, nil, 1, 1)
	if err != nil {
		t.Fatalf("failed to page events: %v", err)
	}
	if len(paged) != 1 || paged[0].ID != "e2" {
		t.Errorf("paged events = %+v", paged)
	}
}

func TestEventRecorder(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	publisher, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true, BufferSize: 8})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}
	publisher.Subscribe(NewEventRecorder(store, zerolog.Nop()).Subscriber(), nil)

	if err := publisher.PublishRunStarted("run-001", "trendfire.cue"); err != nil {
		t.Fatalf("PublishRunStarted() error = %v", err)
	}
	if err := publisher.PublishExportSubmitted("run-001", "rain", "asset", "projects/p/assets/rain", "projects/p/operations/A"); err != nil {
		t.Fatalf("PublishExportSubmitted() error = %v", err)
	}
	if err := publisher.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	runID := "run-001"
	events, err := store.GetEvents(ctx, &runID, nil, 0, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Type != telemetry.EventTypeRunStarted || events[1].Type != telemetry.EventTypeExportSubmitted {
		t.Errorf("event types = %s, %s", events[0].Type, events[1].Type)
	}
	if events[1].Details == nil {
		t.Fatal("export event has no details")
	}
	var details map[string]interface{}
	if err := json.Unmarshal([]byte(*events[1].Details), &details); err != nil {
		t.Fatalf("details are not JSON: %v", err)
	}
	if details["product"] != "rain" || details["target"] != "projects/p/assets/rain" {
		t.Errorf("details = %v", details)
	}
}

func TestEventLevelFallback(t *testing.T) {
	tests := map[string]EventLevel{
		"info":    EventLevelInfo,
		"warning": EventLevelWarning,
		"error":   EventLevelError,
		"debug":   EventLevelDebug,
		"loud":    EventLevelInfo,
		"":        EventLevelInfo,
	}
	for in, want := range tests {
		if got := eventLevel(in); got != want {
			t.Errorf("eventLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
