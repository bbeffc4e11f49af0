package stores

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a run or task does not exist.
var ErrNotFound = errors.New("not found")

// RunStatus represents the status of a pipeline run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether no further transition is expected.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Run represents one pipeline invocation
type Run struct {
	ID          string     `json:"id" yaml:"id"`
	ConfigPath  string     `json:"config_path" yaml:"config_path"`
	Project     string     `json:"project" yaml:"project"`
	Status      RunStatus  `json:"status" yaml:"status"`
	StartedAt   time.Time  `json:"started_at" yaml:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" yaml:"updated_at"`
}

// Task represents one acknowledged export
type Task struct {
	RequestID   string    `json:"request_id" yaml:"request_id"`
	RunID       string    `json:"run_id" yaml:"run_id"`
	Product     string    `json:"product" yaml:"product"`
	Destination string    `json:"destination" yaml:"destination"`
	Target      string    `json:"target" yaml:"target"`
	Description string    `json:"description" yaml:"description"`
	Operation   string    `json:"operation" yaml:"operation"`
	State       string    `json:"state" yaml:"state"`
	Error       *string   `json:"error,omitempty" yaml:"error,omitempty"`
	SubmittedAt time.Time `json:"submitted_at" yaml:"submitted_at"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"updated_at"`
}

// TaskFilter narrows ListTasks. Zero values match everything.
type TaskFilter struct {
	RunID   string
	Product string
	State   string
	Limit   int
}

// Event represents an append-only log event
type Event struct {
	ID        string     `json:"id"`
	RunID     *string    `json:"run_id,omitempty"`
	Type      string     `json:"type"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Details   *string    `json:"details,omitempty"` // JSON blob
	Timestamp time.Time  `json:"timestamp"`
}

// Store defines the interface for the run ledger
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	FinishRun(ctx context.Context, id string, status RunStatus, errMsg *string) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)

	// Task operations
	CreateTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, requestID string) (*Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error)
	UpdateTaskState(ctx context.Context, requestID, state string, errMsg *string) error

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID *string, level *EventLevel, limit, offset int) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
