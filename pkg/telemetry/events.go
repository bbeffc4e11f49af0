package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one entry of a run's event log.
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	RunID     string                 `json:"run_id,omitempty"`
	Product   string                 `json:"product,omitempty"`
	Target    string                 `json:"target,omitempty"`
	Message   string                 `json:"message"`
	Level     string                 `json:"level"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

const (
	EventTypeRunStarted      = "run.started"
	EventTypeRunCompleted    = "run.completed"
	EventTypeRunFailed       = "run.failed"
	EventTypeStageCompleted  = "stage.completed"
	EventTypeStageFailed     = "stage.failed"
	EventTypeExportSubmitted = "export.submitted"
	EventTypePolicyViolation = "policy.violation"
)

// Levels, lowest first.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

var eventLevels = []string{EventLevelInfo, EventLevelWarning, EventLevelError}

// ErrPublisherClosed is returned by Publish after Shutdown.
var ErrPublisherClosed = errors.New("event publisher closed")

type (
	EventSubscriber func(event Event)
	EventFilter     func(event Event) bool
)

type subscription struct {
	fn     EventSubscriber
	filter EventFilter
}

// EventPublisher fans run events out to subscribers. Subscribers run one
// event at a time in publish order; with EnableAsync they run on a single
// background goroutine fed by a bounded buffer.
type EventPublisher struct {
	config EventsConfig

	mu     sync.RWMutex
	subs   []subscription
	closed bool

	queue chan Event
	done  chan struct{}
}

// NewEventPublisher creates a publisher. A disabled publisher accepts and
// discards every event.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	ep := &EventPublisher{config: cfg}
	if !cfg.Enabled || !cfg.EnableAsync {
		return ep, nil
	}
	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("event buffer size must be positive, got: %d", cfg.BufferSize)
	}
	ep.queue = make(chan Event, cfg.BufferSize)
	ep.done = make(chan struct{})
	go ep.drain()
	return ep, nil
}

// Subscribe registers fn. A nil filter receives every event.
func (ep *EventPublisher) Subscribe(fn EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subs = append(ep.subs, subscription{fn: fn, filter: filter})
}

// Publish stamps event with an id and time and hands it to subscribers.
// An async publisher never blocks: a full buffer drops the event.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if ep.queue == nil {
		ep.deliver(event)
		return nil
	}

	// The read lock keeps Shutdown from closing the queue mid-send.
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	if ep.closed {
		return ErrPublisherClosed
	}
	select {
	case ep.queue <- event:
		return nil
	default:
		return fmt.Errorf("event buffer full, %s dropped", event.Type)
	}
}

func (ep *EventPublisher) drain() {
	defer close(ep.done)
	for event := range ep.queue {
		ep.deliver(event)
	}
}

func (ep *EventPublisher) deliver(event Event) {
	ep.mu.RLock()
	subs := ep.subs
	ep.mu.RUnlock()

	for _, s := range subs {
		if s.filter == nil || s.filter(event) {
			s.fn(event)
		}
	}
}

// Shutdown rejects further events and waits until the buffered ones have
// been delivered or ctx ends.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep.queue == nil {
		return nil
	}

	ep.mu.Lock()
	if !ep.closed {
		ep.closed = true
		close(ep.queue)
	}
	ep.mu.Unlock()

	select {
	case <-ep.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown: %w", ctx.Err())
	}
}

func (ep *EventPublisher) PublishRunStarted(runID, configPath string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunStarted,
		Source:  "pipeline",
		RunID:   runID,
		Level:   EventLevelInfo,
		Message: fmt.Sprintf("Run %s started", runID),
		Data:    map[string]interface{}{"config": configPath},
	})
}

func (ep *EventPublisher) PublishRunCompleted(runID string, tasks int, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeRunCompleted,
		Source:  "pipeline",
		RunID:   runID,
		Level:   EventLevelInfo,
		Message: fmt.Sprintf("Run %s submitted %d export tasks", runID, tasks),
		Data:    map[string]interface{}{"tasks": tasks, "duration": duration.Seconds()},
	})
}

func (ep *EventPublisher) PublishRunFailed(runID, class, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunFailed,
		Source:  "pipeline",
		RunID:   runID,
		Level:   EventLevelError,
		Message: fmt.Sprintf("Run %s failed: %s", runID, reason),
		Data:    map[string]interface{}{"class": class, "reason": reason},
	})
}

// PublishStage reports a finished stage; a non-nil err marks it failed.
func (ep *EventPublisher) PublishStage(runID, stage string, duration time.Duration, err error) error {
	event := Event{
		Type:    EventTypeStageCompleted,
		Source:  stage,
		RunID:   runID,
		Level:   EventLevelInfo,
		Message: fmt.Sprintf("Stage %s completed", stage),
		Data:    map[string]interface{}{"duration": duration.Seconds()},
	}
	if err != nil {
		event.Type = EventTypeStageFailed
		event.Level = EventLevelError
		event.Message = fmt.Sprintf("Stage %s failed: %v", stage, err)
	}
	return ep.Publish(event)
}

func (ep *EventPublisher) PublishExportSubmitted(runID, product, destination, target, operation string) error {
	return ep.Publish(Event{
		Type:    EventTypeExportSubmitted,
		Source:  "export",
		RunID:   runID,
		Product: product,
		Target:  target,
		Level:   EventLevelInfo,
		Message: fmt.Sprintf("Export %s (%s) submitted as %s", target, destination, operation),
		Data:    map[string]interface{}{"destination": destination, "operation": operation},
	})
}

// PublishPolicyViolation reports a denied or flagged export. Error and
// critical severities are logged at error level.
func (ep *EventPublisher) PublishPolicyViolation(runID, target, policyName, severity, reason string) error {
	level := EventLevelWarning
	if severity == "error" || severity == "critical" {
		level = EventLevelError
	}
	return ep.Publish(Event{
		Type:    EventTypePolicyViolation,
		Source:  "policy",
		RunID:   runID,
		Target:  target,
		Level:   level,
		Message: fmt.Sprintf("Policy %s: %s", policyName, reason),
		Data:    map[string]interface{}{"policy": policyName, "severity": severity},
	})
}

func levelRank(level string) int {
	for i, l := range eventLevels {
		if l == level {
			return i
		}
	}
	return 0
}

// FilterByLevel passes events at minLevel or above.
func FilterByLevel(minLevel string) EventFilter {
	min := levelRank(minLevel)
	return func(event Event) bool { return levelRank(event.Level) >= min }
}

func FilterByType(types ...string) EventFilter {
	return func(event Event) bool {
		for _, t := range types {
			if event.Type == t {
				return true
			}
		}
		return false
	}
}

func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool { return event.RunID == runID }
}
