package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/trendfire/trendfire/pkg/telemetry"
)

// EventRecorder persists telemetry events to the ledger.
type EventRecorder struct {
	store   Store
	logger  zerolog.Logger
	timeout time.Duration
}

// NewEventRecorder creates a recorder writing to store.
func NewEventRecorder(store Store, logger zerolog.Logger) *EventRecorder {
	return &EventRecorder{store: store, logger: logger, timeout: 5 * time.Second}
}

// Subscriber returns the function to register with an EventPublisher.
// Write failures are logged and never stop the run.
func (r *EventRecorder) Subscriber() telemetry.EventSubscriber {
	return func(event telemetry.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		if err := r.store.AppendEvent(ctx, FromTelemetryEvent(event)); err != nil {
			r.logger.Warn().Err(err).Str("event_type", event.Type).Msg("Failed to persist event")
		}
	}
}

// FromTelemetryEvent converts a published event into a ledger row.
func FromTelemetryEvent(event telemetry.Event) *Event {
	out := &Event{
		ID:        event.ID,
		Type:      event.Type,
		Level:     eventLevel(event.Level),
		Message:   event.Message,
		Timestamp: event.Timestamp.UTC(),
	}
	if event.RunID != "" {
		runID := event.RunID
		out.RunID = &runID
	}

	details := make(map[string]interface{}, len(event.Data)+3)
	for k, v := range event.Data {
		details[k] = v
	}
	if event.Source != "" {
		details["source"] = event.Source
	}
	if event.Product != "" {
		details["product"] = event.Product
	}
	if event.Target != "" {
		details["target"] = event.Target
	}
	if len(details) > 0 {
		if data, err := json.Marshal(details); err == nil {
			s := string(data)
			out.Details = &s
		}
	}
	return out
}

func eventLevel(level string) EventLevel {
	switch EventLevel(level) {
	case EventLevelDebug, EventLevelInfo, EventLevelWarning, EventLevelError:
		return EventLevel(level)
	}
	return EventLevelInfo
}
