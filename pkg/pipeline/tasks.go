package pipeline

import (
	"context"
	"errors"

	"github.com/trendfire/trendfire/pkg/earthengine"
	"github.com/trendfire/trendfire/pkg/stores"
	"github.com/trendfire/trendfire/pkg/telemetry"
)

// ErrNoStore is returned by ledger operations on a pipeline without a store.
var ErrNoStore = errors.New("no run ledger configured")

// Tasks lists ledger tasks matching filter.
func (p *Pipeline) Tasks(ctx context.Context, filter stores.TaskFilter) ([]*stores.Task, error) {
	if p.store == nil {
		return nil, ErrNoStore
	}
	return p.store.ListTasks(ctx, filter)
}

// RefreshTasks fetches the current state of every listed task that has
// not finished, one operations.get per task, and stores it. The refreshed
// tasks are returned in ledger order.
func (p *Pipeline) RefreshTasks(ctx context.Context, filter stores.TaskFilter) ([]*stores.Task, error) {
	tasks, err := p.Tasks(ctx, filter)
	if err != nil {
		return nil, err
	}

	pending := 0
	for _, t := range tasks {
		if !finished(t.State) {
			pending++
		}
	}
	if pending == 0 {
		return tasks, nil
	}

	session, err := p.openSession(ctx)
	if err != nil {
		return tasks, err
	}

	stageCtx, end := telemetry.StartStage(ctx, "refresh")
	logger := telemetry.FromContext(stageCtx).NewComponentLogger("pipeline")
	for _, t := range tasks {
		if finished(t.State) {
			continue
		}

		op, err := session.GetOperation(stageCtx, t.Operation)
		if err != nil {
			end(err)
			return tasks, stageError("refresh", err)
		}

		state := op.State()
		var msg *string
		if op.Error != nil {
			msg = &op.Error.Message
		}
		if err := p.store.UpdateTaskState(stageCtx, t.RequestID, state, msg); err != nil {
			end(err)
			return tasks, stageError("ledger", err)
		}

		if state != t.State {
			logger.WithProduct(t.Product).WithFields(map[string]interface{}{
				"operation": t.Operation,
				"from":      t.State,
				"to":        state,
			}).Info("Task state changed")
		}
		t.State = state
		t.Error = msg
	}
	end(nil)
	return tasks, nil
}

func finished(state string) bool {
	switch state {
	case earthengine.StateSucceeded, earthengine.StateFailed, earthengine.StateCancelled:
		return true
	}
	return false
}
