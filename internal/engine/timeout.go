package engine

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/nyimbi/stateflow/internal/domain/entity"
	"github.com/nyimbi/stateflow/internal/domain/workflow"
)

// EscalateTimeouts scans every registered workflow for instances that have
// overstayed a timed state and auto-fires their escalation. It returns the
// number of instances escalated. Instances that left the timed state since
// the scan started are skipped naturally by the per-instance re-read.
func (e *Engine) EscalateTimeouts(ctx context.Context) (int, error) {
	escalated := 0
	for _, name := range e.registry.Names() {
		def, _ := e.registry.Get(name)
		timed := def.TimedStates()
		if len(timed) == 0 {
			continue
		}

		stateNames := make([]string, 0, len(timed))
		for _, s := range timed {
			stateNames = append(stateNames, s.Name)
		}

		instances, err := e.instances.FindInStates(ctx, name, stateNames)
		if err != nil {
			return escalated, err
		}

		for _, inst := range instances {
			state, ok := def.GetState(inst.CurrentState)
			if !ok || state.Timeout <= 0 {
				continue
			}
			if e.clock().Sub(inst.LastTransitionAt) < state.Timeout {
				continue
			}
			moved, err := e.escalate(ctx, def, inst.ID)
			if err != nil {
				e.logger.Error("Timeout escalation failed",
					zap.String("instance_id", inst.ID),
					zap.String("state", inst.CurrentState),
					zap.Error(err))
				continue
			}
			if moved {
				escalated++
			}
		}
	}
	return escalated, nil
}

// escalate moves one timed-out instance to its resolved error state,
// reporting whether it did. The instance is re-read under its lock so a
// trigger that raced the scan wins cleanly.
func (e *Engine) escalate(ctx context.Context, def *workflow.Definition, instanceID string) (bool, error) {
	unlock := e.lockInstance(instanceID)
	defer unlock()

	inst, err := e.instances.GetByID(ctx, instanceID)
	if err != nil {
		return false, err
	}

	state, ok := def.GetState(inst.CurrentState)
	if !ok || state.Timeout <= 0 {
		return false, nil
	}
	if e.clock().Sub(inst.LastTransitionAt) < state.Timeout {
		// Another trigger reset the clock while the scan was running
		return false, nil
	}

	target, ok := def.HandleTimeout(inst.CurrentState)
	if !ok {
		return false, fmt.Errorf("%w: state %q timed out with no error state",
			workflow.ErrConfiguration, inst.CurrentState)
	}

	actor := entity.SystemActor()
	fromState := inst.CurrentState
	entry := e.newEntry(inst, fromState, target, "timeout", actor, "timeout", nil, false)
	entry.Tags = []string{"timeout"}

	commitErr := e.tx.WithTransaction(func(tx *sql.Tx) error {
		inst.CurrentState = target
		if err := e.instances.Save(ctx, tx, inst); err != nil {
			inst.CurrentState = fromState
			return err
		}
		if err := e.history.Add(ctx, tx, entry); err != nil {
			inst.CurrentState = fromState
			inst.Version--
			return err
		}
		return nil
	})
	if commitErr != nil {
		return false, commitErr
	}

	e.dispatchNotifications(ctx, def, nil, inst, entry)
	e.trimHistory(ctx, def, inst.ID)
	e.metrics.ObserveTransition(inst.Workflow, "timeout", nil)

	e.logger.Info("Instance escalated after timeout",
		zap.String("instance_id", inst.ID),
		zap.String("from", fromState),
		zap.String("to", target))
	return true, nil
}
