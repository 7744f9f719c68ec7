package engine

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/nyimbi/stateflow/internal/domain/entity"
	"github.com/nyimbi/stateflow/internal/domain/workflow"
)

// RevertOptions controls revert eligibility checks
type RevertOptions struct {
	// Validate consults the configured revert policy before reverting
	Validate bool

	// Force skips the revert policy even when Validate is set
	Force bool
}

// RevertToState moves an instance back to a state it has previously
// visited, recording the change with the revert flag set. Terminal states
// can only be left through this path.
func (e *Engine) RevertToState(ctx context.Context, instanceID, target string, actor entity.Actor, reason string, opts RevertOptions, reqCtx *entity.RequestContext) (*Result, error) {
	unlock := e.lockInstance(instanceID)
	defer unlock()

	inst, err := e.instances.GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	def, ok := e.registry.Get(inst.Workflow)
	if !ok {
		return nil, fmt.Errorf("%w: unknown workflow %q", workflow.ErrConfiguration, inst.Workflow)
	}
	if _, ok := def.GetState(target); !ok {
		return nil, fmt.Errorf("%w: target state %q is not declared in workflow %s",
			workflow.ErrData, target, inst.Workflow)
	}

	visited, err := e.history.HasVisited(ctx, instanceID, target)
	if err != nil {
		return nil, err
	}
	if !visited {
		return nil, fmt.Errorf("%w: instance %s never visited state %q",
			workflow.ErrData, instanceID, target)
	}

	if opts.Validate && !opts.Force && e.revertPolicy != nil {
		if err := e.revertPolicy(inst, target); err != nil {
			return nil, fmt.Errorf("%w: revert rejected: %v", workflow.ErrValidation, err)
		}
	}

	fromState := inst.CurrentState
	entry := e.newEntry(inst, fromState, target, "revert", actor, reason, reqCtx, true)
	entry.Tags = []string{"revert"}

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
		e.logger.Warn("Revert failed",
			zap.String("instance_id", instanceID),
			zap.String("target", target),
			zap.String("actor_id", actor.ID()),
			zap.Error(commitErr))
		return nil, commitErr
	}

	e.dispatchNotifications(ctx, def, nil, inst, entry)
	e.trimHistory(ctx, def, inst.ID)
	e.metrics.ObserveTransition(inst.Workflow, "revert", nil)

	e.logger.Info("Instance reverted",
		zap.String("instance_id", instanceID),
		zap.String("from", fromState),
		zap.String("to", target),
		zap.String("actor_id", actor.ID()),
		zap.String("reason", reason))

	return &Result{
		InstanceID: inst.ID,
		Workflow:   inst.Workflow,
		Trigger:    "revert",
		FromState:  fromState,
		ToState:    target,
		Version:    inst.Version,
	}, nil
}
