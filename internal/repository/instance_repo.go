package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nyimbi/stateflow/internal/domain/entity"
	"github.com/nyimbi/stateflow/internal/domain/workflow"
	"github.com/nyimbi/stateflow/pkg/database"
)

// InstanceRepository handles workflow instance persistence
type InstanceRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewInstanceRepository creates a new instance repository
func NewInstanceRepository(db *database.DB, logger *zap.Logger) *InstanceRepository {
	return &InstanceRepository{
		db:     db,
		logger: logger,
	}
}

// Create persists a new instance
func (r *InstanceRepository) Create(ctx context.Context, inst *entity.Instance) error {
	fields, err := json.Marshal(inst.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}

	query := `
		INSERT INTO workflow_instances (
			id, model_type, workflow, current_state, version,
			last_transition_at, fields, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		inst.ID,
		inst.ModelType,
		inst.Workflow,
		inst.CurrentState,
		inst.Version,
		inst.LastTransitionAt,
		string(fields),
		inst.CreatedAt,
		inst.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create instance", zap.String("instance_id", inst.ID), zap.Error(err))
		return fmt.Errorf("failed to create instance: %w", err)
	}
	return nil
}

// GetByID retrieves an instance by id
func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*entity.Instance, error) {
	query := `
		SELECT id, model_type, workflow, current_state, version,
			last_transition_at, fields, created_at, updated_at
		FROM workflow_instances
		WHERE id = ?
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// Save persists a state change with an optimistic-concurrency check on
// version. The caller passes the instance as loaded; on success the stored
// and in-memory versions are both incremented. A stale version returns
// workflow.ErrConflict.
func (r *InstanceRepository) Save(ctx context.Context, tx *sql.Tx, inst *entity.Instance) error {
	now := time.Now()
	query := `
		UPDATE workflow_instances
		SET current_state = ?, version = version + 1, last_transition_at = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`

	var result sql.Result
	var err error
	if tx != nil {
		result, err = tx.ExecContext(ctx, query, inst.CurrentState, now, now, inst.ID, inst.Version)
	} else {
		result, err = r.db.ExecContext(ctx, query, inst.CurrentState, now, now, inst.ID, inst.Version)
	}
	if err != nil {
		r.logger.Error("Failed to save instance", zap.String("instance_id", inst.ID), zap.Error(err))
		return fmt.Errorf("failed to save instance: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: instance %s at version %d", workflow.ErrConflict, inst.ID, inst.Version)
	}

	inst.Version++
	inst.LastTransitionAt = now
	inst.UpdatedAt = now
	return nil
}

// FindInStates returns instances of a workflow currently in any of the
// given states
func (r *InstanceRepository) FindInStates(ctx context.Context, workflowName string, states []string) ([]*entity.Instance, error) {
	if len(states) == 0 {
		return nil, nil
	}

	placeholders := ""
	args := []any{workflowName}
	for i, s := range states {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, s)
	}

	query := fmt.Sprintf(`
		SELECT id, model_type, workflow, current_state, version,
			last_transition_at, fields, created_at, updated_at
		FROM workflow_instances
		WHERE workflow = ? AND current_state IN (%s)
		ORDER BY last_transition_at ASC
	`, placeholders)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to find instances by state", zap.String("workflow", workflowName), zap.Error(err))
		return nil, fmt.Errorf("failed to find instances: %w", err)
	}
	defer rows.Close()

	var instances []*entity.Instance
	for rows.Next() {
		inst, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *InstanceRepository) scanOne(row *sql.Row) (*entity.Instance, error) {
	inst, err := r.scanRow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: instance not found", workflow.ErrData)
	}
	return inst, err
}

func (r *InstanceRepository) scanRow(row rowScanner) (*entity.Instance, error) {
	var inst entity.Instance
	var fields string
	err := row.Scan(
		&inst.ID,
		&inst.ModelType,
		&inst.Workflow,
		&inst.CurrentState,
		&inst.Version,
		&inst.LastTransitionAt,
		&fields,
		&inst.CreatedAt,
		&inst.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan instance: %w", err)
	}
	if fields != "" && fields != "{}" {
		if err := json.Unmarshal([]byte(fields), &inst.Fields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
		}
	}
	return &inst, nil
}
