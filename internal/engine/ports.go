package engine

import (
	"context"
	"database/sql"

	"github.com/nyimbi/stateflow/internal/domain/entity"
)

// InstanceRepository loads and saves workflow instances. Save must enforce
// the optimistic-concurrency check on version and return
// workflow.ErrConflict on a stale write.
type InstanceRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Instance, error)
	Create(ctx context.Context, inst *entity.Instance) error
	Save(ctx context.Context, tx *sql.Tx, inst *entity.Instance) error
	FindInStates(ctx context.Context, workflowName string, states []string) ([]*entity.Instance, error)
}

// HistoryStore appends and queries the audit trail. Add must join the
// caller's transaction when one is passed. TrimInstance deletes all but
// the newest keep entries of one instance and reports how many went.
type HistoryStore interface {
	Add(ctx context.Context, tx *sql.Tx, e *entity.HistoryEntry) error
	HasVisited(ctx context.Context, instanceID, state string) (bool, error)
	TrimInstance(ctx context.Context, instanceID string, keep int) (int64, error)
}

// TxRunner provides the unit of work binding state mutation and audit
// append together. database.DB satisfies it.
type TxRunner interface {
	WithTransaction(fn func(*sql.Tx) error) error
}

// Notifier fans out transition notifications. Delivery failures never
// propagate back through this interface.
type Notifier interface {
	Dispatch(ctx context.Context, reqs []*entity.NotificationRequest)
	DispatchAsync(ctx context.Context, reqs []*entity.NotificationRequest)
}
