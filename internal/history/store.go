package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nyimbi/stateflow/internal/domain/entity"
	"github.com/nyimbi/stateflow/internal/domain/workflow"
	"github.com/nyimbi/stateflow/pkg/database"
)

// Filter narrows and pages history retrieval. The zero value returns the
// full trail for an instance, newest first.
type Filter struct {
	From        *time.Time
	To          *time.Time
	States      []string // matches to_state
	ActorID     string
	Tags        []string // entry must carry all listed tags
	Search      string   // free text over reason
	RevertOnly  bool
	OldestFirst bool
	Limit       int
	Offset      int
}

// CleanupOptions selects entries for retention cleanup
type CleanupOptions struct {
	MaxAge     time.Duration // entries older than now-MaxAge
	MaxEntries int           // keep at most N newest entries per instance
	States     []string      // restrict to these to_state values
	ModelTypes []string      // restrict to these model types
	Before     *time.Time    // explicit cutoff date
	DryRun     bool          // count only, delete nothing
	BatchSize  int           // delete batch size, default 500
}

const defaultCleanupBatch = 500

// Store is the append-only audit ledger backed by sqlite
type Store struct {
	db     *database.DB
	logger *zap.Logger
}

// NewStore creates a new history store
func NewStore(db *database.DB, logger *zap.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

// Add appends an entry. When tx is non-nil the write joins the caller's
// transaction so the audit record commits atomically with the state
// mutation.
func (s *Store) Add(ctx context.Context, tx *sql.Tx, e *entity.HistoryEntry) error {
	metadata, err := json.Marshal(orEmptyMap(e.Metadata))
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	tags, err := json.Marshal(orEmptySlice(e.Tags))
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	query := `
		INSERT INTO workflow_history (
			instance_id, model_type, workflow, from_state, to_state,
			trigger_name, actor_id, reason, metadata, trace_id, tags,
			priority, expires_at, revert, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	args := []any{
		e.InstanceID, e.ModelType, e.Workflow, e.FromState, e.ToState,
		e.Trigger, e.ActorID, e.Reason, string(metadata), e.TraceID, string(tags),
		e.Priority, e.ExpiresAt, e.Revert, e.Timestamp,
	}

	var result sql.Result
	if tx != nil {
		result, err = tx.ExecContext(ctx, query, args...)
	} else {
		result, err = s.db.ExecContext(ctx, query, args...)
	}
	if err != nil {
		s.logger.Error("Failed to append history entry",
			zap.String("instance_id", e.InstanceID),
			zap.Error(err))
		return fmt.Errorf("%w: failed to append history: %v", workflow.ErrData, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	e.ID = id
	return nil
}

// Get retrieves history entries for an instance with optional filters and
// pagination. Default order is newest first.
func (s *Store) Get(ctx context.Context, instanceID string, f Filter) ([]*entity.HistoryEntry, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT id, instance_id, model_type, workflow, from_state, to_state,
			trigger_name, actor_id, reason, metadata, trace_id, tags,
			priority, expires_at, revert, timestamp
		FROM workflow_history
		WHERE instance_id = ?
	`)
	args := []any{instanceID}

	if f.From != nil {
		sb.WriteString(" AND timestamp >= ?")
		args = append(args, *f.From)
	}
	if f.To != nil {
		sb.WriteString(" AND timestamp < ?")
		args = append(args, *f.To)
	}
	if len(f.States) > 0 {
		sb.WriteString(" AND to_state IN (" + placeholders(len(f.States)) + ")")
		for _, st := range f.States {
			args = append(args, st)
		}
	}
	if f.ActorID != "" {
		sb.WriteString(" AND actor_id = ?")
		args = append(args, f.ActorID)
	}
	if f.Search != "" {
		sb.WriteString(" AND reason LIKE ?")
		args = append(args, "%"+f.Search+"%")
	}
	if f.RevertOnly {
		sb.WriteString(" AND revert = 1")
	}
	// Tag containment is checked on the serialized JSON array
	for _, tag := range f.Tags {
		sb.WriteString(" AND tags LIKE ?")
		args = append(args, "%\""+tag+"\"%")
	}

	if f.OldestFirst {
		sb.WriteString(" ORDER BY timestamp ASC, id ASC")
	} else {
		sb.WriteString(" ORDER BY timestamp DESC, id DESC")
	}

	if f.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, f.Limit)
		if f.Offset > 0 {
			sb.WriteString(" OFFSET ?")
			args = append(args, f.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		s.logger.Error("Failed to query history", zap.String("instance_id", instanceID), zap.Error(err))
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []*entity.HistoryEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// HasVisited reports whether the instance's trail records the given state
// as either a source or destination
func (s *Store) HasVisited(ctx context.Context, instanceID, state string) (bool, error) {
	query := `
		SELECT COUNT(1) FROM workflow_history
		WHERE instance_id = ? AND (to_state = ? OR from_state = ?)
	`
	var count int
	if err := s.db.QueryRowContext(ctx, query, instanceID, state, state).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check visited state: %w", err)
	}
	return count > 0, nil
}

// TrimInstance deletes all but the newest keep entries of one instance,
// enforcing a workflow's per-instance retention cap
func (s *Store) TrimInstance(ctx context.Context, instanceID string, keep int) (int64, error) {
	if keep <= 0 {
		return 0, fmt.Errorf("trim requires a positive retention count")
	}

	query := `
		DELETE FROM workflow_history
		WHERE instance_id = ? AND id NOT IN (
			SELECT id FROM workflow_history
			WHERE instance_id = ?
			ORDER BY timestamp DESC, id DESC
			LIMIT ?
		)
	`
	result, err := s.db.ExecContext(ctx, query, instanceID, instanceID, keep)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to trim history: %v", workflow.ErrData, err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// CountByInstance returns the number of entries for an instance
func (s *Store) CountByInstance(ctx context.Context, instanceID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM workflow_history WHERE instance_id = ?", instanceID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count history: %w", err)
	}
	return count, nil
}

// Cleanup deletes entries matching the retention options in batches across
// all instances. DryRun returns the would-be count without deleting.
func (s *Store) Cleanup(ctx context.Context, opts CleanupOptions) (int64, error) {
	where, args := cleanupPredicate(opts)
	if where == "" {
		return 0, fmt.Errorf("cleanup requires at least one selection criterion")
	}

	if opts.DryRun {
		var count int64
		query := "SELECT COUNT(1) FROM workflow_history WHERE " + where
		if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
			return 0, fmt.Errorf("failed to count cleanup candidates: %w", err)
		}
		return count, nil
	}

	batch := opts.BatchSize
	if batch <= 0 {
		batch = defaultCleanupBatch
	}

	var total int64
	for {
		query := fmt.Sprintf(`
			DELETE FROM workflow_history
			WHERE id IN (SELECT id FROM workflow_history WHERE %s LIMIT %d)
		`, where, batch)
		result, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return total, fmt.Errorf("cleanup batch failed: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("failed to get rows affected: %w", err)
		}
		total += affected
		if affected < int64(batch) {
			break
		}
	}

	s.logger.Info("History cleanup completed", zap.Int64("deleted", total))
	return total, nil
}

func cleanupPredicate(opts CleanupOptions) (string, []any) {
	var conds []string
	var args []any

	if opts.MaxAge > 0 {
		conds = append(conds, "timestamp < ?")
		args = append(args, time.Now().Add(-opts.MaxAge))
	}
	if opts.Before != nil {
		conds = append(conds, "timestamp < ?")
		args = append(args, *opts.Before)
	}
	if len(opts.States) > 0 {
		conds = append(conds, "to_state IN ("+placeholders(len(opts.States))+")")
		for _, st := range opts.States {
			args = append(args, st)
		}
	}
	if len(opts.ModelTypes) > 0 {
		conds = append(conds, "model_type IN ("+placeholders(len(opts.ModelTypes))+")")
		for _, mt := range opts.ModelTypes {
			args = append(args, mt)
		}
	}
	if opts.MaxEntries > 0 {
		// Everything but the newest N entries of each instance
		conds = append(conds, `id NOT IN (
			SELECT h2.id FROM workflow_history h2
			WHERE h2.instance_id = workflow_history.instance_id
			ORDER BY h2.timestamp DESC, h2.id DESC
			LIMIT ?
		)`)
		args = append(args, opts.MaxEntries)
	}

	return strings.Join(conds, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*entity.HistoryEntry, error) {
	var e entity.HistoryEntry
	var metadata, tags string
	err := row.Scan(
		&e.ID, &e.InstanceID, &e.ModelType, &e.Workflow, &e.FromState, &e.ToState,
		&e.Trigger, &e.ActorID, &e.Reason, &metadata, &e.TraceID, &tags,
		&e.Priority, &e.ExpiresAt, &e.Revert, &e.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan history entry: %w", err)
	}
	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	if tags != "" && tags != "[]" {
		if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	return &e, nil
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
