package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nyimbi/stateflow/internal/domain/entity"
	"github.com/nyimbi/stateflow/internal/domain/workflow"
	"github.com/nyimbi/stateflow/internal/metrics"
)

const defaultMaxAutoChain = 10

// Result describes one committed state change
type Result struct {
	InstanceID string `json:"instance_id"`
	Workflow   string `json:"workflow"`
	Trigger    string `json:"trigger"`
	FromState  string `json:"from_state"`
	ToState    string `json:"to_state"`
	Version    int64  `json:"version"`

	// Chained lists auto transitions fired immediately after the main one
	Chained []string `json:"chained,omitempty"`
}

// RevertPolicy decides whether an instance may be reverted to a target
// state. It is consulted on revert unless force is set.
type RevertPolicy func(inst *entity.Instance, target string) error

// Engine executes triggers against workflow instances. The definition
// registry is immutable; per-instance state is serialized through a
// per-instance lock plus the repository's version check.
type Engine struct {
	registry  *workflow.Registry
	instances InstanceRepository
	history   HistoryStore
	tx        TxRunner
	notifier  Notifier
	logger    *zap.Logger
	metrics   *metrics.Metrics

	clock        func() time.Time
	maxAutoChain int
	revertPolicy RevertPolicy

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// EngineOption configures the engine
type EngineOption func(*Engine)

// WithClock overrides the time source, used by tests and the timeout
// watcher
func WithClock(clock func() time.Time) EngineOption {
	return func(e *Engine) { e.clock = clock }
}

// WithMaxAutoChain caps how many auto transitions may chain off one
// trigger before the definition is treated as misconfigured
func WithMaxAutoChain(n int) EngineOption {
	return func(e *Engine) { e.maxAutoChain = n }
}

// WithMetrics attaches Prometheus collectors
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithRevertPolicy installs the revert-eligibility check consulted by
// RevertToState
func WithRevertPolicy(p RevertPolicy) EngineOption {
	return func(e *Engine) { e.revertPolicy = p }
}

// NewEngine creates a workflow engine
func NewEngine(
	registry *workflow.Registry,
	instances InstanceRepository,
	history HistoryStore,
	tx TxRunner,
	notifier Notifier,
	logger *zap.Logger,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		registry:     registry,
		instances:    instances,
		history:      history,
		tx:           tx,
		notifier:     notifier,
		logger:       logger,
		clock:        time.Now,
		maxAutoChain: defaultMaxAutoChain,
		locks:        make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateInstance creates and persists an instance positioned at the
// workflow's initial state
func (e *Engine) CreateInstance(ctx context.Context, id, modelType, workflowName string, fields map[string]any) (*entity.Instance, error) {
	def, ok := e.registry.Get(workflowName)
	if !ok {
		return nil, fmt.Errorf("%w: unknown workflow %q", workflow.ErrConfiguration, workflowName)
	}

	inst := entity.NewInstance(id, modelType, workflowName, def.InitialState())
	inst.Fields = fields
	if err := e.instances.Create(ctx, inst); err != nil {
		return nil, err
	}

	e.logger.Info("Instance created",
		zap.String("instance_id", id),
		zap.String("workflow", workflowName),
		zap.String("state", inst.CurrentState))
	return inst, nil
}

// AvailableTransitions returns the transitions the actor could attempt
// from the instance's current state, in priority order. Role-filtered so
// the result can drive UI action menus directly.
func (e *Engine) AvailableTransitions(ctx context.Context, instanceID string, actor entity.Actor) ([]*workflow.Transition, error) {
	inst, err := e.instances.GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	def, ok := e.registry.Get(inst.Workflow)
	if !ok {
		return nil, fmt.Errorf("%w: unknown workflow %q", workflow.ErrConfiguration, inst.Workflow)
	}

	var out []*workflow.Transition
	for _, t := range def.AvailableTransitions(inst.CurrentState) {
		if t.HasRole(actor) {
			out = append(out, t)
		}
	}
	return out, nil
}

// Trigger fires the named event against an instance. The state mutation
// and audit append commit in one unit of work; notifications fan out after
// commit; eligible auto transitions chain before the call returns.
func (e *Engine) Trigger(ctx context.Context, instanceID, event string, actor entity.Actor, reqCtx *entity.RequestContext) (*Result, error) {
	start := e.clock()
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

	result, err := e.fire(ctx, def, inst, event, actor, reqCtx, "")
	e.metrics.ObserveTransition(inst.Workflow, event, err)
	if err != nil {
		e.logger.Warn("Trigger failed",
			zap.String("instance_id", instanceID),
			zap.String("event", event),
			zap.String("actor_id", actor.ID()),
			zap.String("state", inst.CurrentState),
			zap.Error(err))
		return nil, err
	}

	chainErr := e.chainAutoTransitions(ctx, def, inst, actor, reqCtx, result)

	if e.metrics != nil {
		e.metrics.TriggerDuration.Observe(e.clock().Sub(start).Seconds())
	}
	e.logger.Info("Transition committed",
		zap.String("instance_id", instanceID),
		zap.String("event", event),
		zap.String("actor_id", actor.ID()),
		zap.String("from", result.FromState),
		zap.String("to", result.ToState),
		zap.Int64("version", result.Version))

	// A chaining failure surfaces, but the already-committed transitions
	// stand; the caller gets the partial result alongside the error.
	if chainErr != nil {
		return result, chainErr
	}
	return result, nil
}

// fire resolves and executes a single transition for an event. The caller
// holds the instance lock.
func (e *Engine) fire(ctx context.Context, def *workflow.Definition, inst *entity.Instance, event string, actor entity.Actor, reqCtx *entity.RequestContext, reason string) (*Result, error) {
	if def.IsTerminal(inst.CurrentState) {
		return nil, fmt.Errorf("%w: %q is a terminal state", workflow.ErrInvalidTransition, inst.CurrentState)
	}

	var candidates []*workflow.Transition
	for _, t := range def.AvailableTransitions(inst.CurrentState) {
		if t.Trigger == event {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no transition for trigger %q from state %q",
			workflow.ErrInvalidTransition, event, inst.CurrentState)
	}

	permitted := candidates[:0:0]
	for _, t := range candidates {
		if t.HasRole(actor) {
			permitted = append(permitted, t)
		}
	}
	if len(permitted) == 0 {
		return nil, fmt.Errorf("%w: actor %s lacks required roles for trigger %q",
			workflow.ErrPermissionDenied, actor.ID(), event)
	}

	selected, selErr := e.selectTransition(def, permitted, inst, actor)
	if selErr != nil {
		return nil, selErr
	}

	return e.execute(ctx, def, inst, selected, actor, reqCtx, reason)
}

// selectTransition picks the first candidate, in priority order, whose
// conditions hold and whose destination validators pass. When candidates
// fail only on validators the failure is a validation error rather than an
// invalid transition.
func (e *Engine) selectTransition(def *workflow.Definition, candidates []*workflow.Transition, inst *entity.Instance, actor entity.Actor) (*workflow.Transition, error) {
	var lastValidationErr error

	for _, t := range candidates {
		ok, err := e.conditionsHold(t, inst, actor)
		if err != nil {
			e.logger.Warn("Condition evaluation failed, skipping candidate",
				zap.String("instance_id", inst.ID),
				zap.String("trigger", t.Trigger),
				zap.String("dest", t.Dest),
				zap.Error(err))
			continue
		}
		if !ok {
			continue
		}

		dest, _ := def.GetState(t.Dest)
		if dest.Restricted && !dest.HasRole(actor) {
			lastValidationErr = fmt.Errorf("%w: state %q is restricted", workflow.ErrPermissionDenied, dest.Name)
			continue
		}
		if err := e.validateState(dest, inst, actor); err != nil {
			lastValidationErr = err
			continue
		}
		return t, nil
	}

	if lastValidationErr != nil {
		return nil, lastValidationErr
	}
	return nil, fmt.Errorf("%w: no eligible transition from state %q", workflow.ErrInvalidTransition, inst.CurrentState)
}

func (e *Engine) conditionsHold(t *workflow.Transition, inst *entity.Instance, actor entity.Actor) (bool, error) {
	for _, c := range t.Conditions {
		ok, err := c.Evaluate(inst, actor)
		if err != nil {
			return false, fmt.Errorf("condition %s: %w", c.Describe(), err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (e *Engine) validateState(s *workflow.State, inst *entity.Instance, actor entity.Actor) error {
	for _, v := range s.Validators {
		if err := v.Validate(inst, actor); err != nil {
			return fmt.Errorf("%w: validator %s: %v", workflow.ErrValidation, v.Name(), err)
		}
	}
	return nil
}

// execute runs the before hooks, commits the state mutation together with
// the audit entry, runs after hooks, and fans out notifications
func (e *Engine) execute(ctx context.Context, def *workflow.Definition, inst *entity.Instance, t *workflow.Transition, actor entity.Actor, reqCtx *entity.RequestContext, reason string) (*Result, error) {
	hc := workflow.HookContext{Instance: inst, Actor: actor, Request: reqCtx}

	// A transition timeout bounds its whole execution, hooks included
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	if err := e.runBeforeHooks(ctx, def, t, hc); err != nil {
		return nil, e.failTransition(ctx, def, inst, t, actor, reqCtx, err)
	}

	fromState := inst.CurrentState
	entry := e.newEntry(inst, fromState, t.Dest, t.Trigger, actor, reason, reqCtx, false)

	commitErr := e.tx.WithTransaction(func(tx *sql.Tx) error {
		inst.CurrentState = t.Dest
		if err := e.instances.Save(ctx, tx, inst); err != nil {
			inst.CurrentState = fromState
			return err
		}
		if err := e.history.Add(ctx, tx, entry); err != nil {
			inst.CurrentState = fromState
			inst.Version--
			return err
		}
		if t.Rollback {
			// After hooks share the transaction: any failure reverts the
			// state change and the audit entry together.
			for _, h := range t.After {
				if err := h.After(ctx, hc); err != nil {
					inst.CurrentState = fromState
					inst.Version--
					return fmt.Errorf("after hook %s: %w", h.Name(), err)
				}
			}
		}
		return nil
	})
	if commitErr != nil {
		return nil, commitErr
	}

	if !t.Rollback {
		for _, h := range t.After {
			if err := h.After(ctx, hc); err != nil {
				e.logger.Error("After hook failed, state change stands",
					zap.String("instance_id", inst.ID),
					zap.String("hook", h.Name()),
					zap.Error(err))
			}
		}
	}

	e.dispatchNotifications(ctx, def, t, inst, entry)
	e.trimHistory(ctx, def, inst.ID)

	return &Result{
		InstanceID: inst.ID,
		Workflow:   inst.Workflow,
		Trigger:    t.Trigger,
		FromState:  fromState,
		ToState:    inst.CurrentState,
		Version:    inst.Version,
	}, nil
}

// failTransition parks the instance in its resolved error state after a
// before-hook failure: the transition's own error state, else the source
// state's, else the workflow's. The original failure always surfaces to
// the caller; with no resolvable target there is nothing else to do.
func (e *Engine) failTransition(ctx context.Context, def *workflow.Definition, inst *entity.Instance, t *workflow.Transition, actor entity.Actor, reqCtx *entity.RequestContext, cause error) error {
	target := t.ErrorState
	if target == "" {
		target, _ = def.HandleError(inst.CurrentState)
	}
	if target == "" || target == inst.CurrentState {
		return cause
	}

	// The bounding timeout may already be spent; the recovery write must
	// still land.
	ctx = context.WithoutCancel(ctx)

	fromState := inst.CurrentState
	entry := e.newEntry(inst, fromState, target, "error", actor, cause.Error(), reqCtx, false)
	entry.Tags = []string{"error"}

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
		e.logger.Error("Failed to move instance to error state",
			zap.String("instance_id", inst.ID),
			zap.String("target", target),
			zap.Error(commitErr))
		return cause
	}

	e.dispatchNotifications(ctx, def, nil, inst, entry)
	e.logger.Warn("Transition failed, instance moved to error state",
		zap.String("instance_id", inst.ID),
		zap.String("trigger", t.Trigger),
		zap.String("from", fromState),
		zap.String("to", target),
		zap.Error(cause))
	return cause
}

// trimHistory enforces the definition's per-instance retention cap after a
// commit. Trimming is best-effort; a failure never unwinds the transition.
func (e *Engine) trimHistory(ctx context.Context, def *workflow.Definition, instanceID string) {
	limit := def.HistoryLimit()
	if limit <= 0 {
		return
	}
	deleted, err := e.history.TrimInstance(context.WithoutCancel(ctx), instanceID, limit)
	if err != nil {
		e.logger.Error("History trim failed",
			zap.String("instance_id", instanceID),
			zap.Int("limit", limit),
			zap.Error(err))
		return
	}
	if deleted > 0 {
		e.logger.Info("History trimmed to retention cap",
			zap.String("instance_id", instanceID),
			zap.Int64("deleted", deleted),
			zap.Int("limit", limit))
	}
}

// runBeforeHooks runs the before hooks, retrying the whole sequence with
// exponential backoff when the transition carries a retry policy
func (e *Engine) runBeforeHooks(ctx context.Context, def *workflow.Definition, t *workflow.Transition, hc workflow.HookContext) error {
	policy := t.Retry
	if policy == nil && def.MaxRetries() > 0 {
		policy = &workflow.RetryPolicy{MaxAttempts: def.MaxRetries()}
	}

	maxAttempts := 1
	if policy != nil && policy.MaxAttempts > 0 {
		maxAttempts = policy.MaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = nil
		for _, h := range t.Before {
			if err := h.Before(ctx, hc); err != nil {
				lastErr = fmt.Errorf("before hook %s: %w", h.Name(), err)
				break
			}
		}
		if lastErr == nil {
			return nil
		}

		if attempt < maxAttempts {
			backoff := policy.Delay(attempt)
			e.logger.Warn("Before hooks failed, retrying",
				zap.String("instance_id", hc.Instance.ID),
				zap.String("trigger", t.Trigger),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return lastErr
}

// chainAutoTransitions re-evaluates auto transitions after each committed
// change. Exactly one qualifying transition fires immediately; more than
// one is an ambiguity the engine refuses to resolve.
func (e *Engine) chainAutoTransitions(ctx context.Context, def *workflow.Definition, inst *entity.Instance, actor entity.Actor, reqCtx *entity.RequestContext, result *Result) error {
	for depth := 0; ; depth++ {
		if depth >= e.maxAutoChain {
			return fmt.Errorf("%w: auto transition chain exceeded %d steps",
				workflow.ErrConfiguration, e.maxAutoChain)
		}
		if def.IsTerminal(inst.CurrentState) {
			return nil
		}

		var eligible []*workflow.Transition
		for _, t := range def.AvailableTransitions(inst.CurrentState) {
			if !t.Auto || !t.HasRole(actor) {
				continue
			}
			ok, err := e.conditionsHold(t, inst, actor)
			if err != nil || !ok {
				continue
			}
			dest, _ := def.GetState(t.Dest)
			if e.validateState(dest, inst, actor) != nil {
				continue
			}
			eligible = append(eligible, t)
		}

		switch len(eligible) {
		case 0:
			return nil
		case 1:
			res, err := e.execute(ctx, def, inst, eligible[0], actor, reqCtx, "auto")
			if err != nil {
				return err
			}
			result.ToState = res.ToState
			result.Version = res.Version
			result.Chained = append(result.Chained, eligible[0].Trigger)
		default:
			names := make([]string, 0, len(eligible))
			for _, t := range eligible {
				names = append(names, fmt.Sprintf("%s->%s", t.Trigger, t.Dest))
			}
			return fmt.Errorf("%w: %d transitions eligible from state %q: %v",
				workflow.ErrAmbiguousAutoTransition, len(eligible), inst.CurrentState, names)
		}
	}
}

func (e *Engine) dispatchNotifications(ctx context.Context, def *workflow.Definition, t *workflow.Transition, inst *entity.Instance, entry *entity.HistoryEntry) {
	cfg := def.Notification()
	if len(cfg.Channels) == 0 || e.notifier == nil {
		return
	}

	subject := fmt.Sprintf("%s: %s -> %s", inst.Workflow, entry.FromState, entry.ToState)
	body := fmt.Sprintf("Instance %s moved from %s to %s (trigger %s, actor %s)",
		inst.ID, entry.FromState, entry.ToState, entry.Trigger, entry.ActorID)

	reqs := make([]*entity.NotificationRequest, 0, len(cfg.Channels))
	for _, channel := range cfg.Channels {
		reqs = append(reqs, &entity.NotificationRequest{
			TraceID:    entry.TraceID,
			Channel:    channel,
			Recipients: cfg.Recipients[channel],
			Subject:    subject,
			Body:       body,
			Metadata: map[string]string{
				"instance_id": inst.ID,
				"workflow":    inst.Workflow,
				"from_state":  entry.FromState,
				"to_state":    entry.ToState,
				"trigger":     entry.Trigger,
			},
		})
	}

	// Async by default: the trigger returns once history is committed, not
	// once notifications are delivered. The detached context lets deliveries
	// outlive the triggering call.
	if t != nil && t.SyncDispatch {
		e.notifier.Dispatch(ctx, reqs)
	} else {
		e.notifier.DispatchAsync(context.WithoutCancel(ctx), reqs)
	}
}

func (e *Engine) newEntry(inst *entity.Instance, from, to, trigger string, actor entity.Actor, reason string, reqCtx *entity.RequestContext, revert bool) *entity.HistoryEntry {
	traceID := reqCtx.Trace()
	if traceID == "" {
		traceID = uuid.NewString()
	}
	return &entity.HistoryEntry{
		InstanceID: inst.ID,
		ModelType:  inst.ModelType,
		Workflow:   inst.Workflow,
		FromState:  from,
		ToState:    to,
		Trigger:    trigger,
		ActorID:    actor.ID(),
		Reason:     reason,
		Metadata:   reqCtx.Labels(),
		TraceID:    traceID,
		Revert:     revert,
		Timestamp:  e.clock(),
	}
}

func (e *Engine) lockInstance(id string) func() {
	e.mu.Lock()
	lock, ok := e.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[id] = lock
	}
	e.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
