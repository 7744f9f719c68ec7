package workflow

import (
	"time"

	"github.com/nyimbi/stateflow/internal/domain/entity"
)

// RetryPolicy controls retries of before-hooks on a transition.
// Delay grows exponentially from BaseDelay by BackoffFactor, capped at
// MaxDelay.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
}

// Delay returns the backoff before the given retry attempt (1-based)
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := p.BaseDelay
	if delay <= 0 {
		delay = time.Second
	}
	factor := p.BackoffFactor
	if factor <= 1 {
		factor = 2
	}
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * factor)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Transition is a directed, trigger-labeled edge between states
type Transition struct {
	Trigger       string
	Sources       []string
	Dest          string
	Conditions    []Condition
	Before        []BeforeTransitionHook
	After         []AfterTransitionHook
	Priority      int
	RequiredRoles []string

	// Auto transitions fire without an external trigger once their
	// conditions hold from the new state.
	Auto bool

	Retry      *RetryPolicy
	Timeout    time.Duration
	ErrorState string

	// Rollback runs after-hooks inside the same unit of work as the state
	// mutation; any hook failure reverts state and history together.
	Rollback bool

	// SyncDispatch makes the caller wait for notification delivery attempts
	// to finish. Fan-out is decoupled from the caller by default.
	SyncDispatch bool
}

// HasSource returns true if the transition departs from the named state
func (t *Transition) HasSource(state string) bool {
	for _, s := range t.Sources {
		if s == state {
			return true
		}
	}
	return false
}

// HasRole returns true when the actor holds at least one required role, or
// when the transition requires none
func (t *Transition) HasRole(actor entity.Actor) bool {
	if len(t.RequiredRoles) == 0 {
		return true
	}
	for _, role := range t.RequiredRoles {
		if actor.HasRole(role) {
			return true
		}
	}
	return false
}
