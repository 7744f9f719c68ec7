package workflow

import (
	"time"

	"github.com/nyimbi/stateflow/internal/domain/entity"
)

// Validator is a predicate evaluated against the instance and actor before
// a state may be entered
type Validator interface {
	// Name identifies the validator in definitions and exports
	Name() string

	// Validate returns nil when the instance may enter the state
	Validate(inst *entity.Instance, actor entity.Actor) error
}

// ValidatorFunc adapts a function to the Validator interface
type ValidatorFunc struct {
	ValidatorName string
	Fn            func(inst *entity.Instance, actor entity.Actor) error
}

// Name identifies the validator
func (v ValidatorFunc) Name() string {
	return v.ValidatorName
}

// Validate runs the wrapped function
func (v ValidatorFunc) Validate(inst *entity.Instance, actor entity.Actor) error {
	return v.Fn(inst, actor)
}

// State is a node definition within a workflow. Name is the unique key
// within the owning definition.
type State struct {
	Name          string
	Description   string
	Metadata      map[string]string
	Initial       bool
	Final         bool
	Restricted    bool
	RequiredRoles []string
	Validators    []Validator

	// Timeout bounds how long an instance may remain in this state before
	// auto-escalation. ErrorState must be set whenever Timeout is.
	Timeout    time.Duration
	ErrorState string
}

// HasRole returns true when the actor holds at least one of the state's
// required roles, or when the state requires none
func (s *State) HasRole(actor entity.Actor) bool {
	if len(s.RequiredRoles) == 0 {
		return true
	}
	for _, role := range s.RequiredRoles {
		if actor.HasRole(role) {
			return true
		}
	}
	return false
}
