package workflow

import (
	"fmt"
	"sort"
)

// NotificationConfig declares which channels receive transition
// notifications for a workflow, and the default recipients per channel.
type NotificationConfig struct {
	Channels   []string
	Recipients map[string][]string
}

// Definition is a validated, immutable aggregate of states and transitions.
// It is constructed once and safe for unsynchronized concurrent reads.
type Definition struct {
	name         string
	version      int
	states       map[string]*State
	order        []string
	transitions  []*Transition
	initial      string
	errorState   string
	maxRetries   int
	historyLimit int
	notification NotificationConfig
	subWorkflows []*Definition
}

// Option configures optional definition attributes at construction
type Option func(*Definition)

// WithErrorState sets the workflow-wide fallback error state
func WithErrorState(name string) Option {
	return func(d *Definition) { d.errorState = name }
}

// WithMaxRetries sets the default before-hook retry budget for transitions
// that carry no retry policy of their own
func WithMaxRetries(n int) Option {
	return func(d *Definition) { d.maxRetries = n }
}

// WithHistoryLimit caps retained audit entries per instance; zero means
// unlimited
func WithHistoryLimit(n int) Option {
	return func(d *Definition) { d.historyLimit = n }
}

// WithNotification sets the notification fan-out configuration
func WithNotification(cfg NotificationConfig) Option {
	return func(d *Definition) { d.notification = cfg }
}

// WithSubWorkflow attaches a nested definition
func WithSubWorkflow(sub *Definition) Option {
	return func(d *Definition) { d.subWorkflows = append(d.subWorkflows, sub) }
}

// NewDefinition validates and constructs a workflow definition. Validation
// is eager; a definition that constructs successfully is usable forever.
func NewDefinition(name string, version int, states []State, transitions []Transition, opts ...Option) (*Definition, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: workflow name is required", ErrConfiguration)
	}

	d := &Definition{
		name:    name,
		version: version,
		states:  make(map[string]*State, len(states)),
	}
	for _, opt := range opts {
		opt(d)
	}

	for i := range states {
		s := states[i]
		if s.Name == "" {
			return nil, fmt.Errorf("%w: workflow %s: state name is required", ErrConfiguration, name)
		}
		if _, dup := d.states[s.Name]; dup {
			return nil, fmt.Errorf("%w: workflow %s: duplicate state %q", ErrConfiguration, name, s.Name)
		}
		d.states[s.Name] = &s
		d.order = append(d.order, s.Name)

		if s.Initial {
			if d.initial != "" {
				return nil, fmt.Errorf("%w: workflow %s: states %q and %q are both initial",
					ErrConfiguration, name, d.initial, s.Name)
			}
			d.initial = s.Name
		}
	}

	if d.initial == "" {
		return nil, fmt.Errorf("%w: workflow %s: no initial state", ErrConfiguration, name)
	}

	if d.errorState != "" {
		if _, ok := d.states[d.errorState]; !ok {
			return nil, fmt.Errorf("%w: workflow %s: error state %q is not declared",
				ErrConfiguration, name, d.errorState)
		}
	}

	for _, s := range d.states {
		if s.ErrorState != "" {
			if _, ok := d.states[s.ErrorState]; !ok {
				return nil, fmt.Errorf("%w: workflow %s: state %s: error state %q is not declared",
					ErrConfiguration, name, s.Name, s.ErrorState)
			}
		}
		if s.Timeout > 0 && s.ErrorState == "" && d.errorState == "" {
			return nil, fmt.Errorf("%w: workflow %s: state %s declares a timeout without an error state",
				ErrConfiguration, name, s.Name)
		}
	}

	for i := range transitions {
		t := transitions[i]
		if t.Trigger == "" && !t.Auto {
			return nil, fmt.Errorf("%w: workflow %s: transition to %q has no trigger", ErrConfiguration, name, t.Dest)
		}
		if len(t.Sources) == 0 {
			return nil, fmt.Errorf("%w: workflow %s: transition %s has no source states", ErrConfiguration, name, t.Trigger)
		}
		for _, src := range t.Sources {
			if _, ok := d.states[src]; !ok {
				return nil, fmt.Errorf("%w: workflow %s: transition %s: source %q is not declared",
					ErrConfiguration, name, t.Trigger, src)
			}
		}
		if _, ok := d.states[t.Dest]; !ok {
			return nil, fmt.Errorf("%w: workflow %s: transition %s: destination %q is not declared",
				ErrConfiguration, name, t.Trigger, t.Dest)
		}
		if t.ErrorState != "" {
			if _, ok := d.states[t.ErrorState]; !ok {
				return nil, fmt.Errorf("%w: workflow %s: transition %s: error state %q is not declared",
					ErrConfiguration, name, t.Trigger, t.ErrorState)
			}
		}
		if t.Timeout > 0 && t.ErrorState == "" && d.errorState == "" {
			return nil, fmt.Errorf("%w: workflow %s: transition %s declares a timeout without an error state",
				ErrConfiguration, name, t.Trigger)
		}
		d.transitions = append(d.transitions, &t)
	}

	return d, nil
}

// Name returns the workflow name
func (d *Definition) Name() string { return d.name }

// Version returns the definition version
func (d *Definition) Version() int { return d.version }

// InitialState returns the name of the single initial state
func (d *Definition) InitialState() string { return d.initial }

// ErrorState returns the workflow-wide fallback error state, if any
func (d *Definition) ErrorState() string { return d.errorState }

// MaxRetries returns the default before-hook retry budget
func (d *Definition) MaxRetries() int { return d.maxRetries }

// HistoryLimit returns the per-instance audit retention cap
func (d *Definition) HistoryLimit() int { return d.historyLimit }

// Notification returns the notification fan-out configuration
func (d *Definition) Notification() NotificationConfig { return d.notification }

// SubWorkflows returns attached nested definitions
func (d *Definition) SubWorkflows() []*Definition {
	return append([]*Definition(nil), d.subWorkflows...)
}

// GetState returns the named state
func (d *Definition) GetState(name string) (*State, bool) {
	s, ok := d.states[name]
	return s, ok
}

// States returns all states in declaration order
func (d *Definition) States() []*State {
	out := make([]*State, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.states[name])
	}
	return out
}

// Transitions returns all transitions in declaration order
func (d *Definition) Transitions() []*Transition {
	return append([]*Transition(nil), d.transitions...)
}

// IsTerminal returns true if the named state is final
func (d *Definition) IsTerminal(name string) bool {
	s, ok := d.states[name]
	return ok && s.Final
}

// AvailableTransitions returns transitions departing from the given state,
// sorted by descending priority with ties broken by declaration order. The
// order is deterministic across calls.
func (d *Definition) AvailableTransitions(current string) []*Transition {
	var out []*Transition
	for _, t := range d.transitions {
		if t.HasSource(current) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}

// TimedStates returns states that declare a timeout, in declaration order
func (d *Definition) TimedStates() []*State {
	var out []*State
	for _, name := range d.order {
		if d.states[name].Timeout > 0 {
			out = append(out, d.states[name])
		}
	}
	return out
}

// HandleTimeout resolves the escalation target for a timed-out state: the
// state's own error state, else the workflow's. An empty result means the
// timeout is unrecoverable and must be treated as fatal by the caller.
func (d *Definition) HandleTimeout(state string) (string, bool) {
	return d.resolveErrorState(state)
}

// HandleError resolves the recovery target after a transition failure,
// using the same fallback chain as HandleTimeout
func (d *Definition) HandleError(state string) (string, bool) {
	return d.resolveErrorState(state)
}

func (d *Definition) resolveErrorState(state string) (string, bool) {
	if s, ok := d.states[state]; ok && s.ErrorState != "" {
		return s.ErrorState, true
	}
	if d.errorState != "" {
		return d.errorState, true
	}
	return "", false
}
