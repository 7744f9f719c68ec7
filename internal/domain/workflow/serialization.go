package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Document is the portable, serializable form of a workflow definition.
// Conditions serialize structurally; validators and hooks serialize by
// registered name and are resolved on import.
type Document struct {
	Name         string          `yaml:"name" json:"name"`
	Version      int             `yaml:"version" json:"version"`
	ErrorState   string          `yaml:"error_state,omitempty" json:"error_state,omitempty"`
	MaxRetries   int             `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	HistoryLimit int             `yaml:"history_limit,omitempty" json:"history_limit,omitempty"`
	Notification NotificationDoc `yaml:"notification,omitempty" json:"notification,omitempty"`
	States       []StateDoc      `yaml:"states" json:"states"`
	Transitions  []TransitionDoc `yaml:"transitions" json:"transitions"`
	SubWorkflows []Document      `yaml:"sub_workflows,omitempty" json:"sub_workflows,omitempty"`
}

// NotificationDoc is the serialized notification configuration
type NotificationDoc struct {
	Channels   []string            `yaml:"channels,omitempty" json:"channels,omitempty"`
	Recipients map[string][]string `yaml:"recipients,omitempty" json:"recipients,omitempty"`
}

// StateDoc is the serialized form of a state
type StateDoc struct {
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Metadata    map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	Initial     bool              `yaml:"initial,omitempty" json:"initial,omitempty"`
	Final       bool              `yaml:"final,omitempty" json:"final,omitempty"`
	Restricted  bool              `yaml:"restricted,omitempty" json:"restricted,omitempty"`
	Roles       []string          `yaml:"roles,omitempty" json:"roles,omitempty"`
	Validators  []string          `yaml:"validators,omitempty" json:"validators,omitempty"`
	Timeout     string            `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	ErrorState  string            `yaml:"error_state,omitempty" json:"error_state,omitempty"`
}

// TransitionDoc is the serialized form of a transition
type TransitionDoc struct {
	Trigger      string         `yaml:"trigger,omitempty" json:"trigger,omitempty"`
	Sources      []string       `yaml:"sources" json:"sources"`
	Dest         string         `yaml:"dest" json:"dest"`
	Priority     int            `yaml:"priority,omitempty" json:"priority,omitempty"`
	Roles        []string       `yaml:"roles,omitempty" json:"roles,omitempty"`
	Auto         bool           `yaml:"auto,omitempty" json:"auto,omitempty"`
	Rollback     bool           `yaml:"rollback,omitempty" json:"rollback,omitempty"`
	SyncDispatch bool           `yaml:"sync_dispatch,omitempty" json:"sync_dispatch,omitempty"`
	Timeout      string         `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	ErrorState   string         `yaml:"error_state,omitempty" json:"error_state,omitempty"`
	Retry        *RetryDoc      `yaml:"retry,omitempty" json:"retry,omitempty"`
	Conditions   []ConditionDoc `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	Before       []string       `yaml:"before,omitempty" json:"before,omitempty"`
	After        []string       `yaml:"after,omitempty" json:"after,omitempty"`
}

// RetryDoc is the serialized form of a retry policy
type RetryDoc struct {
	MaxAttempts   int     `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay     string  `yaml:"base_delay,omitempty" json:"base_delay,omitempty"`
	BackoffFactor float64 `yaml:"backoff_factor,omitempty" json:"backoff_factor,omitempty"`
	MaxDelay      string  `yaml:"max_delay,omitempty" json:"max_delay,omitempty"`
}

// Condition type discriminators used in serialized documents
const (
	ConditionEquals      = "equals"
	ConditionGreaterThan = "greater_than"
	ConditionMatches     = "matches"
	ConditionCheck       = "check"
)

// ConditionDoc is the serialized form of a typed condition
type ConditionDoc struct {
	Type    string  `yaml:"type" json:"type"`
	Field   string  `yaml:"field,omitempty" json:"field,omitempty"`
	Value   string  `yaml:"value,omitempty" json:"value,omitempty"`
	Number  float64 `yaml:"number,omitempty" json:"number,omitempty"`
	Pattern string  `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Name    string  `yaml:"name,omitempty" json:"name,omitempty"`
}

// Resolver supplies registered validators, checks and hooks when importing
// a serialized document
type Resolver struct {
	Checks     *CheckRegistry
	Hooks      *HookRegistry
	Validators map[string]Validator
}

// Export converts a definition into its portable document form
func Export(d *Definition) Document {
	doc := Document{
		Name:         d.Name(),
		Version:      d.Version(),
		ErrorState:   d.ErrorState(),
		MaxRetries:   d.MaxRetries(),
		HistoryLimit: d.HistoryLimit(),
		Notification: NotificationDoc{
			Channels:   d.Notification().Channels,
			Recipients: d.Notification().Recipients,
		},
	}

	for _, s := range d.States() {
		sd := StateDoc{
			Name:        s.Name,
			Description: s.Description,
			Metadata:    s.Metadata,
			Initial:     s.Initial,
			Final:       s.Final,
			Restricted:  s.Restricted,
			Roles:       s.RequiredRoles,
			ErrorState:  s.ErrorState,
		}
		if s.Timeout > 0 {
			sd.Timeout = s.Timeout.String()
		}
		for _, v := range s.Validators {
			sd.Validators = append(sd.Validators, v.Name())
		}
		doc.States = append(doc.States, sd)
	}

	for _, t := range d.Transitions() {
		td := TransitionDoc{
			Trigger:      t.Trigger,
			Sources:      t.Sources,
			Dest:         t.Dest,
			Priority:     t.Priority,
			Roles:        t.RequiredRoles,
			Auto:         t.Auto,
			Rollback:     t.Rollback,
			SyncDispatch: t.SyncDispatch,
			ErrorState:   t.ErrorState,
		}
		if t.Timeout > 0 {
			td.Timeout = t.Timeout.String()
		}
		if t.Retry != nil {
			td.Retry = &RetryDoc{
				MaxAttempts:   t.Retry.MaxAttempts,
				BackoffFactor: t.Retry.BackoffFactor,
			}
			if t.Retry.BaseDelay > 0 {
				td.Retry.BaseDelay = t.Retry.BaseDelay.String()
			}
			if t.Retry.MaxDelay > 0 {
				td.Retry.MaxDelay = t.Retry.MaxDelay.String()
			}
		}
		for _, c := range t.Conditions {
			cd, err := exportCondition(c)
			if err == nil {
				td.Conditions = append(td.Conditions, cd)
			}
		}
		for _, h := range t.Before {
			td.Before = append(td.Before, h.Name())
		}
		for _, h := range t.After {
			td.After = append(td.After, h.Name())
		}
		doc.Transitions = append(doc.Transitions, td)
	}

	for _, sub := range d.SubWorkflows() {
		doc.SubWorkflows = append(doc.SubWorkflows, Export(sub))
	}

	return doc
}

// Import builds a validated definition from a document. Named validators,
// checks and hooks are resolved through the resolver; an unknown name is a
// configuration error.
func Import(doc Document, res Resolver) (*Definition, error) {
	states := make([]State, 0, len(doc.States))
	for _, sd := range doc.States {
		s := State{
			Name:          sd.Name,
			Description:   sd.Description,
			Metadata:      sd.Metadata,
			Initial:       sd.Initial,
			Final:         sd.Final,
			Restricted:    sd.Restricted,
			RequiredRoles: sd.Roles,
			ErrorState:    sd.ErrorState,
		}
		if sd.Timeout != "" {
			d, err := time.ParseDuration(sd.Timeout)
			if err != nil {
				return nil, fmt.Errorf("%w: state %s: bad timeout %q: %v", ErrConfiguration, sd.Name, sd.Timeout, err)
			}
			s.Timeout = d
		}
		for _, name := range sd.Validators {
			v, ok := res.Validators[name]
			if !ok {
				return nil, fmt.Errorf("%w: state %s: unregistered validator %q", ErrConfiguration, sd.Name, name)
			}
			s.Validators = append(s.Validators, v)
		}
		states = append(states, s)
	}

	transitions := make([]Transition, 0, len(doc.Transitions))
	for _, td := range doc.Transitions {
		t := Transition{
			Trigger:       td.Trigger,
			Sources:       td.Sources,
			Dest:          td.Dest,
			Priority:      td.Priority,
			RequiredRoles: td.Roles,
			Auto:          td.Auto,
			Rollback:      td.Rollback,
			SyncDispatch:  td.SyncDispatch,
			ErrorState:    td.ErrorState,
		}
		if td.Timeout != "" {
			d, err := time.ParseDuration(td.Timeout)
			if err != nil {
				return nil, fmt.Errorf("%w: transition %s: bad timeout %q: %v", ErrConfiguration, td.Trigger, td.Timeout, err)
			}
			t.Timeout = d
		}
		if td.Retry != nil {
			policy := RetryPolicy{
				MaxAttempts:   td.Retry.MaxAttempts,
				BackoffFactor: td.Retry.BackoffFactor,
			}
			if td.Retry.BaseDelay != "" {
				d, err := time.ParseDuration(td.Retry.BaseDelay)
				if err != nil {
					return nil, fmt.Errorf("%w: transition %s: bad retry delay %q: %v", ErrConfiguration, td.Trigger, td.Retry.BaseDelay, err)
				}
				policy.BaseDelay = d
			}
			if td.Retry.MaxDelay != "" {
				d, err := time.ParseDuration(td.Retry.MaxDelay)
				if err != nil {
					return nil, fmt.Errorf("%w: transition %s: bad retry cap %q: %v", ErrConfiguration, td.Trigger, td.Retry.MaxDelay, err)
				}
				policy.MaxDelay = d
			}
			t.Retry = &policy
		}
		for _, cd := range td.Conditions {
			c, err := importCondition(cd, res)
			if err != nil {
				return nil, fmt.Errorf("transition %s: %w", td.Trigger, err)
			}
			t.Conditions = append(t.Conditions, c)
		}
		for _, name := range td.Before {
			h, ok := res.Hooks.LookupBefore(name)
			if !ok {
				return nil, fmt.Errorf("%w: transition %s: unregistered before hook %q", ErrConfiguration, td.Trigger, name)
			}
			t.Before = append(t.Before, h)
		}
		for _, name := range td.After {
			h, ok := res.Hooks.LookupAfter(name)
			if !ok {
				return nil, fmt.Errorf("%w: transition %s: unregistered after hook %q", ErrConfiguration, td.Trigger, name)
			}
			t.After = append(t.After, h)
		}
		transitions = append(transitions, t)
	}

	opts := []Option{
		WithMaxRetries(doc.MaxRetries),
		WithHistoryLimit(doc.HistoryLimit),
		WithNotification(NotificationConfig{
			Channels:   doc.Notification.Channels,
			Recipients: doc.Notification.Recipients,
		}),
	}
	if doc.ErrorState != "" {
		opts = append(opts, WithErrorState(doc.ErrorState))
	}
	for _, subDoc := range doc.SubWorkflows {
		sub, err := Import(subDoc, res)
		if err != nil {
			return nil, fmt.Errorf("sub-workflow %s: %w", subDoc.Name, err)
		}
		opts = append(opts, WithSubWorkflow(sub))
	}

	return NewDefinition(doc.Name, doc.Version, states, transitions, opts...)
}

// MarshalYAML serializes a definition to YAML
func MarshalYAML(d *Definition) ([]byte, error) {
	return yaml.Marshal(Export(d))
}

// MarshalJSON serializes a definition to JSON
func MarshalJSON(d *Definition) ([]byte, error) {
	return json.Marshal(Export(d))
}

// LoadFile reads a YAML workflow definition from disk
func LoadFile(path string, res Resolver) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfiguration, path, err)
	}
	return Import(doc, res)
}

func exportCondition(c Condition) (ConditionDoc, error) {
	switch cond := c.(type) {
	case EqualsField:
		return ConditionDoc{Type: ConditionEquals, Field: cond.Field, Value: cond.Want}, nil
	case GreaterThan:
		return ConditionDoc{Type: ConditionGreaterThan, Field: cond.Field, Number: cond.Threshold}, nil
	case MatchesField:
		return ConditionDoc{Type: ConditionMatches, Field: cond.Field, Pattern: cond.Pattern.String()}, nil
	case RegisteredCheck:
		return ConditionDoc{Type: ConditionCheck, Name: cond.CheckName}, nil
	default:
		return ConditionDoc{}, fmt.Errorf("condition %s is not serializable", c.Describe())
	}
}

func importCondition(cd ConditionDoc, res Resolver) (Condition, error) {
	switch cd.Type {
	case ConditionEquals:
		return EqualsField{Field: cd.Field, Want: cd.Value}, nil
	case ConditionGreaterThan:
		return GreaterThan{Field: cd.Field, Threshold: cd.Number}, nil
	case ConditionMatches:
		re, err := regexp.Compile(cd.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: bad pattern %q: %v", ErrConfiguration, cd.Pattern, err)
		}
		return MatchesField{Field: cd.Field, Pattern: re}, nil
	case ConditionCheck:
		if _, ok := res.Checks.Lookup(cd.Name); !ok {
			return nil, fmt.Errorf("%w: unregistered check %q", ErrConfiguration, cd.Name)
		}
		return RegisteredCheck{CheckName: cd.Name, Registry: res.Checks}, nil
	default:
		return nil, fmt.Errorf("%w: unknown condition type %q", ErrConfiguration, cd.Type)
	}
}
