package entity

import "time"

// Instance is the workflow-state component carried by a business entity.
// CurrentState and Version are mutated only through the engine; Fields is a
// read-only snapshot of entity attributes exposed to conditions and
// validators.
type Instance struct {
	ID               string         `json:"id"`
	ModelType        string         `json:"model_type"`
	Workflow         string         `json:"workflow"`
	CurrentState     string         `json:"current_state"`
	Version          int64          `json:"version"`
	LastTransitionAt time.Time      `json:"last_transition_at"`
	Fields           map[string]any `json:"fields,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// NewInstance creates an instance positioned at the workflow's initial state
func NewInstance(id, modelType, workflowName, initialState string) *Instance {
	now := time.Now()
	return &Instance{
		ID:               id,
		ModelType:        modelType,
		Workflow:         workflowName,
		CurrentState:     initialState,
		Version:          1,
		LastTransitionAt: now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Field returns a named entity attribute, if present
func (i *Instance) Field(name string) (any, bool) {
	if i.Fields == nil {
		return nil, false
	}
	v, ok := i.Fields[name]
	return v, ok
}
