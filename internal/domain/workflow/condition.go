package workflow

import (
	"fmt"
	"regexp"

	"github.com/nyimbi/stateflow/internal/domain/entity"
)

// Condition is a typed transition guard evaluated against a read-only view
// of the instance and actor. The closed set of variants below replaces
// free-form expression strings; there is deliberately no open interpreter.
type Condition interface {
	// Describe returns a short human-readable form for exports and logs
	Describe() string

	// Evaluate reports whether the guard holds
	Evaluate(inst *entity.Instance, actor entity.Actor) (bool, error)
}

// EqualsField holds when the named instance field equals the expected value
// using string comparison
type EqualsField struct {
	Field string
	Want  string
}

// Describe returns the guard in "field == value" form
func (c EqualsField) Describe() string {
	return fmt.Sprintf("%s == %q", c.Field, c.Want)
}

// Evaluate reports whether the field equals the expected value. A missing
// field evaluates to false, not an error.
func (c EqualsField) Evaluate(inst *entity.Instance, _ entity.Actor) (bool, error) {
	v, ok := inst.Field(c.Field)
	if !ok {
		return false, nil
	}
	return fmt.Sprintf("%v", v) == c.Want, nil
}

// GreaterThan holds when the named numeric field exceeds the threshold
type GreaterThan struct {
	Field     string
	Threshold float64
}

// Describe returns the guard in "field > threshold" form
func (c GreaterThan) Describe() string {
	return fmt.Sprintf("%s > %g", c.Field, c.Threshold)
}

// Evaluate reports whether the field exceeds the threshold. A missing field
// evaluates to false; a non-numeric field is an error.
func (c GreaterThan) Evaluate(inst *entity.Instance, _ entity.Actor) (bool, error) {
	v, ok := inst.Field(c.Field)
	if !ok {
		return false, nil
	}
	n, err := toFloat(v)
	if err != nil {
		return false, fmt.Errorf("field %s: %w", c.Field, err)
	}
	return n > c.Threshold, nil
}

// MatchesField holds when the named field matches a compiled regular
// expression
type MatchesField struct {
	Field   string
	Pattern *regexp.Regexp
}

// Describe returns the guard in "field ~ pattern" form
func (c MatchesField) Describe() string {
	return fmt.Sprintf("%s ~ %s", c.Field, c.Pattern)
}

// Evaluate reports whether the field matches the pattern
func (c MatchesField) Evaluate(inst *entity.Instance, _ entity.Actor) (bool, error) {
	v, ok := inst.Field(c.Field)
	if !ok {
		return false, nil
	}
	return c.Pattern.MatchString(fmt.Sprintf("%v", v)), nil
}

// CheckFunc is a registered custom guard
type CheckFunc func(inst *entity.Instance, actor entity.Actor) (bool, error)

// CheckRegistry maps names to custom guards. It is populated at process
// start and read-only afterwards.
type CheckRegistry struct {
	checks map[string]CheckFunc
}

// NewCheckRegistry creates a registry from the given named checks
func NewCheckRegistry(checks map[string]CheckFunc) *CheckRegistry {
	copied := make(map[string]CheckFunc, len(checks))
	for name, fn := range checks {
		copied[name] = fn
	}
	return &CheckRegistry{checks: copied}
}

// Lookup returns the named check
func (r *CheckRegistry) Lookup(name string) (CheckFunc, bool) {
	if r == nil {
		return nil, false
	}
	fn, ok := r.checks[name]
	return fn, ok
}

// RegisteredCheck holds when a named check from the registry passes
type RegisteredCheck struct {
	CheckName string
	Registry  *CheckRegistry
}

// Describe returns the guard in "check(name)" form
func (c RegisteredCheck) Describe() string {
	return fmt.Sprintf("check(%s)", c.CheckName)
}

// Evaluate runs the registered check. An unregistered name is an error.
func (c RegisteredCheck) Evaluate(inst *entity.Instance, actor entity.Actor) (bool, error) {
	fn, ok := c.Registry.Lookup(c.CheckName)
	if !ok {
		return false, fmt.Errorf("%w: unregistered check %q", ErrConfiguration, c.CheckName)
	}
	return fn(inst, actor)
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("value %v is not numeric", v)
	}
}
