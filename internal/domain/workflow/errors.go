package workflow

import "errors"

var (
	// ErrConfiguration is returned when a workflow definition is malformed.
	// It is fatal at construction time; a definition that fails validation
	// is never usable.
	ErrConfiguration = errors.New("workflow configuration invalid")

	// ErrPermissionDenied is returned when the acting user holds none of the
	// roles required by the candidate transitions.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidTransition is returned when no eligible transition exists for
	// a trigger, or when a trigger is fired from a terminal state.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrValidation is returned when destination-state validators reject the
	// instance.
	ErrValidation = errors.New("state validation failed")

	// ErrConflict is returned when an optimistic-concurrency check fails
	// because another caller mutated the instance first.
	ErrConflict = errors.New("concurrent modification conflict")

	// ErrNotificationDelivery marks a channel failure after retries. It is
	// logged by the dispatcher and never surfaces to trigger callers.
	ErrNotificationDelivery = errors.New("notification delivery failed")

	// ErrData is returned for audit-trail violations, such as reverting to a
	// state the instance never visited.
	ErrData = errors.New("data error")

	// ErrAmbiguousAutoTransition is returned when more than one auto
	// transition qualifies simultaneously from the same state.
	ErrAmbiguousAutoTransition = errors.New("ambiguous auto transition")
)
