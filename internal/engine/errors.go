package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/patchwork/internal/mutation"
)

// TriggerPhase distinguishes which half of a trigger raised.
type TriggerPhase string

const (
	// PhaseCondition marks a failure evaluating a trigger's predicate.
	PhaseCondition TriggerPhase = "condition"
	// PhaseEffect marks a failure running a trigger's patch or
	// child-intent producer.
	PhaseEffect TriggerPhase = "effect"
)

// TriggerError reports a rule whose condition or effect raised. The
// pipeline aborts on the first such failure.
type TriggerError struct {
	Key   string
	Phase TriggerPhase
	Err   error
}

func (e *TriggerError) Error() string {
	return fmt.Sprintf("trigger %q: %s failed: %v", e.Key, e.Phase, e.Err)
}

func (e *TriggerError) Unwrap() error { return e.Err }

// IsTriggerError reports whether err originated in a trigger's condition
// or effect.
func IsTriggerError(err error) bool {
	var te *TriggerError
	return errors.As(err, &te)
}

// ActionError decorates a pipeline failure with the action that failed,
// so callers can inspect which mutation in the tree broke and at what
// state. The deepest failing action wins: ancestors propagate the original
// wrapping untouched.
type ActionError struct {
	Action *mutation.Action
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %s (%s %s): %v", e.Action.ID, e.Action.Type, e.Action.SchemaKey, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// FailingAction extracts the failing action from an error returned by
// CommitAction, or nil when the error predates action construction.
func FailingAction(err error) *mutation.Action {
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Action
	}
	return nil
}

func wrapActionError(a *mutation.Action, err error) error {
	var ae *ActionError
	if errors.As(err, &ae) {
		return err
	}
	return &ActionError{Action: a, Err: err}
}
