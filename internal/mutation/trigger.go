package mutation

import (
	"context"
	"fmt"
)

// TriggerType distinguishes the two rule families.
type TriggerType string

const (
	// TriggerEnrichment rules run before validation and may patch the
	// working diff. They are global: every action is a candidate.
	TriggerEnrichment TriggerType = "ENRICHMENT"

	// TriggerCascade rules run after a successful, non-skipped persist
	// and may spawn child intents. They are bound to one schema key.
	TriggerCascade TriggerType = "CASCADE"
)

// Condition decides whether a trigger fires for an action.
// The two implementations mirror the two declarative forms a rule may
// take: an attribute watch list or an arbitrary predicate.
type Condition interface {
	Eval(ctx context.Context, a *Action) (bool, error)
}

// WatchedFields fires when any of the named attributes is present in the
// action's current effective diff.
type WatchedFields []string

// Eval implements Condition.
func (w WatchedFields) Eval(_ context.Context, a *Action) (bool, error) {
	diff := a.EffectiveDiff()
	for _, key := range w {
		if _, ok := diff[key]; ok {
			return true, nil
		}
	}
	return false, nil
}

// Predicate adapts an arbitrary function to Condition.
type Predicate func(ctx context.Context, a *Action) (bool, error)

// Eval implements Condition.
func (p Predicate) Eval(ctx context.Context, a *Action) (bool, error) {
	return p(ctx, a)
}

// PatchFunc produces a partial patch for an enrichment trigger. It receives
// the action and its freshest merged instance and returns the fields to
// fold into the working diff. Returning an empty patch is valid.
type PatchFunc func(ctx context.Context, a *Action, current Instance) (Instance, error)

// SubactionsFunc produces child intents for a cascade trigger. It receives
// the action, the persisted result instance, and a Finder bound to the
// pipeline's transaction. Returning nil means no children.
type SubactionsFunc func(ctx context.Context, find Finder, a *Action, instance Instance) ([]Blank, error)

// Trigger is one declarative rule. The Key must be unique within its
// (type, schemaKey) scope; it is used for audit correlation and to stop a
// rule from firing twice where the engine's dedup policy applies. V is a
// version tag carried into audit payloads only.
type Trigger struct {
	Key       string
	V         int
	Type      TriggerType
	SchemaKey string
	Condition Condition

	// Exactly one effect is set, matching Type.
	Patch      PatchFunc
	Subactions SubactionsFunc
}

// Validate checks the trigger's structural invariants before registration.
func (t *Trigger) Validate() error {
	if t.Key == "" {
		return fmt.Errorf("trigger key is required")
	}
	if t.Condition == nil {
		return fmt.Errorf("trigger %q: condition is required", t.Key)
	}
	switch t.Type {
	case TriggerEnrichment:
		if t.SchemaKey != "" {
			return fmt.Errorf("trigger %q: schemaKey must be empty for enrichment triggers", t.Key)
		}
		if t.Patch == nil {
			return fmt.Errorf("trigger %q: patch effect is required for enrichment triggers", t.Key)
		}
		if t.Subactions != nil {
			return fmt.Errorf("trigger %q: subactions effect is not allowed for enrichment triggers", t.Key)
		}
	case TriggerCascade:
		if t.SchemaKey == "" {
			return fmt.Errorf("trigger %q: schemaKey is required for cascade triggers", t.Key)
		}
		if t.Subactions == nil {
			return fmt.Errorf("trigger %q: subactions effect is required for cascade triggers", t.Key)
		}
		if t.Patch != nil {
			return fmt.Errorf("trigger %q: patch effect is not allowed for cascade triggers", t.Key)
		}
	default:
		return fmt.Errorf("trigger %q: unknown type %q", t.Key, string(t.Type))
	}
	return nil
}
