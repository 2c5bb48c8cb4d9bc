package mutation

import (
	"errors"
	"fmt"
)

// Type identifies the kind of mutation an Action performs.
type Type string

const (
	TypeInsert Type = "INSERT"
	TypeUpdate Type = "UPDATE"
	TypeUpsert Type = "UPSERT"
)

// Status is the lifecycle state of an Action.
//
// Transitions:
//
//	PENDING → SKIPPED   (perform found an empty diff; a no-op is valid)
//	PENDING → PERFORMED (perform wrote data)
//	SKIPPED | PERFORMED → COMPLETED
//	any → ERROR
//
// COMPLETED and ERROR are terminal.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSkipped   Status = "SKIPPED"
	StatusPerformed Status = "PERFORMED"
	StatusCompleted Status = "COMPLETED"
	StatusError     Status = "ERROR"
)

// Blank is the caller-supplied intent an Action is built from.
//
// TriggerKey, Parent, RootParent, and Depth are stamped by the engine when
// a cascade trigger spawns the blank; external callers leave them zero.
// Engine-computed Action fields (id, dataOld, diffs, result, status) cannot
// be expressed on a Blank at all, which keeps them empty by construction.
type Blank struct {
	Type           Type
	SchemaKey      string
	InstanceID     int64    // UPDATE only
	InstanceFilter Instance // UPSERT only
	Data           Instance

	// Opaque caller annotations, carried through untouched.
	MetaKey  string
	MetaData Instance

	// Cascade position, set by the engine.
	TriggerKey string
	Parent     string
	RootParent string
	Depth      int
}

// Action is one in-flight mutation attempt and its accumulated state as it
// moves through the pipeline. Fields beyond the original Blank are written
// exclusively by the engine's stage methods; every write is mirrored into
// the audit trail.
type Action struct {
	ID        string
	Type      Type
	SchemaKey string

	InstanceID     int64
	InstanceFilter Instance

	// Data is the caller's candidate fields, never rewritten.
	Data Instance

	// DataOld is the stored instance before the action (nil for INSERT).
	DataOld Instance

	// DataDiff is Data minus fields already equal to DataOld, per typed
	// equality. Set by the populate stage.
	DataDiff Instance

	// DataDiffPrepatched is the working diff after enrichment triggers
	// have folded their patches in. Nil until a trigger changes something.
	DataDiffPrepatched Instance

	// DataResult is the persisted row, DataResultID its identifier when
	// the store reported one. Set by the perform stage.
	DataResult   Instance
	DataResultID any

	Status Status

	// Cascade tree position. A root action has empty Parent/RootParent
	// and depth 0.
	TriggerKey string
	Parent     string
	RootParent string
	Depth      int

	// Attempt counts root-level retries after transient store failures.
	Attempt int

	MetaKey  string
	MetaData Instance
}

// BlankError reports a malformed intent detected while constructing an
// Action. It is raised synchronously and never logged as an audit event,
// since no action identity exists yet.
type BlankError struct {
	Field  string
	Reason string
}

func (e *BlankError) Error() string {
	return fmt.Sprintf("action blank: %s %s", e.Field, e.Reason)
}

// IsBlankError reports whether err is a malformed-intent error.
func IsBlankError(err error) bool {
	var be *BlankError
	return errors.As(err, &be)
}

func blankErr(field, reason string) error {
	return &BlankError{Field: field, Reason: reason}
}

// New builds a PENDING Action from a Blank, enforcing the per-type
// invariants:
//
//	INSERT forbids instanceId and instanceFilter
//	UPDATE requires instanceId, forbids instanceFilter
//	UPSERT requires an instanceFilter, forbids instanceId
func New(b Blank) (*Action, error) {
	if b.SchemaKey == "" {
		return nil, blankErr("schemaKey", "is required")
	}
	if b.Data == nil {
		return nil, blankErr("data", "is required")
	}

	switch b.Type {
	case TypeInsert:
		if b.InstanceID != 0 {
			return nil, blankErr("instanceId", "must be empty for INSERT")
		}
		if b.InstanceFilter != nil {
			return nil, blankErr("instanceFilter", "must be empty for INSERT")
		}
	case TypeUpdate:
		if b.InstanceID == 0 {
			return nil, blankErr("instanceId", "is required for UPDATE")
		}
		if b.InstanceFilter != nil {
			return nil, blankErr("instanceFilter", "must be empty for UPDATE")
		}
	case TypeUpsert:
		if b.InstanceID != 0 {
			return nil, blankErr("instanceId", "must be empty for UPSERT")
		}
		if len(b.InstanceFilter) == 0 {
			return nil, blankErr("instanceFilter", "is required for UPSERT")
		}
	default:
		return nil, blankErr("type", fmt.Sprintf("has inappropriate value %q", string(b.Type)))
	}

	return &Action{
		Type:           b.Type,
		SchemaKey:      b.SchemaKey,
		InstanceID:     b.InstanceID,
		InstanceFilter: b.InstanceFilter,
		Data:           b.Data,
		Status:         StatusPending,
		TriggerKey:     b.TriggerKey,
		Parent:         b.Parent,
		RootParent:     b.RootParent,
		Depth:          b.Depth,
		MetaKey:        b.MetaKey,
		MetaData:       b.MetaData,
	}, nil
}

// BaseDiff is the pre-enrichment diff: the full candidate data for INSERT
// (there is nothing to diff against), the populated DataDiff otherwise.
func (a *Action) BaseDiff() Instance {
	if a.Type == TypeInsert {
		return a.Data
	}
	return a.DataDiff
}

// EffectiveDiff is the freshest diff: the prepatched diff once enrichment
// has run, else a copy of the base diff.
func (a *Action) EffectiveDiff() Instance {
	if a.DataDiffPrepatched != nil {
		return a.DataDiffPrepatched
	}
	return a.BaseDiff().Clone()
}

// Merged is the freshest full instance: the stored state overlaid with the
// effective diff. For INSERT the effective diff is the whole instance.
func (a *Action) Merged() Instance {
	if a.Type == TypeInsert {
		return a.EffectiveDiff()
	}
	return Merge(a.DataOld, a.EffectiveDiff())
}

// ResultInstance is the best known post-persist value set: the stored
// result when perform wrote one, else the merged candidate.
func (a *Action) ResultInstance() Instance {
	if a.DataResult != nil {
		return a.DataResult
	}
	return a.Merged()
}

// Terminal reports whether the action has reached a final status.
func (a *Action) Terminal() bool {
	return a.Status == StatusCompleted || a.Status == StatusError
}
