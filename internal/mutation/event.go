package mutation

import "runtime/debug"

// Stage identifies which step of the pipeline an audit event belongs to.
type Stage string

const (
	StagePopulating          Stage = "POPULATING"
	StagePrepatchChecking    Stage = "PREPATCH_CHECKING"
	StagePrepatchPerforming  Stage = "PREPATCH_PERFORMING"
	StageValidation          Stage = "VALIDATION"
	StagePerforming          Stage = "PERFORMING"
	StageSubactionFiltering  Stage = "SUBACTION_FILTERING"
	StageSubactionGenerating Stage = "SUBACTION_GENERATING"

	// StageActionUpdating marks a failure to persist the action's own
	// audit row. It is the one audit failure treated as fatal.
	StageActionUpdating Stage = "ACTION_UPDATING"
)

// Event is one immutable audit record: the outcome, success or error, of a
// single pipeline stage for one action attempt. Events are created once,
// never mutated, never deleted.
type Event struct {
	ID       string
	ActionID string
	Attempt  int
	Stage    Stage
	IsError  bool
	InData   Instance
	OutData  Instance

	ErrorMessage string
	ErrorStack   string
}

// detailer lets error types contribute structured detail to their audit
// event (e.g. a validator's failure list).
type detailer interface {
	Details() Instance
}

// NewSuccessEvent builds a success record for one stage outcome.
func NewSuccessEvent(actionID string, attempt int, stage Stage, in, out Instance) Event {
	return Event{
		ActionID: actionID,
		Attempt:  attempt,
		Stage:    stage,
		IsError:  false,
		InData:   in,
		OutData:  out,
	}
}

// NewErrorEvent builds an error record for one stage outcome, capturing the
// error message, a stack snapshot, and any structured detail the error
// carries.
func NewErrorEvent(actionID string, attempt int, stage Stage, in Instance, err error) Event {
	out := Instance{}
	if d, ok := err.(detailer); ok {
		out = d.Details()
	}
	return Event{
		ActionID:     actionID,
		Attempt:      attempt,
		Stage:        stage,
		IsError:      true,
		InData:       in,
		OutData:      out,
		ErrorMessage: err.Error(),
		ErrorStack:   string(debug.Stack()),
	}
}
