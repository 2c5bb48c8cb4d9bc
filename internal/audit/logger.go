// Package audit persists the append-only trail of every pipeline
// execution: one row per action plus one immutable event per stage
// outcome. The trail is the engine's primary observability surface; losing
// an event must never block the pipeline, so every write except the
// action-row update is best-effort with a fallback report.
package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/patchwork/internal/mutation"
	"github.com/roach88/patchwork/internal/store"
)

// Logger writes audit rows through a store adapter. The adapter is
// typically separate from the domain store connection and is never handed
// the pipeline transaction; the trail stays visible after a rollback.
type Logger struct {
	db  store.Adapter
	ids IDGenerator
}

// NewLogger creates a Logger and registers the audit schemas on the
// adapter.
func NewLogger(db store.Adapter, ids IDGenerator) (*Logger, error) {
	if ids == nil {
		ids = UUIDv7Generator{}
	}
	if err := db.RegisterSchema(ActionSchemaKey, ActionDefinition()); err != nil {
		return nil, fmt.Errorf("audit: register action schema: %w", err)
	}
	if err := db.RegisterSchema(EventSchemaKey, EventDefinition()); err != nil {
		return nil, fmt.Errorf("audit: register event schema: %w", err)
	}
	return &Logger{db: db, ids: ids}, nil
}

// LogAction persists the action's initial row and back-fills the generated
// id onto the in-memory record. A write failure is reported and swallowed:
// losing the audit row must not block the primary pipeline.
func (l *Logger) LogAction(ctx context.Context, a *mutation.Action) {
	if a.ID == "" {
		a.ID = l.ids.Generate()
	}
	if _, err := l.db.Insert(ctx, ActionSchemaKey, actionRow(a), nil); err != nil {
		slog.Error("audit: failed to write action row",
			"action", a.ID,
			"schema", a.SchemaKey,
			"error", err,
		)
	}
}

// UpdateAction persists the action's current field set. This is the one
// audit write whose failure is fatal: it means the authoritative trail no
// longer reflects the action's state. The failure is itself recorded as an
// ACTION_UPDATING error event before being returned.
func (l *Logger) UpdateAction(ctx context.Context, a *mutation.Action) error {
	row := actionRow(a)
	delete(row, "id")
	if _, err := l.db.Update(ctx, ActionSchemaKey, a.ID, row, nil); err != nil {
		l.LogError(ctx, a.ID, a.Attempt, mutation.StageActionUpdating,
			mutation.Instance{"action": map[string]any(actionRow(a))}, err)
		return fmt.Errorf("audit: update action %s: %w", a.ID, err)
	}
	return nil
}

// LogSuccess records a success event for one stage outcome. Failures to
// write the event are reported and swallowed.
func (l *Logger) LogSuccess(ctx context.Context, actionID string, attempt int, stage mutation.Stage, in, out mutation.Instance) {
	l.insertEvent(ctx, mutation.NewSuccessEvent(actionID, attempt, stage, in, out))
}

// LogError records an error event for one stage outcome. Failures to write
// the event are reported and swallowed, so an audit-sink outage never
// masks the primary error being logged.
func (l *Logger) LogError(ctx context.Context, actionID string, attempt int, stage mutation.Stage, in mutation.Instance, cause error) {
	l.insertEvent(ctx, mutation.NewErrorEvent(actionID, attempt, stage, in, cause))
}

func (l *Logger) insertEvent(ctx context.Context, e mutation.Event) {
	if e.ID == "" {
		e.ID = l.ids.Generate()
	}
	if _, err := l.db.Insert(ctx, EventSchemaKey, eventRow(e), nil); err != nil {
		slog.Error("audit: failed to write event row",
			"action", e.ActionID,
			"stage", string(e.Stage),
			"is_error", e.IsError,
			"error", err,
		)
	}
}
