package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/patchwork/internal/audit"
	"github.com/roach88/patchwork/internal/mutation"
	"github.com/roach88/patchwork/internal/schema"
	"github.com/roach88/patchwork/internal/store"
)

// Engine owns the trigger registry and sequences the commit pipeline.
// All registries are instance state; nothing here is process-global.
type Engine struct {
	cfg     Config
	db      store.Adapter
	schemas *schema.Registry
	audit   *audit.Logger

	// Triggers are kept in registration order. Registration order is the
	// evaluation order, and the audit trail depends on it being stable.
	enrichments []*mutation.Trigger
	cascades    map[string][]*mutation.Trigger
}

// New creates an Engine around a store adapter, a schema registry, and an
// audit logger.
func New(cfg Config, db store.Adapter, schemas *schema.Registry, auditLogger *audit.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		db:       db,
		schemas:  schemas,
		audit:    auditLogger,
		cascades: make(map[string][]*mutation.Trigger),
	}
}

// RegisterSchema registers an entity definition with both the schema
// registry and the store adapter.
func (e *Engine) RegisterSchema(key string, def schema.Definition) error {
	if err := e.db.RegisterSchema(key, def); err != nil {
		return err
	}
	e.schemas.Register(key, def)
	return nil
}

// Hook registers a trigger, routing it by type. Enrichment triggers are
// global; cascade triggers hook onto their schema key.
func (e *Engine) Hook(t *mutation.Trigger) error {
	if err := t.Validate(); err != nil {
		return err
	}
	switch t.Type {
	case mutation.TriggerEnrichment:
		e.enrichments = append(e.enrichments, t)
	case mutation.TriggerCascade:
		e.cascades[t.SchemaKey] = append(e.cascades[t.SchemaKey], t)
	}
	return nil
}

// HookEnrichment registers an enrichment trigger.
func (e *Engine) HookEnrichment(t *mutation.Trigger) error {
	t.Type = mutation.TriggerEnrichment
	return e.Hook(t)
}

// HookCascade registers a cascade trigger bound to schemaKey.
func (e *Engine) HookCascade(schemaKey string, t *mutation.Trigger) error {
	t.Type = mutation.TriggerCascade
	t.SchemaKey = schemaKey
	return e.Hook(t)
}

// CommitAction runs the full pipeline for one intent: populate old state,
// enrichment fixpoint, validation, persist, cascades, all inside one store
// transaction. On success the returned action is COMPLETED. On failure the
// returned error carries the deepest failing action; when the store
// classifies the failure as transient, the whole call is retried on a
// fresh transaction until the attempt limit runs out.
func (e *Engine) CommitAction(ctx context.Context, blank mutation.Blank) (*mutation.Action, error) {
	a, err := mutation.New(blank)
	if err != nil {
		return nil, err
	}

	for {
		err := e.runRoot(ctx, a)
		if err == nil {
			slog.Info("action committed",
				"action", a.ID,
				"type", string(a.Type),
				"schema", a.SchemaKey,
				"status", string(a.Status),
				"attempt", a.Attempt,
			)
			return a, nil
		}

		if e.db.IsTransientError(err) && a.Attempt < e.cfg.AttemptLimit {
			a.Attempt++
			slog.Warn("transient store failure, retrying action",
				"action", a.ID,
				"attempt", a.Attempt,
				"error", err,
			)
			continue
		}

		slog.Error("action failed",
			"action", a.ID,
			"type", string(a.Type),
			"schema", a.SchemaKey,
			"attempt", a.Attempt,
			"error", err,
		)
		return a, err
	}
}

// runRoot executes one attempt of the root action inside its own
// transaction. Only this level ever commits or rolls back.
func (e *Engine) runRoot(ctx context.Context, a *mutation.Action) error {
	tx, err := e.db.Begin(ctx)
	if err != nil {
		return e.failAction(ctx, a, fmt.Errorf("begin transaction: %w", err))
	}

	fired := map[string]bool{}
	if err := e.commit(ctx, a, a.Depth, fired, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("rollback failed", "action", a.ID, "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return e.failAction(ctx, a, fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// commit runs the pipeline stages for a single action and recursively
// commits its cascade children. The fired set is shared by reference
// across the whole tree, so a cascade trigger fires at most once per
// transaction. On any failure the action is marked ERROR, its audit row
// refreshed, and the error propagated with the deepest failing action
// attached.
func (e *Engine) commit(ctx context.Context, a *mutation.Action, depth int, fired map[string]bool, tx store.Tx) (err error) {
	if a.Attempt == 0 && a.ID == "" {
		e.audit.LogAction(ctx, a)
	}

	defer func() {
		if err == nil {
			return
		}
		err = e.failAction(ctx, a, err)
	}()

	if err = e.populate(ctx, a, tx); err != nil {
		return err
	}
	if _, err = e.prepatch(ctx, a, 0, map[string]bool{}); err != nil {
		return err
	}
	if err = e.validate(ctx, a); err != nil {
		return err
	}
	if err = e.perform(ctx, a, tx); err != nil {
		return err
	}

	if a.Status == mutation.StatusPerformed {
		if err = e.cascade(ctx, a, depth, fired, tx); err != nil {
			return err
		}
	}

	a.Status = mutation.StatusCompleted
	if err = e.audit.UpdateAction(ctx, a); err != nil {
		return err
	}

	slog.Debug("action stage pipeline finished",
		"action", a.ID,
		"schema", a.SchemaKey,
		"status", string(a.Status),
		"depth", depth,
	)
	return nil
}

// failAction marks an action ERROR, refreshes its audit row, and wraps the
// error with the action unless a deeper action already claimed it.
func (e *Engine) failAction(ctx context.Context, a *mutation.Action, err error) error {
	a.Status = mutation.StatusError
	if uerr := e.audit.UpdateAction(ctx, a); uerr != nil {
		slog.Error("failed to persist error status", "action", a.ID, "error", uerr)
	}
	return wrapActionError(a, err)
}

// cascade evaluates the cascade triggers registered for the action's
// schema and recursively commits every child intent they produce,
// depth-first, inside the same transaction.
func (e *Engine) cascade(ctx context.Context, a *mutation.Action, depth int, fired map[string]bool, tx store.Tx) error {
	matched, err := e.filterTriggers(ctx, a, e.cascades[a.SchemaKey],
		e.cfg.SubactionDontRepeat, mutation.StageSubactionFiltering, depth, fired)
	if err != nil {
		return err
	}

	for _, t := range matched {
		var blanks []mutation.Blank
		err := e.runStage(ctx, a, mutation.StageSubactionGenerating, triggerPayload(t, depth), func() (mutation.Instance, error) {
			produced, err := t.Subactions(ctx, e.finder(tx), a, a.ResultInstance())
			if err != nil {
				return nil, &TriggerError{Key: t.Key, Phase: PhaseEffect, Err: err}
			}
			blanks = produced
			return mutation.Instance{"subactions": len(produced)}, nil
		})
		if err != nil {
			return err
		}
		fired[t.Key] = true

		for _, b := range blanks {
			b.TriggerKey = t.Key
			b.Parent = a.ID
			b.RootParent = a.RootParent
			if b.RootParent == "" {
				b.RootParent = a.ID
			}
			b.Depth = depth + 1

			child, err := mutation.New(b)
			if err != nil {
				return err
			}
			if err := e.commit(ctx, child, depth+1, fired, tx); err != nil {
				return err
			}
		}
	}
	return nil
}

// filterTriggers evaluates candidate triggers in registration order, one
// at a time, logging every condition result under the given stage. A
// trigger already in the fired set is skipped silently when dedup applies.
// The first condition failure aborts the whole pipeline.
func (e *Engine) filterTriggers(
	ctx context.Context,
	a *mutation.Action,
	triggers []*mutation.Trigger,
	dontRepeat bool,
	stage mutation.Stage,
	depth int,
	fired map[string]bool,
) ([]*mutation.Trigger, error) {
	var matched []*mutation.Trigger
	for _, t := range triggers {
		if dontRepeat && fired[t.Key] {
			continue
		}

		var holds bool
		err := e.runStage(ctx, a, stage, triggerPayload(t, depth), func() (mutation.Instance, error) {
			ok, err := t.Condition.Eval(ctx, a)
			if err != nil {
				return nil, &TriggerError{Key: t.Key, Phase: PhaseCondition, Err: err}
			}
			holds = ok
			return mutation.Instance{"conditionResult": ok}, nil
		})
		if err != nil {
			return nil, err
		}
		if holds {
			matched = append(matched, t)
		}
	}
	return matched, nil
}

// runStage applies the uniform log-then-rethrow protocol around one stage
// invocation: failure writes an error event and propagates, success writes
// a success event with the stage's output payload.
func (e *Engine) runStage(
	ctx context.Context,
	a *mutation.Action,
	stage mutation.Stage,
	in mutation.Instance,
	fn func() (mutation.Instance, error),
) error {
	out, err := fn()
	if err != nil {
		e.audit.LogError(ctx, a.ID, a.Attempt, stage, in, err)
		return err
	}
	e.audit.LogSuccess(ctx, a.ID, a.Attempt, stage, in, out)
	return nil
}

func triggerPayload(t *mutation.Trigger, depth int) mutation.Instance {
	return mutation.Instance{
		"trigger": t.Key,
		"v":       t.V,
		"depth":   depth,
	}
}

// txFinder exposes reads bound to the pipeline transaction to cascade
// effects without handing them the transaction itself.
type txFinder struct {
	db store.Adapter
	tx store.Tx
}

func (f txFinder) FindOne(ctx context.Context, schemaKey string, filter mutation.Instance) (mutation.Instance, error) {
	return f.db.FindOne(ctx, schemaKey, filter, f.tx)
}

func (f txFinder) Find(ctx context.Context, schemaKey string, filter mutation.Instance) ([]mutation.Instance, error) {
	return f.db.Find(ctx, schemaKey, filter, f.tx)
}

func (e *Engine) finder(tx store.Tx) mutation.Finder {
	return txFinder{db: e.db, tx: tx}
}
