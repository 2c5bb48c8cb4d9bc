package engine

import (
	"context"

	"github.com/roach88/patchwork/internal/mutation"
	"github.com/roach88/patchwork/internal/schema"
	"github.com/roach88/patchwork/internal/store"
)

// populate loads the stored instance an UPDATE or UPSERT will mutate and
// narrows the candidate data down to the fields that actually differ, per
// typed equality. INSERT has no prior state and skips the stage entirely,
// with no audit event.
func (e *Engine) populate(ctx context.Context, a *mutation.Action, tx store.Tx) error {
	if a.Type == mutation.TypeInsert {
		return nil
	}

	in := mutation.Instance{"data": map[string]any(a.Data)}
	if a.InstanceID != 0 {
		in["instanceId"] = a.InstanceID
	}
	if a.InstanceFilter != nil {
		in["instanceFilter"] = map[string]any(a.InstanceFilter)
	}

	err := e.runStage(ctx, a, mutation.StagePopulating, in, func() (mutation.Instance, error) {
		def, err := e.schemas.Get(a.SchemaKey)
		if err != nil {
			return nil, err
		}

		var filter mutation.Instance
		if a.Type == mutation.TypeUpdate {
			filter = mutation.Instance{"id": a.InstanceID}
		} else {
			filter = a.InstanceFilter
		}

		old, err := e.db.FindOne(ctx, a.SchemaKey, filter, tx)
		if err != nil {
			if a.Type == mutation.TypeUpsert && store.IsNotFound(err) {
				// No prior instance: the upsert will insert, there is
				// nothing to diff against.
				old = mutation.Instance{}
			} else {
				return nil, err
			}
		}

		a.DataOld = old
		a.DataDiff = schema.Diff(a.Data, old, def)
		return mutation.Instance{
			"dataOld":  map[string]any(a.DataOld),
			"dataDiff": map[string]any(a.DataDiff),
		}, nil
	})
	if err != nil {
		return err
	}
	return e.audit.UpdateAction(ctx, a)
}

// prepatch runs the enrichment fixpoint. Each pass evaluates every
// enrichment trigger not yet fired in this pass's set, applies the
// patches of the ones whose conditions hold, and recurses with a copied
// fired set while anything changed and the depth allows. Triggers fire at
// most once per pass lineage; the recursion's copied set is what lets a
// later pass re-run a trigger whose inputs another trigger changed.
func (e *Engine) prepatch(ctx context.Context, a *mutation.Action, depth int, fired map[string]bool) (bool, error) {
	def, err := e.schemas.Get(a.SchemaKey)
	if err != nil {
		e.audit.LogError(ctx, a.ID, a.Attempt, mutation.StagePrepatchChecking,
			mutation.Instance{"depth": depth}, err)
		return false, err
	}

	matched, err := e.filterTriggers(ctx, a, e.enrichments,
		e.cfg.PrepatchDontRepeat, mutation.StagePrepatchChecking, depth, fired)
	if err != nil {
		return false, err
	}

	patched := false
	for _, t := range matched {
		var patch mutation.Instance
		err := e.runStage(ctx, a, mutation.StagePrepatchPerforming, triggerPayload(t, depth), func() (mutation.Instance, error) {
			p, err := t.Patch(ctx, a, a.Merged())
			if err != nil {
				return nil, &TriggerError{Key: t.Key, Phase: PhaseEffect, Err: err}
			}
			patch = p
			return mutation.Instance{"patch": map[string]any(p)}, nil
		})
		if err != nil {
			return false, err
		}
		fired[t.Key] = true

		if e.applyPatch(a, def, patch) {
			patched = true
		}
	}

	if patched && depth <= e.cfg.PrepatchDepth {
		forked := make(map[string]bool, len(fired))
		for k := range fired {
			forked[k] = true
		}
		if _, err := e.prepatch(ctx, a, depth+1, forked); err != nil {
			return false, err
		}
	}

	if depth == 0 && patched {
		if err := e.audit.UpdateAction(ctx, a); err != nil {
			return false, err
		}
	}
	return patched, nil
}

// applyPatch folds one enrichment patch into the working diff. A patch
// field only lands when the schema knows it and its value differs, per
// typed equality, from what the working diff or the stored instance
// already holds. Reports whether anything landed.
func (e *Engine) applyPatch(a *mutation.Action, def schema.Definition, patch mutation.Instance) bool {
	current := a.DataDiffPrepatched
	if current == nil {
		current = a.BaseDiff()
	}
	old := a.DataOld
	if a.Type == mutation.TypeInsert {
		old = mutation.Instance{}
	}

	changed := mutation.Instance{}
	for key, value := range patch {
		prop, known := def.Properties[key]
		if !known {
			continue
		}
		before, ok := current[key]
		if !ok {
			before = old[key]
		}
		if !schema.Equal(value, before, prop) {
			changed[key] = value
		}
	}
	if len(changed) == 0 {
		return false
	}
	a.DataDiffPrepatched = mutation.Merge(current, changed)
	return true
}

// validate checks the fully merged candidate instance against its schema.
func (e *Engine) validate(ctx context.Context, a *mutation.Action) error {
	values := a.Merged()
	in := mutation.Instance{"values": map[string]any(values)}
	return e.runStage(ctx, a, mutation.StageValidation, in, func() (mutation.Instance, error) {
		if err := e.schemas.Validate(a.SchemaKey, values); err != nil {
			return nil, err
		}
		return mutation.Instance{"valid": true}, nil
	})
}

// perform persists the action. INSERT writes the full merged instance;
// UPDATE and UPSERT write only the effective diff, and an empty diff is a
// valid no-op that skips the store entirely.
func (e *Engine) perform(ctx context.Context, a *mutation.Action, tx store.Tx) error {
	if a.Type == mutation.TypeInsert {
		values := a.Merged()
		return e.runStage(ctx, a, mutation.StagePerforming,
			mutation.Instance{"values": map[string]any(values)},
			func() (mutation.Instance, error) {
				res, err := e.db.Insert(ctx, a.SchemaKey, values, tx)
				if err != nil {
					return nil, err
				}
				e.applyResult(a, res)
				return mutation.Instance{"result": map[string]any(res)}, nil
			})
	}

	diff := a.EffectiveDiff()
	in := mutation.Instance{"diff": map[string]any(diff)}

	if len(diff) == 0 {
		a.Status = mutation.StatusSkipped
		e.audit.LogSuccess(ctx, a.ID, a.Attempt, mutation.StagePerforming, in,
			mutation.Instance{"skipped": true})
		return nil
	}

	return e.runStage(ctx, a, mutation.StagePerforming, in, func() (mutation.Instance, error) {
		var (
			res mutation.Instance
			err error
		)
		if a.Type == mutation.TypeUpdate {
			res, err = e.db.Update(ctx, a.SchemaKey, a.InstanceID, diff, tx)
		} else {
			res, err = e.db.Upsert(ctx, a.SchemaKey, a.InstanceFilter, diff, tx)
		}
		if err != nil {
			return nil, err
		}
		e.applyResult(a, res)
		return mutation.Instance{"result": map[string]any(res)}, nil
	})
}

func (e *Engine) applyResult(a *mutation.Action, res mutation.Instance) {
	a.DataResult = res
	if id, ok := res["id"]; ok {
		a.DataResultID = id
	}
	a.Status = mutation.StatusPerformed
}
