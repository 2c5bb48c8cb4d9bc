package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/patchwork/internal/audit"
	"github.com/roach88/patchwork/internal/engine"
	"github.com/roach88/patchwork/internal/mutation"
	"github.com/roach88/patchwork/internal/schema"
	"github.com/roach88/patchwork/internal/testutil"
)

// testHarness bundles an engine with its two adapters: the domain store
// the pipeline writes through, and the audit store that must survive
// rollbacks.
type testHarness struct {
	engine  *engine.Engine
	domain  *testutil.MemoryAdapter
	auditDB *testutil.MemoryAdapter
}

func newHarness(t *testing.T, cfg engine.Config) *testHarness {
	t.Helper()

	domain := testutil.NewMemoryAdapter()
	auditDB := testutil.NewMemoryAdapter()
	logger, err := audit.NewLogger(auditDB, audit.NewSequenceGenerator("a"))
	require.NoError(t, err)

	eng := engine.New(cfg, domain, schema.NewRegistry(), logger)
	require.NoError(t, eng.RegisterSchema("person", testutil.PersonDefinition()))
	require.NoError(t, eng.RegisterSchema("credential", testutil.CredentialDefinition()))
	domain.Seed("person", testutil.PersonInstances())
	domain.Seed("credential", testutil.CredentialInstances())

	return &testHarness{engine: eng, domain: domain, auditDB: auditDB}
}

func (h *testHarness) actions() []mutation.Instance {
	return h.auditDB.All(audit.ActionSchemaKey)
}

func (h *testHarness) events() []mutation.Instance {
	return h.auditDB.All(audit.EventSchemaKey)
}

func (h *testHarness) eventsForStage(stage mutation.Stage) []mutation.Instance {
	var out []mutation.Instance
	for _, e := range h.events() {
		if e["stage"] == string(stage) {
			out = append(out, e)
		}
	}
	return out
}

func TestCommitActionUpdate(t *testing.T) {
	h := newHarness(t, engine.DefaultConfig())
	ctx := context.Background()

	a, err := h.engine.CommitAction(ctx, mutation.Blank{
		Type:       mutation.TypeUpdate,
		SchemaKey:  "person",
		InstanceID: 1,
		Data:       mutation.Instance{"nameFirst": "Rudy", "age": int64(40)},
	})
	require.NoError(t, err)

	assert.Equal(t, mutation.StatusCompleted, a.Status)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, 0, a.Attempt)

	// Prior state resolved, candidate narrowed to real changes.
	assert.Equal(t, int64(30), a.DataOld["age"])
	assert.Equal(t, mutation.Instance{"age": int64(40)}, a.DataDiff)
	assert.EqualValues(t, 1, a.DataResultID)

	people := h.domain.All("person")
	require.Len(t, people, 1)
	assert.Equal(t, int64(40), people[0]["age"])
	assert.Equal(t, "Cruysbergs", people[0]["nameLast"])

	// The whole run stayed inside one committed transaction.
	titles := h.domain.CallTitles()
	assert.Contains(t, titles, "db.begin")
	assert.Contains(t, titles, "db.commit")
	assert.NotContains(t, titles, "db.rollback")
}

func TestCommitActionInsert(t *testing.T) {
	h := newHarness(t, engine.DefaultConfig())

	a, err := h.engine.CommitAction(context.Background(), mutation.Blank{
		Type:      mutation.TypeInsert,
		SchemaKey: "person",
		Data:      mutation.Instance{"nameFirst": "Ada", "nameLast": "Lovelace", "age": int64(28)},
	})
	require.NoError(t, err)

	assert.Equal(t, mutation.StatusCompleted, a.Status)
	assert.EqualValues(t, 2, a.DataResultID)
	assert.Nil(t, a.DataOld)
	assert.Nil(t, a.DataDiff)

	// INSERT resolves no prior state, so no populate event exists.
	assert.Empty(t, h.eventsForStage(mutation.StagePopulating))

	people := h.domain.All("person")
	require.Len(t, people, 2)
	assert.Equal(t, "Ada", people[1]["nameFirst"])
}

func TestCommitActionUpsert(t *testing.T) {
	h := newHarness(t, engine.DefaultConfig())
	ctx := context.Background()

	// Filter matches the seeded person: update in place.
	a, err := h.engine.CommitAction(ctx, mutation.Blank{
		Type:           mutation.TypeUpsert,
		SchemaKey:      "person",
		InstanceFilter: mutation.Instance{"nameFirst": "Rudy"},
		Data:           mutation.Instance{"age": int64(41)},
	})
	require.NoError(t, err)
	assert.Equal(t, mutation.StatusCompleted, a.Status)
	assert.Len(t, h.domain.All("person"), 1)
	assert.Equal(t, int64(41), h.domain.All("person")[0]["age"])

	// Filter matches nothing: insert filter ∪ diff.
	a, err = h.engine.CommitAction(ctx, mutation.Blank{
		Type:           mutation.TypeUpsert,
		SchemaKey:      "person",
		InstanceFilter: mutation.Instance{"nameFirst": "Grace"},
		Data:           mutation.Instance{"age": int64(35)},
	})
	require.NoError(t, err)
	assert.Equal(t, mutation.StatusCompleted, a.Status)

	people := h.domain.All("person")
	require.Len(t, people, 2)
	assert.Equal(t, "Grace", people[1]["nameFirst"])
	assert.Equal(t, int64(35), people[1]["age"])
}

func TestEmptyDiffSkipsPersist(t *testing.T) {
	h := newHarness(t, engine.DefaultConfig())

	a, err := h.engine.CommitAction(context.Background(), mutation.Blank{
		Type:       mutation.TypeUpdate,
		SchemaKey:  "person",
		InstanceID: 1,
		Data:       mutation.Instance{"age": int64(30)}, // equal to stored value
	})
	require.NoError(t, err)

	// A no-op is a valid outcome: the action completes without writing.
	assert.Equal(t, mutation.StatusCompleted, a.Status)
	assert.Nil(t, a.DataResult)
	assert.Nil(t, a.DataResultID)
	assert.NotContains(t, h.domain.CallTitles(), "db.update")

	performing := h.eventsForStage(mutation.StagePerforming)
	require.Len(t, performing, 1)
	out, ok := performing[0]["outData"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, out["skipped"])

	// The audit row still records the terminal status.
	rows := h.actions()
	require.Len(t, rows, 1)
	assert.Equal(t, string(mutation.StatusCompleted), rows[0]["status"])
}

func TestEnrichmentPatchesWorkingDiff(t *testing.T) {
	h := newHarness(t, engine.DefaultConfig())
	require.NoError(t, h.engine.HookEnrichment(&mutation.Trigger{
		Key:       "Full name",
		Condition: mutation.WatchedFields{"nameFirst", "nameLast"},
		Patch: func(_ context.Context, _ *mutation.Action, current mutation.Instance) (mutation.Instance, error) {
			return mutation.Instance{
				"nameFull": fmt.Sprintf("%v %v", current["nameFirst"], current["nameLast"]),
			}, nil
		},
	}))

	a, err := h.engine.CommitAction(context.Background(), mutation.Blank{
		Type:       mutation.TypeUpdate,
		SchemaKey:  "person",
		InstanceID: 1,
		Data:       mutation.Instance{"nameFirst": "Ada"},
	})
	require.NoError(t, err)

	assert.Equal(t, mutation.Instance{
		"nameFirst": "Ada",
		"nameFull":  "Ada Cruysbergs",
	}, a.DataDiffPrepatched)

	person := h.domain.All("person")[0]
	assert.Equal(t, "Ada Cruysbergs", person["nameFull"])
}

func TestEnrichmentOnInsert(t *testing.T) {
	h := newHarness(t, engine.DefaultConfig())
	require.NoError(t, h.engine.HookEnrichment(&mutation.Trigger{
		Key:       "Full name",
		Condition: mutation.WatchedFields{"nameFirst"},
		Patch: func(_ context.Context, _ *mutation.Action, current mutation.Instance) (mutation.Instance, error) {
			return mutation.Instance{
				"nameFull": fmt.Sprintf("%v %v", current["nameFirst"], current["nameLast"]),
			}, nil
		},
	}))

	a, err := h.engine.CommitAction(context.Background(), mutation.Blank{
		Type:      mutation.TypeInsert,
		SchemaKey: "person",
		Data:      mutation.Instance{"nameFirst": "Rudy", "nameLast": "Cruysbergs", "age": int64(40)},
	})
	require.NoError(t, err)

	assert.Equal(t, mutation.Instance{
		"nameFirst": "Rudy",
		"nameLast":  "Cruysbergs",
		"age":       int64(40),
		"nameFull":  "Rudy Cruysbergs",
	}, a.DataDiffPrepatched)

	// One condition check and one patch: the second pass has no unfired
	// candidates left.
	assert.Len(t, h.eventsForStage(mutation.StagePrepatchChecking), 1)
	assert.Len(t, h.eventsForStage(mutation.StagePrepatchPerforming), 1)

	people := h.domain.All("person")
	require.Len(t, people, 2)
	assert.Equal(t, "Rudy Cruysbergs", people[1]["nameFull"])
}

func TestEnrichmentCascadesAcrossPasses(t *testing.T) {
	h := newHarness(t, engine.DefaultConfig())

	// The second trigger's condition only becomes true after the first
	// trigger's patch lands; the fixpoint recursion must pick it up.
	require.NoError(t, h.engine.HookEnrichment(&mutation.Trigger{
		Key:       "Retire at 65",
		Condition: mutation.WatchedFields{"age"},
		Patch: func(_ context.Context, _ *mutation.Action, current mutation.Instance) (mutation.Instance, error) {
			age, _ := current["age"].(int64)
			return mutation.Instance{"isRetired": age >= 65}, nil
		},
	}))
	require.NoError(t, h.engine.HookEnrichment(&mutation.Trigger{
		Key:       "Retirement label",
		Condition: mutation.WatchedFields{"isRetired"},
		Patch: func(_ context.Context, _ *mutation.Action, current mutation.Instance) (mutation.Instance, error) {
			if retired, _ := current["isRetired"].(bool); retired {
				return mutation.Instance{"nameFull": fmt.Sprintf("%v (retired)", current["nameFirst"])}, nil
			}
			return nil, nil
		},
	}))

	a, err := h.engine.CommitAction(context.Background(), mutation.Blank{
		Type:       mutation.TypeUpdate,
		SchemaKey:  "person",
		InstanceID: 1,
		Data:       mutation.Instance{"age": int64(70)},
	})
	require.NoError(t, err)

	assert.Equal(t, mutation.Instance{
		"age":       int64(70),
		"isRetired": true,
		"nameFull":  "Rudy (retired)",
	}, a.DataDiffPrepatched)

	// Pass 0 checks both triggers, pass 1 only the not-yet-fired one,
	// pass 2 finds nothing left to check.
	assert.Len(t, h.eventsForStage(mutation.StagePrepatchChecking), 3)
	assert.Len(t, h.eventsForStage(mutation.StagePrepatchPerforming), 2)
}

func TestEnrichmentNoopPatchDoesNotDirty(t *testing.T) {
	h := newHarness(t, engine.DefaultConfig())

	calls := 0
	require.NoError(t, h.engine.HookEnrichment(&mutation.Trigger{
		Key:       "Echo age",
		Condition: mutation.WatchedFields{"age"},
		Patch: func(_ context.Context, a *mutation.Action, _ mutation.Instance) (mutation.Instance, error) {
			calls++
			// Patch repeats a value already in the diff: nothing changes.
			return mutation.Instance{"age": a.Data["age"]}, nil
		},
	}))

	a, err := h.engine.CommitAction(context.Background(), mutation.Blank{
		Type:       mutation.TypeUpdate,
		SchemaKey:  "person",
		InstanceID: 1,
		Data:       mutation.Instance{"age": int64(40)},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, calls, "no-op patch must not trigger another pass")
	assert.Nil(t, a.DataDiffPrepatched)
}

func TestValidationFailureAborts(t *testing.T) {
	h := newHarness(t, engine.DefaultConfig())

	a, err := h.engine.CommitAction(context.Background(), mutation.Blank{
		Type:      mutation.TypeInsert,
		SchemaKey: "credential",
		Data:      mutation.Instance{"cardCode": "C-9"}, // person link missing
	})
	require.Error(t, err)
	assert.True(t, schema.IsValidationError(err))
	assert.Equal(t, mutation.StatusError, a.Status)
	assert.Same(t, a, engine.FailingAction(err))

	// Nothing landed in the domain store.
	assert.Len(t, h.domain.All("credential"), 1)
	assert.Contains(t, h.domain.CallTitles(), "db.rollback")
	assert.NotContains(t, h.domain.CallTitles(), "db.commit")

	// The audit trail survived the rollback with the full failure detail.
	rows := h.actions()
	require.Len(t, rows, 1)
	assert.Equal(t, string(mutation.StatusError), rows[0]["status"])

	// Validation failed, so the persist stage never ran.
	assert.Empty(t, h.eventsForStage(mutation.StagePerforming))

	failed := h.eventsForStage(mutation.StageValidation)
	require.Len(t, failed, 1)
	assert.Equal(t, true, failed[0]["isError"])
	out, ok := failed[0]["outData"].(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, out["failures"])
}

func TestCascadeTree(t *testing.T) {
	h := newHarness(t, engine.DefaultConfig())
	ctx := context.Background()

	require.NoError(t, h.engine.HookCascade("person", &mutation.Trigger{
		Key:       "Block credentials when user blocked",
		Condition: mutation.WatchedFields{"isBlocked"},
		Subactions: func(ctx context.Context, find mutation.Finder, _ *mutation.Action, instance mutation.Instance) ([]mutation.Blank, error) {
			credentials, err := find.Find(ctx, "credential", mutation.Instance{"person": instance["id"]})
			if err != nil {
				return nil, err
			}
			blanks := make([]mutation.Blank, 0, len(credentials))
			for _, credential := range credentials {
				id, _ := credential["id"].(int64)
				blanks = append(blanks, mutation.Blank{
					Type:       mutation.TypeUpdate,
					SchemaKey:  "credential",
					InstanceID: id,
					Data:       mutation.Instance{"isUserBlocked": instance["isBlocked"]},
				})
			}
			return blanks, nil
		},
	}))
	require.NoError(t, h.engine.HookCascade("credential", &mutation.Trigger{
		Key:       "Count active credentials",
		Condition: mutation.WatchedFields{"isBlocked", "isUserBlocked"},
		Subactions: func(ctx context.Context, find mutation.Finder, _ *mutation.Action, instance mutation.Instance) ([]mutation.Blank, error) {
			person, ok := instance["person"]
			if !ok {
				return nil, nil
			}
			active, err := find.Find(ctx, "credential", mutation.Instance{
				"person":        person,
				"isBlocked":     false,
				"isUserBlocked": false,
			})
			if err != nil {
				return nil, err
			}
			personID, _ := person.(int64)
			return []mutation.Blank{{
				Type:       mutation.TypeUpdate,
				SchemaKey:  "person",
				InstanceID: personID,
				Data:       mutation.Instance{"activeCredentialsCount": int64(len(active))},
			}}, nil
		},
	}))

	root, err := h.engine.CommitAction(ctx, mutation.Blank{
		Type:       mutation.TypeUpdate,
		SchemaKey:  "person",
		InstanceID: 1,
		Data:       mutation.Instance{"isBlocked": true},
	})
	require.NoError(t, err)
	assert.Equal(t, mutation.StatusCompleted, root.Status)

	// Three actions: root, blocked credential, recounted person.
	rows := h.actions()
	require.Len(t, rows, 3)

	assert.Equal(t, root.ID, rows[0]["id"])
	assert.Equal(t, string(mutation.StatusCompleted), rows[0]["status"])

	child := rows[1]
	assert.Equal(t, "credential", child["schemaKey"])
	assert.Equal(t, "Block credentials when user blocked", child["trigger"])
	assert.Equal(t, root.ID, child["parent"])
	assert.Equal(t, root.ID, child["rootParent"])
	assert.EqualValues(t, 1, child["depth"])
	assert.Equal(t, string(mutation.StatusCompleted), child["status"])
	assert.Equal(t, map[string]any{"isUserBlocked": true}, child["dataDiff"])

	grandchild := rows[2]
	assert.Equal(t, "person", grandchild["schemaKey"])
	assert.Equal(t, "Count active credentials", grandchild["trigger"])
	assert.Equal(t, child["id"], grandchild["parent"])
	assert.Equal(t, root.ID, grandchild["rootParent"])
	assert.EqualValues(t, 2, grandchild["depth"])
	assert.Equal(t, string(mutation.StatusCompleted), grandchild["status"])

	// Domain effects of the whole tree, committed together.
	credential := h.domain.All("credential")[0]
	assert.Equal(t, true, credential["isUserBlocked"])
	person := h.domain.All("person")[0]
	assert.Equal(t, true, person["isBlocked"])
	assert.EqualValues(t, 0, person["activeCredentialsCount"])

	titles := h.domain.CallTitles()
	assert.Contains(t, titles, "db.commit")
	assert.NotContains(t, titles, "db.rollback")
}

func TestCascadeChildFailureRollsBackTree(t *testing.T) {
	h := newHarness(t, engine.DefaultConfig())

	require.NoError(t, h.engine.HookCascade("person", &mutation.Trigger{
		Key:       "Issue welcome credential",
		Condition: mutation.WatchedFields{"isBlocked"},
		Subactions: func(_ context.Context, _ mutation.Finder, _ *mutation.Action, _ mutation.Instance) ([]mutation.Blank, error) {
			// The child intent is invalid: the required person link is
			// missing, so its validation stage must fail.
			return []mutation.Blank{{
				Type:      mutation.TypeInsert,
				SchemaKey: "credential",
				Data:      mutation.Instance{"cardCode": "W-1"},
			}}, nil
		},
	}))

	root, err := h.engine.CommitAction(context.Background(), mutation.Blank{
		Type:       mutation.TypeUpdate,
		SchemaKey:  "person",
		InstanceID: 1,
		Data:       mutation.Instance{"isBlocked": true},
	})
	require.Error(t, err)
	assert.Equal(t, mutation.StatusError, root.Status)

	// The deepest failing action is the child, not the root.
	failing := engine.FailingAction(err)
	require.NotNil(t, failing)
	assert.Equal(t, "credential", failing.SchemaKey)
	assert.NotSame(t, root, failing)

	// The root's own write was rolled back with the child's.
	person := h.domain.All("person")[0]
	assert.NotContains(t, person, "isBlocked")
	assert.Len(t, h.domain.All("credential"), 1)
	assert.Contains(t, h.domain.CallTitles(), "db.rollback")

	// Both audit rows survived, both terminal ERROR.
	rows := h.actions()
	require.Len(t, rows, 2)
	assert.Equal(t, string(mutation.StatusError), rows[0]["status"])
	assert.Equal(t, string(mutation.StatusError), rows[1]["status"])
}

func TestCascadeTriggerFiresOncePerTransaction(t *testing.T) {
	h := newHarness(t, engine.DefaultConfig())

	fires := 0
	require.NoError(t, h.engine.HookCascade("person", &mutation.Trigger{
		Key:       "Touch person again",
		Condition: mutation.WatchedFields{"age"},
		Subactions: func(_ context.Context, _ mutation.Finder, _ *mutation.Action, _ mutation.Instance) ([]mutation.Blank, error) {
			fires++
			// Produces another age change on the same person; without
			// dedup this would recurse forever.
			return []mutation.Blank{{
				Type:       mutation.TypeUpdate,
				SchemaKey:  "person",
				InstanceID: 1,
				Data:       mutation.Instance{"age": int64(31)},
			}}, nil
		},
	}))

	root, err := h.engine.CommitAction(context.Background(), mutation.Blank{
		Type:       mutation.TypeUpdate,
		SchemaKey:  "person",
		InstanceID: 1,
		Data:       mutation.Instance{"age": int64(40)},
	})
	require.NoError(t, err)
	assert.Equal(t, mutation.StatusCompleted, root.Status)
	assert.Equal(t, 1, fires)
	assert.Len(t, h.actions(), 2)
	assert.Equal(t, int64(31), h.domain.All("person")[0]["age"])
}

func TestTriggerConditionErrorAborts(t *testing.T) {
	h := newHarness(t, engine.DefaultConfig())

	boom := errors.New("condition exploded")
	require.NoError(t, h.engine.HookCascade("person", &mutation.Trigger{
		Key: "Faulty rule",
		Condition: mutation.Predicate(func(context.Context, *mutation.Action) (bool, error) {
			return false, boom
		}),
		Subactions: func(_ context.Context, _ mutation.Finder, _ *mutation.Action, _ mutation.Instance) ([]mutation.Blank, error) {
			return nil, nil
		},
	}))

	a, err := h.engine.CommitAction(context.Background(), mutation.Blank{
		Type:       mutation.TypeUpdate,
		SchemaKey:  "person",
		InstanceID: 1,
		Data:       mutation.Instance{"age": int64(40)},
	})
	require.Error(t, err)
	assert.True(t, engine.IsTriggerError(err))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, mutation.StatusError, a.Status)

	filtering := h.eventsForStage(mutation.StageSubactionFiltering)
	require.Len(t, filtering, 1)
	assert.Equal(t, true, filtering[0]["isError"])
}

func TestTransientFailureRetries(t *testing.T) {
	h := newHarness(t, engine.DefaultConfig())

	failed := false
	h.domain.FailWith = func(title, schemaKey string) error {
		if title == "db.update" && !failed {
			failed = true
			return testutil.Transient("database locked")
		}
		return nil
	}

	a, err := h.engine.CommitAction(context.Background(), mutation.Blank{
		Type:       mutation.TypeUpdate,
		SchemaKey:  "person",
		InstanceID: 1,
		Data:       mutation.Instance{"age": int64(40)},
	})
	require.NoError(t, err)

	assert.Equal(t, mutation.StatusCompleted, a.Status)
	assert.Equal(t, 1, a.Attempt)
	assert.Equal(t, int64(40), h.domain.All("person")[0]["age"])

	// Both attempts left their stage events behind, tagged by attempt.
	performing := h.eventsForStage(mutation.StagePerforming)
	require.Len(t, performing, 2)
	assert.Equal(t, true, performing[0]["isError"])
	assert.EqualValues(t, 0, performing[0]["attempt"])
	assert.Equal(t, false, performing[1]["isError"])
	assert.EqualValues(t, 1, performing[1]["attempt"])

	// One audit action row, terminal state COMPLETED.
	rows := h.actions()
	require.Len(t, rows, 1)
	assert.Equal(t, string(mutation.StatusCompleted), rows[0]["status"])
	assert.EqualValues(t, 1, rows[0]["attempt"])
}

func TestTransientFailureExhaustsAttempts(t *testing.T) {
	h := newHarness(t, engine.DefaultConfig())

	updates := 0
	h.domain.FailWith = func(title, schemaKey string) error {
		if title == "db.update" {
			updates++
			return testutil.Transient("database locked")
		}
		return nil
	}

	a, err := h.engine.CommitAction(context.Background(), mutation.Blank{
		Type:       mutation.TypeUpdate,
		SchemaKey:  "person",
		InstanceID: 1,
		Data:       mutation.Instance{"age": int64(40)},
	})
	require.Error(t, err)

	assert.Equal(t, mutation.StatusError, a.Status)
	assert.Equal(t, engine.DefaultConfig().AttemptLimit, a.Attempt)
	assert.Equal(t, 3, updates, "attempts 0, 1, and 2")
	assert.Equal(t, int64(30), h.domain.All("person")[0]["age"])
}

func TestNonTransientFailureDoesNotRetry(t *testing.T) {
	h := newHarness(t, engine.DefaultConfig())

	updates := 0
	h.domain.FailWith = func(title, schemaKey string) error {
		if title == "db.update" {
			updates++
			return errors.New("constraint violated")
		}
		return nil
	}

	a, err := h.engine.CommitAction(context.Background(), mutation.Blank{
		Type:       mutation.TypeUpdate,
		SchemaKey:  "person",
		InstanceID: 1,
		Data:       mutation.Instance{"age": int64(40)},
	})
	require.Error(t, err)
	assert.Equal(t, mutation.StatusError, a.Status)
	assert.Equal(t, 0, a.Attempt)
	assert.Equal(t, 1, updates)
}

func TestCommitActionRejectsMalformedBlank(t *testing.T) {
	h := newHarness(t, engine.DefaultConfig())

	a, err := h.engine.CommitAction(context.Background(), mutation.Blank{
		Type:      mutation.TypeUpdate, // missing instanceId
		SchemaKey: "person",
		Data:      mutation.Instance{"age": int64(40)},
	})
	require.Error(t, err)
	assert.Nil(t, a)
	assert.True(t, mutation.IsBlankError(err))

	// Nothing was logged and no transaction was opened: the intent never
	// became an action.
	assert.Empty(t, h.actions())
	assert.NotContains(t, h.domain.CallTitles(), "db.begin")
}

func TestUpdateMissingInstanceFails(t *testing.T) {
	h := newHarness(t, engine.DefaultConfig())

	a, err := h.engine.CommitAction(context.Background(), mutation.Blank{
		Type:       mutation.TypeUpdate,
		SchemaKey:  "person",
		InstanceID: 99,
		Data:       mutation.Instance{"age": int64(40)},
	})
	require.Error(t, err)
	assert.Equal(t, mutation.StatusError, a.Status)

	populating := h.eventsForStage(mutation.StagePopulating)
	require.Len(t, populating, 1)
	assert.Equal(t, true, populating[0]["isError"])
}

func TestUpsertMissingInstanceInserts(t *testing.T) {
	h := newHarness(t, engine.DefaultConfig())

	a, err := h.engine.CommitAction(context.Background(), mutation.Blank{
		Type:           mutation.TypeUpsert,
		SchemaKey:      "credential",
		InstanceFilter: mutation.Instance{"cardCode": "C-2"},
		Data:           mutation.Instance{"person": int64(1), "isBlocked": false},
	})
	require.NoError(t, err)
	assert.Equal(t, mutation.StatusCompleted, a.Status)

	credentials := h.domain.All("credential")
	require.Len(t, credentials, 2)
	assert.Equal(t, "C-2", credentials[1]["cardCode"])
}
