package mutation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsMalformedBlanks(t *testing.T) {
	testCases := []struct {
		title string
		blank Blank
	}{
		{
			title: "wrong type",
			blank: Blank{Type: "NONSENSE", SchemaKey: "s1", Data: Instance{}},
		},
		{
			title: "empty schemaKey",
			blank: Blank{Type: TypeInsert, Data: Instance{}},
		},
		{
			title: "empty data",
			blank: Blank{Type: TypeInsert, SchemaKey: "s1"},
		},
		{
			title: "INSERT with instanceId",
			blank: Blank{Type: TypeInsert, SchemaKey: "s1", Data: Instance{}, InstanceID: 1},
		},
		{
			title: "INSERT with instanceFilter",
			blank: Blank{Type: TypeInsert, SchemaKey: "s1", Data: Instance{}, InstanceFilter: Instance{}},
		},
		{
			title: "UPDATE without instanceId",
			blank: Blank{Type: TypeUpdate, SchemaKey: "s1", Data: Instance{}},
		},
		{
			title: "UPDATE with instanceFilter",
			blank: Blank{Type: TypeUpdate, SchemaKey: "s1", Data: Instance{}, InstanceID: 1, InstanceFilter: Instance{}},
		},
		{
			title: "UPSERT with instanceId",
			blank: Blank{Type: TypeUpsert, SchemaKey: "s1", Data: Instance{}, InstanceID: 1},
		},
		{
			title: "UPSERT without instanceFilter",
			blank: Blank{Type: TypeUpsert, SchemaKey: "s1", Data: Instance{}},
		},
		{
			title: "UPSERT with empty instanceFilter",
			blank: Blank{Type: TypeUpsert, SchemaKey: "s1", Data: Instance{}, InstanceFilter: Instance{}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.title, func(t *testing.T) {
			a, err := New(tc.blank)
			assert.Nil(t, a)
			require.Error(t, err)
			assert.True(t, IsBlankError(err))
		})
	}
}

func TestNewBuildsPendingActions(t *testing.T) {
	testCases := []struct {
		title string
		blank Blank
	}{
		{
			title: "INSERT",
			blank: Blank{Type: TypeInsert, SchemaKey: "s1", Data: Instance{"a1": "v1"}},
		},
		{
			title: "UPDATE",
			blank: Blank{Type: TypeUpdate, SchemaKey: "s1", Data: Instance{"a1": "v1"}, InstanceID: 1},
		},
		{
			title: "UPSERT",
			blank: Blank{Type: TypeUpsert, SchemaKey: "s1", Data: Instance{"a1": "v1"}, InstanceFilter: Instance{"key": 2}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.title, func(t *testing.T) {
			a, err := New(tc.blank)
			require.NoError(t, err)
			assert.Equal(t, tc.blank.Type, a.Type)
			assert.Equal(t, tc.blank.SchemaKey, a.SchemaKey)
			assert.Equal(t, tc.blank.Data, a.Data)
			assert.Equal(t, tc.blank.InstanceID, a.InstanceID)
			assert.Equal(t, tc.blank.InstanceFilter, a.InstanceFilter)
			assert.Equal(t, StatusPending, a.Status)
			assert.Empty(t, a.ID)
			assert.Zero(t, a.Attempt)
		})
	}
}

func TestNewKeepsCascadePosition(t *testing.T) {
	a, err := New(Blank{
		Type:       TypeInsert,
		SchemaKey:  "s1",
		Data:       Instance{"a1": "v1"},
		TriggerKey: "t1",
		Parent:     "p1",
		RootParent: "r1",
		Depth:      2,
	})
	require.NoError(t, err)
	assert.Equal(t, "t1", a.TriggerKey)
	assert.Equal(t, "p1", a.Parent)
	assert.Equal(t, "r1", a.RootParent)
	assert.Equal(t, 2, a.Depth)
}

func TestBaseDiff(t *testing.T) {
	insert, err := New(Blank{Type: TypeInsert, SchemaKey: "s1", Data: Instance{"a": 1}})
	require.NoError(t, err)
	assert.Equal(t, Instance{"a": 1}, insert.BaseDiff())

	update, err := New(Blank{Type: TypeUpdate, SchemaKey: "s1", InstanceID: 1, Data: Instance{"a": 1, "b": 2}})
	require.NoError(t, err)
	update.DataDiff = Instance{"b": 2}
	assert.Equal(t, Instance{"b": 2}, update.BaseDiff())
}

func TestEffectiveDiff(t *testing.T) {
	a, err := New(Blank{Type: TypeUpdate, SchemaKey: "s1", InstanceID: 1, Data: Instance{"a": 1}})
	require.NoError(t, err)
	a.DataDiff = Instance{"a": 1}

	// Without enrichment the effective diff is a copy of the base diff.
	diff := a.EffectiveDiff()
	assert.Equal(t, Instance{"a": 1}, diff)
	diff["a"] = 99
	assert.Equal(t, Instance{"a": 1}, a.DataDiff)

	a.DataDiffPrepatched = Instance{"a": 1, "b": 2}
	assert.Equal(t, Instance{"a": 1, "b": 2}, a.EffectiveDiff())
}

func TestMerged(t *testing.T) {
	insert, err := New(Blank{Type: TypeInsert, SchemaKey: "s1", Data: Instance{"a": 1}})
	require.NoError(t, err)
	assert.Equal(t, Instance{"a": 1}, insert.Merged())

	update, err := New(Blank{Type: TypeUpdate, SchemaKey: "s1", InstanceID: 1, Data: Instance{"b": 2}})
	require.NoError(t, err)
	update.DataOld = Instance{"a": 1, "b": 1}
	update.DataDiff = Instance{"b": 2}
	assert.Equal(t, Instance{"a": 1, "b": 2}, update.Merged())
}

func TestResultInstance(t *testing.T) {
	a, err := New(Blank{Type: TypeUpdate, SchemaKey: "s1", InstanceID: 1, Data: Instance{"b": 2}})
	require.NoError(t, err)
	a.DataOld = Instance{"a": 1, "b": 1}
	a.DataDiff = Instance{"b": 2}

	// Before perform the merged candidate stands in for the result.
	assert.Equal(t, Instance{"a": 1, "b": 2}, a.ResultInstance())

	a.DataResult = Instance{"id": int64(1), "a": 1, "b": 2}
	assert.Equal(t, a.DataResult, a.ResultInstance())
}

func TestTerminal(t *testing.T) {
	a := &Action{Status: StatusPending}
	assert.False(t, a.Terminal())
	a.Status = StatusPerformed
	assert.False(t, a.Terminal())
	a.Status = StatusCompleted
	assert.True(t, a.Terminal())
	a.Status = StatusError
	assert.True(t, a.Terminal())
}
