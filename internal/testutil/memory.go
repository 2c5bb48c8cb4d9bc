// Package testutil holds shared test fixtures: an in-memory store adapter
// with call recording and failure injection, and canned entity schemas.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/patchwork/internal/mutation"
	"github.com/roach88/patchwork/internal/schema"
	"github.com/roach88/patchwork/internal/store"
)

// Call records one adapter invocation for assertion in tests.
type Call struct {
	Title string
	Args  []any
}

// MemoryAdapter is an in-memory store.Adapter. It records every call,
// hands out sequential integer ids per schema, and supports scripted
// failures so tests can drive the error and retry paths.
//
// Writes inside a transaction are staged and only land on Commit;
// Rollback discards them. Writes with a nil Tx land immediately, which is
// what lets audit rows survive a pipeline rollback in tests.
type MemoryAdapter struct {
	mu        sync.Mutex
	schemas   map[string]schema.Definition
	instances map[string][]mutation.Instance
	idPool    map[string]int64
	calls     []Call

	// FailWith, when set, is consulted before every store operation with
	// the operation title and schema key. A non-nil return fails the call.
	FailWith func(title, schemaKey string) error
}

// NewMemoryAdapter creates an empty adapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		schemas:   make(map[string]schema.Definition),
		instances: make(map[string][]mutation.Instance),
		idPool:    make(map[string]int64),
	}
}

// Seed replaces the stored instances for a schema and advances the id pool
// past the highest seeded integer id.
func (m *MemoryAdapter) Seed(schemaKey string, instances []mutation.Instance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances[schemaKey] = nil
	next := int64(1)
	for _, in := range instances {
		m.instances[schemaKey] = append(m.instances[schemaKey], in.Clone())
		if id, ok := asInt64(in["id"]); ok && id >= next {
			next = id + 1
		}
	}
	m.idPool[schemaKey] = next
}

// Calls returns the recorded adapter invocations in order.
func (m *MemoryAdapter) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallTitles returns just the titles of the recorded invocations.
func (m *MemoryAdapter) CallTitles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	titles := make([]string, len(m.calls))
	for i, c := range m.calls {
		titles[i] = c.Title
	}
	return titles
}

// All returns the committed instances for a schema.
func (m *MemoryAdapter) All(schemaKey string) []mutation.Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mutation.Instance, len(m.instances[schemaKey]))
	for i, in := range m.instances[schemaKey] {
		out[i] = in.Clone()
	}
	return out
}

func (m *MemoryAdapter) record(title string, args ...any) {
	m.calls = append(m.calls, Call{Title: title, Args: args})
}

func (m *MemoryAdapter) fail(title, schemaKey string) error {
	if m.FailWith == nil {
		return nil
	}
	return m.FailWith(title, schemaKey)
}

// RegisterSchema implements store.Adapter.
func (m *MemoryAdapter) RegisterSchema(key string, def schema.Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schemas[key] = def
	if _, ok := m.instances[key]; !ok {
		m.instances[key] = nil
		m.idPool[key] = 1
	}
	return nil
}

// memoryTx stages writes until Commit.
type memoryTx struct {
	adapter *MemoryAdapter
	staged  map[string][]mutation.Instance
	done    bool
}

// Begin implements store.Adapter.
func (m *MemoryAdapter) Begin(ctx context.Context) (store.Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("db.begin")
	if err := m.fail("db.begin", ""); err != nil {
		return nil, err
	}
	tx := &memoryTx{adapter: m, staged: make(map[string][]mutation.Instance)}
	for key, instances := range m.instances {
		staged := make([]mutation.Instance, len(instances))
		for i, in := range instances {
			staged[i] = in.Clone()
		}
		tx.staged[key] = staged
	}
	return tx, nil
}

func (t *memoryTx) Commit() error {
	t.adapter.mu.Lock()
	defer t.adapter.mu.Unlock()
	t.adapter.record("db.commit")
	if err := t.adapter.fail("db.commit", ""); err != nil {
		return err
	}
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.done = true
	for key, staged := range t.staged {
		t.adapter.instances[key] = staged
	}
	return nil
}

func (t *memoryTx) Rollback() error {
	t.adapter.mu.Lock()
	defer t.adapter.mu.Unlock()
	t.adapter.record("db.rollback")
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.done = true
	return nil
}

// view returns the instance slices an operation should read and write:
// the staged copy inside a transaction, the committed state otherwise.
func (m *MemoryAdapter) view(tx store.Tx, schemaKey string) ([]mutation.Instance, func([]mutation.Instance)) {
	if mt, ok := tx.(*memoryTx); ok && mt != nil {
		return mt.staged[schemaKey], func(updated []mutation.Instance) { mt.staged[schemaKey] = updated }
	}
	return m.instances[schemaKey], func(updated []mutation.Instance) { m.instances[schemaKey] = updated }
}

// Insert implements store.Adapter.
func (m *MemoryAdapter) Insert(ctx context.Context, schemaKey string, values mutation.Instance, tx store.Tx) (mutation.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("db.insert", schemaKey, values.Clone())
	if err := m.fail("db.insert", schemaKey); err != nil {
		return nil, err
	}

	row := values.Clone()
	if _, ok := row["id"]; !ok {
		row["id"] = m.idPool[schemaKey]
		m.idPool[schemaKey]++
	}
	instances, put := m.view(tx, schemaKey)
	put(append(instances, row))
	return row.Clone(), nil
}

// Update implements store.Adapter.
func (m *MemoryAdapter) Update(ctx context.Context, schemaKey string, id any, diff mutation.Instance, tx store.Tx) (mutation.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("db.update", schemaKey, id, diff.Clone())
	if err := m.fail("db.update", schemaKey); err != nil {
		return nil, err
	}

	instances, put := m.view(tx, schemaKey)
	for i, in := range instances {
		if sameID(in["id"], id) {
			updated := mutation.Merge(in, diff)
			instances[i] = updated
			put(instances)
			return updated.Clone(), nil
		}
	}
	return nil, &store.NotFoundError{SchemaKey: schemaKey, Filter: mutation.Instance{"id": id}}
}

// Upsert implements store.Adapter.
func (m *MemoryAdapter) Upsert(ctx context.Context, schemaKey string, filter, diff mutation.Instance, tx store.Tx) (mutation.Instance, error) {
	existing, err := m.FindOne(ctx, schemaKey, filter, tx)
	if err != nil {
		if store.IsNotFound(err) {
			return m.Insert(ctx, schemaKey, mutation.Merge(filter, diff), tx)
		}
		return nil, err
	}
	return m.Update(ctx, schemaKey, existing["id"], diff, tx)
}

// FindOne implements store.Adapter.
func (m *MemoryAdapter) FindOne(ctx context.Context, schemaKey string, filter mutation.Instance, tx store.Tx) (mutation.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("db.findOne", schemaKey, filter.Clone())
	if err := m.fail("db.findOne", schemaKey); err != nil {
		return nil, err
	}

	instances, _ := m.view(tx, schemaKey)
	for _, in := range instances {
		if matches(in, filter) {
			return in.Clone(), nil
		}
	}
	return nil, &store.NotFoundError{SchemaKey: schemaKey, Filter: filter}
}

// Find implements store.Adapter.
func (m *MemoryAdapter) Find(ctx context.Context, schemaKey string, filter mutation.Instance, tx store.Tx) ([]mutation.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("db.find", schemaKey, filter.Clone())
	if err := m.fail("db.find", schemaKey); err != nil {
		return nil, err
	}

	instances, _ := m.view(tx, schemaKey)
	var out []mutation.Instance
	for _, in := range instances {
		if matches(in, filter) {
			out = append(out, in.Clone())
		}
	}
	return out, nil
}

// transientError marks a scripted failure as retryable.
type transientError struct{ msg string }

func (e *transientError) Error() string { return e.msg }

// Transient builds an error IsTransientError recognizes.
func Transient(msg string) error { return &transientError{msg: msg} }

// IsTransientError implements store.Adapter.
func (m *MemoryAdapter) IsTransientError(err error) bool {
	for err != nil {
		if _, ok := err.(*transientError); ok {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func matches(in, filter mutation.Instance) bool {
	for key, want := range filter {
		got, ok := in[key]
		if !ok {
			return false
		}
		if !sameID(got, want) {
			return false
		}
	}
	return true
}

// sameID compares scalars with integer widening, so int and int64 ids
// match across JSON decoding and Go literals.
func sameID(a, b any) bool {
	if ai, ok := asInt64(a); ok {
		if bi, ok := asInt64(b); ok {
			return ai == bi
		}
		return false
	}
	return a == b
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
		return 0, false
	default:
		return 0, false
	}
}
