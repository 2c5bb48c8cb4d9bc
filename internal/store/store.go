// Package store defines the storage contract the engine persists through,
// and provides the production SQLite adapter.
//
// The adapter is schema-driven: tables are created from registered schema
// definitions, one table per schema key. The same adapter shape serves both
// domain entities and the audit trail (which registers its own "action" and
// "event" schemas), so tests can substitute one in-memory fake for both.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/patchwork/internal/mutation"
	"github.com/roach88/patchwork/internal/schema"
)

// Tx is one store transaction handle. It is owned by the outermost pipeline
// invocation; descendants receive it but never commit or roll back.
type Tx interface {
	Commit() error
	Rollback() error
}

// Adapter is the storage contract. Every read and write takes an optional
// transaction; a nil Tx executes against the base connection, which is how
// audit writes stay visible when the domain transaction rolls back.
type Adapter interface {
	// RegisterSchema prepares storage for one schema key (creates the
	// backing table if needed). Must be called before any other
	// operation on that key.
	RegisterSchema(key string, def schema.Definition) error

	// Insert persists a new instance and returns the stored row,
	// including its generated identifier.
	Insert(ctx context.Context, key string, values mutation.Instance, tx Tx) (mutation.Instance, error)

	// Update applies a partial diff to the instance with the given id
	// and returns the stored row. Fails with a not-found error when the
	// id does not exist.
	Update(ctx context.Context, key string, id any, diff mutation.Instance, tx Tx) (mutation.Instance, error)

	// Upsert applies a diff to the single instance matching the filter,
	// inserting filter∪diff when no instance matches.
	Upsert(ctx context.Context, key string, filter, diff mutation.Instance, tx Tx) (mutation.Instance, error)

	// FindOne returns the single instance matching the field-equality
	// filter, or a not-found error.
	FindOne(ctx context.Context, key string, filter mutation.Instance, tx Tx) (mutation.Instance, error)

	// Find returns every instance matching the filter, in storage order.
	Find(ctx context.Context, key string, filter mutation.Instance, tx Tx) ([]mutation.Instance, error)

	// Begin opens a new transaction.
	Begin(ctx context.Context) (Tx, error)

	// IsTransientError classifies failures that are worth retrying at
	// the root of the pipeline (lock contention, busy handles).
	IsTransientError(err error) bool
}

// NotFoundError reports a lookup that matched nothing.
type NotFoundError struct {
	SchemaKey string
	Filter    mutation.Instance
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: no instance matches filter %v", e.SchemaKey, map[string]any(e.Filter))
}

// IsNotFound reports whether err is a missing-instance error.
func IsNotFound(err error) bool {
	var nfe *NotFoundError
	return errors.As(err, &nfe)
}
