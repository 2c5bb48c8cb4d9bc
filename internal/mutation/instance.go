package mutation

import "context"

// Instance is one entity value set: field name to field value.
// Values are plain JSON-compatible Go values (int64, string, bool,
// map[string]any, []any, nil). Typed comparison against a schema property
// lives in the schema package.
type Instance map[string]any

// Clone returns a shallow copy of the instance.
// A nil instance clones to an empty, non-nil instance.
func (in Instance) Clone() Instance {
	out := make(Instance, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Merge returns a new instance with overlay's fields written over base.
// Neither argument is mutated.
func Merge(base, overlay Instance) Instance {
	out := make(Instance, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// Finder gives trigger effects read access to the store inside the
// pipeline's transaction. Implemented by the engine; cascade producers use
// it to look up related instances without owning the transaction.
type Finder interface {
	// FindOne returns the single instance matching the field-equality
	// filter, or a not-found error.
	FindOne(ctx context.Context, schemaKey string, filter Instance) (Instance, error)

	// Find returns every instance matching the field-equality filter.
	Find(ctx context.Context, schemaKey string, filter Instance) ([]Instance, error)
}
