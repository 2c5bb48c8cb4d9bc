// Package schema holds the entity-type registry: per-schema property maps,
// typed equality between field values, patch-diff computation, and
// structural validation of full instances.
package schema

import (
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/patchwork/internal/mutation"
)

// FieldType is the declared type of a schema property.
type FieldType string

const (
	TypeInteger FieldType = "integer"
	TypeString  FieldType = "string"
	TypeBoolean FieldType = "boolean"
	TypeObject  FieldType = "object"

	// TypeJSON accepts any JSON-compatible value unchecked.
	TypeJSON FieldType = "json"
)

// Property describes one field of a schema.
type Property struct {
	Type        FieldType
	Default     any
	Enum        []any
	Required    bool
	Description string
}

// Definition is one registered schema: a named property map.
type Definition struct {
	Title      string
	Properties map[string]Property
}

// NotRegisteredError reports a lookup of a schema key nobody registered.
// It always indicates internal misconfiguration, never bad caller data.
type NotRegisteredError struct {
	Key string
}

func (e *NotRegisteredError) Error() string {
	return fmt.Sprintf("schema %q is not registered", e.Key)
}

// IsNotRegistered reports whether err is a missing-schema error.
func IsNotRegistered(err error) bool {
	var nre *NotRegisteredError
	return errors.As(err, &nre)
}

// Registry maps schema keys to definitions. It is owned by the engine and
// populated during bootstrap; the pipeline only reads it.
type Registry struct {
	defs map[string]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds or replaces a definition under key.
func (r *Registry) Register(key string, def Definition) {
	r.defs[key] = def
}

// Get returns the definition for key.
func (r *Registry) Get(key string) (Definition, error) {
	def, ok := r.defs[key]
	if !ok {
		return Definition{}, &NotRegisteredError{Key: key}
	}
	return def, nil
}

// Keys returns the registered schema keys, sorted.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.defs))
	for k := range r.defs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks a full instance against the schema registered under key.
// It returns nil when the instance is valid, a *ValidationError carrying
// the structured failure list when it is not, and a *NotRegisteredError
// when the key is unknown.
func (r *Registry) Validate(key string, values mutation.Instance) error {
	def, err := r.Get(key)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(def.Properties))
	for name := range def.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	var failures []Failure
	for _, name := range names {
		prop := def.Properties[name]
		v, present := values[name]

		if !present || v == nil {
			if prop.Required {
				failures = append(failures, Failure{
					Path:    name,
					Keyword: "required",
					Message: fmt.Sprintf("property %q is required", name),
				})
			}
			continue
		}

		if !typeMatches(v, prop.Type) {
			failures = append(failures, Failure{
				Path:    name,
				Keyword: "type",
				Message: fmt.Sprintf("property %q should be of type %s", name, prop.Type),
				Params:  map[string]any{"type": string(prop.Type)},
			})
			continue
		}

		if len(prop.Enum) > 0 && !enumContains(prop.Enum, v, prop) {
			failures = append(failures, Failure{
				Path:    name,
				Keyword: "enum",
				Message: fmt.Sprintf("property %q should be one of the allowed values", name),
				Params:  map[string]any{"allowedValues": prop.Enum},
			})
		}
	}

	if len(failures) > 0 {
		return &ValidationError{SchemaKey: key, Failures: failures}
	}
	return nil
}

func typeMatches(v any, t FieldType) bool {
	switch t {
	case TypeInteger:
		switch n := v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64:
			return n == float64(int64(n))
		case float32:
			return float64(n) == float64(int64(n))
		default:
			return false
		}
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeObject:
		switch v.(type) {
		case map[string]any, mutation.Instance:
			return true
		default:
			return false
		}
	case TypeJSON:
		return true
	default:
		return false
	}
}

func enumContains(allowed []any, v any, prop Property) bool {
	for _, a := range allowed {
		if Equal(a, v, prop) {
			return true
		}
	}
	return false
}
