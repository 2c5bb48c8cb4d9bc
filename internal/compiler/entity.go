// Package compiler turns CUE entity declarations into registered schema
// definitions. It uses the CUE SDK's Go API directly, never the CLI.
package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/patchwork/internal/schema"
)

// CompileEntity parses a CUE value into a schema Definition.
//
// The CUE value should be the entity struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`entity: person: { ... }`)
//	def, err := CompileEntity(v.LookupPath(cue.ParsePath("entity.person")))
func CompileEntity(v cue.Value) (*schema.Definition, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	def := &schema.Definition{Properties: make(map[string]schema.Property)}

	titleVal := v.LookupPath(cue.ParsePath("title"))
	if titleVal.Exists() {
		title, err := titleVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		def.Title = title
	}

	propsVal := v.LookupPath(cue.ParsePath("properties"))
	if !propsVal.Exists() {
		return nil, &CompileError{
			Field:   "properties",
			Message: "properties are required",
			Pos:     v.Pos(),
		}
	}

	iter, err := propsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		name := iter.Label()
		prop, err := compileProperty(iter.Value())
		if err != nil {
			var ce *CompileError
			if cueerrors.As(err, &ce) {
				ce.Field = fmt.Sprintf("properties.%s.%s", name, ce.Field)
			}
			return nil, err
		}
		def.Properties[name] = prop
	}

	if len(def.Properties) == 0 {
		return nil, &CompileError{
			Field:   "properties",
			Message: "at least one property is required",
			Pos:     propsVal.Pos(),
		}
	}
	return def, nil
}

func compileProperty(v cue.Value) (schema.Property, error) {
	var prop schema.Property

	typeVal := v.LookupPath(cue.ParsePath("type"))
	if !typeVal.Exists() {
		return prop, &CompileError{
			Field:   "type",
			Message: "property type is required",
			Pos:     v.Pos(),
		}
	}
	typeName, err := typeVal.String()
	if err != nil {
		return prop, formatCUEError(err)
	}
	fieldType, err := parseFieldType(typeName, typeVal.Pos())
	if err != nil {
		return prop, err
	}
	prop.Type = fieldType

	requiredVal := v.LookupPath(cue.ParsePath("required"))
	if requiredVal.Exists() {
		required, err := requiredVal.Bool()
		if err != nil {
			return prop, formatCUEError(err)
		}
		prop.Required = required
	}

	descVal := v.LookupPath(cue.ParsePath("description"))
	if descVal.Exists() {
		desc, err := descVal.String()
		if err != nil {
			return prop, formatCUEError(err)
		}
		prop.Description = desc
	}

	defaultVal := v.LookupPath(cue.ParsePath("default"))
	if defaultVal.Exists() {
		var dv any
		if err := defaultVal.Decode(&dv); err != nil {
			return prop, formatCUEError(err)
		}
		prop.Default = normalizeLiteral(dv, fieldType)
	}

	enumVal := v.LookupPath(cue.ParsePath("enum"))
	if enumVal.Exists() {
		list, err := enumVal.List()
		if err != nil {
			return prop, formatCUEError(err)
		}
		for list.Next() {
			var item any
			if err := list.Value().Decode(&item); err != nil {
				return prop, formatCUEError(err)
			}
			prop.Enum = append(prop.Enum, normalizeLiteral(item, fieldType))
		}
	}

	return prop, nil
}

// parseFieldType maps a declared type name onto the schema's type alphabet.
// Floats are not part of it; integer covers all numeric fields.
func parseFieldType(name string, pos token.Pos) (schema.FieldType, error) {
	switch schema.FieldType(name) {
	case schema.TypeInteger, schema.TypeString, schema.TypeBoolean,
		schema.TypeObject, schema.TypeJSON:
		return schema.FieldType(name), nil
	case "float", "number":
		return "", &CompileError{
			Field:   "type",
			Message: "float types are not supported, use integer",
			Pos:     pos,
		}
	default:
		return "", &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("unsupported type %q", name),
			Pos:     pos,
		}
	}
}

// normalizeLiteral settles CUE-decoded numeric literals into int64 for
// integer properties, so defaults and enum members compare cleanly against
// stored values.
func normalizeLiteral(v any, t schema.FieldType) any {
	if t != schema.TypeInteger {
		return v
	}
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return v
	}
}

// CompileError reports a rejected entity declaration with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	firstErr := errs[0]
	positions := cueerrors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
