package schema

import (
	"errors"
	"fmt"

	"github.com/roach88/patchwork/internal/mutation"
)

// Failure is one structured validation finding.
type Failure struct {
	Path    string         `json:"path"`
	Keyword string         `json:"keyword"`
	Message string         `json:"message"`
	Params  map[string]any `json:"params,omitempty"`
}

// ValidationError reports that an instance did not satisfy its schema.
// It carries every failure found, not just the first.
type ValidationError struct {
	SchemaKey string
	Failures  []Failure
}

func (e *ValidationError) Error() string {
	if len(e.Failures) == 1 {
		return fmt.Sprintf("schema %q: %s", e.SchemaKey, e.Failures[0].Message)
	}
	return fmt.Sprintf("schema %q: %d validation failures", e.SchemaKey, len(e.Failures))
}

// Details contributes the failure list to the error's audit event.
func (e *ValidationError) Details() mutation.Instance {
	failures := make([]any, len(e.Failures))
	for i, f := range e.Failures {
		entry := mutation.Instance{
			"path":    f.Path,
			"keyword": f.Keyword,
			"message": f.Message,
		}
		if f.Params != nil {
			entry["params"] = f.Params
		}
		failures[i] = entry
	}
	return mutation.Instance{"failures": failures}
}

// IsValidationError reports whether err is a schema validation failure.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
