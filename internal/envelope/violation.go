package envelope

import (
	"errors"
	"fmt"
	"strings"

	"github.com/alfredjeanlab/fleetbus/internal/model"
)

// ErrSchemaViolation matches any *SchemaViolation with errors.Is.
var ErrSchemaViolation = errors.New("schema violation")

// FieldError is a single failing field of an event.
type FieldError struct {
	Field   string
	Message string
}

// SchemaViolation reports an event that does not conform to its tag's schema.
// It is a caller error: the event is rejected before transmission.
type SchemaViolation struct {
	Tag    string
	Action model.Action
	Errors []FieldError
}

func (e *SchemaViolation) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	var scope string
	switch {
	case e.Tag != "" && e.Action != "":
		scope = fmt.Sprintf(" (tag %q, action %s)", e.Tag, e.Action)
	case e.Tag != "":
		scope = fmt.Sprintf(" (tag %q)", e.Tag)
	}
	return "schema violation" + scope + ": " + strings.Join(parts, "; ")
}

func (e *SchemaViolation) Is(target error) bool {
	return target == ErrSchemaViolation
}

// HasErrors reports whether any field failed.
func (e *SchemaViolation) HasErrors() bool {
	return len(e.Errors) > 0
}

// Field reports whether the violation contains an error for field.
func (e *SchemaViolation) Field(field string) bool {
	for _, fe := range e.Errors {
		if fe.Field == field {
			return true
		}
	}
	return false
}

func (e *SchemaViolation) add(field, format string, args ...any) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (e *SchemaViolation) err() error {
	if e.HasErrors() {
		return e
	}
	return nil
}
