package queryargs

import (
	"errors"
	"fmt"
)

// ErrMissingVariable is returned when a `$name` reference has no argument.
var ErrMissingVariable = errors.New("missing variable")

// ValidationError reports a request argument that does not fit the schema.
type ValidationError struct {
	Entity  string
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	switch {
	case e.Field == "":
		return fmt.Sprintf("invalid arguments for %s: %s", e.Entity, e.Message)
	case e.Entity == "":
		return fmt.Sprintf("invalid argument %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid argument %s.%s: %s", e.Entity, e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(entityName, field string, err error, format string, args ...any) error {
	return &ValidationError{Entity: entityName, Field: field, Message: fmt.Sprintf(format, args...), Err: err}
}
