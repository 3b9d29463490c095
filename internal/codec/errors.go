package codec

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidJSON = errors.New("codec: JSON buffer does not hold valid JSON")
	// ErrMalformed reports stored entries whose kind disagrees with the
	// registry, e.g. a scalar entry under a record field.
	ErrMalformed  = errors.New("codec: malformed buffer entry")
	ErrValueCycle = errors.New("codec: value refers to itself")
)

// TypeMismatchError reports a value that cannot be coerced to the declared
// base type of its field.
type TypeMismatchError struct {
	Field    string
	Expected string
	Actual   string
}

func (e TypeMismatchError) Error() string {
	field := e.Field
	if field == "" {
		field = "<buffer>"
	}
	return fmt.Sprintf("codec: field %s: cannot store %s as %s", field, e.Actual, e.Expected)
}
