package causal

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed node, edge or document field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ReferenceError reports an edge whose endpoint is not in the graph.
type ReferenceError struct {
	Source  NodeID
	Target  NodeID
	Missing NodeID
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("edge %s -> %s references missing node %s", e.Source, e.Target, e.Missing)
}

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsReference reports whether err is (or wraps) a *ReferenceError.
func IsReference(err error) bool {
	var re *ReferenceError
	return errors.As(err, &re)
}
