package utils

import "fmt"

// ParseError is a contextual error raised while decoding file structures.
type ParseError struct {
	Context string
	Cause   error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Context, e.Cause)
}

// Unwrap provides compatibility with errors.Unwrap().
func (e *ParseError) Unwrap() error {
	return e.Cause
}

// WrapError creates a contextual error. A nil cause yields nil.
func WrapError(context string, cause error) error {
	if cause == nil {
		return nil
	}
	return &ParseError{
		Context: context,
		Cause:   cause,
	}
}
