package book

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var ErrNotFound = errors.New("book not found")

// ValidationError maps each rejected field to the reason it was rejected.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Fields[name])
	}
	return "invalid book: " + strings.Join(parts, "; ")
}

func newValidationError(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validation.Errors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	fields := make(map[string]string, len(fieldErrs))
	for name, fieldErr := range fieldErrs {
		fields[strings.ToLower(name)] = fieldErr.Error()
	}
	return &ValidationError{Fields: fields}
}

// ConflictError reports a write rejected by a uniqueness rule.
type ConflictError struct {
	Field string
	Value string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("a book with %s %q already exists", e.Field, e.Value)
}

// PreconditionViolation reports a scope used after it was finalized. It always points at a caller bug.
type PreconditionViolation struct {
	Op    string
	State string
}

func (e *PreconditionViolation) Error() string {
	return fmt.Sprintf("cannot %s: scope already %s", e.Op, e.State)
}
