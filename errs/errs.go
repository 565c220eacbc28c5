// Package errs holds the error taxonomy shared by the repositories, the
// reconciliation engine and the HTTP layer.
package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ValidationError reports malformed or missing input, field by field.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Validation collects field violations. Add is a no-op on an empty message so
// callers can chain checks; Err returns nil when nothing was added.
type Validation struct {
	fields map[string]string
}

func (v *Validation) Add(field, msg string) {
	if msg == "" {
		return
	}
	if v.fields == nil {
		v.fields = make(map[string]string)
	}
	if _, ok := v.fields[field]; !ok {
		v.fields[field] = msg
	}
}

func (v *Validation) Err() error {
	if len(v.fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: v.fields}
}

// Invalid is shorthand for a single-field ValidationError.
func Invalid(field, msg string) error {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.Key)
}

func NotFound(entity, key string) error {
	return &NotFoundError{Entity: entity, Key: key}
}

// InvalidTransitionError means the requested change is unreachable from the
// current state.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s: cannot move from %s to %s", e.Entity, e.From, e.To)
}

// AmountMismatchError is returned when evidence carries an amount outside the
// accepted tolerance. It is never auto-corrected.
type AmountMismatchError struct {
	Expected  float64
	Got       float64
	Tolerance float64
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("amount mismatch: expected %.2f (±%.2f), got %.2f", e.Expected, e.Tolerance, e.Got)
}

// TransientError wraps a store or cache hiccup that survived the local retry budget.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: temporary failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ConflictError reports that the target is already in the requested (or another
// terminal) state. Callers usually turn it into a non-error "already <state>" result.
type ConflictError struct {
	Entity string
	Key    string
	State  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q already %s", e.Entity, e.Key, e.State)
}

// Retryable reports whether err may be retried locally. Validation, not-found,
// invalid-transition and amount-mismatch errors never are.
func Retryable(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsInvalidTransition(err error) bool {
	var it *InvalidTransitionError
	return errors.As(err, &it)
}

func IsAmountMismatch(err error) bool {
	var am *AmountMismatchError
	return errors.As(err, &am)
}
