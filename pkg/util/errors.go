// Package util holds the error types, logging and address helpers shared by
// the topology loader, the NetBox client, the reconciler and the simulator.
package util

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels every typed error below unwraps to, so callers can use errors.Is
// without knowing which package produced the error.
var (
	ErrAlreadyExists      = errors.New("object already exists")
	ErrNotFound           = errors.New("object not found")
	ErrPreconditionFailed = errors.New("precondition not met")
	ErrValidationFailed   = errors.New("validation failed")
	ErrLocked             = errors.New("locked by another run")
)

// PreconditionError reports NetBox state a step cannot proceed from, such as
// a link with only one addressed end.
type PreconditionError struct {
	Action    string // what the step was doing
	Object    string // natural key of the object involved
	Condition string // what had to hold
	Detail    string // what was observed instead
}

func (e *PreconditionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cannot %s for %s: need %s", e.Action, e.Object, e.Condition)
	if e.Detail != "" {
		fmt.Fprintf(&b, " (%s)", e.Detail)
	}
	return b.String()
}

func (e *PreconditionError) Unwrap() error { return ErrPreconditionFailed }

// NewPreconditionError builds a PreconditionError.
func NewPreconditionError(action, object, condition, detail string) *PreconditionError {
	return &PreconditionError{Action: action, Object: object, Condition: condition, Detail: detail}
}

// ValidationError collects every problem found in one document.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	switch len(e.Problems) {
	case 0:
		return ErrValidationFailed.Error()
	case 1:
		return "validation failed: " + e.Problems[0]
	}
	return fmt.Sprintf("validation failed with %d problems:\n  - %s",
		len(e.Problems), strings.Join(e.Problems, "\n  - "))
}

func (e *ValidationError) Unwrap() error { return ErrValidationFailed }

// ValidationBuilder accumulates problems; Build returns nil when there are
// none.
type ValidationBuilder struct {
	problems []string
}

// Add records message unless ok holds.
func (v *ValidationBuilder) Add(ok bool, message string) *ValidationBuilder {
	if !ok {
		v.problems = append(v.problems, message)
	}
	return v
}

// Addf records a formatted problem unconditionally.
func (v *ValidationBuilder) Addf(format string, args ...interface{}) *ValidationBuilder {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
	return v
}

// Len is the number of problems recorded so far.
func (v *ValidationBuilder) Len() int { return len(v.problems) }

func (v *ValidationBuilder) Build() error {
	if len(v.problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: append([]string(nil), v.problems...)}
}
