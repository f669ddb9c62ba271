package shared

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorKind classifies domain failures for callers and transports.
type ErrorKind string

const (
	// KindValidation marks inputs rejected before any calculation.
	KindValidation ErrorKind = "validation"
	// KindBusinessRule marks violations of consolidation rules.
	KindBusinessRule ErrorKind = "business_rule"
	// KindStateMachine marks illegal lifecycle transitions.
	KindStateMachine ErrorKind = "state_machine"
	// KindConcurrency marks optimistic locking conflicts.
	KindConcurrency ErrorKind = "concurrency"
	// KindNotFound marks missing records.
	KindNotFound ErrorKind = "not_found"
	// KindConflict marks resources that are busy or already exist.
	KindConflict ErrorKind = "conflict"
	// KindInternal is returned by KindOf for unclassified errors.
	KindInternal ErrorKind = "internal"
)

// DomainError is a sentinel error carrying its classification.
type DomainError struct {
	Kind    ErrorKind
	Message string
}

func (e *DomainError) Error() string {
	return e.Message
}

func newDomainError(kind ErrorKind, msg string) *DomainError {
	return &DomainError{Kind: kind, Message: msg}
}

// Validation declares a validation sentinel.
func Validation(msg string) error { return newDomainError(KindValidation, msg) }

// BusinessRule declares a business-rule sentinel.
func BusinessRule(msg string) error { return newDomainError(KindBusinessRule, msg) }

// StateMachine declares a state-machine sentinel.
func StateMachine(msg string) error { return newDomainError(KindStateMachine, msg) }

// Concurrency declares an optimistic-locking sentinel.
func Concurrency(msg string) error { return newDomainError(KindConcurrency, msg) }

// NotFound declares a not-found sentinel.
func NotFound(msg string) error { return newDomainError(KindNotFound, msg) }

// Conflict declares a conflict sentinel.
func Conflict(msg string) error { return newDomainError(KindConflict, msg) }

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = NotFound("not found")
	// ErrInvalidInput is matched by every ValidationError.
	ErrInvalidInput = Validation("invalid input")
	// ErrRunLocked indicates another process holds the consolidation lock.
	ErrRunLocked = Conflict("consolidation run already in progress")
)

// KindOf returns the classification of err, walking wrapped errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return KindValidation
	}
	var derr *DomainError
	if errors.As(err, &derr) {
		return derr.Kind
	}
	return KindInternal
}

// ValidationError lists invalid fields with a human readable reason each.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: reason}}
}

// Add records another invalid field.
func (e *ValidationError) Add(field, reason string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = reason
}

// Empty reports whether no field failed.
func (e *ValidationError) Empty() bool {
	return e == nil || len(e.Fields) == 0
}

// OrNil returns nil when no field failed so callers can return it directly.
func (e *ValidationError) OrNil() error {
	if e.Empty() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	if e.Empty() {
		return ErrInvalidInput.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s %s", k, e.Fields[k]))
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

// Is lets errors.Is(err, ErrInvalidInput) match any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}
