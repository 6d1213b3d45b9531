/*
errors.go - Centralized error taxonomy for the allocation engine

PURPOSE:
  All error kinds in one place. Every error the engine returns belongs to
  exactly one class so callers (HTTP layer, CLI, batch summaries) can map
  it without string matching.

ERROR CLASSES:
  1. Configuration - malformed Rule/WeeklyVariant/EntitlementBand data
  2. NotFound      - unknown program/block/employee id
  3. Validation    - malformed request parameters, illegal transitions
  4. Capacity      - BlockFull / BlockClosed / Expired on reservations
  5. Processing    - unexpected failure while planning one employee

USAGE:
  Structured errors unwrap to BOTH their class and their specific cause:

    err := &CapacityError{BlockID: id, Reason: ErrBlockFull}
    errors.Is(err, ErrCapacity)  // true
    errors.Is(err, ErrBlockFull) // true

SEE ALSO:
  - entitlement/table.go: ErrNoMatchingBand
  - reservation/scheduler.go: capacity errors
  - api/handlers.go: HTTP status mapping
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// Classes.
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrValidation    = errors.New("validation error")
	ErrCapacity      = errors.New("capacity error")
	ErrProcessing    = errors.New("processing error")

	// ErrNoMatchingBand is returned when the entitlement table does not cover
	// the requested years of service. It is a configuration problem, never a
	// user input problem.
	ErrNoMatchingBand = errors.New("no matching entitlement band")

	// ErrBlockFull is returned when a block has no remaining capacity.
	ErrBlockFull = errors.New("block full")

	// ErrBlockClosed is returned when a block is closed or its window has not opened.
	ErrBlockClosed = errors.New("block closed")

	// ErrExpired is returned when the block deadline has passed.
	ErrExpired = errors.New("reservation window expired")

	// ErrInvalidTransition is returned for state changes the program lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrAlreadyExists is returned when creating something that must be unique.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConfigurationError reports malformed seed or catalog data.
type ConfigurationError struct {
	Component string // "rotation", "entitlement", ...
	Detail    string
	Err       error // optional specific cause, e.g. ErrNoMatchingBand
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s configuration: %s: %v", e.Component, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s configuration: %s", e.Component, e.Detail)
}

func (e *ConfigurationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConfiguration}
	}
	return []error{ErrConfiguration, e.Err}
}

// NotFoundError names the kind and id of the missing record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ValidationError describes a rejected request parameter.
type ValidationError struct {
	Field   string
	Message string
	Err     error // optional specific cause, e.g. ErrInvalidTransition
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrValidation}
	}
	return []error{ErrValidation, e.Err}
}

// CapacityError is returned by reservation attempts.
// Reason is one of ErrBlockFull, ErrBlockClosed or ErrExpired.
type CapacityError struct {
	BlockID BlockID
	Reason  error
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("block %s: %v", e.BlockID, e.Reason)
}

func (e *CapacityError) Unwrap() []error { return []error{ErrCapacity, e.Reason} }

// ProcessingError wraps an unexpected failure isolated to one employee.
type ProcessingError struct {
	EmployeeID EmployeeID
	Err        error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing employee %s: %v", e.EmployeeID, e.Err)
}

func (e *ProcessingError) Unwrap() []error { return []error{ErrProcessing, e.Err} }

// =============================================================================
// CONSTRUCTORS
// =============================================================================

func NotFound(kind, id string) error { return &NotFoundError{Kind: kind, ID: id} }

func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func Misconfigured(component, format string, args ...any) error {
	return &ConfigurationError{Component: component, Detail: fmt.Sprintf(format, args...)}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrInvalidPeriod)
}

// IsAlreadyExists returns true when a uniqueness constraint was hit.
func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsCapacity returns true for BlockFull / BlockClosed / Expired.
func IsCapacity(err error) bool { return errors.Is(err, ErrCapacity) }

// IsConfiguration returns true for catalog or band integrity problems.
func IsConfiguration(err error) bool { return errors.Is(err, ErrConfiguration) }
