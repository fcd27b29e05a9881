package domain

import "fmt"

// Error types for consistent error handling across the billing core.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrValidation indicates a validation error (bad input). Field names
// the offending field so callers can surface it directly.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrEncoding indicates an internal invariant violation while building
// a BR Code, e.g. a TLV value exceeding the 99-character cap. It means
// a caller bug, not bad user input, and is never retried.
type ErrEncoding struct {
	Tag     string
	Message string
}

func (e *ErrEncoding) Error() string {
	return fmt.Sprintf("encoding error on tag '%s': %s", e.Tag, e.Message)
}

// ErrDuplicate indicates a duplicate operation or record, e.g. a second
// invoice for the same (subscriber, due date) pair.
type ErrDuplicate struct {
	Key string
}

func (e *ErrDuplicate) Error() string {
	return fmt.Sprintf("duplicate operation: %s", e.Key)
}

// ErrExternalService indicates a failure in an external collaborator
// (database, cache, PostgREST).
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrConflict indicates a state transition that is not allowed, e.g.
// paying a canceled invoice.
type ErrConflict struct {
	Message string
}

func (e *ErrConflict) Error() string {
	return e.Message
}

// ErrUnauthorized indicates invalid credentials or token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrExpired indicates a payment link past its validity window.
type ErrExpired struct {
	Resource string
}

func (e *ErrExpired) Error() string {
	return fmt.Sprintf("%s expired", e.Resource)
}
