// Package errors provides error handling for the knowledge graph engine.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check error kinds
//	if errors.Is(err, errors.ErrNotFound) {
//	    // handle not found
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is         = crdb.Is
	IsAny      = crdb.IsAny
	As         = crdb.As
	Unwrap     = crdb.Unwrap
	UnwrapOnce = crdb.UnwrapOnce
	UnwrapAll  = crdb.UnwrapAll
)

// Assertions
var (
	AssertionFailedf = crdb.AssertionFailedf
)

// GetStack is an alias for GetReportableStackTrace for convenience.
var GetStack = crdb.GetReportableStackTrace

// Sentinel errors for the engine's error kinds. Use these with errors.Is()
// for type-safe checking and errors.Wrap() to add context while preserving
// the kind.
var (
	// ErrValidation indicates malformed input: empty subject/predicate,
	// out-of-range confidence, negative max depth.
	ErrValidation = New("validation failed")

	// ErrNotFound indicates the requested element does not exist.
	ErrNotFound = New("not found")

	// ErrTenantIsolation indicates a missing or mismatched tenant context.
	// Never retried: this is a programming or configuration error.
	ErrTenantIsolation = New("tenant isolation violation")

	// ErrCycleDetected indicates a taxonomy edge would close a cycle
	// through an inheritance-propagating relation type.
	ErrCycleDetected = New("cycle detected")

	// ErrConflict indicates a concurrent version mismatch on update.
	ErrConflict = New("version conflict")

	// ErrCancelled indicates an operation stopped because its context
	// was cancelled.
	ErrCancelled = New("cancelled")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsValidationError checks if an error is or wraps ErrValidation.
func IsValidationError(err error) bool {
	return err != nil && Is(err, ErrValidation)
}

// IsTenantIsolationError checks if an error is or wraps ErrTenantIsolation.
func IsTenantIsolationError(err error) bool {
	return err != nil && Is(err, ErrTenantIsolation)
}

// IsCycleDetectedError checks if an error is or wraps ErrCycleDetected.
func IsCycleDetectedError(err error) bool {
	return err != nil && Is(err, ErrCycleDetected)
}

// NewNotFoundError creates a not-found error with a formatted message.
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewValidationError creates a validation error with a formatted message.
func NewValidationError(format string, args ...interface{}) error {
	return Wrap(ErrValidation, Newf(format, args...).Error())
}

// NewTenantIsolationError creates a tenant isolation error with a formatted message.
func NewTenantIsolationError(format string, args ...interface{}) error {
	return Wrap(ErrTenantIsolation, Newf(format, args...).Error())
}

// RequireTenant fails closed when the tenant ID is absent. Every public
// engine operation calls this before touching storage.
func RequireTenant(tenantID string) error {
	if tenantID == "" {
		return NewTenantIsolationError("missing tenant ID")
	}
	return nil
}
