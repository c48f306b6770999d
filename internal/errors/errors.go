// Package errors provides centralized error definitions and error handling utilities
// for roster. It defines the coordination error taxonomy, typed errors carrying
// the key, session or resource involved, and classification helpers.
//
// # Error Taxonomy
//
// Sentinel errors name the failure kinds callers branch on:
//   - ErrStoreUnavailable: the record store cannot be read or written, or a
//     contested conditional write kept losing after the bounded retry budget
//   - ErrSessionTerminated: the operation targeted a session that is no longer active
//   - ErrNotHolder: a release was attempted by a session that does not own the lock or claim
//   - ErrIOFailure: an atomic write could not complete; the prior record is intact
//   - ErrConflict: a conditional write lost against a newer version (retryable)
//
// A contested acquire or claim is not an error. Managers report it as a
// Denied outcome value instead.
//
// # Usage
//
//	err := errors.NewStoreError("put", "locks/db-migrate", errors.ErrIOFailure)
//
//	if errors.Is(err, errors.ErrIOFailure) { ... }
//
//	var storeErr *errors.StoreError
//	if errors.As(err, &storeErr) { ... }
//
//	if errors.IsRetryable(err) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Store-related sentinel errors
var (
	// ErrStoreUnavailable indicates the record store could not be read or written.
	ErrStoreUnavailable = New("record store unavailable")
	// ErrIOFailure indicates an atomic write did not complete. The previous record is intact.
	ErrIOFailure = New("atomic write failed")
	// ErrNotFound indicates that no record exists for a key.
	ErrNotFound = New("record not found")
	// ErrConflict indicates that a conditional write observed a different version.
	ErrConflict = New("record version conflict")
)

// Session-related sentinel errors
var (
	// ErrSessionNotFound indicates that a session record could not be found.
	ErrSessionNotFound = New("session not found")
	// ErrSessionTerminated indicates that the session is no longer active.
	ErrSessionTerminated = New("session terminated")
)

// Ownership-related sentinel errors
var (
	// ErrNotHolder indicates a release by a session that does not own the lock or claim.
	ErrNotHolder = New("session is not the holder")
	// ErrUnknownResource indicates a lock name that the coordination manifest does not declare.
	ErrUnknownResource = New("resource not declared in manifest")
)

// General sentinel errors
var (
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message   string
	cause     error
	severity  Severity
	retryable bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// StoreError represents a failed record store operation.
//
// Example:
//
//	err := errors.NewStoreError("put", "sessions/abc", errors.ErrIOFailure)
//	fmt.Println(err) // "store error [op=put, key=sessions/abc]: atomic write failed"
type StoreError struct {
	baseError
	Op  string
	Key string
}

// NewStoreError creates a StoreError for the given operation and key.
// Conflicts are marked retryable; everything else is not.
func NewStoreError(op, key string, cause error) *StoreError {
	return &StoreError{
		baseError: baseError{
			cause:     cause,
			severity:  SeverityError,
			retryable: errors.Is(cause, ErrConflict),
		},
		Op:  op,
		Key: key,
	}
}

// Error returns the formatted error message.
func (e *StoreError) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, "op="+e.Op)
	}
	if e.Key != "" {
		parts = append(parts, "key="+e.Key)
	}
	prefix := "store error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("store error [%s]", strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", prefix, e.cause)
	}
	return prefix
}

// SessionError represents errors related to session lifecycle.
type SessionError struct {
	baseError
	SessionID string
}

// NewSessionError creates a new SessionError.
func NewSessionError(message string, cause error) *SessionError {
	return &SessionError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityError,
		},
	}
}

// WithSessionID adds a session ID to the error context.
func (e *SessionError) WithSessionID(id string) *SessionError {
	e.SessionID = id
	return e
}

// Error returns the formatted error message.
func (e *SessionError) Error() string {
	prefix := "session error"
	if e.SessionID != "" {
		prefix = fmt.Sprintf("session error [session=%s]", e.SessionID)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// OwnershipError reports a lock or claim operation that was refused because
// of who owns the record.
type OwnershipError struct {
	baseError
	Kind      string // "lock" or "claim"
	Name      string
	SessionID string
	Holder    string
}

// NewOwnershipError creates an OwnershipError.
func NewOwnershipError(kind, name, sessionID, holder string, cause error) *OwnershipError {
	return &OwnershipError{
		baseError: baseError{
			cause:    cause,
			severity: SeverityWarning,
		},
		Kind:      kind,
		Name:      name,
		SessionID: sessionID,
		Holder:    holder,
	}
}

// Error returns the formatted error message.
func (e *OwnershipError) Error() string {
	holder := e.Holder
	if holder == "" {
		holder = "<none>"
	}
	return fmt.Sprintf("%s %q: session %s (holder %s): %v", e.Kind, e.Name, e.SessionID, holder, e.cause)
}

// ValidationError represents invalid input.
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError wrapping ErrInvalidInput.
func NewValidationError(field string, value any, message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:  message,
			cause:    ErrInvalidInput,
			severity: SeverityWarning,
		},
		Field: field,
		Value: value,
	}
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, fmt.Sprint(e.Value), e.message)
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable reports whether err is transient. Version conflicts are always
// retryable; typed errors report their own flag.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) && r.IsRetryable() {
		return true
	}
	return errors.Is(err, ErrConflict)
}

// GetSeverity returns the severity of err, defaulting to SeverityError for
// errors that do not carry one.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityInfo
	}
	var s interface{ Severity() Severity }
	if errors.As(err, &s) {
		return s.Severity()
	}
	return SeverityError
}

// Wrap annotates err with message, preserving the chain. A nil err returns nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf is Wrap with a format string.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
