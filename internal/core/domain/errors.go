package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a harness error with a structured error code.
type DomainError struct {
	Code    string // Error code (e.g., "SV-SNAP-4080")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// ============================================================================
// Job lifecycle errors (JOB)
// ============================================================================

var (
	// ErrJobSubmission indicates the cluster rejected the job graph.
	ErrJobSubmission = NewDomainError("SV-JOB-4000", "job graph rejected")

	// ErrJobNotFound indicates no job exists for the given ID.
	ErrJobNotFound = NewDomainError("SV-JOB-4040", "job not found")

	// ErrJobNotRunning indicates an operation that requires a running job.
	ErrJobNotRunning = NewDomainError("SV-JOB-4090", "job is not running")

	// ErrDeadlineExceeded indicates the job reached neither a running
	// nor a terminal condition within the deadline.
	ErrDeadlineExceeded = NewDomainError("SV-JOB-4080", "job did not reach running state within deadline")

	// ErrJobFailed indicates the job transitioned to a failed state.
	ErrJobFailed = NewDomainError("SV-JOB-5000", "job failed")
)

// ============================================================================
// Source errors (SRC)
// ============================================================================

var (
	// ErrStateNotReady indicates the source never finished emitting
	// within the deadline budget. This is a hard failure, never a skip.
	ErrStateNotReady = NewDomainError("SV-SRC-4080", "source did not finish emitting within deadline")
)

// ============================================================================
// Snapshot errors (SNAP)
// ============================================================================

var (
	// ErrSnapshotTimeout indicates the snapshot was not materialized in time.
	ErrSnapshotTimeout = NewDomainError("SV-SNAP-4080", "snapshot not materialized within deadline")

	// ErrSnapshotFailed indicates a state flush or partition write failed.
	// A partial flush must never produce a usable snapshot handle.
	ErrSnapshotFailed = NewDomainError("SV-SNAP-5000", "snapshot capture failed")

	// ErrSnapshotInvalid indicates the persisted snapshot cannot be opened.
	ErrSnapshotInvalid = NewDomainError("SV-SNAP-4220", "snapshot is invalid or corrupt")

	// ErrStateNameUnknown indicates a read of a state name the snapshot
	// does not contain.
	ErrStateNameUnknown = NewDomainError("SV-SNAP-4040", "state name not present in snapshot")
)

// ============================================================================
// Verification errors (VRFY)
// ============================================================================

var (
	// ErrVerificationMismatch indicates read-back content disagrees with
	// the reference sequence.
	ErrVerificationMismatch = NewDomainError("SV-VRFY-4220", "read-back state does not match reference")
)

// ============================================================================
// Internal errors (CORE)
// ============================================================================

var (
	// ErrInternal indicates an unexpected internal failure.
	ErrInternal = NewDomainError("SV-CORE-5000", "internal error")
)
