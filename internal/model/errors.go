package model

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/contractr/contractr/internal/resilience"
)

var (
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = eris.New("not found")
	// ErrNoAllowedContact means a provider has no contact that may be used
	// on any channel the project permits.
	ErrNoAllowedContact = eris.New("no allowed contact")
	// ErrInvalidTransition is returned for a status change that is not an
	// edge of the lifecycle graph, or whose expected source status is stale.
	ErrInvalidTransition = eris.New("invalid status transition")
	// ErrProjectInactive aborts a send when the project left outreach or
	// negotiation after the job was scheduled.
	ErrProjectInactive = eris.New("project is not accepting outreach")
	// ErrUpstreamUnavailable marks a search or LLM failure that callers
	// degrade from instead of failing.
	ErrUpstreamUnavailable = eris.New("upstream unavailable")
	// ErrInvalidInput is returned for malformed intake data.
	ErrInvalidInput = eris.New("invalid input")
)

// ComplianceError is returned when the compliance gate rejects a send.
type ComplianceError struct {
	Reason string
}

func (e *ComplianceError) Error() string {
	return "compliance violation: " + e.Reason
}

// NewComplianceError builds a ComplianceError with the given reason.
func NewComplianceError(reason string) error {
	return &ComplianceError{Reason: reason}
}

// IsComplianceViolation reports whether err carries a ComplianceError.
func IsComplianceViolation(err error) bool {
	var ce *ComplianceError
	return errors.As(err, &ce)
}

// SourcingError carries the cause of a sourcing run that failed and was
// reverted to draft. Its message is safe to show to the requester.
type SourcingError struct {
	Err error
}

func (e *SourcingError) Error() string {
	return "sourcing failed: " + e.Err.Error()
}

func (e *SourcingError) Unwrap() error { return e.Err }

// IsSourcingFailure reports whether err carries a SourcingError.
func IsSourcingFailure(err error) bool {
	var se *SourcingError
	return errors.As(err, &se)
}

// TransportFailure wraps a delivery error so that it is retried by the
// queue and by resilience.Do.
func TransportFailure(err error) error {
	if err == nil {
		return nil
	}
	return resilience.NewTransientError(fmt.Errorf("transport failure: %w", err), 0)
}

// IsTransportFailure reports whether err was produced by TransportFailure.
func IsTransportFailure(err error) bool {
	var te *resilience.TransientError
	return errors.As(err, &te)
}

// Permanent reports whether retrying the operation that produced err cannot
// succeed.
func Permanent(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrNoAllowedContact) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrProjectInactive) ||
		errors.Is(err, ErrInvalidInput) ||
		IsComplianceViolation(err)
}
