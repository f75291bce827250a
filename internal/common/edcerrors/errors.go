// Package edcerrors contains the error types shared by the protocol codec, the decision component and the
// scheduling policies.
//
// Errors are split into two families. Fatal errors (protocol violations, failed handshakes, unimplemented
// profile kinds) indicate a broken contract between the simulation kernel and the decision component and
// abort the exchange. Recoverable errors (invalid job requests, probe inconsistencies) are handled locally,
// either by answering with a protocol decision or by reporting a diagnostic.
//
// If several errors occur while handling one event, they should be combined with
// github.com/hashicorp/go-multierror; IsFatal looks through such chains.
package edcerrors

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// ErrProtocolViolation is returned when a message does not conform to the protocol,
// e.g., malformed input, out-of-order timestamps or an allocation without placement.
type ErrProtocolViolation struct {
	// Index of the offending event within its message, or -1 if the message as a whole is invalid.
	EventIndex int
	// Type of the offending event, if known.
	EventType string
	Message   string
}

func (err *ErrProtocolViolation) Error() string {
	if err.EventIndex < 0 {
		return fmt.Sprintf("protocol violation: %s", err.Message)
	}
	if err.EventType != "" {
		return fmt.Sprintf("protocol violation in event %d (type=%s): %s", err.EventIndex, err.EventType, err.Message)
	}
	return fmt.Sprintf("protocol violation in event %d: %s", err.EventIndex, err.Message)
}

// NewProtocolViolation returns an ErrProtocolViolation about the message as a whole, with a stack trace attached.
func NewProtocolViolation(format string, args ...any) error {
	return errors.WithStack(&ErrProtocolViolation{
		EventIndex: -1,
		Message:    fmt.Sprintf(format, args...),
	})
}

// ErrInvalidJobRequest is returned when a submitted job can never be executed on the platform.
// Policies answer it with a RejectJob decision.
type ErrInvalidJobRequest struct {
	JobId  string
	Reason string
}

func (err *ErrInvalidJobRequest) Error() string {
	return fmt.Sprintf("invalid request for job %s: %s", err.JobId, err.Reason)
}

// ErrUnimplementedProfileKind indicates a profile kind that some code path does not handle.
// The profile catalog is closed, so this is always a programming error.
type ErrUnimplementedProfileKind struct {
	Kind      string
	Operation string
}

func (err *ErrUnimplementedProfileKind) Error() string {
	return fmt.Sprintf("unimplemented %s for profile kind %s", err.Operation, err.Kind)
}

// ErrProbeDataInconsistency is returned when energy probe samples disagree with each other
// or with the expected power bounds of the platform.
type ErrProbeDataInconsistency struct {
	ProbeId   string
	Timestamp float64
	// Host the sample refers to, or -1 for checks on the whole platform.
	Host       int
	Expected   float64
	Actual     float64
	Difference float64
	Tolerance  float64
	Message    string
}

func (err *ErrProbeDataInconsistency) Error() string {
	where := "all hosts"
	if err.Host >= 0 {
		where = fmt.Sprintf("host %d", err.Host)
	}
	return fmt.Sprintf(
		"inconsistent data from probe %s at t=%g on %s: %s (expected=%g, actual=%g, difference=%g, tolerance=%g)",
		err.ProbeId, err.Timestamp, where, err.Message, err.Expected, err.Actual, err.Difference, err.Tolerance,
	)
}

// ErrHandshake is returned when the two sides of the protocol cannot agree on a protocol version.
type ErrHandshake struct {
	Supported string
	Received  string
	Message   string
}

func (err *ErrHandshake) Error() string {
	s := fmt.Sprintf("handshake failed: received protocol version %q but only %q is supported", err.Received, err.Supported)
	if err.Message != "" {
		s = s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}

// IsFatal returns true if err, or any error it wraps, must abort the exchange.
// Uses errors.As to look through the chain of errors and through multierror.Error lists.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	{
		var e *multierror.Error
		if errors.As(err, &e) {
			for _, inner := range e.Errors {
				if IsFatal(inner) {
					return true
				}
			}
			return false
		}
	}
	{
		var e *ErrInvalidJobRequest
		if errors.As(err, &e) {
			return false
		}
	}
	{
		var e *ErrProbeDataInconsistency
		if errors.As(err, &e) {
			return false
		}
	}
	// Protocol violations, handshake failures, unimplemented profile kinds and unknown errors.
	return true
}

// IsProtocolViolation returns true if err wraps an ErrProtocolViolation.
func IsProtocolViolation(err error) bool {
	var e *ErrProtocolViolation
	return errors.As(err, &e)
}
