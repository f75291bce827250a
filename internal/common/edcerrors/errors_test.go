package edcerrors

import (
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestIsFatal(t *testing.T) {
	tests := map[string]struct {
		err   error
		fatal bool
	}{
		"nil": {
			err:   nil,
			fatal: false,
		},
		"protocol violation": {
			err:   NewProtocolViolation("bad message"),
			fatal: true,
		},
		"wrapped protocol violation": {
			err:   errors.WithMessage(&ErrProtocolViolation{EventIndex: 3, Message: "x"}, "decoding"),
			fatal: true,
		},
		"handshake": {
			err:   &ErrHandshake{Supported: "1.0.0", Received: "2.0.0"},
			fatal: true,
		},
		"unimplemented profile kind": {
			err:   &ErrUnimplementedProfileKind{Kind: "foo", Operation: "kill progress"},
			fatal: true,
		},
		"invalid job request": {
			err:   errors.WithStack(&ErrInvalidJobRequest{JobId: "w0!1", Reason: "too big"}),
			fatal: false,
		},
		"probe inconsistency": {
			err:   &ErrProbeDataInconsistency{ProbeId: "p", Host: -1},
			fatal: false,
		},
		"multierror of recoverable errors": {
			err: multierror.Append(
				&ErrProbeDataInconsistency{ProbeId: "p", Host: 0},
				&ErrProbeDataInconsistency{ProbeId: "p", Host: 1},
			),
			fatal: false,
		},
		"multierror with one fatal error": {
			err: multierror.Append(
				&ErrProbeDataInconsistency{ProbeId: "p", Host: 0},
				NewProtocolViolation("bad"),
			),
			fatal: true,
		},
		"unknown error": {
			err:   errors.New("boom"),
			fatal: true,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.fatal, IsFatal(tc.err))
		})
	}
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(
		t,
		"protocol violation in event 2 (type=JobSubmitted): timestamp decreases",
		(&ErrProtocolViolation{EventIndex: 2, EventType: "JobSubmitted", Message: "timestamp decreases"}).Error(),
	)
	assert.Equal(t, "protocol violation: empty buffer", NewProtocolViolation("empty buffer").Error())
	assert.Contains(
		t,
		(&ErrProbeDataInconsistency{ProbeId: "agg", Timestamp: 3, Host: -1, Expected: 100, Actual: 100.005, Difference: 0.005, Tolerance: 0.001, Message: "sum mismatch"}).Error(),
		"on all hosts: sum mismatch (expected=100, actual=100.005, difference=0.005, tolerance=0.001)",
	)
	assert.True(t, IsProtocolViolation(NewProtocolViolation("x")))
	assert.False(t, IsProtocolViolation(&ErrHandshake{}))
}
