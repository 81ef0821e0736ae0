// Package syncerr defines the error taxonomy that every other package
// classifies its failures into: a kind (Reason), not a Go type hierarchy,
// matching spec.md §7's "reason code and structured context" contract for
// what collaborators are allowed to observe.
package syncerr

import "fmt"

// Reason is one of the fixed error kinds from spec.md §7.
type Reason string

const (
	ReasonTransientTransport Reason = "transient_transport"
	ReasonTransportDegraded  Reason = "transport_degraded"
	ReasonPeerDisconnected   Reason = "peer_disconnected"
	ReasonProtocolViolation  Reason = "protocol_violation"
	ReasonDesyncDetected     Reason = "desync_detected"
	ReasonEnvironmentError   Reason = "environment_error"
	ReasonLifecycleFault     Reason = "lifecycle_fault"
	ReasonMatchmakerFault    Reason = "matchmaker_fault"
	ReasonRollbackRestoreFailed Reason = "rollback_restore_failed"
)

// Error wraps an underlying cause with a Reason and optional structured
// context, the only shape collaborators are exposed to.
type Error struct {
	Reason  Reason
	Context map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("syncerr: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("syncerr: %s", e.Reason)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error of the given Reason.
func New(reason Reason, cause error, context map[string]any) *Error {
	return &Error{Reason: reason, Cause: cause, Context: context}
}

// Retries reports whether this reason's failures are ever silently
// retried past their configured timeout — per spec.md §7, the answer is
// always no; this exists as a single source of truth callers can assert
// against instead of re-deciding it ad hoc.
func (r Reason) Retries() bool { return false }

// EndsSession reports whether this reason, on its own, terminates the
// session (as opposed to self-healing or re-pooling).
func (r Reason) EndsSession() bool {
	switch r {
	case ReasonPeerDisconnected, ReasonProtocolViolation, ReasonEnvironmentError, ReasonRollbackRestoreFailed:
		return true
	default:
		return false
	}
}

// ExportAllowed reports whether a partial export is still permitted when
// ending a session for this reason.
func (r Reason) ExportAllowed() bool {
	return r != ReasonEnvironmentError
}
