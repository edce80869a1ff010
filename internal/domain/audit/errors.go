package audit

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced across the service boundary.
var (
	ErrClientNotFound    = errors.New("client not found")
	ErrFirewallNotFound  = errors.New("firewall not found")
	ErrRunNotFound       = errors.New("run not found")
	ErrJobNotFound       = errors.New("job not found")
	ErrNoActiveFirewalls = errors.New("client has no active firewalls")
	ErrDuplicateInFlight = errors.New("firewall already has an audit in flight")
	ErrInvalidTransition = errors.New("invalid job state transition")
	ErrAwaitTimeout      = errors.New("run did not complete before deadline")
	ErrClientBusy        = errors.New("client has jobs in flight")
	ErrShuttingDown      = errors.New("dispatcher is shutting down")
	ErrReportNotReady    = errors.New("report not rendered yet")
)

// ResolutionError means the target could not be turned into a usable
// connection descriptor. Never retried.
type ResolutionError struct {
	FirewallID FirewallID
	Reason     string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve firewall %s: %s", e.FirewallID, e.Reason)
}

// ExecError is a typed executor failure. Kind drives retry policy and
// the terminal job state.
type ExecError struct {
	Kind   FailureKind
	Detail string
	Err    error
}

func (e *ExecError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return string(e.Kind)
}

func (e *ExecError) Unwrap() error { return e.Err }

// NewExecError builds a typed failure, keeping the cause for errors.Is/As.
func NewExecError(kind FailureKind, detail string, cause error) *ExecError {
	return &ExecError{Kind: kind, Detail: detail, Err: cause}
}

// KindOf extracts the failure kind from any error in the chain.
// Unclassified errors map to KindProcessExitNonZero as the conservative
// non-transient default.
func KindOf(err error) FailureKind {
	var ee *ExecError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	var re *ResolutionError
	if errors.As(err, &re) {
		return KindResolution
	}
	return KindProcessExitNonZero
}
