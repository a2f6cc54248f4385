// Package errkind classifies errors by policy rather than by concrete type,
// so that the session FSM, signing orchestrator, mint submitter and API
// all make the same retry/advance/abort decision for the same failure shape.
package errkind

import "errors"

// Kind is a coarse error classification used to drive retry/cursor policy.
type Kind int

const (
	// Unknown is the zero value; treated conservatively as TransientNetwork.
	Unknown Kind = iota
	TransientNetwork
	NonRetriableOnChainAbort
	ValidationFailure
	PaymentUnverified
	DepositUnverified
	ResourceStarvation
	Fatal
)

func (k Kind) String() string {
	switch k {
	case TransientNetwork:
		return "transient_network"
	case NonRetriableOnChainAbort:
		return "non_retriable_onchain_abort"
	case ValidationFailure:
		return "validation_failure"
	case PaymentUnverified:
		return "payment_unverified"
	case DepositUnverified:
		return "deposit_unverified"
	case ResourceStarvation:
		return "resource_starvation"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// classified wraps an error with an explicit Kind, recoverable with As.
type classified struct {
	kind Kind
	err  error
}

func (c *classified) Error() string { return c.err.Error() }
func (c *classified) Unwrap() error { return c.err }

// Wrap tags err with kind. A nil err returns nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &classified{kind: kind, err: err}
}

// Classify recovers the Kind a caller previously attached with Wrap. An
// error that was never classified is reported as Unknown, which callers
// should treat as retriable-but-logged (the conservative default).
func Classify(err error) Kind {
	var c *classified
	if errors.As(err, &c) {
		return c.kind
	}
	return Unknown
}

// IsRetriable reports whether the policy for kind is to retry with backoff.
func IsRetriable(kind Kind) bool {
	switch kind {
	case TransientNetwork, ResourceStarvation, Unknown:
		return true
	default:
		return false
	}
}

// AdvancesCursor reports whether an event stream cursor should move past
// the event that produced this error.
func AdvancesCursor(kind Kind) bool {
	return kind == NonRetriableOnChainAbort
}
