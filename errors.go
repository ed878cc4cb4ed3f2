package x402

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedRequirements is returned when a 402 response cannot be understood
	ErrMalformedRequirements = errors.New("malformed payment requirements")

	// ErrNoMatchingRequirements is returned when no offered requirement can be paid
	// by a registered scheme, or no configured requirement matches a payload
	ErrNoMatchingRequirements = errors.New("no matching payment requirements")

	// ErrMalformedPayload is returned for payment assertions that cannot be encoded,
	// decoded or that fail the local signature self-check
	ErrMalformedPayload = errors.New("malformed payment payload")

	// ErrNoFacilitator is returned by a resource server without a facilitator client
	ErrNoFacilitator = errors.New("no facilitator client configured")
)

// VerifyError is a verification failure reported by the facilitator
type VerifyError struct {
	Reason  string
	Payer   string
	Network Network
	Err     error
}

// NewVerifyError creates a VerifyError
func NewVerifyError(reason string, payer string, network Network, err error) *VerifyError {
	return &VerifyError{Reason: reason, Payer: payer, Network: network, Err: err}
}

func (e *VerifyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("verification failed: %s: %v", e.Reason, e.Err)
	}
	return "verification failed: " + e.Reason
}

func (e *VerifyError) Unwrap() error { return e.Err }

// SettleError is a settlement failure reported by the facilitator
type SettleError struct {
	Reason      string
	Payer       string
	Network     Network
	Transaction string
	Err         error
}

// NewSettleError creates a SettleError
func NewSettleError(reason string, payer string, network Network, transaction string, err error) *SettleError {
	return &SettleError{Reason: reason, Payer: payer, Network: network, Transaction: transaction, Err: err}
}

func (e *SettleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("settlement failed: %s: %v", e.Reason, e.Err)
	}
	return "settlement failed: " + e.Reason
}

func (e *SettleError) Unwrap() error { return e.Err }

// TransportError means the facilitator could not be reached or answered with
// something other than a verdict (timeout, 5xx, undecodable body).
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("facilitator %s failed with status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("facilitator %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransportError reports whether err is, or wraps, a *TransportError
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
