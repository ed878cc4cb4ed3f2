package x402

import "context"

// VerifyResponse is the facilitator's answer to a verify call
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse is the facilitator's answer to a settle call.
// It is forwarded to the client, base64 encoded, in the PAYMENT-RESPONSE header.
type SettleResponse struct {
	Success     bool    `json:"success"`
	ErrorReason string  `json:"errorReason,omitempty"`
	Payer       string  `json:"payer,omitempty"`
	Transaction string  `json:"transaction"`
	Network     Network `json:"network"`
}

// SupportedKind is one (version, scheme, network) triple a facilitator handles
type SupportedKind struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     Network                `json:"network"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// SupportedResponse is the body of GET /supported
type SupportedResponse struct {
	Kinds      []SupportedKind     `json:"kinds"`
	Extensions []string            `json:"extensions,omitempty"`
	Signers    map[string][]string `json:"signers,omitempty"`
}

// Supports reports whether the facilitator advertised scheme on network
func (s SupportedResponse) Supports(scheme string, network Network) bool {
	for _, kind := range s.Kinds {
		if kind.Scheme == scheme && network.Match(kind.Network) {
			return true
		}
	}
	return false
}

// FacilitatorClient is the remote service that verifies and settles payments.
// Payload and requirements are passed as encoded JSON.
//
// Implementations return *VerifyError / *SettleError when the facilitator
// rejects a payment and *TransportError when it cannot be reached.
type FacilitatorClient interface {
	Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*VerifyResponse, error)
	Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*SettleResponse, error)
	GetSupported(ctx context.Context) (SupportedResponse, error)
}
