package http

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	x402 "github.com/blip-x402/x402-demo"
	"github.com/blip-x402/x402-demo/types"
)

// Header names used by the x402 v2 HTTP transport
const (
	HeaderPaymentRequired  = "PAYMENT-REQUIRED"
	HeaderPaymentSignature = "PAYMENT-SIGNATURE"
	HeaderPaymentResponse  = "PAYMENT-RESPONSE"
)

// encodeHeaderValue returns base64(JSON(v))
func encodeHeaderValue(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// decodeHeaderValue accepts standard or URL-safe base64, padded or not
func decodeHeaderValue(value string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if data, err := enc.DecodeString(value); err == nil {
			return data, nil
		}
	}
	return nil, fmt.Errorf("invalid base64 header value")
}

// EncodePaymentRequiredHeader encodes a PaymentRequired for the PAYMENT-REQUIRED header
func EncodePaymentRequiredHeader(paymentRequired types.PaymentRequired) (string, error) {
	return encodeHeaderValue(paymentRequired)
}

// DecodePaymentRequiredHeader decodes the PAYMENT-REQUIRED header
func DecodePaymentRequiredHeader(value string) ([]byte, error) {
	data, err := decodeHeaderValue(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrMalformedRequirements, err)
	}
	return data, nil
}

// DecodePaymentSignatureHeader decodes the PAYMENT-SIGNATURE header into a payload
func DecodePaymentSignatureHeader(value string) (types.PaymentPayload, error) {
	data, err := decodeHeaderValue(value)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("%w: %v", x402.ErrMalformedPayload, err)
	}

	version, err := types.DetectVersion(data)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("%w: %v", x402.ErrMalformedPayload, err)
	}
	if version != x402.ProtocolVersion {
		return types.PaymentPayload{}, fmt.Errorf("%w: unsupported x402Version %d", x402.ErrMalformedPayload, version)
	}

	var payload types.PaymentPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return types.PaymentPayload{}, fmt.Errorf("%w: %v", x402.ErrMalformedPayload, err)
	}
	if payload.Payload == nil {
		return types.PaymentPayload{}, fmt.Errorf("%w: missing payload", x402.ErrMalformedPayload)
	}
	return payload, nil
}

// EncodePaymentResponseHeader encodes a settlement result for the PAYMENT-RESPONSE header
func EncodePaymentResponseHeader(settle x402.SettleResponse) (string, error) {
	return encodeHeaderValue(settle)
}

// ExtractSettleResponse decodes the PAYMENT-RESPONSE header of a response.
// It returns nil, nil when the header is absent.
func ExtractSettleResponse(header http.Header) (*x402.SettleResponse, error) {
	value := header.Get(HeaderPaymentResponse)
	if value == "" {
		return nil, nil
	}
	data, err := decodeHeaderValue(value)
	if err != nil {
		return nil, err
	}
	var settle x402.SettleResponse
	if err := json.Unmarshal(data, &settle); err != nil {
		return nil, fmt.Errorf("failed to decode settlement response: %w", err)
	}
	return &settle, nil
}
