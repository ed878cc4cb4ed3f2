package types

import (
	"encoding/json"
	"fmt"
)

// DetectVersion extracts x402Version from JSON bytes
func DetectVersion(data []byte) (int, error) {
	var detector struct {
		X402Version int `json:"x402Version"`
	}
	if err := json.Unmarshal(data, &detector); err != nil {
		return 0, fmt.Errorf("failed to detect version: %w", err)
	}
	if detector.X402Version < 1 {
		return 0, fmt.Errorf("invalid version: %d", detector.X402Version)
	}
	return detector.X402Version, nil
}

// ExtractRequirementsInfo gets scheme and network from requirements bytes
func ExtractRequirementsInfo(data []byte) (*RequirementsInfo, error) {
	var info RequirementsInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// RequirementsInfo is the routing subset of a requirement
type RequirementsInfo struct {
	Scheme  string `json:"scheme"`
	Network string `json:"network"`
}

// PaymentRequiredPartial keeps accepts as raw bytes so that entries for
// schemes this client does not know can be skipped instead of failing the decode.
type PaymentRequiredPartial struct {
	X402Version int               `json:"x402Version"`
	Error       string            `json:"error,omitempty"`
	Accepts     []json.RawMessage `json:"accepts"`
	Resource    json.RawMessage   `json:"resource,omitempty"`
	Extensions  json.RawMessage   `json:"extensions,omitempty"`
}

// ToPaymentRequiredPartial unmarshals PaymentRequired keeping accepts as raw bytes
func ToPaymentRequiredPartial(data []byte) (*PaymentRequiredPartial, error) {
	var required PaymentRequiredPartial
	if err := json.Unmarshal(data, &required); err != nil {
		return nil, err
	}
	return &required, nil
}

// Decode turns the raw entries into typed requirements, dropping entries that
// do not decode.
func (p *PaymentRequiredPartial) Decode() (PaymentRequired, error) {
	out := PaymentRequired{
		X402Version: p.X402Version,
		Error:       p.Error,
	}
	if len(p.Resource) > 0 && string(p.Resource) != "null" {
		var resource ResourceInfo
		if err := json.Unmarshal(p.Resource, &resource); err != nil {
			return PaymentRequired{}, fmt.Errorf("failed to parse resource: %w", err)
		}
		out.Resource = &resource
	}
	if len(p.Extensions) > 0 && string(p.Extensions) != "null" {
		if err := json.Unmarshal(p.Extensions, &out.Extensions); err != nil {
			return PaymentRequired{}, fmt.Errorf("failed to parse extensions: %w", err)
		}
	}
	for _, raw := range p.Accepts {
		var req PaymentRequirements
		if err := json.Unmarshal(raw, &req); err != nil {
			continue
		}
		out.Accepts = append(out.Accepts, req)
	}
	return out, nil
}
