package types

import (
	"encoding/json"
	"fmt"
)

// GetSchemeAndNetwork reads the scheme and network an encoded payload claims to answer
func GetSchemeAndNetwork(version int, payloadBytes []byte) (scheme string, network string, err error) {
	if version != 2 {
		return "", "", fmt.Errorf("unsupported version: %d", version)
	}

	var partial struct {
		Accepted struct {
			Scheme  string `json:"scheme"`
			Network string `json:"network"`
		} `json:"accepted"`
	}
	if err := json.Unmarshal(payloadBytes, &partial); err != nil {
		return "", "", fmt.Errorf("failed to parse v2 payload: %w", err)
	}
	return partial.Accepted.Scheme, partial.Accepted.Network, nil
}

// MatchPayloadToRequirements reports whether an encoded payload answers the
// encoded requirements. Scheme, network, amount, asset and recipient must all agree.
func MatchPayloadToRequirements(
	version int,
	payloadBytes []byte,
	requirementsBytes []byte,
) (bool, error) {
	if version != 2 {
		return false, fmt.Errorf("unsupported version: %d", version)
	}

	var payloadPartial struct {
		Accepted matchFields `json:"accepted"`
	}
	if err := json.Unmarshal(payloadBytes, &payloadPartial); err != nil {
		return false, err
	}

	var req matchFields
	if err := json.Unmarshal(requirementsBytes, &req); err != nil {
		return false, err
	}

	return payloadPartial.Accepted == req, nil
}

type matchFields struct {
	Scheme  string `json:"scheme"`
	Network string `json:"network"`
	Amount  string `json:"amount"`
	Asset   string `json:"asset"`
	PayTo   string `json:"payTo"`
}
