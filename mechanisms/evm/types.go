package evm

import (
	"context"
	"fmt"
	"math/big"
)

// Payload type discriminators carried in payload["type"]
const (
	PayloadTypeEIP3009 = "authorizationEip3009"
	PayloadTypeERC20   = "authorization"
)

// ExactEIP3009Authorization represents the EIP-3009 TransferWithAuthorization data
type ExactEIP3009Authorization struct {
	From        string `json:"from"`        // Ethereum address (hex)
	To          string `json:"to"`          // Ethereum address (hex)
	Value       string `json:"value"`       // Amount in smallest unit
	ValidAfter  string `json:"validAfter"`  // Unix timestamp
	ValidBefore string `json:"validBefore"` // Unix timestamp
	Nonce       string `json:"nonce"`       // 32-byte hex
}

// ExactEIP3009Payload represents the exact payment payload for EIP-3009 tokens
type ExactEIP3009Payload struct {
	Signature     string                    `json:"signature,omitempty"`
	Authorization ExactEIP3009Authorization `json:"authorization"`
}

// ExactERC20Authorization is signed for the facilitator contract when the token
// has no EIP-3009 support. The facilitator pulls funds through the approval and
// converts them if the requirement asks for another asset.
type ExactERC20Authorization struct {
	Token       string `json:"token"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
	NeedApprove bool   `json:"needApprove"`
}

// ExactERC20Payload represents the exact payment payload for ERC20 authorization
type ExactERC20Payload struct {
	Signature     string                  `json:"signature,omitempty"`
	Authorization ExactERC20Authorization `json:"authorization"`
}

// ToMap converts an ExactEIP3009Payload to a map for JSON marshaling
func (p *ExactEIP3009Payload) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"type": PayloadTypeEIP3009,
		"authorization": map[string]interface{}{
			"from":        p.Authorization.From,
			"to":          p.Authorization.To,
			"value":       p.Authorization.Value,
			"validAfter":  p.Authorization.ValidAfter,
			"validBefore": p.Authorization.ValidBefore,
			"nonce":       p.Authorization.Nonce,
		},
	}
	if p.Signature != "" {
		result["signature"] = p.Signature
	}
	return result
}

// ToMap converts an ExactERC20Payload to a map for JSON marshaling
func (p *ExactERC20Payload) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"type": PayloadTypeERC20,
		"authorization": map[string]interface{}{
			"token":       p.Authorization.Token,
			"from":        p.Authorization.From,
			"to":          p.Authorization.To,
			"value":       p.Authorization.Value,
			"validAfter":  p.Authorization.ValidAfter,
			"validBefore": p.Authorization.ValidBefore,
			"nonce":       p.Authorization.Nonce,
			"needApprove": p.Authorization.NeedApprove,
		},
	}
	if p.Signature != "" {
		result["signature"] = p.Signature
	}
	return result
}

// PayloadFromMap reads an EIP-3009 payload back from its map form
func PayloadFromMap(data map[string]interface{}) (*ExactEIP3009Payload, error) {
	auth, ok := data["authorization"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("missing authorization")
	}
	payload := &ExactEIP3009Payload{}
	payload.Signature, _ = data["signature"].(string)
	payload.Authorization.From, _ = auth["from"].(string)
	payload.Authorization.To, _ = auth["to"].(string)
	payload.Authorization.Value, _ = auth["value"].(string)
	payload.Authorization.ValidAfter, _ = auth["validAfter"].(string)
	payload.Authorization.ValidBefore, _ = auth["validBefore"].(string)
	payload.Authorization.Nonce, _ = auth["nonce"].(string)
	return payload, nil
}

// ContractReader defines the interface for reading from a smart contract
type ContractReader interface {
	ReadContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (interface{}, error)
}

// ClientEvmSigner defines the interface for client-side EVM signing operations.
// The private key behind it never leaves the client process.
type ClientEvmSigner interface {
	// Address returns the signer's Ethereum address
	Address() string

	// SignTypedData signs EIP-712 typed data
	SignTypedData(ctx context.Context, domain TypedDataDomain, types map[string][]TypedDataField, primaryType string, message map[string]interface{}) ([]byte, error)

	// ReadContract reads data from a smart contract.
	// Implementations without network access should return an error.
	ReadContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (interface{}, error)

	// WriteContract executes a smart contract transaction (ERC-20 approvals)
	WriteContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (string, error)

	// WaitForTransactionReceipt waits for a transaction to be mined
	WaitForTransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error)
}

// TypedDataDomain represents the EIP-712 domain separator
type TypedDataDomain struct {
	Name              string   `json:"name"`
	Version           string   `json:"version"`
	ChainID           *big.Int `json:"chainId"`
	VerifyingContract string   `json:"verifyingContract"`
}

// TypedDataField represents a field in EIP-712 typed data
type TypedDataField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TransactionReceipt represents the receipt of a mined transaction
type TransactionReceipt struct {
	Status      uint64 `json:"status"`
	BlockNumber uint64 `json:"blockNumber"`
	TxHash      string `json:"transactionHash"`
}

// AssetInfo contains information about an ERC20 token
type AssetInfo struct {
	Address         string
	Name            string
	Version         string
	Decimals        int
	SupportsEIP3009 bool
}

// NetworkConfig contains network-specific configuration
type NetworkConfig struct {
	ChainID         *big.Int
	DefaultAsset    AssetInfo
	SupportedAssets map[string]AssetInfo // symbol -> AssetInfo
}

// IsValidNetwork checks if the network is a known EVM network
func IsValidNetwork(network string) bool {
	_, ok := NetworkConfigs[normalizeNetwork(network)]
	return ok
}
