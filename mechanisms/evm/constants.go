package evm

import "math/big"

const (
	// Scheme identifier
	SchemeExact = "exact"

	// Default token decimals for USDC
	DefaultDecimals = 6

	// Transaction status
	TxStatusSuccess = 1
	TxStatusFailed  = 0

	// DefaultValidityPeriod is how long a signed authorization stays valid (seconds)
	DefaultValidityPeriod = 3600

	// Facilitator contract EIP-712 domain
	FacilitatorDomainName    = "Facilitator"
	FacilitatorDomainVersion = "1"
)

var (
	// Network chain IDs
	ChainIDMainnet     = big.NewInt(1)
	ChainIDBase        = big.NewInt(8453)
	ChainIDBaseSepolia = big.NewInt(84532)

	usdcMainnet = AssetInfo{
		Address:         "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		Name:            "USD Coin",
		Version:         "2",
		Decimals:        DefaultDecimals,
		SupportsEIP3009: true,
	}
	usdcBase = AssetInfo{
		Address:         "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Name:            "USD Coin",
		Version:         "2",
		Decimals:        DefaultDecimals,
		SupportsEIP3009: true,
	}
	usdcBaseSepolia = AssetInfo{
		Address:         "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Name:            "USDC",
		Version:         "2",
		Decimals:        DefaultDecimals,
		SupportsEIP3009: true,
	}

	// NetworkConfigs is keyed by CAIP-2 id; legacy names go through normalizeNetwork
	NetworkConfigs = map[string]NetworkConfig{
		"eip155:1": {
			ChainID:         ChainIDMainnet,
			DefaultAsset:    usdcMainnet,
			SupportedAssets: map[string]AssetInfo{"USDC": usdcMainnet},
		},
		"eip155:8453": {
			ChainID:         ChainIDBase,
			DefaultAsset:    usdcBase,
			SupportedAssets: map[string]AssetInfo{"USDC": usdcBase},
		},
		"eip155:84532": {
			ChainID:         ChainIDBaseSepolia,
			DefaultAsset:    usdcBaseSepolia,
			SupportedAssets: map[string]AssetInfo{"USDC": usdcBaseSepolia},
		},
	}

	// FacilitatorContractAddress receives ERC-20 approvals for tokens without EIP-3009
	FacilitatorContractAddress = "0x555e3311a9893c9B17444C1Ff0d88192a57Ef13e"

	// TransferWithAuthorizationVRSABI is used to probe tokens for EIP-3009 support
	TransferWithAuthorizationVRSABI = []byte(`[
		{
			"inputs": [
				{"name": "from", "type": "address"},
				{"name": "to", "type": "address"},
				{"name": "value", "type": "uint256"},
				{"name": "validAfter", "type": "uint256"},
				{"name": "validBefore", "type": "uint256"},
				{"name": "nonce", "type": "bytes32"},
				{"name": "v", "type": "uint8"},
				{"name": "r", "type": "bytes32"},
				{"name": "s", "type": "bytes32"}
			],
			"name": "transferWithAuthorization",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`)

	// ERC20ABI for allowance and approve
	ERC20ABI = []byte(`[
		{
			"constant": true,
			"inputs": [
				{"name": "owner", "type": "address"},
				{"name": "spender", "type": "address"}
			],
			"name": "allowance",
			"outputs": [{"name": "", "type": "uint256"}],
			"payable": false,
			"stateMutability": "view",
			"type": "function"
		},
		{
			"constant": false,
			"inputs": [
				{"name": "spender", "type": "address"},
				{"name": "value", "type": "uint256"}
			],
			"name": "approve",
			"outputs": [{"name": "", "type": "bool"}],
			"payable": false,
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`)
)

// transferWithAuthorizationTypes are the EIP-712 types signed for EIP-3009 tokens
var transferWithAuthorizationTypes = map[string][]TypedDataField{
	"EIP712Domain": eip712DomainFields,
	"TransferWithAuthorization": {
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
	},
}

// tokenTransferWithAuthorizationTypes are signed for the facilitator contract
var tokenTransferWithAuthorizationTypes = map[string][]TypedDataField{
	"EIP712Domain": eip712DomainFields,
	"tokenTransferWithAuthorization": {
		{Name: "token", Type: "address"},
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
		{Name: "needApprove", Type: "bool"},
	},
}

var eip712DomainFields = []TypedDataField{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}
