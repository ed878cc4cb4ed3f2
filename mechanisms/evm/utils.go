package evm

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func normalizeNetwork(network string) string {
	switch network {
	case "base", "base-mainnet":
		return "eip155:8453"
	case "base-sepolia":
		return "eip155:84532"
	case "ethereum", "mainnet":
		return "eip155:1"
	}
	return network
}

// GetEvmChainId returns the chain ID for a given network
func GetEvmChainId(network string) (*big.Int, error) {
	networkStr := normalizeNetwork(network)

	if config, ok := NetworkConfigs[networkStr]; ok {
		return config.ChainID, nil
	}

	if chainIDStr, ok := strings.CutPrefix(networkStr, "eip155:"); ok {
		if chainID, ok := new(big.Int).SetString(chainIDStr, 10); ok {
			return chainID, nil
		}
	}

	return nil, fmt.Errorf("unsupported network: %s", network)
}

// CreateNonce generates a random 32-byte nonce
func CreateNonce() (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return "0x" + hex.EncodeToString(nonce), nil
}

// NormalizeAddress lower-cases an address and ensures the 0x prefix
func NormalizeAddress(address string) string {
	return "0x" + strings.TrimPrefix(strings.ToLower(address), "0x")
}

// IsValidAddress checks if a string is a valid Ethereum address
func IsValidAddress(address string) bool {
	return common.IsHexAddress(address)
}

// ParseAmount converts an unsigned decimal string amount to the token's
// smallest unit. Digits beyond the token's decimals are rejected rather than
// truncated.
func ParseAmount(amount string, decimals int) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	parts := strings.Split(amount, ".")
	if len(parts) > 2 || parts[0] == "" && (len(parts) == 1 || parts[1] == "") {
		return nil, fmt.Errorf("invalid amount format: %q", amount)
	}
	for _, part := range parts {
		if strings.TrimLeft(part, "0123456789") != "" {
			return nil, fmt.Errorf("invalid amount format: %q", amount)
		}
	}
	if parts[0] == "" {
		parts[0] = "0"
	}

	intPart, ok := new(big.Int).SetString(parts[0], 10)
	if !ok || intPart.Sign() < 0 {
		return nil, fmt.Errorf("invalid integer part: %q", parts[0])
	}

	decPart := new(big.Int)
	if len(parts) == 2 && parts[1] != "" {
		decStr := parts[1]
		if len(decStr) > decimals {
			return nil, fmt.Errorf("amount %q has more than %d decimals", amount, decimals)
		}
		decStr += strings.Repeat("0", decimals-len(decStr))

		decPart, ok = new(big.Int).SetString(decStr, 10)
		if !ok || decPart.Sign() < 0 {
			return nil, fmt.Errorf("invalid decimal part: %q", parts[1])
		}
	}

	multiplier := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	result := new(big.Int).Mul(intPart, multiplier)
	result.Add(result, decPart)

	return result, nil
}

// FormatAmount converts an amount in the smallest unit to a decimal string
func FormatAmount(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}

	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	quotient, remainder := new(big.Int).DivMod(amount, divisor, new(big.Int))

	decStr := remainder.String()
	if len(decStr) < decimals {
		decStr = strings.Repeat("0", decimals-len(decStr)) + decStr
	}
	decStr = strings.TrimRight(decStr, "0")

	if decStr == "" {
		return quotient.String()
	}
	return quotient.String() + "." + decStr
}

// GetNetworkConfig returns the configuration for a network
func GetNetworkConfig(network string) (*NetworkConfig, error) {
	if config, ok := NetworkConfigs[normalizeNetwork(network)]; ok {
		return &config, nil
	}
	return nil, fmt.Errorf("unsupported network: %s", network)
}

// GetAssetInfo returns information about an asset on a network.
// An empty asset selects the network's default asset.
func GetAssetInfo(network string, assetSymbolOrAddress string) (*AssetInfo, error) {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}

	if assetSymbolOrAddress == "" {
		return &config.DefaultAsset, nil
	}

	if IsValidAddress(assetSymbolOrAddress) {
		normalizedAddr := NormalizeAddress(assetSymbolOrAddress)
		for _, asset := range config.SupportedAssets {
			if NormalizeAddress(asset.Address) == normalizedAddr {
				a := asset
				return &a, nil
			}
		}
		return &AssetInfo{
			Address:  common.HexToAddress(assetSymbolOrAddress).Hex(),
			Name:     "Unknown Token",
			Version:  "1",
			Decimals: 18,
		}, nil
	}

	if asset, ok := config.SupportedAssets[strings.ToUpper(assetSymbolOrAddress)]; ok {
		return &asset, nil
	}

	return nil, fmt.Errorf("unknown asset %q on %s", assetSymbolOrAddress, network)
}

// CreateValidityWindow creates valid after/before timestamps. validAfter is
// backdated 30 seconds to absorb clock skew.
func CreateValidityWindow(duration time.Duration) (validAfter, validBefore *big.Int) {
	now := time.Now().Unix()
	validAfter = big.NewInt(now - 30)
	validBefore = big.NewInt(now + int64(duration.Seconds()))
	return validAfter, validBefore
}

// HexToBytes converts a hex string to bytes
func HexToBytes(hexStr string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(hexStr, "0x"))
}

// ErrRPCNotConfigured is returned by signers that have no chain connection
var ErrRPCNotConfigured = errors.New("RPC client not configured")

// EIP3009SupportCache caches probe results, keyed "chainID:tokenAddress"
var EIP3009SupportCache sync.Map

// VerifyEIP3009Support checks if a token contract supports EIP-3009
// transferWithAuthorization by simulating a call with an empty signature.
// A revert mentioning the signature, authorization or nonce means the function
// exists; any other revert means it does not. Only reverts are cached, other
// failures are returned as errors.
func VerifyEIP3009Support(ctx context.Context, reader ContractReader, chainID *big.Int, fromAddress string, tokenAddress string) (bool, error) {
	cacheKey := fmt.Sprintf("%s:%s", chainID.String(), strings.ToLower(tokenAddress))
	if val, ok := EIP3009SupportCache.Load(cacheKey); ok {
		return val.(bool), nil
	}

	from := common.HexToAddress(fromAddress)
	var nonce, r, s [32]byte

	_, err := reader.ReadContract(
		ctx,
		tokenAddress,
		TransferWithAuthorizationVRSABI,
		"transferWithAuthorization",
		from,
		from,
		big.NewInt(0),
		big.NewInt(0),
		big.NewInt(0),
		nonce,
		uint8(27),
		r,
		s,
	)

	supported := err == nil
	if err != nil {
		errStr := strings.ToLower(err.Error())
		if errors.Is(err, ErrRPCNotConfigured) || !strings.Contains(errStr, "execution reverted") {
			return false, err
		}
		supported = strings.Contains(errStr, "signature") ||
			strings.Contains(errStr, "authorization") ||
			strings.Contains(errStr, "nonce")
	}

	EIP3009SupportCache.Store(cacheKey, supported)
	return supported, nil
}
