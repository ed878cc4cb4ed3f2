package server

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	x402 "github.com/blip-x402/x402-demo"
	"github.com/blip-x402/x402-demo/mechanisms/evm"
	"github.com/blip-x402/x402-demo/types"
)

// ExactEvmScheme builds exact-amount requirements for EVM networks
type ExactEvmScheme struct {
	asset string
}

// Option configures an ExactEvmScheme
type Option func(*ExactEvmScheme)

// WithAsset prices in asset (symbol or token address) instead of the
// network's default USDC
func WithAsset(asset string) Option {
	return func(s *ExactEvmScheme) {
		s.asset = asset
	}
}

// NewExactEvmScheme creates a new ExactEvmScheme
func NewExactEvmScheme(opts ...Option) *ExactEvmScheme {
	s := &ExactEvmScheme{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scheme returns the scheme identifier
func (s *ExactEvmScheme) Scheme() string {
	return evm.SchemeExact
}

// ParsePrice converts a price into an amount of the scheme's asset.
//
//	"$0.01", "0.01", 0.01  -> decimal amount scaled by the asset's decimals
//	x402.AssetAmount       -> used as is, already in the smallest unit
func (s *ExactEvmScheme) ParsePrice(price x402.Price, network x402.Network) (x402.AssetAmount, error) {
	assetInfo, err := evm.GetAssetInfo(string(network), s.asset)
	if err != nil {
		return x402.AssetAmount{}, err
	}

	var decimal string
	switch p := price.(type) {
	case x402.AssetAmount:
		return s.fromAssetAmount(p, assetInfo)
	case *x402.AssetAmount:
		if p == nil {
			return x402.AssetAmount{}, fmt.Errorf("nil asset amount")
		}
		return s.fromAssetAmount(*p, assetInfo)
	case string:
		decimal = strings.TrimPrefix(strings.TrimSpace(p), "$")
	case float64:
		decimal = strconv.FormatFloat(p, 'f', -1, 64)
	case int:
		decimal = strconv.Itoa(p)
	default:
		return x402.AssetAmount{}, fmt.Errorf("unsupported price type %T", price)
	}

	amount, err := evm.ParseAmount(decimal, assetInfo.Decimals)
	if err != nil {
		return x402.AssetAmount{}, err
	}
	if amount.Sign() <= 0 {
		return x402.AssetAmount{}, fmt.Errorf("price must be positive: %q", decimal)
	}

	return x402.AssetAmount{
		Asset:  assetInfo.Address,
		Amount: amount.String(),
		Extra:  tokenExtra(assetInfo),
	}, nil
}

func (s *ExactEvmScheme) fromAssetAmount(p x402.AssetAmount, assetInfo *evm.AssetInfo) (x402.AssetAmount, error) {
	amount, ok := new(big.Int).SetString(p.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		return x402.AssetAmount{}, fmt.Errorf("invalid atomic amount: %q", p.Amount)
	}
	out := x402.AssetAmount{Asset: p.Asset, Amount: amount.String(), Extra: p.Extra}
	if out.Asset == "" {
		out.Asset = assetInfo.Address
	}
	if out.Extra == nil && strings.EqualFold(out.Asset, assetInfo.Address) {
		out.Extra = tokenExtra(assetInfo)
	}
	return out, nil
}

func tokenExtra(assetInfo *evm.AssetInfo) map[string]interface{} {
	return map[string]interface{}{
		"name":    assetInfo.Name,
		"version": assetInfo.Version,
	}
}

// EnhancePaymentRequirements fills in the EIP-712 token domain and any extra
// data the facilitator advertised for this kind. The input is not modified.
func (s *ExactEvmScheme) EnhancePaymentRequirements(
	ctx context.Context,
	requirements types.PaymentRequirements,
	kind *x402.SupportedKind,
) (types.PaymentRequirements, error) {
	if !evm.IsValidAddress(requirements.PayTo) {
		return types.PaymentRequirements{}, fmt.Errorf("invalid payTo address: %q", requirements.PayTo)
	}

	extra := make(map[string]interface{}, len(requirements.Extra)+2)
	for k, v := range requirements.Extra {
		extra[k] = v
	}

	if _, ok := extra["name"]; !ok {
		if assetInfo, err := evm.GetAssetInfo(requirements.Network, requirements.Asset); err == nil {
			extra["name"] = assetInfo.Name
			extra["version"] = assetInfo.Version
		}
	}

	if kind != nil {
		for k, v := range kind.Extra {
			if _, exists := extra[k]; !exists {
				extra[k] = v
			}
		}
	}

	requirements.Extra = extra
	return requirements, nil
}
