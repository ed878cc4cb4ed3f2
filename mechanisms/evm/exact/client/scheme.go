package client

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	x402 "github.com/blip-x402/x402-demo"
	"github.com/blip-x402/x402-demo/mechanisms/evm"
	"github.com/blip-x402/x402-demo/types"
)

// ExactEvmScheme signs exact-amount payments on EVM networks. Tokens with
// EIP-3009 get a gasless TransferWithAuthorization; other ERC-20 tokens are
// approved to the facilitator contract, which pulls and converts them.
type ExactEvmScheme struct {
	signer              evm.ClientEvmSigner
	facilitatorContract string
	logger              *zap.Logger
}

// Option configures an ExactEvmScheme
type Option func(*ExactEvmScheme)

// WithFacilitatorContract overrides the contract approved on the ERC-20 path
func WithFacilitatorContract(address string) Option {
	return func(s *ExactEvmScheme) {
		s.facilitatorContract = address
	}
}

// WithLogger sets the logger used for on-chain approval progress
func WithLogger(logger *zap.Logger) Option {
	return func(s *ExactEvmScheme) {
		s.logger = logger
	}
}

// NewExactEvmScheme creates a new ExactEvmScheme
func NewExactEvmScheme(signer evm.ClientEvmSigner, opts ...Option) *ExactEvmScheme {
	s := &ExactEvmScheme{
		signer:              signer,
		facilitatorContract: evm.FacilitatorContractAddress,
		logger:              zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scheme returns the scheme identifier
func (c *ExactEvmScheme) Scheme() string {
	return evm.SchemeExact
}

// CreatePaymentPayload creates the scheme part of a payment assertion
func (c *ExactEvmScheme) CreatePaymentPayload(
	ctx context.Context,
	requirements types.PaymentRequirements,
) (types.PaymentPayload, error) {
	networkStr := requirements.Network
	if !evm.IsValidNetwork(networkStr) {
		return types.PaymentPayload{}, fmt.Errorf("unsupported network: %s", requirements.Network)
	}

	config, err := evm.GetNetworkConfig(networkStr)
	if err != nil {
		return types.PaymentPayload{}, err
	}

	assetInfo, err := evm.GetAssetInfo(networkStr, requirements.Asset)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("%w: %v", x402.ErrMalformedRequirements, err)
	}

	// Requirements.Amount is already in the smallest unit
	value, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok || value.Sign() <= 0 {
		return types.PaymentPayload{}, fmt.Errorf("%w: invalid amount %q", x402.ErrMalformedRequirements, requirements.Amount)
	}

	if !evm.IsValidAddress(requirements.PayTo) {
		return types.PaymentPayload{}, fmt.Errorf("%w: invalid payTo %q", x402.ErrMalformedRequirements, requirements.PayTo)
	}

	nonce, err := evm.CreateNonce()
	if err != nil {
		return types.PaymentPayload{}, err
	}

	validity := time.Duration(evm.DefaultValidityPeriod) * time.Second
	if requirements.MaxTimeoutSeconds > 0 {
		validity = time.Duration(requirements.MaxTimeoutSeconds) * time.Second
	}
	validAfter, validBefore := evm.CreateValidityWindow(validity)

	tokenName := assetInfo.Name
	tokenVersion := assetInfo.Version
	if requirements.Extra != nil {
		if name, ok := requirements.Extra["name"].(string); ok {
			tokenName = name
		}
		if ver, ok := requirements.Extra["version"].(string); ok {
			tokenVersion = ver
		}
	}

	supportsEIP3009 := assetInfo.SupportsEIP3009
	if !supportsEIP3009 {
		// Without an RPC connection the probe fails and the ERC-20 path is taken
		supported, err := evm.VerifyEIP3009Support(ctx, c.signer, config.ChainID, c.signer.Address(), assetInfo.Address)
		if err != nil && !errors.Is(err, evm.ErrRPCNotConfigured) {
			return types.PaymentPayload{}, fmt.Errorf("failed to check EIP-3009 support: %w", err)
		}
		supportsEIP3009 = err == nil && supported
	}

	if supportsEIP3009 {
		authorization := evm.ExactEIP3009Authorization{
			From:        c.signer.Address(),
			To:          requirements.PayTo,
			Value:       value.String(),
			ValidAfter:  validAfter.String(),
			ValidBefore: validBefore.String(),
			Nonce:       nonce,
		}

		typed, err := evm.EIP3009TypedData(authorization, config.ChainID, assetInfo.Address, tokenName, tokenVersion)
		if err != nil {
			return types.PaymentPayload{}, fmt.Errorf("%w: %v", x402.ErrMalformedPayload, err)
		}
		signature, err := c.sign(ctx, typed)
		if err != nil {
			return types.PaymentPayload{}, err
		}

		evmPayload := &evm.ExactEIP3009Payload{
			Signature:     "0x" + hex.EncodeToString(signature),
			Authorization: authorization,
		}
		return types.PaymentPayload{
			X402Version: x402.ProtocolVersion,
			Payload:     evmPayload.ToMap(),
		}, nil
	}

	if err := c.ensureAllowance(ctx, assetInfo.Address, value); err != nil {
		return types.PaymentPayload{}, err
	}

	authorization := evm.ExactERC20Authorization{
		Token:       assetInfo.Address,
		From:        c.signer.Address(),
		To:          requirements.PayTo,
		Value:       value.String(),
		ValidAfter:  validAfter.String(),
		ValidBefore: validBefore.String(),
		Nonce:       nonce,
		NeedApprove: true,
	}

	typed, err := evm.ERC20TypedData(authorization, config.ChainID, c.facilitatorContract)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("%w: %v", x402.ErrMalformedPayload, err)
	}
	signature, err := c.sign(ctx, typed)
	if err != nil {
		return types.PaymentPayload{}, err
	}

	evmPayload := &evm.ExactERC20Payload{
		Signature:     "0x" + hex.EncodeToString(signature),
		Authorization: authorization,
	}
	return types.PaymentPayload{
		X402Version: x402.ProtocolVersion,
		Payload:     evmPayload.ToMap(),
	}, nil
}

// sign signs typed and checks the signature locally before it is sent anywhere
func (c *ExactEvmScheme) sign(ctx context.Context, typed evm.TypedData) ([]byte, error) {
	signature, err := c.signer.SignTypedData(ctx, typed.Domain, typed.Types, typed.PrimaryType, typed.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to sign authorization: %w", err)
	}
	if err := evm.CheckTypedDataSignature(typed, signature, c.signer.Address()); err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrMalformedPayload, err)
	}
	return signature, nil
}

// ensureAllowance approves the facilitator contract for value if needed
func (c *ExactEvmScheme) ensureAllowance(ctx context.Context, token string, value *big.Int) error {
	allowanceRes, err := c.signer.ReadContract(
		ctx,
		token,
		evm.ERC20ABI,
		"allowance",
		common.HexToAddress(c.signer.Address()),
		common.HexToAddress(c.facilitatorContract),
	)
	if err != nil {
		return fmt.Errorf("failed to check allowance: %w", err)
	}

	allowance, ok := allowanceRes.(*big.Int)
	if !ok {
		return fmt.Errorf("invalid allowance type returned: %T", allowanceRes)
	}
	if allowance.Cmp(value) >= 0 {
		return nil
	}

	c.logger.Info("approving facilitator contract",
		zap.String("token", token),
		zap.String("spender", c.facilitatorContract),
		zap.String("value", value.String()))

	txHash, err := c.signer.WriteContract(
		ctx,
		token,
		evm.ERC20ABI,
		"approve",
		common.HexToAddress(c.facilitatorContract),
		value,
	)
	if err != nil {
		return fmt.Errorf("failed to send approve transaction: %w", err)
	}

	receipt, err := c.signer.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		return fmt.Errorf("failed to wait for approve receipt: %w", err)
	}
	if receipt.Status != evm.TxStatusSuccess {
		return fmt.Errorf("approve transaction %s failed", txHash)
	}

	c.logger.Info("approve transaction confirmed", zap.String("tx", txHash))
	return nil
}
