package client_test

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/blip-x402/x402-demo"
	"github.com/blip-x402/x402-demo/mechanisms/evm"
	evmclient "github.com/blip-x402/x402-demo/mechanisms/evm/exact/client"
	"github.com/blip-x402/x402-demo/types"
)

const testPrivateKey = "0123456789012345678901234567890123456789012345678901234567890123"

// mockSigner signs with a fixed key; contract calls are scripted
type mockSigner struct {
	key       *ecdsa.PrivateKey
	corrupt   bool
	allowance *big.Int
	readErr   error
	approved  []*big.Int
	status    uint64
}

func newMockSigner(t *testing.T) *mockSigner {
	key, err := crypto.HexToECDSA(testPrivateKey)
	require.NoError(t, err)
	return &mockSigner{key: key, allowance: big.NewInt(0), status: evm.TxStatusSuccess}
}

func (m *mockSigner) Address() string {
	return crypto.PubkeyToAddress(m.key.PublicKey).Hex()
}

func (m *mockSigner) SignTypedData(
	ctx context.Context,
	domain evm.TypedDataDomain,
	types map[string][]evm.TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	digest, err := evm.HashTypedData(domain, types, primaryType, message)
	if err != nil {
		return nil, err
	}
	if m.corrupt {
		digest = crypto.Keccak256([]byte("something else"))
	}
	sig, err := crypto.Sign(digest, m.key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

func (m *mockSigner) ReadContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (interface{}, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	if functionName == "allowance" {
		return m.allowance, nil
	}
	return nil, errors.New("execution reverted")
}

func (m *mockSigner) WriteContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (string, error) {
	m.approved = append(m.approved, args[1].(*big.Int))
	return "0xabc", nil
}

func (m *mockSigner) WaitForTransactionReceipt(ctx context.Context, txHash string) (*evm.TransactionReceipt, error) {
	return &evm.TransactionReceipt{Status: m.status, TxHash: txHash}, nil
}

func baseSepoliaRequirements() types.PaymentRequirements {
	return types.PaymentRequirements{
		Scheme:            evm.SchemeExact,
		Network:           "eip155:84532",
		Asset:             "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Amount:            "10000",
		PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		MaxTimeoutSeconds: 300,
		Extra:             map[string]interface{}{"name": "USDC", "version": "2"},
	}
}

func TestExactEvmScheme_EIP3009(t *testing.T) {
	signer := newMockSigner(t)
	scheme := evmclient.NewExactEvmScheme(signer)
	assert.Equal(t, evm.SchemeExact, scheme.Scheme())

	payload, err := scheme.CreatePaymentPayload(context.Background(), baseSepoliaRequirements())
	require.NoError(t, err)

	assert.Equal(t, x402.ProtocolVersion, payload.X402Version)
	assert.Equal(t, evm.PayloadTypeEIP3009, payload.Payload["type"])

	parsed, err := evm.PayloadFromMap(payload.Payload)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), parsed.Authorization.From)
	assert.Equal(t, "0x209693Bc6afc0C5328bA36FaF03C514EF312287C", parsed.Authorization.To)
	assert.Equal(t, "10000", parsed.Authorization.Value)

	// the signature recovers to the payer under the token's domain
	typed, err := evm.EIP3009TypedData(parsed.Authorization, evm.ChainIDBaseSepolia, baseSepoliaRequirements().Asset, "USDC", "2")
	require.NoError(t, err)
	sig, err := evm.HexToBytes(parsed.Signature)
	require.NoError(t, err)
	assert.NoError(t, evm.CheckTypedDataSignature(typed, sig, signer.Address()))

	validAfter, _ := new(big.Int).SetString(parsed.Authorization.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(parsed.Authorization.ValidBefore, 10)
	assert.InDelta(t, 330, new(big.Int).Sub(validBefore, validAfter).Int64(), 2)
}

func TestExactEvmScheme_BadSignatureIsMalformed(t *testing.T) {
	signer := newMockSigner(t)
	signer.corrupt = true

	_, err := evmclient.NewExactEvmScheme(signer).CreatePaymentPayload(context.Background(), baseSepoliaRequirements())
	assert.ErrorIs(t, err, x402.ErrMalformedPayload)
}

func TestExactEvmScheme_InvalidRequirements(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*types.PaymentRequirements)
		wantErr error
	}{
		{name: "zero amount", mutate: func(r *types.PaymentRequirements) { r.Amount = "0" }, wantErr: x402.ErrMalformedRequirements},
		{name: "decimal amount", mutate: func(r *types.PaymentRequirements) { r.Amount = "0.01" }, wantErr: x402.ErrMalformedRequirements},
		{name: "bad payTo", mutate: func(r *types.PaymentRequirements) { r.PayTo = "merchant" }, wantErr: x402.ErrMalformedRequirements},
		{name: "unknown asset symbol", mutate: func(r *types.PaymentRequirements) { r.Asset = "DOGE" }, wantErr: x402.ErrMalformedRequirements},
		{name: "unknown network", mutate: func(r *types.PaymentRequirements) { r.Network = "eip155:999999" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := baseSepoliaRequirements()
			tt.mutate(&req)
			_, err := evmclient.NewExactEvmScheme(newMockSigner(t)).CreatePaymentPayload(context.Background(), req)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestExactEvmScheme_ERC20Fallback(t *testing.T) {
	req := baseSepoliaRequirements()
	req.Asset = "0x5555555555555555555555555555555555555555"
	req.Extra = nil

	t.Run("approves the facilitator contract when allowance is short", func(t *testing.T) {
		signer := newMockSigner(t)
		facilitator := "0x6666666666666666666666666666666666666666"
		scheme := evmclient.NewExactEvmScheme(signer, evmclient.WithFacilitatorContract(facilitator))

		payload, err := scheme.CreatePaymentPayload(context.Background(), req)
		require.NoError(t, err)

		require.Len(t, signer.approved, 1)
		assert.Equal(t, "10000", signer.approved[0].String())
		assert.Equal(t, evm.PayloadTypeERC20, payload.Payload["type"])

		auth, ok := payload.Payload["authorization"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, req.Asset, auth["token"])
		assert.Equal(t, true, auth["needApprove"])
	})

	t.Run("skips approval when allowance suffices", func(t *testing.T) {
		signer := newMockSigner(t)
		signer.allowance = big.NewInt(1_000_000)

		_, err := evmclient.NewExactEvmScheme(signer).CreatePaymentPayload(context.Background(), req)
		require.NoError(t, err)
		assert.Empty(t, signer.approved)
	})

	t.Run("failed approval", func(t *testing.T) {
		signer := newMockSigner(t)
		signer.status = evm.TxStatusFailed

		_, err := evmclient.NewExactEvmScheme(signer).CreatePaymentPayload(context.Background(), req)
		assert.ErrorContains(t, err, "approve transaction")
	})

	t.Run("unreachable rpc does not fall back to approval", func(t *testing.T) {
		signer := newMockSigner(t)
		signer.readErr = errors.New("dial tcp 127.0.0.1:8545: connect: connection refused")
		flaky := req
		flaky.Asset = "0x7777777777777777777777777777777777777777"

		_, err := evmclient.NewExactEvmScheme(signer).CreatePaymentPayload(context.Background(), flaky)
		assert.ErrorContains(t, err, "EIP-3009")
		assert.Empty(t, signer.approved)
	})

	t.Run("no rpc", func(t *testing.T) {
		signer := newMockSigner(t)
		signer.readErr = evm.ErrRPCNotConfigured

		_, err := evmclient.NewExactEvmScheme(signer).CreatePaymentPayload(context.Background(), req)
		assert.ErrorIs(t, err, evm.ErrRPCNotConfigured)
	})
}
