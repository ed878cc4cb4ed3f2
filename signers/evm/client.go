// Package evm provides a private-key backed signer for the EVM exact scheme.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	x402evm "github.com/blip-x402/x402-demo/mechanisms/evm"
)

// DefaultReceiptPollInterval is how often WaitForTransactionReceipt polls the node
const DefaultReceiptPollInterval = 2 * time.Second

// fallbackGasLimit is used when gas estimation fails
const fallbackGasLimit = 300000

// ClientSigner implements x402evm.ClientEvmSigner with an in-process ECDSA key.
// Signing works offline; contract calls need Connect.
type ClientSigner struct {
	privateKey   *ecdsa.PrivateKey
	address      common.Address
	ethClient    *ethclient.Client
	pollInterval time.Duration
}

var _ x402evm.ClientEvmSigner = (*ClientSigner)(nil)

// NewClientSignerFromPrivateKey creates a client signer from a hex-encoded
// private key, with or without the "0x" prefix.
//
// Example:
//
//	signer, err := evm.NewClientSignerFromPrivateKey(os.Getenv("CLIENT_PRIVATE_KEY"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client := x402.Newx402Client().
//	    Register("eip155:*", evmclient.NewExactEvmScheme(signer))
func NewClientSignerFromPrivateKey(privateKeyHex string) (*ClientSigner, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		// the key itself is never part of the error
		return nil, errors.New("invalid private key")
	}

	return &ClientSigner{
		privateKey:   privateKey,
		address:      crypto.PubkeyToAddress(privateKey.PublicKey),
		pollInterval: DefaultReceiptPollInterval,
	}, nil
}

// Connect connects the signer to an RPC endpoint
func (s *ClientSigner) Connect(rpcURL string) error {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return fmt.Errorf("failed to connect to RPC: %w", err)
	}
	s.ethClient = client
	return nil
}

// Close releases the RPC connection, if any
func (s *ClientSigner) Close() {
	if s.ethClient != nil {
		s.ethClient.Close()
		s.ethClient = nil
	}
}

// SetPollInterval changes how often receipts are polled
func (s *ClientSigner) SetPollInterval(d time.Duration) {
	if d > 0 {
		s.pollInterval = d
	}
}

// Address returns the checksummed address of the signer
func (s *ClientSigner) Address() string {
	return s.address.Hex()
}

// SignTypedData signs EIP-712 typed data and returns a 65-byte (r, s, v)
// signature with v in {27, 28}.
func (s *ClientSigner) SignTypedData(
	ctx context.Context,
	domain x402evm.TypedDataDomain,
	types map[string][]x402evm.TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	digest, err := x402evm.HashTypedData(domain, types, primaryType, message)
	if err != nil {
		return nil, err
	}

	signature, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	signature[64] += 27

	return signature, nil
}

// ReadContract calls a view function and returns its single result, all
// results as a slice, or nil when the function returns nothing.
func (s *ClientSigner) ReadContract(
	ctx context.Context,
	contractAddress string,
	abiJSON []byte,
	functionName string,
	args ...interface{},
) (interface{}, error) {
	if s.ethClient == nil {
		return nil, x402evm.ErrRPCNotConfigured
	}

	parsedABI, data, err := pack(abiJSON, functionName, args...)
	if err != nil {
		return nil, err
	}

	to := common.HexToAddress(contractAddress)
	resultBytes, err := s.ethClient.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}

	unpacked, err := parsedABI.Unpack(functionName, resultBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack result: %w", err)
	}

	switch len(unpacked) {
	case 0:
		return nil, nil
	case 1:
		return unpacked[0], nil
	}
	return unpacked, nil
}

// WriteContract sends a legacy EIP-155 transaction calling functionName and
// returns its hash.
func (s *ClientSigner) WriteContract(
	ctx context.Context,
	contractAddress string,
	abiJSON []byte,
	functionName string,
	args ...interface{},
) (string, error) {
	if s.ethClient == nil {
		return "", x402evm.ErrRPCNotConfigured
	}

	_, data, err := pack(abiJSON, functionName, args...)
	if err != nil {
		return "", err
	}

	chainID, err := s.ethClient.ChainID(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get chain ID: %w", err)
	}

	nonce, err := s.ethClient.PendingNonceAt(ctx, s.address)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := s.ethClient.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}

	to := common.HexToAddress(contractAddress)
	gasLimit, err := s.ethClient.EstimateGas(ctx, ethereum.CallMsg{From: s.address, To: &to, Data: data})
	if err != nil {
		gasLimit = fallbackGasLimit
	} else {
		gasLimit += gasLimit / 5
	}

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(chainID), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := s.ethClient.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	return signedTx.Hash().Hex(), nil
}

// WaitForTransactionReceipt polls until the transaction is mined or ctx is done
func (s *ClientSigner) WaitForTransactionReceipt(ctx context.Context, txHash string) (*x402evm.TransactionReceipt, error) {
	if s.ethClient == nil {
		return nil, x402evm.ErrRPCNotConfigured
	}

	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := s.ethClient.TransactionReceipt(ctx, hash)
			if err != nil {
				if errors.Is(err, ethereum.NotFound) {
					continue
				}
				return nil, err
			}
			return &x402evm.TransactionReceipt{
				Status:      receipt.Status,
				BlockNumber: receipt.BlockNumber.Uint64(),
				TxHash:      receipt.TxHash.Hex(),
			}, nil
		}
	}
}

func pack(abiJSON []byte, functionName string, args ...interface{}) (abi.ABI, []byte, error) {
	parsedABI, err := abi.JSON(strings.NewReader(string(abiJSON)))
	if err != nil {
		return abi.ABI{}, nil, fmt.Errorf("failed to parse ABI: %w", err)
	}
	data, err := parsedABI.Pack(functionName, args...)
	if err != nil {
		return abi.ABI{}, nil, fmt.Errorf("failed to pack data: %w", err)
	}
	return parsedABI, data, nil
}
