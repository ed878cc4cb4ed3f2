package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// TypedData bundles the four inputs of an EIP-712 signature
type TypedData struct {
	Domain      TypedDataDomain
	Types       map[string][]TypedDataField
	PrimaryType string
	Message     map[string]interface{}
}

// Hash returns the EIP-712 digest of t
func (t TypedData) Hash() ([]byte, error) {
	return HashTypedData(t.Domain, t.Types, t.PrimaryType, t.Message)
}

// HashTypedData hashes EIP-712 typed data:
// keccak256("\x19\x01" || domainSeparator || structHash)
func HashTypedData(
	domain TypedDataDomain,
	types map[string][]TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       make(apitypes.Types),
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract,
		},
		Message: message,
	}

	for typeName, fields := range types {
		typedFields := make([]apitypes.Type, len(fields))
		for i, field := range fields {
			typedFields[i] = apitypes.Type{Name: field.Name, Type: field.Type}
		}
		typedData.Types[typeName] = typedFields
	}

	if _, exists := typedData.Types["EIP712Domain"]; !exists {
		typedData.Types["EIP712Domain"] = []apitypes.Type{
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		}
	}

	dataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash struct: %w", err)
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	rawData := []byte{0x19, 0x01}
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, dataHash...)
	return crypto.Keccak256(rawData), nil
}

type authorizationNumbers struct {
	value, validAfter, validBefore *big.Int
	nonce                          []byte
}

func parseAuthorizationNumbers(value, validAfter, validBefore, nonce string) (authorizationNumbers, error) {
	var n authorizationNumbers
	var ok bool
	if n.value, ok = new(big.Int).SetString(value, 10); !ok {
		return n, fmt.Errorf("invalid value: %q", value)
	}
	if n.validAfter, ok = new(big.Int).SetString(validAfter, 10); !ok {
		return n, fmt.Errorf("invalid validAfter: %q", validAfter)
	}
	if n.validBefore, ok = new(big.Int).SetString(validBefore, 10); !ok {
		return n, fmt.Errorf("invalid validBefore: %q", validBefore)
	}
	nonceBytes, err := HexToBytes(nonce)
	if err != nil || len(nonceBytes) != 32 {
		return n, fmt.Errorf("invalid nonce: %q", nonce)
	}
	n.nonce = nonceBytes
	return n, nil
}

// EIP3009TypedData builds the TransferWithAuthorization typed data. The token
// contract is the verifying contract.
func EIP3009TypedData(
	authorization ExactEIP3009Authorization,
	chainID *big.Int,
	verifyingContract string,
	tokenName string,
	tokenVersion string,
) (TypedData, error) {
	n, err := parseAuthorizationNumbers(authorization.Value, authorization.ValidAfter, authorization.ValidBefore, authorization.Nonce)
	if err != nil {
		return TypedData{}, err
	}

	return TypedData{
		Domain: TypedDataDomain{
			Name:              tokenName,
			Version:           tokenVersion,
			ChainID:           chainID,
			VerifyingContract: verifyingContract,
		},
		Types:       transferWithAuthorizationTypes,
		PrimaryType: "TransferWithAuthorization",
		Message: map[string]interface{}{
			"from":        common.HexToAddress(authorization.From).Hex(),
			"to":          common.HexToAddress(authorization.To).Hex(),
			"value":       n.value,
			"validAfter":  n.validAfter,
			"validBefore": n.validBefore,
			"nonce":       n.nonce,
		},
	}, nil
}

// ERC20TypedData builds the tokenTransferWithAuthorization typed data signed
// for the facilitator contract.
func ERC20TypedData(
	authorization ExactERC20Authorization,
	chainID *big.Int,
	verifyingContract string,
) (TypedData, error) {
	n, err := parseAuthorizationNumbers(authorization.Value, authorization.ValidAfter, authorization.ValidBefore, authorization.Nonce)
	if err != nil {
		return TypedData{}, err
	}

	return TypedData{
		Domain: TypedDataDomain{
			Name:              FacilitatorDomainName,
			Version:           FacilitatorDomainVersion,
			ChainID:           chainID,
			VerifyingContract: verifyingContract,
		},
		Types:       tokenTransferWithAuthorizationTypes,
		PrimaryType: "tokenTransferWithAuthorization",
		Message: map[string]interface{}{
			"token":       common.HexToAddress(authorization.Token).Hex(),
			"from":        common.HexToAddress(authorization.From).Hex(),
			"to":          common.HexToAddress(authorization.To).Hex(),
			"value":       n.value,
			"validAfter":  n.validAfter,
			"validBefore": n.validBefore,
			"nonce":       n.nonce,
			"needApprove": authorization.NeedApprove,
		},
	}, nil
}

// HashEIP3009Authorization hashes a TransferWithAuthorization message
func HashEIP3009Authorization(
	authorization ExactEIP3009Authorization,
	chainID *big.Int,
	verifyingContract string,
	tokenName string,
	tokenVersion string,
) ([]byte, error) {
	typed, err := EIP3009TypedData(authorization, chainID, verifyingContract, tokenName, tokenVersion)
	if err != nil {
		return nil, err
	}
	return typed.Hash()
}
