package evm

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// VerifyEOASignature reports whether a 65-byte (r, s, v) signature over hash
// recovers to expectedAddress. v may be 0/1 or 27/28.
func VerifyEOASignature(
	hash []byte,
	signature []byte,
	expectedAddress common.Address,
) (bool, error) {
	if len(signature) != 65 {
		return false, errors.New("invalid EOA signature length: expected 65 bytes")
	}

	sig := make([]byte, 65)
	copy(sig, signature)

	if v := sig[64]; v >= 27 {
		sig[64] = v - 27
	}

	pubKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return false, err
	}

	return crypto.PubkeyToAddress(*pubKey) == expectedAddress, nil
}

// CheckTypedDataSignature recomputes the digest of typed and checks that
// signature recovers to signer. Used by the client before anything is sent.
func CheckTypedDataSignature(typed TypedData, signature []byte, signer string) error {
	digest, err := typed.Hash()
	if err != nil {
		return fmt.Errorf("failed to hash typed data: %w", err)
	}
	ok, err := VerifyEOASignature(digest, signature, common.HexToAddress(signer))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("signature does not recover to %s", signer)
	}
	return nil
}
