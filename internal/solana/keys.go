package solana

import (
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// PublicKeyLength is the size of an ed25519 public key.
const PublicKeyLength = 32

// DecodeAddress decodes a base58 account address and checks its length.
func DecodeAddress(addr string) ([]byte, error) {
	if addr == "" {
		return nil, fmt.Errorf("empty address")
	}
	b, err := base58.Decode(addr)
	if err != nil {
		return nil, fmt.Errorf("decode address %q: %w", addr, err)
	}
	if len(b) != PublicKeyLength {
		return nil, fmt.Errorf("address %q: expected %d bytes, got %d", addr, PublicKeyLength, len(b))
	}
	return b, nil
}

// ValidateAddress reports whether addr is a well-formed account address.
func ValidateAddress(addr string) error {
	_, err := DecodeAddress(addr)
	return err
}

// IsOnCurve reports whether the 32-byte key is a valid ed25519 point.
// Wallet keys are on the curve; program-derived addresses (pool vaults) are not.
func IsOnCurve(point []byte) bool {
	if len(point) != PublicKeyLength {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}

// ValidateSigner checks that addr is a decodable, on-curve wallet key.
func ValidateSigner(addr string) error {
	b, err := DecodeAddress(addr)
	if err != nil {
		return err
	}
	if !IsOnCurve(b) {
		return fmt.Errorf("signer %s is not an ed25519 point", addr)
	}
	return nil
}

// EncodeAddress renders raw key bytes as base58.
func EncodeAddress(b []byte) string {
	return base58.Encode(b)
}
