package swap

import (
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	sol "github.com/gagliardetto/solana-go"

	"solana-swap-trader/internal/solana"
)

// ErrForeignSigner is returned when a transaction needs signatures other
// than the wallet's.
var ErrForeignSigner = errors.New("transaction requires a signer other than the wallet")

// Signer signs serialized legacy transactions in which the wallet is the
// only required signer.
type Signer interface {
	PublicKey() string
	SignTransaction(raw []byte) (signed []byte, signature string, err error)
}

// KeypairSigner holds an ed25519 keypair loaded from a solana-keygen file.
type KeypairSigner struct {
	key sol.PrivateKey
	pub sol.PublicKey
}

// LoadKeypair reads a solana-keygen JSON keypair file.
func LoadKeypair(path string) (*KeypairSigner, error) {
	key, err := sol.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("load keypair %s: %w", path, err)
	}
	return NewKeypairSigner(key)
}

// NewKeypairSigner wraps a private key after checking that its public half
// is a wallet key.
func NewKeypairSigner(key sol.PrivateKey) (*KeypairSigner, error) {
	if len(key) != 64 {
		return nil, fmt.Errorf("keypair: expected 64 bytes, got %d", len(key))
	}
	pub := key.PublicKey()
	if err := solana.ValidateSigner(pub.String()); err != nil {
		return nil, fmt.Errorf("keypair: %w", err)
	}
	return &KeypairSigner{key: key, pub: pub}, nil
}

// PublicKey returns the base58 wallet address.
func (s *KeypairSigner) PublicKey() string {
	return s.pub.String()
}

// SignTransaction decodes raw, replaces its single signature with the
// wallet's, and re-serializes it.
func (s *KeypairSigner) SignTransaction(raw []byte) ([]byte, string, error) {
	tx, err := sol.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, "", fmt.Errorf("decode transaction: %w", err)
	}

	if n := tx.Message.Header.NumRequiredSignatures; n != 1 {
		return nil, "", fmt.Errorf("%w: %d required signatures", ErrForeignSigner, n)
	}
	if len(tx.Message.AccountKeys) == 0 || !tx.Message.AccountKeys[0].Equals(s.pub) {
		return nil, "", fmt.Errorf("%w: fee payer is not %s", ErrForeignSigner, s.pub)
	}

	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, "", fmt.Errorf("marshal message: %w", err)
	}
	sig, err := s.key.Sign(msg)
	if err != nil {
		return nil, "", fmt.Errorf("sign message: %w", err)
	}
	tx.Signatures = []sol.Signature{sig}

	out, err := tx.MarshalBinary()
	if err != nil {
		return nil, "", fmt.Errorf("marshal transaction: %w", err)
	}
	return out, sig.String(), nil
}

var _ Signer = (*KeypairSigner)(nil)
