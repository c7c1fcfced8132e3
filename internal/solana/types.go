package solana

// Commitment levels.
const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

// SPL token program owning classic token accounts.
const TokenProgramID = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"

// SendOptions are the sendTransaction preflight settings.
type SendOptions struct {
	SkipPreflight       bool
	PreflightCommitment string
	MaxRetries          int
}

// SignatureStatus from getSignatureStatuses.
type SignatureStatus struct {
	Slot               int64
	Confirmations      *int64 // nil once rooted
	Err                interface{}
	ConfirmationStatus string
}

// Landed reports whether the status shows a successful, confirmed transaction.
func (s *SignatureStatus) Landed() bool {
	if s == nil || s.Err != nil {
		return false
	}
	if s.ConfirmationStatus == CommitmentConfirmed || s.ConfirmationStatus == CommitmentFinalized {
		return true
	}
	return s.Confirmations != nil && *s.Confirmations >= 1
}

// Failed reports whether the cluster recorded an execution error.
func (s *SignatureStatus) Failed() bool {
	return s != nil && s.Err != nil
}

// TokenBalance is the summed raw balance of a mint held by an owner.
type TokenBalance struct {
	Mint     string
	Amount   uint64 // raw base units
	Decimals int
	Accounts int // number of token accounts found
}

// UIAmount returns the balance scaled by decimals.
func (b *TokenBalance) UIAmount() float64 {
	if b == nil {
		return 0
	}
	v := float64(b.Amount)
	for i := 0; i < b.Decimals; i++ {
		v /= 10
	}
	return v
}
