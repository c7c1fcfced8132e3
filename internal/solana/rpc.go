package solana

import "context"

// RPCClient defines the Solana JSON-RPC calls the trader relies on.
type RPCClient interface {
	// Endpoint identifies the node for logs and submission records.
	Endpoint() string

	// SendTransaction submits a signed, serialized transaction and returns its signature.
	SendTransaction(ctx context.Context, raw []byte, opts SendOptions) (string, error)

	// GetSignatureStatuses returns one status per signature; nil entries are unknown to the node.
	GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error)

	// GetTokenBalance returns the owner's total balance of mint across its token accounts.
	GetTokenBalance(ctx context.Context, owner, mint string) (*TokenBalance, error)

	// GetSlot returns the current slot. Used as a liveness check.
	GetSlot(ctx context.Context) (int64, error)
}
