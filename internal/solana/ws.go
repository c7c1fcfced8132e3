package solana

import "context"

// WSClient defines Solana WebSocket subscription interface.
type WSClient interface {
	// AccountSubscribe subscribes to changes of a token account, parsed as jsonParsed.
	AccountSubscribe(ctx context.Context, account string) (<-chan AccountNotification, error)

	// Close closes the WebSocket connection.
	Close() error
}

// AccountNotification represents a parsed token-account change.
type AccountNotification struct {
	Account  string
	Slot     int64
	Amount   string   // raw amount as reported
	Decimals int
	UIAmount *float64 // nil when the node omits it
}
