// Package pricefeed merges a vault-balance stream and a polled HTTP price
// into one debounced price per mint.
package pricefeed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"solana-swap-trader/internal/clock"
	"solana-swap-trader/internal/observability"
	"solana-swap-trader/internal/solana"
)

// DefaultStaleAfter is the age beyond which a stream sample is ignored.
const DefaultStaleAfter = 800 * time.Millisecond

// Sample is a raw pool price in quote units per token.
type Sample struct {
	Price float64
	At    time.Time
}

// StreamConfig configures VaultStream.
type StreamConfig struct {
	QuoteVault string
	TokenVault string
	StaleAfter time.Duration
	Clock      clock.Clock
	Logger     logrus.FieldLogger
}

// VaultStream derives a pool price from the balances of its two vaults.
// Run publishes into a single latest slot; Latest and Fresh may be called
// from any goroutine.
type VaultStream struct {
	ws    solana.WSClient
	cfg   StreamConfig
	clock clock.Clock
	log   logrus.FieldLogger

	mu       sync.RWMutex
	quoteUI  float64
	tokenUI  float64
	hasQuote bool
	hasToken bool
	last     Sample
	hasLast  bool
}

// NewVaultStream creates a stream over the two vaults in cfg.
func NewVaultStream(ws solana.WSClient, cfg StreamConfig) *VaultStream {
	if cfg.StaleAfter == 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &VaultStream{
		ws:    ws,
		cfg:   cfg,
		clock: cfg.Clock,
		log:   cfg.Logger.WithField("component", "vault_stream"),
	}
}

// Run subscribes to both vaults and consumes notifications until ctx is
// done or a subscription channel closes. Reconnects are handled by the
// websocket client, which keeps the channels across resubscription.
func (s *VaultStream) Run(ctx context.Context) error {
	quoteCh, err := s.ws.AccountSubscribe(ctx, s.cfg.QuoteVault)
	if err != nil {
		return fmt.Errorf("subscribe quote vault: %w", err)
	}
	tokenCh, err := s.ws.AccountSubscribe(ctx, s.cfg.TokenVault)
	if err != nil {
		return fmt.Errorf("subscribe token vault: %w", err)
	}
	observability.RecordStreamSubscription()

	s.log.WithFields(logrus.Fields{
		"quote_vault": s.cfg.QuoteVault,
		"token_vault": s.cfg.TokenVault,
	}).Info("vault stream subscribed")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-quoteCh:
			if !ok {
				return fmt.Errorf("quote vault subscription closed")
			}
			s.apply(true, n)
		case n, ok := <-tokenCh:
			if !ok {
				return fmt.Errorf("token vault subscription closed")
			}
			s.apply(false, n)
		}
	}
}

func (s *VaultStream) apply(quoteSide bool, n solana.AccountNotification) {
	ui, ok := uiAmount(n)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if quoteSide {
		s.quoteUI, s.hasQuote = ui, true
	} else {
		s.tokenUI, s.hasToken = ui, true
	}
	if s.hasQuote && s.hasToken && s.quoteUI > 0 && s.tokenUI > 0 {
		s.last = Sample{Price: s.quoteUI / s.tokenUI, At: s.clock.Now()}
		s.hasLast = true
	}
}

// uiAmount prefers the node's uiAmount and falls back to scaling the raw amount.
func uiAmount(n solana.AccountNotification) (float64, bool) {
	if n.UIAmount != nil {
		return *n.UIAmount, true
	}
	if n.Amount == "" {
		return 0, false
	}
	raw, err := decimal.NewFromString(n.Amount)
	if err != nil {
		return 0, false
	}
	return raw.Shift(int32(-n.Decimals)).InexactFloat64(), true
}

// Latest returns the most recent sample regardless of age.
func (s *VaultStream) Latest() (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.hasLast
}

// Fresh returns the latest sample only if it is not older than StaleAfter.
func (s *VaultStream) Fresh() (Sample, bool) {
	last, ok := s.Latest()
	if !ok {
		return Sample{}, false
	}
	if s.clock.Now().Sub(last.At) > s.cfg.StaleAfter {
		return Sample{}, false
	}
	return last, true
}
