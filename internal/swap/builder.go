// Package swap turns an accepted quote into a signed transaction.
package swap

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"solana-swap-trader/internal/domain"
	"solana-swap-trader/internal/jupiter"
	"solana-swap-trader/internal/observability"
	"solana-swap-trader/internal/router"
)

// Wire-size ceilings for a legacy transaction.
const (
	MaxRawBytes    = 1300
	MaxBase64Chars = 1800
)

// SwapAPI is the aggregator's swap-build endpoint.
type SwapAPI interface {
	Swap(ctx context.Context, req *domain.SwapRequest, minOut uint64) (*jupiter.SwapResult, error)
}

// Config configures Builder.
type Config struct {
	MaxRawBytes      int
	MaxBase64Chars   int
	ComputeUnitPrice uint64
	Logger           logrus.FieldLogger
}

// Options are the per-swap execution flags.
type Options struct {
	WrapAndUnwrapSOL  bool
	UseSharedAccounts bool
	Timeout           time.Duration // swap-build request timeout
}

// Builder builds, size-checks and signs swaps.
type Builder struct {
	api    SwapAPI
	signer Signer
	cfg    Config
	log    logrus.FieldLogger
}

// NewBuilder creates a Builder with defaults applied.
func NewBuilder(api SwapAPI, signer Signer, cfg Config) *Builder {
	if cfg.MaxRawBytes == 0 {
		cfg.MaxRawBytes = MaxRawBytes
	}
	if cfg.MaxBase64Chars == 0 {
		cfg.MaxBase64Chars = MaxBase64Chars
	}
	if cfg.ComputeUnitPrice == 0 {
		cfg.ComputeUnitPrice = jupiter.DefaultComputeUnitPrice
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Builder{api: api, signer: signer, cfg: cfg, log: cfg.Logger.WithField("component", "swap")}
}

// Wallet returns the signer's address.
func (b *Builder) Wallet() string {
	return b.signer.PublicKey()
}

// Build requests the unsigned transaction for q, rejects oversized or
// simulation-failed builds, and signs it.
func (b *Builder) Build(ctx context.Context, q *domain.Quote, opts Options) (*domain.SignedTransaction, error) {
	minOut := q.MinOut(q.SlippageBps)
	if minOut == 0 {
		return nil, &domain.RouteRejection{Reason: domain.RejectMinOut, Detail: "outAmount<=0"}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = router.BuySwapTimeout
	}
	bctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := &domain.SwapRequest{
		Quote:                         q,
		UserPublicKey:                 b.signer.PublicKey(),
		WrapAndUnwrapSOL:              opts.WrapAndUnwrapSOL,
		UseSharedAccounts:             opts.UseSharedAccounts,
		SlippageBps:                   q.SlippageBps,
		ComputeUnitPriceMicroLamports: b.cfg.ComputeUnitPrice,
	}
	res, err := b.api.Swap(bctx, req, minOut)
	if err != nil {
		observability.RecordSwapBuild("error")
		return nil, err
	}

	raw, err := base64.StdEncoding.DecodeString(res.Transaction)
	if err != nil {
		observability.RecordSwapBuild("decode")
		return nil, fmt.Errorf("%w: swapTransaction base64: %v", jupiter.ErrDecode, err)
	}
	if len(raw) > b.cfg.MaxRawBytes || len(res.Transaction) > b.cfg.MaxBase64Chars {
		observability.RecordSwapBuild("too_large")
		return nil, &domain.TransactionTooLargeError{
			RawBytes:    len(raw),
			Base64Chars: len(res.Transaction),
			MaxRaw:      b.cfg.MaxRawBytes,
			MaxBase64:   b.cfg.MaxBase64Chars,
		}
	}

	signed, sig, err := b.signer.SignTransaction(raw)
	if err != nil {
		observability.RecordSwapBuild("sign")
		return nil, fmt.Errorf("sign swap: %w", err)
	}
	observability.RecordSwapBuild("ok")

	b.log.WithFields(logrus.Fields{
		"label":   q.Label(),
		"ma":      q.MaxAccounts,
		"raw":     len(raw),
		"b64":     len(res.Transaction),
		"min_out": minOut,
	}).Info("swap built")

	return &domain.SignedTransaction{Signature: sig, Payload: signed, Quote: q}, nil
}

// Hook adapts Build to the router's post-build hook so that size and
// simulation rejections continue the quote race.
func (b *Builder) Hook(opts Options) router.Builder {
	return func(ctx context.Context, q *domain.Quote) (*domain.SignedTransaction, error) {
		return b.Build(ctx, q, opts)
	}
}
