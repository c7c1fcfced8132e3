package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// RouteLeg is one venue traversed within a swap route.
type RouteLeg struct {
	Label      string // venue label, e.g. "RaydiumCPMM"
	FeeBps     int    // percent fee in basis points
	InputMint  string
	OutputMint string
}

// Quote is an aggregator quote for a fixed input amount.
// Quotes are immutable once built.
type Quote struct {
	InputMint    string
	OutputMint   string
	InAmount     uint64 // smallest on-chain unit
	OutAmount    uint64 // estimated output
	MinOutAmount uint64 // minimum output after slippage, as reported by the aggregator
	SlippageBps  int
	PriceImpact  float64 // fraction, not percent
	Legs         []RouteLeg
	NonDirect    bool // obtained from a fallback pass without the direct-route constraint
	MaxAccounts  int
	Raw          json.RawMessage // original response, echoed back to the swap-build endpoint
	ReceivedAt   time.Time
}

// Validate checks the route-shape invariant: a direct quote has exactly one leg.
func (q *Quote) Validate() error {
	if len(q.Legs) == 0 {
		return &RouteRejection{Reason: RejectEmptyRoute}
	}
	if !q.NonDirect && len(q.Legs) != 1 {
		return &RouteRejection{Reason: RejectLegs, Detail: legsDetail(len(q.Legs))}
	}
	return nil
}

// Label returns the venue label of the first leg.
func (q *Quote) Label() string {
	if len(q.Legs) == 0 {
		return ""
	}
	return strings.TrimSpace(q.Legs[0].Label)
}

// TotalFeeBps sums leg fees.
func (q *Quote) TotalFeeBps() int {
	total := 0
	for _, leg := range q.Legs {
		total += leg.FeeBps
	}
	return total
}

// MinOut returns the slippage-adjusted minimum output for this quote.
func (q *Quote) MinOut(slippageBps int) uint64 {
	return MinOut(q.OutAmount, slippageBps)
}

// MinOut computes max(1, floor(outAmount * (10000 - slippageBps) / 10000))
// in integer arithmetic, with slippageBps clamped to [0, 10000].
// Returns 0 only when outAmount is 0, which callers treat as an unusable quote.
func MinOut(outAmount uint64, slippageBps int) uint64 {
	if outAmount == 0 {
		return 0
	}
	slippageBps = max(0, min(slippageBps, 10_000))

	// Split outAmount so neither product can overflow uint64.
	keep := uint64(10_000 - slippageBps)
	q, r := outAmount/10_000, outAmount%10_000
	m := q*keep + r*keep/10_000
	if m < 1 {
		return 1
	}
	return m
}

// SwapRequest is a selected quote plus execution flags.
type SwapRequest struct {
	Quote                         *Quote
	UserPublicKey                 string
	WrapAndUnwrapSOL              bool
	UseSharedAccounts             bool
	SlippageBps                   int
	ComputeUnitPriceMicroLamports uint64
}

// SignedTransaction is a signed, serialized transaction ready for submission.
type SignedTransaction struct {
	Signature string // first signature, base58
	Payload   []byte // wire bytes
	Quote     *Quote
}

// SubmissionAttempt records one try of the submission matrix.
type SubmissionAttempt struct {
	Endpoint      string
	SkipPreflight bool
	Commitment    string
	MaxRetries    int
	Signature     string
	Err           error
}

// Succeeded reports whether the attempt produced a signature.
func (a SubmissionAttempt) Succeeded() bool {
	return a.Err == nil && a.Signature != ""
}

// Swap side constants
const (
	SwapSideBuy  = "buy"
	SwapSideSell = "sell"
)
