package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinels matched with errors.Is against the typed errors below.
var (
	ErrNoPrice                = errors.New("no price")
	ErrNoRoute                = errors.New("no route")
	ErrRouteTooExpensive      = errors.New("route too expensive")
	ErrTransactionTooLarge    = errors.New("transaction too large")
	ErrSwapSimulation         = errors.New("swap simulation failed")
	ErrSubmissionExhausted    = errors.New("submission exhausted")
	ErrConfirmationTimeout    = errors.New("confirmation timeout")
	ErrTransactionFailed      = errors.New("transaction failed on-chain")
	ErrBalanceNonZero         = errors.New("balance non-zero after liquidation")
	ErrInvalidTransition      = errors.New("invalid position transition")
	ErrInvalidToken           = errors.New("invalid token info")
	ErrInvalidLiquidationPlan = errors.New("invalid liquidation plan")
)

// RejectReason enumerates why a quote candidate was excluded.
type RejectReason string

const (
	RejectHTTPStatus RejectReason = "http_status"
	RejectDecode     RejectReason = "decode"
	RejectEmptyRoute RejectReason = "empty_route"
	RejectLegs       RejectReason = "legs"
	RejectLabel      RejectReason = "label"
	RejectFee        RejectReason = "fee"
	RejectImpact     RejectReason = "impact"
	RejectMinOut     RejectReason = "min_out"
	RejectMints      RejectReason = "mints"
	RejectTooLarge   RejectReason = "too_large"
	RejectSimulation RejectReason = "simulation"
	RejectTransport  RejectReason = "transport"
)

// RouteRejection explains why a single candidate did not pass.
type RouteRejection struct {
	Candidate string // variant description, e.g. "direct ma=64"
	Reason    RejectReason
	Detail    string
	Err       error
}

func (e *RouteRejection) Error() string {
	msg := string(e.Reason)
	if e.Detail != "" {
		msg += "=" + e.Detail
	}
	if e.Candidate != "" {
		msg = e.Candidate + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RouteRejection) Unwrap() error {
	return e.Err
}

// IsNoRoute reports whether the rejection indicates that no route exists,
// which is what triggers the non-direct fallback pass.
func (e *RouteRejection) IsNoRoute() bool {
	s := e.Detail
	if e.Err != nil {
		s += " " + e.Err.Error()
	}
	if e.Reason == RejectLegs || e.Reason == RejectEmptyRoute {
		return true
	}
	return strings.Contains(s, "NO_ROUTE") || strings.Contains(s, "NO_ROUTES_FOUND") || strings.Contains(s, "HTTP_400")
}

func legsDetail(n int) string {
	return fmt.Sprintf("%d", n)
}

// NoPriceError means neither the stream nor the poller produced a usable price.
type NoPriceError struct {
	Mint string
}

func (e *NoPriceError) Error() string {
	return fmt.Sprintf("no price for %s from stream or poll", e.Mint)
}

func (e *NoPriceError) Is(target error) bool { return target == ErrNoPrice }

// NoRouteError means no quote candidate passed the filters.
type NoRouteError struct {
	InputMint  string
	OutputMint string
	Rejections []*RouteRejection
}

func (e *NoRouteError) Error() string {
	parts := make([]string, 0, len(e.Rejections))
	for _, r := range e.Rejections {
		parts = append(parts, r.Error())
	}
	detail := "n/a"
	if len(parts) > 0 {
		detail = strings.Join(parts, "; ")
	}
	return fmt.Sprintf("no route %s -> %s: %s", short(e.InputMint), short(e.OutputMint), detail)
}

func (e *NoRouteError) Is(target error) bool { return target == ErrNoRoute }

// RouteTooExpensiveError means fee or price impact exceeded the ceiling.
type RouteTooExpensiveError struct {
	FeeBps      int
	MaxFeeBps   int
	PriceImpact float64
	MaxImpact   float64
}

func (e *RouteTooExpensiveError) Error() string {
	if e.MaxFeeBps > 0 && e.FeeBps > e.MaxFeeBps {
		return fmt.Sprintf("route fee %d bps over ceiling %d bps", e.FeeBps, e.MaxFeeBps)
	}
	return fmt.Sprintf("route price impact %.5f over ceiling %.5f", e.PriceImpact, e.MaxImpact)
}

func (e *RouteTooExpensiveError) Is(target error) bool { return target == ErrRouteTooExpensive }

// TransactionTooLargeError means the built transaction exceeds the wire-size ceiling.
type TransactionTooLargeError struct {
	RawBytes    int
	Base64Chars int
	MaxRaw      int
	MaxBase64   int
}

func (e *TransactionTooLargeError) Error() string {
	return fmt.Sprintf("transaction too large: raw=%dB (max %d) b64=%d (max %d)",
		e.RawBytes, e.MaxRaw, e.Base64Chars, e.MaxBase64)
}

func (e *TransactionTooLargeError) Is(target error) bool { return target == ErrTransactionTooLarge }

// SwapSimulationError carries the simulation error embedded in a swap-build response.
type SwapSimulationError struct {
	Code    string
	Message string
}

func (e *SwapSimulationError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("swap simulation error %s: %s", e.Code, e.Message)
	}
	return "swap simulation error: " + e.Message
}

func (e *SwapSimulationError) Is(target error) bool { return target == ErrSwapSimulation }

// SubmissionExhaustedError means every (endpoint, preflight) pair failed.
type SubmissionExhaustedError struct {
	Attempts []SubmissionAttempt
	Last     error
}

func (e *SubmissionExhaustedError) Error() string {
	return fmt.Sprintf("submission exhausted after %d attempts: %v", len(e.Attempts), e.Last)
}

func (e *SubmissionExhaustedError) Unwrap() error {
	return e.Last
}

func (e *SubmissionExhaustedError) Is(target error) bool { return target == ErrSubmissionExhausted }

// ConfirmationTimeoutError means the signature status never settled before the deadline.
// The transaction may still land; this is indeterminate, not a failure.
type ConfirmationTimeoutError struct {
	Signature string
	Waited    time.Duration
}

func (e *ConfirmationTimeoutError) Error() string {
	return fmt.Sprintf("confirmation of %s still pending after %s", e.Signature, e.Waited)
}

func (e *ConfirmationTimeoutError) Is(target error) bool { return target == ErrConfirmationTimeout }

// TransactionFailedError means the cluster reported an execution error for the signature.
type TransactionFailedError struct {
	Signature string
	Err       interface{}
}

func (e *TransactionFailedError) Error() string {
	return fmt.Sprintf("transaction %s failed: %v", e.Signature, e.Err)
}

func (e *TransactionFailedError) Is(target error) bool { return target == ErrTransactionFailed }

// BalanceNonZeroAfterLiquidationError means forced liquidation ended with tokens left.
type BalanceNonZeroAfterLiquidationError struct {
	Mint      string
	Remaining uint64
	TxIDs     []string
}

func (e *BalanceNonZeroAfterLiquidationError) Error() string {
	return fmt.Sprintf("balance of %s still %d after liquidation (%d txids)", short(e.Mint), e.Remaining, len(e.TxIDs))
}

func (e *BalanceNonZeroAfterLiquidationError) Is(target error) bool { return target == ErrBalanceNonZero }

// InvalidTransitionError is returned when a position would move backwards.
type InvalidTransitionError struct {
	From PositionState
	To   PositionState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid position transition %s -> %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// InvalidTokenError is returned when token info lacks a required field.
type InvalidTokenError struct {
	Mint  string
	Field string
}

func (e *InvalidTokenError) Error() string {
	return fmt.Sprintf("token %s: missing or invalid %s", short(e.Mint), e.Field)
}

func (e *InvalidTokenError) Is(target error) bool { return target == ErrInvalidToken }

func short(mint string) string {
	if len(mint) > 6 {
		return mint[:6] + "…"
	}
	return mint
}
