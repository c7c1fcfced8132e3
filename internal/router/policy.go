package router

import (
	"fmt"
	"strings"
	"time"

	"solana-swap-trader/internal/domain"
)

// Variant is one parameter set raced in a pass.
type Variant struct {
	OnlyDirect  bool
	MaxAccounts int
}

func (v Variant) String() string {
	if v.OnlyDirect {
		return fmt.Sprintf("direct ma=%d", v.MaxAccounts)
	}
	return fmt.Sprintf("any ma=%d", v.MaxAccounts)
}

// Policy holds the variants and filters applied to one routing request.
type Policy struct {
	Side        string // domain.SwapSideBuy or domain.SwapSideSell
	Variants    []Variant
	SlippageBps int
	Timeout     time.Duration // per quote request

	// AllowedLabels, when set, must contain the first-leg label exactly.
	// Applied to direct candidates only.
	AllowedLabels []string

	// BannedLabelSubstrings rejects direct candidates whose lowercased
	// label contains any entry.
	BannedLabelSubstrings []string

	MaxFeeBpsDirect    int
	MaxFeeBpsNonDirect int
	MaxImpactDirect    float64 // 0 disables the check
	MaxImpactNonDirect float64

	// RequireMinThreshold rejects quotes without a positive
	// otherAmountThreshold.
	RequireMinThreshold bool

	// RequireLegMints rejects a single-leg route whose leg does not swap
	// exactly the requested pair.
	RequireLegMints bool

	// Fallback enables one non-direct request after a direct pass that
	// failed for lack of a route.
	Fallback            bool
	FallbackMaxAccounts int
}

// Buy-side defaults.
const (
	BuyQuoteTimeout = 6 * time.Second
	BuySwapTimeout  = 12 * time.Second
	BuyMaxFeeBps    = 45
	BuySlippageBps  = 30
)

// Sell-side defaults.
const (
	SellQuoteTimeout        = 5 * time.Second
	SellSwapTimeout         = 10 * time.Second
	SellSlippageBps         = 30
	SellMaxAccounts         = 48
	SellMaxFeeBpsDirect     = 35
	SellMaxFeeBpsNonDirect  = 100
	SellMaxImpactDirect     = 0.004
	SellMaxImpactNonDirect  = 0.015
	LiquidationMaxAccounts  = 64
	LiquidationQuoteTimeout = 6 * time.Second
)

// BannedBuyLabels are venue substrings never bought through.
var BannedBuyLabels = []string{
	"meteora", "dlmm", "stable", "openbook", "creon", "vault", "stake", "lend", "margin",
}

// SellAllowedLabels are the venues accepted for a direct exit.
var SellAllowedLabels = []string{
	"RaydiumCPMM", "Raydium", "RaydiumCLMM", "OrcaWhirlpool", "Whirlpool", "MeteoraDLMM",
}

// BuyPolicy returns the entry policy for the given quote base.
// A USDC base races direct quotes at three account limits; a SOL base
// includes one non-direct variant in the race.
func BuyPolicy(base domain.RouteBase) Policy {
	variants := []Variant{
		{OnlyDirect: true, MaxAccounts: 64},
		{OnlyDirect: true, MaxAccounts: 56},
		{OnlyDirect: true, MaxAccounts: 48},
	}
	if base == domain.RouteBaseSOL {
		variants = []Variant{
			{OnlyDirect: true, MaxAccounts: 64},
			{OnlyDirect: true, MaxAccounts: 56},
			{OnlyDirect: false, MaxAccounts: 64},
		}
	}
	return Policy{
		Side:                  domain.SwapSideBuy,
		Variants:              variants,
		SlippageBps:           BuySlippageBps,
		Timeout:               BuyQuoteTimeout,
		BannedLabelSubstrings: BannedBuyLabels,
		MaxFeeBpsDirect:       BuyMaxFeeBps,
		MaxFeeBpsNonDirect:    BuyMaxFeeBps,
		RequireMinThreshold:   true,
	}
}

// SellPolicy returns the exit policy: one direct request with a non-direct
// fallback on no-route.
func SellPolicy(slippageBps, maxAccounts int) Policy {
	if slippageBps <= 0 {
		slippageBps = SellSlippageBps
	}
	if maxAccounts <= 0 {
		maxAccounts = SellMaxAccounts
	}
	return Policy{
		Side:                domain.SwapSideSell,
		Variants:            []Variant{{OnlyDirect: true, MaxAccounts: maxAccounts}},
		SlippageBps:         slippageBps,
		Timeout:             SellQuoteTimeout,
		AllowedLabels:       SellAllowedLabels,
		MaxFeeBpsDirect:     SellMaxFeeBpsDirect,
		MaxFeeBpsNonDirect:  SellMaxFeeBpsNonDirect,
		MaxImpactDirect:     SellMaxImpactDirect,
		MaxImpactNonDirect:  SellMaxImpactNonDirect,
		Fallback:            true,
		FallbackMaxAccounts: maxAccounts,
	}
}

// LiquidationPolicy returns a direct-only policy at the given slippage.
// Liquidation accepts any venue and fee; the balance must go.
func LiquidationPolicy(slippageBps int) Policy {
	return Policy{
		Side:            domain.SwapSideSell,
		Variants:        []Variant{{OnlyDirect: true, MaxAccounts: LiquidationMaxAccounts}},
		SlippageBps:     slippageBps,
		Timeout:         LiquidationQuoteTimeout,
		RequireLegMints: true,
	}
}

// check applies the filters in order and returns the first rejection.
func (p *Policy) check(q *domain.Quote) *domain.RouteRejection {
	if err := q.Validate(); err != nil {
		rej, ok := err.(*domain.RouteRejection)
		if !ok {
			rej = &domain.RouteRejection{Reason: domain.RejectDecode, Err: err}
		}
		return rej
	}

	if p.RequireLegMints && !q.NonDirect {
		leg := q.Legs[0]
		if leg.InputMint != q.InputMint || leg.OutputMint != q.OutputMint {
			return &domain.RouteRejection{Reason: domain.RejectMints, Detail: "NO_ROUTES_FOUND"}
		}
	}

	label := q.Label()
	if !q.NonDirect {
		if len(p.AllowedLabels) > 0 && !contains(p.AllowedLabels, label) {
			return &domain.RouteRejection{Reason: domain.RejectLabel, Detail: labelOrUnknown(label)}
		}
		lower := strings.ToLower(label)
		for _, banned := range p.BannedLabelSubstrings {
			if strings.Contains(lower, banned) {
				return &domain.RouteRejection{Reason: domain.RejectLabel, Detail: labelOrUnknown(label)}
			}
		}
	}

	maxFee, maxImpact := p.MaxFeeBpsDirect, p.MaxImpactDirect
	if q.NonDirect {
		maxFee, maxImpact = p.MaxFeeBpsNonDirect, p.MaxImpactNonDirect
	}
	if fee := q.TotalFeeBps(); maxFee > 0 && fee > maxFee {
		return &domain.RouteRejection{
			Reason: domain.RejectFee,
			Detail: fmt.Sprintf("%d", fee),
			Err:    &domain.RouteTooExpensiveError{FeeBps: fee, MaxFeeBps: maxFee},
		}
	}
	if maxImpact > 0 && q.PriceImpact > maxImpact {
		return &domain.RouteRejection{
			Reason: domain.RejectImpact,
			Detail: fmt.Sprintf("%.5f", q.PriceImpact),
			Err:    &domain.RouteTooExpensiveError{PriceImpact: q.PriceImpact, MaxImpact: maxImpact},
		}
	}

	if q.OutAmount == 0 || q.MinOut(p.SlippageBps) == 0 {
		return &domain.RouteRejection{Reason: domain.RejectMinOut, Detail: "outAmount<=0"}
	}
	if p.RequireMinThreshold && q.MinOutAmount == 0 {
		return &domain.RouteRejection{Reason: domain.RejectMinOut, Detail: "threshold missing"}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func labelOrUnknown(label string) string {
	if label == "" {
		return "unknown"
	}
	return label
}
