package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultLiquidationAttempts is the attempt budget for forced liquidation.
const DefaultLiquidationAttempts = 6

// LiquidationPlan is the ordered list of slippage tolerances, one per attempt.
type LiquidationPlan []int

// NewLiquidationPlan builds the escalating default plan
// [base, max(base,50), 80, 100, 200, 300] truncated to maxAttempts.
func NewLiquidationPlan(baseBps, maxAttempts int) LiquidationPlan {
	if baseBps <= 0 {
		baseBps = 30
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultLiquidationAttempts
	}
	plan := LiquidationPlan{baseBps, max(baseBps, 50), 80, 100, 200, 300}
	if maxAttempts < len(plan) {
		plan = plan[:maxAttempts]
	}
	return plan
}

// ParseLiquidationPlan parses a comma-separated bps list such as "50,80,120".
// An empty string yields the default plan.
func ParseLiquidationPlan(s string, baseBps, maxAttempts int) (LiquidationPlan, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return NewLiquidationPlan(baseBps, maxAttempts), nil
	}
	var plan LiquidationPlan
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		bps, err := strconv.Atoi(part)
		if err != nil || bps <= 0 || bps > 10_000 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidLiquidationPlan, part)
		}
		plan = append(plan, bps)
	}
	if len(plan) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidLiquidationPlan)
	}
	if maxAttempts > 0 && len(plan) > maxAttempts {
		plan = plan[:maxAttempts]
	}
	return plan, nil
}

// At returns the slippage for attempt i (0-based), repeating the last value past the end.
func (p LiquidationPlan) At(i int) int {
	if len(p) == 0 {
		return 0
	}
	if i >= len(p) {
		return p[len(p)-1]
	}
	return p[i]
}
