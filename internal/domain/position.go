package domain

import "time"

// PositionState is the lifecycle state of a position.
type PositionState int

const (
	StateNew PositionState = iota
	StateHolding
	StateTrailingArmed
	StateExiting
	StateClosed
)

var positionStateNames = map[PositionState]string{
	StateNew:           "NEW",
	StateHolding:       "HOLDING",
	StateTrailingArmed: "TRAILING_ARMED",
	StateExiting:       "EXITING",
	StateClosed:        "CLOSED",
}

func (s PositionState) String() string {
	if name, ok := positionStateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// ExitCause is the reason a position left HOLDING/TRAILING_ARMED.
type ExitCause string

// Exit cause codes
const (
	ExitCauseStopLoss    ExitCause = "stop_loss_fixed"
	ExitCauseTrailingHit ExitCause = "trailing_hit"
	ExitCauseDormant     ExitCause = "dormant"
	ExitCauseForced      ExitCause = "forced_close"
	ExitCauseManual      ExitCause = "manual"
)

// Position is an open or closed trade on a single mint.
type Position struct {
	ID            string
	Mint          string
	Name          string
	State         PositionState
	EntryPrice    float64 // USD per token
	EntryTime     time.Time
	HighestPrice  float64 // non-decreasing
	TrailingArmed bool
	StopThreshold float64 // non-decreasing once armed
	HoldUntil     time.Time
	EntryTxID     string
	RouteBase     RouteBase
	ExitCause     ExitCause
}

var allowedTransitions = map[PositionState][]PositionState{
	StateNew:           {StateHolding},
	StateHolding:       {StateTrailingArmed, StateExiting},
	StateTrailingArmed: {StateExiting},
	StateExiting:       {StateClosed},
}

// Transition moves the position forward. States never move backwards and
// CLOSED is terminal.
func (p *Position) Transition(to PositionState) error {
	for _, next := range allowedTransitions[p.State] {
		if next == to {
			p.State = to
			if to == StateTrailingArmed {
				p.TrailingArmed = true
			}
			return nil
		}
	}
	return &InvalidTransitionError{From: p.State, To: to}
}

// IsOpen reports whether the position has not been closed.
func (p *Position) IsOpen() bool {
	return p.State != StateClosed
}

// PositionRecord is the ledger row for a position.
type PositionRecord struct {
	ID         string
	Mint       string
	Name       string
	EntryTime  time.Time
	EntryPrice float64 // quantized to 8 decimals
	EntryTxID  string
	Score      int
	ExitTime   *time.Time // nil while open
	ExitPrice  *float64
	ProfitPct  *float64
	ProfitUSD  *float64
	ExitTxIDs  []string
	Note       string
}

// IsOpen reports whether the ledger row has no exit recorded.
func (r *PositionRecord) IsOpen() bool {
	return r.ExitTime == nil
}

// ExitRecord is the update applied to a ledger row on close.
type ExitRecord struct {
	ExitTime  time.Time
	ExitPrice float64
	ProfitPct float64
	ProfitUSD float64
	TxIDs     []string
	Note      string
}
