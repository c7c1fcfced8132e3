// Package position implements the exit rules of an open position as a pure
// state machine driven by accepted price ticks.
package position

import (
	"fmt"
	"time"

	"solana-swap-trader/internal/domain"
	"solana-swap-trader/internal/observability"
)

// Default exit parameters.
const (
	DefaultActivation    = 0.020
	DefaultTrailing      = 0.007
	DefaultStopLoss      = 0.010
	DefaultDormantWindow = 360 * time.Second
	DefaultDormantBand   = 0.005
	DefaultHold          = 8 * time.Second
)

// Params are the exit rule parameters. Fractions, not percents.
type Params struct {
	Activation    float64       // return that arms the trailing stop
	Trailing      float64       // distance of the trailing stop below the high
	StopLoss      float64       // fixed stop before arming, as a positive fraction
	DormantWindow time.Duration // how long price may stay in the band
	DormantBand   float64       // half-width of the dormant band
	Hold          time.Duration // no exits before entry + Hold
}

// DefaultParams returns the default exit parameters.
func DefaultParams() Params {
	return Params{
		Activation:    DefaultActivation,
		Trailing:      DefaultTrailing,
		StopLoss:      DefaultStopLoss,
		DormantWindow: DefaultDormantWindow,
		DormantBand:   DefaultDormantBand,
		Hold:          DefaultHold,
	}
}

// Validate checks that the parameters describe a usable rule set.
func (p Params) Validate() error {
	switch {
	case p.Activation <= 0:
		return fmt.Errorf("activation must be positive")
	case p.Trailing <= 0 || p.Trailing >= 1:
		return fmt.Errorf("trailing must be in (0, 1)")
	case p.StopLoss <= 0 || p.StopLoss >= 1:
		return fmt.Errorf("stop loss must be in (0, 1)")
	case p.DormantWindow <= 0:
		return fmt.Errorf("dormant window must be positive")
	case p.DormantBand <= 0:
		return fmt.Errorf("dormant band must be positive")
	case p.Hold < 0:
		return fmt.Errorf("hold must not be negative")
	}
	return nil
}

// Action is what the caller should do after a tick.
type Action int

const (
	ActionNone Action = iota // keep watching
	ActionHold               // inside the hold window, exit rules skipped
	ActionArm                // trailing stop armed on this tick
	ActionExit               // sell now; Decision.Cause says why
)

func (a Action) String() string {
	switch a {
	case ActionHold:
		return "hold"
	case ActionArm:
		return "arm"
	case ActionExit:
		return "exit"
	default:
		return "none"
	}
}

// Decision is the result of evaluating one tick.
type Decision struct {
	Action  Action
	Cause   domain.ExitCause
	Price   float64
	Return  float64
	Highest float64
	Stop    float64
}

// Machine evaluates ticks for a single position. Not safe for concurrent use.
type Machine struct {
	params Params
	pos    domain.Position

	dormantStart time.Time
	dormantLow   float64
	dormantHigh  float64
}

// Open records a confirmed buy and returns a machine in HOLDING.
func Open(id, mint string, entryPrice float64, entryTime time.Time, params Params) (*Machine, error) {
	if entryPrice <= 0 {
		return nil, fmt.Errorf("entry price must be positive, got %v", entryPrice)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	pos := domain.Position{
		ID:            id,
		Mint:          mint,
		State:         domain.StateNew,
		EntryPrice:    entryPrice,
		EntryTime:     entryTime,
		HighestPrice:  entryPrice,
		StopThreshold: entryPrice * (1 - params.Trailing),
		HoldUntil:     entryTime.Add(params.Hold),
	}
	if err := pos.Transition(domain.StateHolding); err != nil {
		return nil, err
	}
	observability.SetPositionState(int(pos.State))

	m := &Machine{params: params, pos: pos}
	m.reanchor(entryPrice, entryTime)
	return m, nil
}

// Position returns a copy of the current position.
func (m *Machine) Position() domain.Position {
	return m.pos
}

// Evaluate applies one accepted tick. Highest price and the dormant anchor
// are updated even during the hold window; exit rules are not. Once the
// position is EXITING or CLOSED every tick yields ActionNone.
func (m *Machine) Evaluate(t domain.PriceTick) Decision {
	if m.pos.State != domain.StateHolding && m.pos.State != domain.StateTrailingArmed {
		return Decision{Action: ActionNone, Price: t.Price, Highest: m.pos.HighestPrice, Stop: m.pos.StopThreshold}
	}
	px := t.Price
	if px <= 0 {
		return m.decision(ActionNone, "", px)
	}

	if px < m.dormantLow || px > m.dormantHigh {
		m.reanchor(px, t.At)
	}

	if px > m.pos.HighestPrice {
		m.pos.HighestPrice = px
		if m.pos.TrailingArmed {
			m.raiseStop()
		}
	}

	if t.At.Before(m.pos.HoldUntil) {
		return m.decision(ActionHold, "", px)
	}

	ret := px/m.pos.EntryPrice - 1

	if !m.pos.TrailingArmed && ret <= -m.params.StopLoss {
		return m.exit(domain.ExitCauseStopLoss, px)
	}

	action := ActionNone
	if !m.pos.TrailingArmed && ret >= m.params.Activation {
		_ = m.pos.Transition(domain.StateTrailingArmed)
		observability.SetPositionState(int(m.pos.State))
		m.raiseStop()
		action = ActionArm
	}

	if m.pos.TrailingArmed && px <= m.pos.StopThreshold {
		return m.exit(domain.ExitCauseTrailingHit, px)
	}

	if t.At.Sub(m.dormantStart) >= m.params.DormantWindow {
		return m.exit(domain.ExitCauseDormant, px)
	}

	return m.decision(action, "", px)
}

// ForceExit moves an open position to EXITING with the given cause, for
// exits requested from outside the tick loop.
func (m *Machine) ForceExit(cause domain.ExitCause) error {
	if err := m.pos.Transition(domain.StateExiting); err != nil {
		return err
	}
	m.pos.ExitCause = cause
	observability.SetPositionState(int(m.pos.State))
	return nil
}

// Close marks the position CLOSED after the exit path finished.
func (m *Machine) Close() error {
	if err := m.pos.Transition(domain.StateClosed); err != nil {
		return err
	}
	observability.SetPositionState(int(m.pos.State))
	return nil
}

func (m *Machine) exit(cause domain.ExitCause, px float64) Decision {
	_ = m.pos.Transition(domain.StateExiting)
	m.pos.ExitCause = cause
	observability.SetPositionState(int(m.pos.State))
	observability.RecordExit(string(cause))
	return m.decision(ActionExit, cause, px)
}

// raiseStop moves the stop up to the trailing distance below the high; it never lowers it.
func (m *Machine) raiseStop() {
	if s := m.pos.HighestPrice * (1 - m.params.Trailing); s > m.pos.StopThreshold {
		m.pos.StopThreshold = s
	}
}

func (m *Machine) reanchor(px float64, at time.Time) {
	m.dormantStart = at
	m.dormantLow = px * (1 - m.params.DormantBand)
	m.dormantHigh = px * (1 + m.params.DormantBand)
}

func (m *Machine) decision(a Action, cause domain.ExitCause, px float64) Decision {
	return Decision{
		Action:  a,
		Cause:   cause,
		Price:   px,
		Return:  px/m.pos.EntryPrice - 1,
		Highest: m.pos.HighestPrice,
		Stop:    m.pos.StopThreshold,
	}
}
