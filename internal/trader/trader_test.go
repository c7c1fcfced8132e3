package trader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-swap-trader/internal/clock"
	"solana-swap-trader/internal/domain"
	"solana-swap-trader/internal/lease"
	"solana-swap-trader/internal/liquidator"
	"solana-swap-trader/internal/position"
	"solana-swap-trader/internal/router"
	"solana-swap-trader/internal/solana"
	"solana-swap-trader/internal/solana/stub"
	"solana-swap-trader/internal/storage/memory"
	"solana-swap-trader/internal/submit"
	"solana-swap-trader/internal/swap"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

const mintA = "MintAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

type fakeRouter struct {
	mu        sync.Mutex
	buyFail   map[string]bool // input mint -> fail
	sellFail  bool
	sellOut   uint64
	sellBlock chan struct{}
	buys      []router.Request
	sells     [][]router.Target
}

func (r *fakeRouter) Route(ctx context.Context, req router.Request) (*router.Result, error) {
	r.mu.Lock()
	r.buys = append(r.buys, req)
	fail := r.buyFail[req.InputMint]
	r.mu.Unlock()
	if fail {
		return nil, &domain.NoRouteError{InputMint: req.InputMint, OutputMint: req.OutputMint}
	}
	return accept(ctx, req, 1_000_000)
}

func (r *fakeRouter) RouteAny(ctx context.Context, targets []router.Target) (*router.Result, int, error) {
	r.mu.Lock()
	r.sells = append(r.sells, targets)
	fail, out, block := r.sellFail, r.sellOut, r.sellBlock
	r.mu.Unlock()
	if block != nil {
		<-block
	}
	if fail {
		return nil, -1, &domain.NoRouteError{InputMint: targets[0].Request.InputMint, OutputMint: targets[0].Request.OutputMint}
	}
	res, err := accept(ctx, targets[0].Request, out)
	return res, 0, err
}

func (r *fakeRouter) sellCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sells)
}

func accept(ctx context.Context, req router.Request, out uint64) (*router.Result, error) {
	q := &domain.Quote{
		InputMint:    req.InputMint,
		OutputMint:   req.OutputMint,
		InAmount:     req.Amount,
		OutAmount:    out,
		MinOutAmount: out,
		SlippageBps:  req.Policy.SlippageBps,
		Legs:         []domain.RouteLeg{{Label: "Raydium", InputMint: req.InputMint, OutputMint: req.OutputMint}},
	}
	tx, err := req.Build(ctx, q)
	if err != nil {
		return nil, err
	}
	return &router.Result{Quote: q, Tx: tx, Variant: req.Policy.Variants[0]}, nil
}

type fakeBuilder struct {
	mu   sync.Mutex
	opts []swap.Options
}

func (b *fakeBuilder) Hook(opts swap.Options) router.Builder {
	b.mu.Lock()
	b.opts = append(b.opts, opts)
	b.mu.Unlock()
	return func(_ context.Context, q *domain.Quote) (*domain.SignedTransaction, error) {
		return &domain.SignedTransaction{Signature: "local", Payload: []byte{1}, Quote: q}, nil
	}
}

// scriptedPoll returns prices in order; the last one repeats.
type scriptedPoll struct {
	mu     sync.Mutex
	prices []float64
	sol    float64
	calls  int
}

func (p *scriptedPoll) Price(context.Context, string) (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.prices) == 0 {
		return 0, false
	}
	i := min(p.calls, len(p.prices)-1)
	p.calls++
	return p.prices[i], p.prices[i] > 0
}

func (p *scriptedPoll) SOLPrice(context.Context) (float64, bool) {
	return p.sol, p.sol > 0
}

type fakeLiquidator struct {
	requests []liquidator.Request
	result   *liquidator.Result
	err      error
}

func (l *fakeLiquidator) Liquidate(_ context.Context, req liquidator.Request) (*liquidator.Result, error) {
	l.requests = append(l.requests, req)
	return l.result, l.err
}

type fixture struct {
	clk       *clock.Fake
	rpc       *stub.RPCClient
	router    *fakeRouter
	builder   *fakeBuilder
	poll      *scriptedPoll
	liq       *fakeLiquidator
	positions *memory.PositionStore
	live      *memory.LivePriceStore
	ticks     *memory.TickStore
	lease     *lease.MemoryLease
	trader    *Trader
}

func newFixture(t *testing.T, base domain.RouteBase, prices ...float64) *fixture {
	t.Helper()
	f := &fixture{
		clk:       clock.NewFake(t0),
		rpc:       stub.NewRPCClient("primary"),
		router:    &fakeRouter{buyFail: map[string]bool{}, sellOut: 5_070_000},
		builder:   &fakeBuilder{},
		poll:      &scriptedPoll{prices: prices, sol: 100},
		liq:       &fakeLiquidator{result: &liquidator.Result{Success: true, TxIDs: []string{"liq-1"}}},
		positions: memory.NewPositionStore(),
		live:      memory.NewLivePriceStore(),
		ticks:     memory.NewTickStore(),
	}
	f.rpc.Balances = []uint64{5_000_000}
	f.rpc.Decimals = 6
	f.lease = lease.NewMemoryLease(lease.Options{}, f.clk, nil)

	tokens := memory.NewTokenStore()
	require.NoError(t, tokens.Upsert(context.Background(), &domain.TokenInfo{
		Mint:       mintA,
		Name:       "ALPHA",
		Decimals:   6,
		QuoteVault: "QuoteVault",
		TokenVault: "TokenVault",
		RouteBase:  base,
	}))

	exit := position.DefaultParams()
	exit.Hold = 0
	f.trader = New(Options{
		Tokens:     tokens,
		Positions:  f.positions,
		LivePrices: f.live,
		Ticks:      f.ticks,
		Lease:      f.lease,
		Router:     f.router,
		Builder:    f.builder,
		Submitter:  submit.NewSubmitter([]solana.RPCClient{f.rpc}, submit.Config{Clock: f.clk}),
		Confirmer:  submit.NewConfirmer(f.rpc, submit.ConfirmConfig{Clock: f.clk, Timeout: 5 * time.Second}),
		Balances:   f.rpc,
		Poller:     f.poll,
		Liquidator: f.liq,
		Wallet:     "Wallet111",
		Exit:       exit,
		Clock:      f.clk,
		Jitter:     clock.NoJitter,
	})
	return f
}

func (f *fixture) landSell() {
	f.rpc.Statuses["sig-primary-1"] = []*solana.SignatureStatus{stub.Landed()}
}

func TestTrade_TrailingSequenceSellsOnce(t *testing.T) {
	f := newFixture(t, domain.RouteBaseUSDC, 1.00, 1.00, 1.021, 1.025, 1.015)
	f.landSell()

	res, err := f.trader.Trade(context.Background(), mintA)
	require.NoError(t, err)
	assert.Equal(t, OutcomeClosed, res.Outcome)
	assert.Equal(t, domain.ExitCauseTrailingHit, res.Cause)
	assert.Equal(t, 1, f.router.sellCalls(), "exactly one sell call")
	assert.Empty(t, f.liq.requests)

	require.Len(t, f.router.buys, 1)
	assert.Equal(t, domain.USDCMint, f.router.buys[0].InputMint)
	assert.Equal(t, uint64(2_000_000), f.router.buys[0].Amount)

	rec, err := f.positions.GetByID(context.Background(), res.PositionID)
	require.NoError(t, err)
	assert.False(t, rec.IsOpen())
	assert.Equal(t, 1.0, rec.EntryPrice)
	assert.Equal(t, "sig-primary-0", rec.EntryTxID)
	assert.Equal(t, 1.015, *rec.ExitPrice)
	assert.Equal(t, 1.5, *rec.ProfitPct)
	assert.Equal(t, 0.075, *rec.ProfitUSD)
	assert.Equal(t, []string{"sig-primary-1"}, rec.ExitTxIDs)
	assert.Equal(t, "auto swap (USDC) | trailing_hit | px=live", rec.Note)

	// First price after 1.2s, then the three polled ticks before the exit.
	sleeps := f.clk.Sleeps()
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second}, sleeps[len(sleeps)-3:])

	ticks, _ := f.ticks.GetByMint(context.Background(), mintA)
	assert.Len(t, ticks, 4, "tick history is flushed when the run ends")
}

func TestTrade_SellTargetsPreferRouteBase(t *testing.T) {
	f := newFixture(t, domain.RouteBaseSOL, 1.0, 0.98)
	f.router.sellOut = 50_000_000
	f.landSell()

	res, err := f.trader.Trade(context.Background(), mintA)
	require.NoError(t, err)
	assert.Equal(t, domain.ExitCauseStopLoss, res.Cause)

	require.Len(t, f.router.sells, 1)
	targets := f.router.sells[0]
	require.Len(t, targets, 2)
	assert.Equal(t, domain.SOLMint, targets[0].Request.OutputMint)
	assert.Equal(t, domain.USDCMint, targets[1].Request.OutputMint)
	assert.Equal(t, uint64(5_000_000), targets[0].Request.Amount)
	assert.Equal(t, router.SellSlippageBps, targets[0].Request.Policy.SlippageBps)

	assert.Equal(t, domain.RouteBaseSOL, res.Sell.Route)
	assert.InDelta(t, 1.0, res.Sell.PriceOutEst, 1e-12, "0.05 SOL at 100 USD for 5 tokens")

	// SOL base buys 2 USD worth of lamports at 100 USD/SOL.
	require.Len(t, f.router.buys, 1)
	assert.Equal(t, domain.SOLMint, f.router.buys[0].InputMint)
	assert.Equal(t, uint64(20_000_000), f.router.buys[0].Amount)
	assert.True(t, f.builder.opts[0].WrapAndUnwrapSOL)
}

func TestTrade_BuyFallsBackToOtherBase(t *testing.T) {
	f := newFixture(t, domain.RouteBaseUSDC, 1.0, 0.98)
	f.router.buyFail[domain.USDCMint] = true
	f.landSell()

	res, err := f.trader.Trade(context.Background(), mintA)
	require.NoError(t, err)
	assert.Equal(t, OutcomeClosed, res.Outcome)

	require.Len(t, f.router.buys, 2)
	assert.Equal(t, domain.USDCMint, f.router.buys[0].InputMint)
	assert.Equal(t, domain.SOLMint, f.router.buys[1].InputMint)
}

func TestTrade_BuyFailsOnBothBases(t *testing.T) {
	f := newFixture(t, domain.RouteBaseUSDC, 1.0)
	f.router.buyFail[domain.USDCMint] = true
	f.router.buyFail[domain.SOLMint] = true

	res, err := f.trader.Trade(context.Background(), mintA)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNoRoute))
	assert.Equal(t, OutcomeBuyFailed, res.Outcome)
	assert.Zero(t, f.router.sellCalls())

	_, err = f.positions.FindOpen(context.Background(), mintA)
	assert.Error(t, err, "no ledger row without a buy")
}

func TestTrade_NoEntryPrice(t *testing.T) {
	f := newFixture(t, domain.RouteBaseUSDC)

	res, err := f.trader.Trade(context.Background(), mintA)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNoPrice))
	assert.Equal(t, OutcomeNoPrice, res.Outcome)
	assert.Empty(t, f.router.buys)
}

func TestTrade_SkipsWhenLeaseHeld(t *testing.T) {
	f := newFixture(t, domain.RouteBaseUSDC, 1.0)
	_, ok, _, err := f.lease.Acquire(context.Background(), "OtherMint")
	require.NoError(t, err)
	require.True(t, ok)

	res, err := f.trader.Trade(context.Background(), mintA)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, lease.DenialHeld, res.Denial)
	assert.Empty(t, f.router.buys)
	assert.Zero(t, f.poll.calls)
}

func TestTrade_ReleasesLease(t *testing.T) {
	f := newFixture(t, domain.RouteBaseUSDC, 1.0, 0.98)
	f.landSell()

	_, err := f.trader.Trade(context.Background(), mintA)
	require.NoError(t, err)

	_, ok, denial, err := f.lease.Acquire(context.Background(), mintA)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, lease.DenialReentry, denial, "the mint just traded is blocked, not held")

	_, ok, _, err = f.lease.Acquire(context.Background(), "OtherMint")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTrade_SellFailureTriggersLiquidation(t *testing.T) {
	f := newFixture(t, domain.RouteBaseUSDC, 1.0, 0.98)
	f.router.sellFail = true

	res, err := f.trader.Trade(context.Background(), mintA)
	require.NoError(t, err)
	assert.Equal(t, OutcomeLiquidated, res.Outcome)

	require.Len(t, f.liq.requests, 1)
	assert.Equal(t, liquidator.Request{Mint: mintA, PositionID: res.PositionID}, f.liq.requests[0])

	rec, err := f.positions.GetByID(context.Background(), res.PositionID)
	require.NoError(t, err)
	assert.False(t, rec.IsOpen())
	assert.Equal(t, []string{"liq-1"}, rec.ExitTxIDs)
	assert.Equal(t, "forced close success | stop_loss_fixed | px=live", rec.Note)
	assert.Equal(t, -2.0, *rec.ProfitPct)
	assert.Zero(t, *rec.ProfitUSD)
}

func TestTrade_LiquidationLeavesBalance(t *testing.T) {
	f := newFixture(t, domain.RouteBaseUSDC, 1.0, 0.98)
	f.router.sellFail = true
	f.liq.result = &liquidator.Result{Remaining: 10}
	f.liq.err = &domain.BalanceNonZeroAfterLiquidationError{Mint: mintA, Remaining: 10}

	res, err := f.trader.Trade(context.Background(), mintA)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrBalanceNonZero))
	assert.Equal(t, OutcomeStuck, res.Outcome)

	rec, err := f.positions.GetByID(context.Background(), res.PositionID)
	require.NoError(t, err)
	assert.True(t, rec.IsOpen())
}

func TestTrade_ConfirmationTimeoutIsNotFailure(t *testing.T) {
	f := newFixture(t, domain.RouteBaseUSDC, 1.0, 0.98)
	f.rpc.Statuses["sig-primary-1"] = []*solana.SignatureStatus{stub.Pending()}

	res, err := f.trader.Trade(context.Background(), mintA)
	require.NoError(t, err)
	assert.Equal(t, OutcomeClosed, res.Outcome)
	assert.True(t, res.Sell.Indeterminate)
	assert.Empty(t, f.liq.requests)
}

func TestTrade_FailedSellTransactionTriggersLiquidation(t *testing.T) {
	f := newFixture(t, domain.RouteBaseUSDC, 1.0, 0.98)
	f.rpc.Statuses["sig-primary-1"] = []*solana.SignatureStatus{stub.Failed(map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}})}

	res, err := f.trader.Trade(context.Background(), mintA)
	require.NoError(t, err)
	assert.Equal(t, OutcomeLiquidated, res.Outcome)
	assert.Len(t, f.liq.requests, 1)
}

func TestTrade_InvalidToken(t *testing.T) {
	f := newFixture(t, domain.RouteBaseUSDC, 1.0)
	tokens := memory.NewTokenStore()
	require.NoError(t, tokens.Upsert(context.Background(), &domain.TokenInfo{Mint: mintA, RouteBase: domain.RouteBaseUSDC}))
	f.trader.opts.Tokens = tokens

	res, err := f.trader.Trade(context.Background(), mintA)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidToken))
	assert.Equal(t, OutcomeAborted, res.Outcome)
}

func TestTrade_CancelledDuringWatch(t *testing.T) {
	f := newFixture(t, domain.RouteBaseUSDC, 1.0, 1.0)
	f.trader.opts.PollInterval = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	f.trader.opts.Jitter = func(time.Duration) time.Duration {
		cancel()
		return 0
	}

	res, err := f.trader.Trade(ctx, mintA)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, OutcomeAborted, res.Outcome)
	assert.Zero(t, f.router.sellCalls())

	rec, err := f.positions.FindOpen(context.Background(), mintA)
	require.NoError(t, err)
	assert.Equal(t, res.PositionID, rec.ID)
}

func TestSell_ClosesOpenPosition(t *testing.T) {
	f := newFixture(t, domain.RouteBaseSOL)
	f.router.sellOut = 50_000_000
	f.rpc.Statuses["sig-primary-0"] = []*solana.SignatureStatus{stub.Landed()}
	require.NoError(t, f.positions.Insert(context.Background(), &domain.PositionRecord{
		ID: "pos-1", Mint: mintA, EntryTime: t0, EntryPrice: 0.8,
	}))

	res, err := f.trader.Sell(context.Background(), mintA, domain.ExitCauseManual)
	require.NoError(t, err)
	assert.Equal(t, OutcomeClosed, res.Outcome)
	assert.Equal(t, "pos-1", res.PositionID)

	rec, _ := f.positions.GetByID(context.Background(), "pos-1")
	assert.Equal(t, "auto swap (SOL) | manual | px=swap_estimate", rec.Note)
	assert.Equal(t, 1.0, *rec.ExitPrice)
	assert.Equal(t, 25.0, *rec.ProfitPct)
	assert.Equal(t, 1.0, *rec.ProfitUSD)
}

func TestSell_WithoutOpenPosition(t *testing.T) {
	f := newFixture(t, domain.RouteBaseUSDC)
	f.rpc.Statuses["sig-primary-0"] = []*solana.SignatureStatus{stub.Landed()}

	res, err := f.trader.Sell(context.Background(), mintA, domain.ExitCauseManual)
	require.NoError(t, err)
	assert.Equal(t, OutcomeClosed, res.Outcome)
	assert.Empty(t, res.PositionID)
}

func TestSell_NoBalance(t *testing.T) {
	f := newFixture(t, domain.RouteBaseUSDC)
	f.rpc.Balances = []uint64{0}

	_, err := f.trader.Sell(context.Background(), mintA, domain.ExitCauseManual)
	assert.ErrorIs(t, err, ErrNoBalance)
	assert.Zero(t, f.router.sellCalls())
}

func TestSell_KillTimeout(t *testing.T) {
	f := newFixture(t, domain.RouteBaseUSDC)
	f.router.sellBlock = make(chan struct{})
	t.Cleanup(func() { close(f.router.sellBlock) })
	f.trader.opts.SellTimeout = 20 * time.Millisecond

	_, err := f.trader.Sell(context.Background(), mintA, domain.ExitCauseManual)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeded")
}

func TestSell_KillTimeoutStopsLateSubmission(t *testing.T) {
	f := newFixture(t, domain.RouteBaseUSDC)
	f.router.sellBlock = make(chan struct{})
	f.trader.opts.SellTimeout = 20 * time.Millisecond

	_, err := f.trader.Sell(context.Background(), mintA, domain.ExitCauseManual)
	require.Error(t, err)
	require.Eventually(t, func() bool { return f.router.sellCalls() == 1 }, time.Second, 5*time.Millisecond)

	// The route arrives after the deadline; the task must not send it.
	close(f.router.sellBlock)
	assert.Never(t, func() bool { return len(f.rpc.SendCalls()) > 0 }, 200*time.Millisecond, 5*time.Millisecond)
}

func TestLiquidate_PassesPositionID(t *testing.T) {
	f := newFixture(t, domain.RouteBaseUSDC)

	res, err := f.trader.Liquidate(context.Background(), mintA, "pos-9")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []liquidator.Request{{Mint: mintA, PositionID: "pos-9"}}, f.liq.requests)
}

func TestTrade_EvaluatesOnlyAcceptedTicks(t *testing.T) {
	// Entry, then a first tick, two small moves inside the debounce gap and
	// a drop through the fixed stop.
	f := newFixture(t, domain.RouteBaseUSDC, 1.0, 1.0, 1.0001, 1.0001, 0.98)
	f.landSell()

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	f.trader.opts.Logger = logger
	f.trader.log = logger.WithField("component", "trader")
	f.trader.opts.PollInterval = 100 * time.Millisecond

	res, err := f.trader.Trade(context.Background(), mintA)
	require.NoError(t, err)
	assert.Equal(t, domain.ExitCauseStopLoss, res.Cause)

	count := func(msg string) int {
		n := 0
		for _, e := range hook.AllEntries() {
			if e.Message == msg {
				n++
			}
		}
		return n
	}
	assert.Equal(t, 1, count("tick"), "first tick evaluated")
	assert.Equal(t, 2, count("tick not accepted"), "debounced rounds skip the machine")
	assert.Equal(t, 1, count("exit signal"))
}
