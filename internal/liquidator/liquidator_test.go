package liquidator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-swap-trader/internal/clock"
	"solana-swap-trader/internal/domain"
	"solana-swap-trader/internal/router"
	"solana-swap-trader/internal/solana"
	"solana-swap-trader/internal/solana/stub"
	"solana-swap-trader/internal/storage/memory"
	"solana-swap-trader/internal/submit"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeRouter accepts or rejects every request and records the slippage asked for.
type fakeRouter struct {
	fail      bool
	slippages []int
	requests  []router.Request
}

func (r *fakeRouter) Route(ctx context.Context, req router.Request) (*router.Result, error) {
	r.slippages = append(r.slippages, req.Policy.SlippageBps)
	r.requests = append(r.requests, req)
	if r.fail {
		return nil, &domain.NoRouteError{InputMint: req.InputMint, OutputMint: req.OutputMint}
	}
	q := &domain.Quote{
		InputMint:   req.InputMint,
		OutputMint:  req.OutputMint,
		InAmount:    req.Amount,
		OutAmount:   1,
		SlippageBps: req.Policy.SlippageBps,
		Legs:        []domain.RouteLeg{{Label: "Raydium", InputMint: req.InputMint, OutputMint: req.OutputMint}},
	}
	tx, err := req.Build(ctx, q)
	if err != nil {
		return nil, err
	}
	return &router.Result{Quote: q, Tx: tx}, nil
}

func build(_ context.Context, q *domain.Quote) (*domain.SignedTransaction, error) {
	return &domain.SignedTransaction{Signature: "local", Payload: []byte{1, 2, 3}, Quote: q}, nil
}

type fixture struct {
	rpc    *stub.RPCClient
	router *fakeRouter
	clk    *clock.Fake
	ledger *memory.PositionStore
	liq    *Liquidator
}

func newFixture(t *testing.T, balances []uint64, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		rpc:    stub.NewRPCClient("primary"),
		router: &fakeRouter{},
		clk:    clock.NewFake(t0),
		ledger: memory.NewPositionStore(),
	}
	f.rpc.Balances = balances
	require.NoError(t, f.ledger.Insert(context.Background(), &domain.PositionRecord{ID: "pos-1", Mint: "MintA"}))

	cfg.Wallet = "Wallet111"
	cfg.Build = build
	cfg.Ledger = f.ledger
	cfg.Clock = f.clk
	cfg.Jitter = clock.NoJitter
	sub := submit.NewSubmitter([]solana.RPCClient{f.rpc}, submit.Config{Clock: f.clk})
	f.liq = New(f.rpc, f.router, sub, cfg)
	return f
}

func TestLiquidate_ZeroBalanceIsImmediateSuccess(t *testing.T) {
	f := newFixture(t, []uint64{0}, Config{})

	res, err := f.liq.Liquidate(context.Background(), Request{Mint: "MintA", PositionID: "pos-1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.TxIDs)
	assert.Zero(t, res.Attempts)
	assert.Empty(t, f.router.slippages)
	assert.Empty(t, f.clk.Sleeps())

	rec, _ := f.ledger.GetByID(context.Background(), "pos-1")
	assert.Equal(t, NoteSuccess, rec.Note)
}

func TestLiquidate_SellsUntilBalanceGone(t *testing.T) {
	f := newFixture(t, []uint64{1000, 400, 0}, Config{})

	res, err := f.liq.Liquidate(context.Background(), Request{Mint: "MintA", PositionID: "pos-1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Attempts)
	assert.Len(t, res.TxIDs, 2)
	assert.Equal(t, []int{30, 50}, f.router.slippages)

	assert.Equal(t, uint64(1000), f.router.requests[0].Amount, "the full balance is sold")
	assert.Equal(t, uint64(400), f.router.requests[1].Amount)
	assert.Equal(t, domain.SOLMint, f.router.requests[0].OutputMint)
	assert.True(t, f.router.requests[0].Policy.Variants[0].OnlyDirect)

	second := 2
	assert.Equal(t, []time.Duration{
		3 * time.Second,
		time.Duration(float64(3*time.Second) * (1 + 0.15*float64(second-1))),
	}, f.clk.Sleeps())

	rec, _ := f.ledger.GetByID(context.Background(), "pos-1")
	assert.Equal(t, NoteSuccess, rec.Note)
	assert.Equal(t, res.TxIDs, rec.ExitTxIDs)
}

func TestLiquidate_EscalatesAndFails(t *testing.T) {
	f := newFixture(t, []uint64{5000}, Config{})
	f.router.fail = true

	res, err := f.liq.Liquidate(context.Background(), Request{Mint: "MintA", PositionID: "pos-1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrBalanceNonZero))

	var nonZero *domain.BalanceNonZeroAfterLiquidationError
	require.True(t, errors.As(err, &nonZero))
	assert.Equal(t, uint64(5000), nonZero.Remaining)

	assert.False(t, res.Success)
	assert.Equal(t, 6, res.Attempts)
	assert.Equal(t, []int{30, 50, 80, 100, 200, 300}, f.router.slippages)

	var want []time.Duration
	for i := 1; i <= 6; i++ {
		want = append(want, time.Duration(float64(3*time.Second)*(1+0.25*float64(i-1))))
	}
	assert.Equal(t, want, f.clk.Sleeps())

	rec, _ := f.ledger.GetByID(context.Background(), "pos-1")
	assert.Equal(t, NoteFailure, rec.Note)
	assert.True(t, rec.IsOpen())
}

// Success depends only on the final balance, never on collected txids.
func TestLiquidate_SuccessIffBalanceZero(t *testing.T) {
	t.Run("txids but balance left", func(t *testing.T) {
		f := newFixture(t, []uint64{10}, Config{MaxAttempts: 3})
		res, err := f.liq.Liquidate(context.Background(), Request{Mint: "MintA"})
		assert.ErrorIs(t, err, domain.ErrBalanceNonZero)
		assert.False(t, res.Success)
		assert.Len(t, res.TxIDs, 3)
	})

	t.Run("no txids but balance gone at final check", func(t *testing.T) {
		f := newFixture(t, []uint64{10, 10, 10, 0}, Config{MaxAttempts: 3})
		f.router.fail = true
		res, err := f.liq.Liquidate(context.Background(), Request{Mint: "MintA"})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Empty(t, res.TxIDs)
		assert.Equal(t, 3, res.Attempts)
	})
}

func TestLiquidate_CustomPlanRepeatsLast(t *testing.T) {
	f := newFixture(t, []uint64{10}, Config{MaxAttempts: 4, Plan: domain.LiquidationPlan{70, 150}})
	f.router.fail = true

	_, err := f.liq.Liquidate(context.Background(), Request{Mint: "MintA"})
	require.Error(t, err)
	assert.Equal(t, []int{70, 150, 150, 150}, f.router.slippages)
}

func TestLiquidate_BalanceErrorsAreRetried(t *testing.T) {
	f := newFixture(t, nil, Config{MaxAttempts: 2})

	_, err := f.liq.Liquidate(context.Background(), Request{Mint: "MintA"})
	require.Error(t, err)
	assert.ErrorIs(t, err, stub.ErrNotScripted)
	assert.False(t, errors.Is(err, domain.ErrBalanceNonZero))
	assert.Len(t, f.clk.Sleeps(), 2)
}

func TestLiquidate_ConfirmTimeoutDoesNotStop(t *testing.T) {
	f := newFixture(t, []uint64{10, 0}, Config{})
	f.liq.cfg.Confirm = submit.NewConfirmer(f.rpc, submit.ConfirmConfig{Clock: f.clk, Timeout: time.Second})

	res, err := f.liq.Liquidate(context.Background(), Request{Mint: "MintA"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Len(t, res.TxIDs, 1)
	assert.Positive(t, f.rpc.StatusCalls())
}

func TestLiquidate_RequiresMint(t *testing.T) {
	f := newFixture(t, []uint64{0}, Config{})
	_, err := f.liq.Liquidate(context.Background(), Request{})
	assert.Error(t, err)
}
