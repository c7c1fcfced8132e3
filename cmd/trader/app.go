package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"solana-swap-trader/internal/clock"
	"solana-swap-trader/internal/config"
	"solana-swap-trader/internal/domain"
	"solana-swap-trader/internal/jupiter"
	"solana-swap-trader/internal/lease"
	"solana-swap-trader/internal/liquidator"
	"solana-swap-trader/internal/pricefeed"
	"solana-swap-trader/internal/router"
	"solana-swap-trader/internal/solana"
	"solana-swap-trader/internal/storage"
	chstore "solana-swap-trader/internal/storage/clickhouse"
	"solana-swap-trader/internal/storage/memory"
	"solana-swap-trader/internal/storage/migrations"
	pgstore "solana-swap-trader/internal/storage/postgres"
	"solana-swap-trader/internal/storage/sqlite"
	"solana-swap-trader/internal/submit"
	"solana-swap-trader/internal/swap"
	"solana-swap-trader/internal/trader"
)

// stores holds the ledger backends.
type stores struct {
	tokens     storage.TokenStore
	positions  storage.PositionStore
	livePrices storage.LivePriceStore
	ticks      storage.TickSink // nil disables tick history
}

// app holds the wired collaborators shared by every subcommand.
type app struct {
	cfg *config.Config
	log *logrus.Logger

	stores    *stores
	lease     lease.Lease
	rpc       *solana.HTTPClient
	router    *router.Router
	builder   *swap.Builder
	submitter *submit.Submitter
	confirmer *submit.Confirmer
	poller    *pricefeed.Poller
	ws        *solana.WSClientImpl // nil runs the feed on the poller alone
	wallet    string

	cleanup []func()
}

// newApp connects every backend named by cfg. Close releases them.
func newApp(ctx context.Context, cfg *config.Config, log *logrus.Logger, useMemory bool) (*app, error) {
	a := &app{cfg: cfg, log: log}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	st, cleanup, err := createStores(ctx, cfg.Storage, useMemory)
	if err != nil {
		return nil, err
	}
	a.stores = st
	a.cleanup = append(a.cleanup, cleanup)

	for _, t := range cfg.Tokens {
		if err := st.tokens.Upsert(ctx, t.TokenInfo()); err != nil {
			return nil, fmt.Errorf("seed token %s: %w", t.Mint, err)
		}
	}

	if err := a.connectLease(ctx, useMemory); err != nil {
		return nil, err
	}

	signer, err := swap.LoadKeypair(cfg.Wallet.Keypair)
	if err != nil {
		return nil, err
	}
	a.wallet = signer.PublicKey()

	jup := jupiter.NewClient(jupiter.Config{
		BaseURL:  cfg.Jupiter.BaseURL,
		PriceURL: cfg.Jupiter.PriceURL,
		ProURL:   cfg.Jupiter.ProURL,
		APIKey:   cfg.Jupiter.APIKey,
		Logger:   log,
	})
	var secondary pricefeed.PriceSource
	if jup.HasProEndpoint() {
		secondary = pricefeed.PriceFunc(jup.ProPrices)
	}
	a.poller = pricefeed.NewPoller(jup, secondary, pricefeed.PollerConfig{Logger: log})
	a.router = router.New(jup, log)
	a.builder = swap.NewBuilder(jup, signer, swap.Config{
		ComputeUnitPrice: cfg.Jupiter.ComputeUnitPrice,
		Logger:           log,
	})

	// Reads retry inside the client; sends do not, the submitter walks
	// endpoints and modes itself.
	a.rpc = solana.NewHTTPClient(cfg.RPC.URL)
	var endpoints []solana.RPCClient
	for _, u := range cfg.RPCEndpoints() {
		endpoints = append(endpoints, solana.NewHTTPClient(u, solana.WithMaxRetries(0)))
	}
	a.submitter = submit.NewSubmitter(endpoints, submit.Config{Logger: log})
	a.confirmer = submit.NewConfirmer(a.rpc, submit.ConfirmConfig{
		Timeout: cfg.Trade.ConfirmTimeout,
		Logger:  log,
	})

	if cfg.RPC.WSURL != "" {
		wsCfg := solana.DefaultWSConfig()
		wsCfg.Logger = log
		ws, err := solana.NewWSClient(ctx, cfg.RPC.WSURL, &wsCfg)
		if err != nil {
			log.WithError(err).Warn("websocket unavailable; prices will come from polling only")
		} else {
			a.ws = ws
			a.cleanup = append(a.cleanup, func() { _ = ws.Close() })
		}
	}

	ok = true
	return a, nil
}

func (a *app) connectLease(ctx context.Context, useMemory bool) error {
	opts := lease.Options{StaleAfter: a.cfg.Lease.StaleAfter, Reentry: a.cfg.Lease.Reentry}
	if useMemory || a.cfg.Redis.Addr == "" {
		a.lease = lease.NewMemoryLease(opts, clock.Real{}, a.log)
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("connect to redis: %w", err)
	}
	a.cleanup = append(a.cleanup, func() { _ = client.Close() })
	a.lease = lease.NewRedisLease(client, a.cfg.Redis.Prefix, opts, clock.Real{}, a.log)
	return nil
}

// Close releases backends in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}

// liquidatorConfig is the configured liquidation setup.
func (a *app) liquidatorConfig() (liquidator.Config, error) {
	plan, err := a.cfg.LiquidationPlan()
	if err != nil {
		return liquidator.Config{}, err
	}
	return liquidator.Config{
		Wallet:      a.wallet,
		MaxAttempts: a.cfg.Liquidation.MaxAttempts,
		Delay:       a.cfg.Liquidation.Delay,
		Plan:        plan,
		SlippageBps: a.cfg.Liquidation.SlippageBps,
		Build:       a.builder.Hook(swap.Options{WrapAndUnwrapSOL: true, Timeout: router.SellSwapTimeout}),
		Confirm:     a.confirmer,
		Ledger:      a.stores.positions,
		Logger:      a.log,
	}, nil
}

func (a *app) newLiquidator(cfg liquidator.Config) *liquidator.Liquidator {
	return liquidator.New(a.rpc, a.router, a.submitter, cfg)
}

// newTrader builds a Trader. amountUSDC <= 0 uses the configured amount.
func (a *app) newTrader(liq trader.Liquidator, amountUSDC float64) *trader.Trader {
	if amountUSDC <= 0 {
		amountUSDC = a.cfg.Trade.AmountUSDC
	}
	t := a.cfg.Trade
	return trader.New(trader.Options{
		Tokens:          a.stores.tokens,
		Positions:       a.stores.positions,
		LivePrices:      a.stores.livePrices,
		Ticks:           a.stores.ticks,
		Lease:           a.lease,
		Router:          a.router,
		Builder:         a.builder,
		Submitter:       a.submitter,
		Confirmer:       a.confirmer,
		Balances:        a.rpc,
		Poller:          a.poller,
		Liquidator:      liq,
		Wallet:          a.wallet,
		Stream:          a.streamFunc(),
		AmountUSDC:      amountUSDC,
		Exit:            a.cfg.ExitParams(),
		StreamInterval:  t.StreamInterval,
		PollInterval:    t.PollInterval,
		SellTimeout:     t.SellTimeout,
		SellSlippageBps: t.SellSlippageBps,
		SellMaxAccounts: t.SellMaxAccounts,
		Logger:          a.log,
	})
}

// streamFunc starts a vault stream per trade over the shared websocket.
func (a *app) streamFunc() trader.StreamFunc {
	if a.ws == nil {
		return nil
	}
	return func(ctx context.Context, token *domain.TokenInfo) pricefeed.Stream {
		s := pricefeed.NewVaultStream(a.ws, pricefeed.StreamConfig{
			QuoteVault: token.QuoteVault,
			TokenVault: token.TokenVault,
			Logger:     a.log,
		})
		go func() {
			if err := s.Run(ctx); err != nil && ctx.Err() == nil {
				a.log.WithError(err).WithField("mint", token.Mint).Warn("vault stream stopped")
			}
		}()
		return s
	}
}

// createStores opens the configured ledger backend, plus ClickHouse tick
// history when a DSN is set.
func createStores(ctx context.Context, cfg config.StorageConfig, useMemory bool) (*stores, func(), error) {
	if useMemory || cfg.Backend == config.BackendMemory {
		return &stores{
			tokens:     memory.NewTokenStore(),
			positions:  memory.NewPositionStore(),
			livePrices: memory.NewLivePriceStore(),
			ticks:      memory.NewTickStore(),
		}, func() {}, nil
	}

	var (
		st      *stores
		closers []func()
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.Backend {
	case config.BackendPostgres:
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		st = &stores{
			tokens:     pgstore.NewTokenStore(pool),
			positions:  pgstore.NewPositionStore(pool),
			livePrices: pgstore.NewLivePriceStore(pool),
		}
	case config.BackendSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() { _ = db.Close() })
		st = &stores{
			tokens:     sqlite.NewTokenStore(db),
			positions:  sqlite.NewPositionStore(db),
			livePrices: sqlite.NewLivePriceStore(db),
		}
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}

	if cfg.ClickHouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		closers = append(closers, func() { _ = conn.Close() })
		st.ticks = chstore.NewTickStore(conn)
	}

	return st, cleanup, nil
}
