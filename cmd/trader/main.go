// Command trader buys a token through the DEX aggregator, manages the
// position with a trailing stop, and sells it.
//
// Usage:
//
//	trader trade <mint> [amount_usdc]
//	trader sell <mint> [--cause manual]
//	trader liquidate <mint> [--max-attempts 6] [--delay 3s] [--plan 50,80] [--position-id ID]
//
// Exit codes: 0 success or skipped signal, 1 failure, 2 usage error.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"solana-swap-trader/internal/config"
	"solana-swap-trader/internal/domain"
	"solana-swap-trader/internal/logging"
	"solana-swap-trader/internal/observability"
	"solana-swap-trader/internal/solana"
	"solana-swap-trader/internal/trader"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// usageError marks errors caused by bad arguments.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func usageErrorf(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// usageArgs tags positional argument errors as usage errors.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return &usageError{msg: err.Error()}
		}
		return nil
	}
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ue *usageError
	if errors.As(err, &ue) {
		return exitUsage
	}
	return exitFailure
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if exitCode(err) == exitUsage {
			fmt.Fprintln(stderr, "Run 'trader --help' for usage.")
		}
	}
	return exitCode(err)
}

// cli carries the global flags into subcommands.
type cli struct {
	configPath  string
	envFile     string
	useMemory   bool
	metricsAddr string
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "trader",
		Short:         "Solana swap executor with trailing-stop exits",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usageErrorf("unknown command %q", args[0])
			}
			_ = cmd.Help()
			return usageErrorf("a subcommand is required")
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{msg: err.Error()}
	})

	root.PersistentFlags().StringVar(&c.configPath, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "KEY=VALUE file loaded into the environment when present")
	root.PersistentFlags().BoolVar(&c.useMemory, "use-memory", false, "Use in-memory stores and lease instead of the configured backends")
	root.PersistentFlags().StringVar(&c.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides config)")

	root.AddCommand(tradeCmd(c))
	root.AddCommand(sellCmd(c))
	root.AddCommand(liquidateCmd(c))
	return root
}

func tradeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "trade <mint> [amount_usdc]",
		Short: "Buy mint and manage the position until it is closed",
		Args:  usageArgs(cobra.RangeArgs(1, 2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			mint, err := parseMint(args[0])
			if err != nil {
				return err
			}
			var amount float64
			if len(args) == 2 {
				amount, err = strconv.ParseFloat(args[1], 64)
				if err != nil || amount <= 0 {
					return usageErrorf("invalid amount_usdc %q", args[1])
				}
			}

			return c.run(cmd, func(ctx context.Context, a *app) error {
				lcfg, err := a.liquidatorConfig()
				if err != nil {
					return err
				}
				res, err := a.newTrader(a.newLiquidator(lcfg), amount).Trade(ctx, mint)
				printResult(cmd.OutOrStdout(), res)
				return err
			})
		},
	}
}

func sellCmd(c *cli) *cobra.Command {
	var cause string
	cmd := &cobra.Command{
		Use:   "sell <mint>",
		Short: "Sell the whole wallet balance of mint and close its open position",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			mint, err := parseMint(args[0])
			if err != nil {
				return err
			}
			if cause == "" {
				return usageErrorf("--cause must not be empty")
			}

			return c.run(cmd, func(ctx context.Context, a *app) error {
				lcfg, err := a.liquidatorConfig()
				if err != nil {
					return err
				}
				res, err := a.newTrader(a.newLiquidator(lcfg), 0).Sell(ctx, mint, domain.ExitCause(cause))
				printResult(cmd.OutOrStdout(), res)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&cause, "cause", string(domain.ExitCauseManual), "Exit cause recorded in the ledger")
	return cmd
}

func liquidateCmd(c *cli) *cobra.Command {
	var (
		maxAttempts int
		delay       time.Duration
		plan        string
		positionID  string
	)
	cmd := &cobra.Command{
		Use:   "liquidate <mint>",
		Short: "Force-sell mint with escalating slippage until the balance is zero",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			mint, err := parseMint(args[0])
			if err != nil {
				return err
			}
			if maxAttempts <= 0 {
				return usageErrorf("--max-attempts must be positive")
			}
			if delay < 0 {
				return usageErrorf("--delay must not be negative")
			}
			if _, err := domain.ParseLiquidationPlan(plan, 0, maxAttempts); err != nil {
				return usageErrorf("--plan: %v", err)
			}
			flags := cmd.Flags()

			return c.run(cmd, func(ctx context.Context, a *app) error {
				lcfg, err := a.liquidatorConfig()
				if err != nil {
					return err
				}
				if flags.Changed("max-attempts") {
					lcfg.MaxAttempts = maxAttempts
				}
				if flags.Changed("delay") {
					lcfg.Delay = delay
				}
				if flags.Changed("plan") || flags.Changed("max-attempts") {
					lcfg.Plan, _ = domain.ParseLiquidationPlan(plan, lcfg.SlippageBps, lcfg.MaxAttempts)
				}

				res, err := a.newTrader(a.newLiquidator(lcfg), 0).Liquidate(ctx, mint, positionID)
				if res != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "success=%t attempts=%d remaining=%d txids=%v\n",
						res.Success, res.Attempts, res.Remaining, res.TxIDs)
				}
				return err
			})
		},
	}
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", domain.DefaultLiquidationAttempts, "Attempt budget")
	cmd.Flags().DurationVar(&delay, "delay", 3*time.Second, "Wait between attempts")
	cmd.Flags().StringVar(&plan, "plan", "", "Comma-separated slippage bps per attempt, e.g. 50,80")
	cmd.Flags().StringVar(&positionID, "position-id", "", "Ledger row to annotate with the outcome")
	return cmd
}

func parseMint(s string) (string, error) {
	if err := solana.ValidateAddress(s); err != nil {
		return "", usageErrorf("invalid mint: %v", err)
	}
	return s, nil
}

// run loads configuration, wires the app and runs fn under signal handling
// and the optional metrics server.
func (c *cli) run(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	if err := config.LoadEnvFile(c.envFile); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.metricsAddr != "" {
		cfg.Metrics.Addr = c.metricsAddr
	}

	log, closer, err := logging.New(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := withSignals(cmd.Context(), log)
	defer stop()

	a, err := newApp(ctx, cfg, log, c.useMemory)
	if err != nil {
		return err
	}
	defer a.Close()

	return withMetrics(ctx, cfg.Metrics.Addr, log, func(ctx context.Context) error {
		return fn(ctx, a)
	})
}

// withSignals cancels the context on SIGINT or SIGTERM. A second signal
// exits immediately.
func withSignals(parent context.Context, log logrus.FieldLogger) (context.Context, func()) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			log.WithField("signal", sig).Warn("shutting down; send again to force exit")
			cancel()
		case <-done:
			return
		}
		select {
		case sig := <-sigCh:
			log.WithField("signal", sig).Error("forcing immediate exit")
			os.Exit(exitFailure)
		case <-done:
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		close(done)
		cancel()
	}
}

// withMetrics runs fn next to a metrics server on addr. An empty addr runs
// fn alone. The server stops when fn returns.
func withMetrics(ctx context.Context, addr string, log logrus.FieldLogger, fn func(ctx context.Context) error) error {
	if addr == "" {
		return fn(ctx)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	finished := make(chan struct{})

	g.Go(func() error {
		log.WithField("addr", addr).Info("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-finished:
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		defer close(finished)
		return fn(gctx)
	})
	return g.Wait()
}

func printResult(w io.Writer, res *trader.Result) {
	if res == nil {
		return
	}
	fmt.Fprintf(w, "outcome=%s", res.Outcome)
	if res.Denial != "" {
		fmt.Fprintf(w, " denial=%s", res.Denial)
	}
	if res.PositionID != "" {
		fmt.Fprintf(w, " position=%s entry=%g", res.PositionID, res.EntryPrice)
	}
	if res.Cause != "" {
		fmt.Fprintf(w, " cause=%s", res.Cause)
	}
	if res.Sell != nil {
		fmt.Fprintf(w, " sell_tx=%s route=%s", res.Sell.TxID, res.Sell.Route)
		if res.Sell.Indeterminate {
			fmt.Fprint(w, " indeterminate=true")
		}
	}
	if res.Exit != nil {
		fmt.Fprintf(w, " exit=%g profit_pct=%g profit_usd=%g", res.Exit.ExitPrice, res.Exit.ProfitPct, res.Exit.ProfitUSD)
	}
	fmt.Fprintln(w)
}
