// Package config loads the trader's settings from a YAML file, an optional
// .env file and the environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"solana-swap-trader/internal/domain"
	"solana-swap-trader/internal/position"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Config holds every setting of the trader binary.
type Config struct {
	RPC         RPCConfig         `yaml:"rpc"`
	Jupiter     JupiterConfig     `yaml:"jupiter"`
	Wallet      WalletConfig      `yaml:"wallet"`
	Storage     StorageConfig     `yaml:"storage"`
	Redis       RedisConfig       `yaml:"redis"`
	Trade       TradeConfig       `yaml:"trade"`
	Liquidation LiquidationConfig `yaml:"liquidation"`
	Lease       LeaseConfig       `yaml:"lease"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`

	// Tokens are upserted into the token store at startup.
	Tokens []TokenConfig `yaml:"tokens"`
}

type RPCConfig struct {
	URL       string   `yaml:"url"`
	Fallbacks []string `yaml:"fallbacks"`
	WSURL     string   `yaml:"ws_url"` // empty disables the vault stream
}

type JupiterConfig struct {
	BaseURL          string `yaml:"base_url"`
	PriceURL         string `yaml:"price_url"`
	ProURL           string `yaml:"pro_url"`
	APIKey           string `yaml:"api_key"`
	ComputeUnitPrice uint64 `yaml:"compute_unit_price"`
}

type WalletConfig struct {
	Keypair string `yaml:"keypair"` // solana-keygen JSON file
}

type StorageConfig struct {
	Backend       string `yaml:"backend"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	SQLitePath    string `yaml:"sqlite_path"`
	ClickHouseDSN string `yaml:"clickhouse_dsn"` // optional tick history
}

// RedisConfig enables the fleet-wide lease when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"` // key prefix, "trader:" when empty
}

type TradeConfig struct {
	AmountUSDC      float64       `yaml:"amount_usdc"`
	Activation      float64       `yaml:"activation"`
	Trailing        float64       `yaml:"trailing"`
	StopLoss        float64       `yaml:"stop_loss"`
	DormantWindow   time.Duration `yaml:"dormant_window"`
	DormantBand     float64       `yaml:"dormant_band"`
	Hold            time.Duration `yaml:"hold"`
	StreamInterval  time.Duration `yaml:"stream_interval"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	SellTimeout     time.Duration `yaml:"sell_timeout"`
	SellSlippageBps int           `yaml:"sell_slippage_bps"`
	SellMaxAccounts int           `yaml:"sell_max_accounts"`
	ConfirmTimeout  time.Duration `yaml:"confirm_timeout"`
}

type LiquidationConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
	SlippageBps int           `yaml:"slippage_bps"`
	Plan        string        `yaml:"plan"` // comma-separated bps, e.g. "50,80"
}

type LeaseConfig struct {
	StaleAfter time.Duration `yaml:"stale_after"`
	Reentry    time.Duration `yaml:"reentry"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or text
	File   string `yaml:"file"`   // optional rotated log file
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type TokenConfig struct {
	Mint       string `yaml:"mint"`
	Name       string `yaml:"name"`
	Decimals   int    `yaml:"decimals"`
	QuoteVault string `yaml:"quote_vault"`
	TokenVault string `yaml:"token_vault"`
	RouteBase  string `yaml:"route_base"`
}

// TokenInfo converts t, defaulting the route base to USDC.
func (t TokenConfig) TokenInfo() *domain.TokenInfo {
	base := domain.RouteBase(strings.ToUpper(t.RouteBase))
	if base == "" {
		base = domain.RouteBaseUSDC
	}
	return &domain.TokenInfo{
		Mint:       t.Mint,
		Name:       t.Name,
		Decimals:   t.Decimals,
		QuoteVault: t.QuoteVault,
		TokenVault: t.TokenVault,
		RouteBase:  base,
	}
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		RPC: RPCConfig{URL: "https://api.mainnet-beta.solana.com"},
		Storage: StorageConfig{
			Backend:    BackendMemory,
			SQLitePath: "trader.db",
		},
		Trade: TradeConfig{
			AmountUSDC:     2.0,
			Activation:     position.DefaultActivation,
			Trailing:       position.DefaultTrailing,
			StopLoss:       position.DefaultStopLoss,
			DormantWindow:  position.DefaultDormantWindow,
			DormantBand:    position.DefaultDormantBand,
			Hold:           position.DefaultHold,
			StreamInterval: 400 * time.Millisecond,
			PollInterval:   2 * time.Second,
			SellTimeout:    60 * time.Second,
			ConfirmTimeout: 90 * time.Second,
		},
		Liquidation: LiquidationConfig{
			MaxAttempts: domain.DefaultLiquidationAttempts,
			Delay:       3 * time.Second,
			SlippageBps: 30,
		},
		Lease: LeaseConfig{
			StaleAfter: 20 * time.Minute,
			Reentry:    30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if !hasScheme(c.RPC.URL, "http://", "https://") {
		return fmt.Errorf("invalid RPC URL: %q", c.RPC.URL)
	}
	for _, u := range c.RPC.Fallbacks {
		if !hasScheme(u, "http://", "https://") {
			return fmt.Errorf("invalid fallback RPC URL: %q", u)
		}
	}
	if c.RPC.WSURL != "" && !hasScheme(c.RPC.WSURL, "ws://", "wss://") {
		return fmt.Errorf("invalid websocket URL: %q", c.RPC.WSURL)
	}
	if c.Wallet.Keypair == "" {
		return errors.New("wallet keypair path is required")
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			return errors.New("postgres backend requires postgres_dsn")
		}
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("sqlite backend requires sqlite_path")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Trade.AmountUSDC <= 0 {
		return errors.New("trade amount must be positive")
	}
	if err := c.ExitParams().Validate(); err != nil {
		return fmt.Errorf("exit params: %w", err)
	}
	if c.Liquidation.Plan != "" {
		if _, err := c.LiquidationPlan(); err != nil {
			return err
		}
	}

	for i, t := range c.Tokens {
		if err := t.TokenInfo().Validate(); err != nil {
			return fmt.Errorf("tokens[%d]: %w", i, err)
		}
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	return nil
}

// ExitParams returns the position exit rules.
func (c *Config) ExitParams() position.Params {
	return position.Params{
		Activation:    c.Trade.Activation,
		Trailing:      c.Trade.Trailing,
		StopLoss:      c.Trade.StopLoss,
		DormantWindow: c.Trade.DormantWindow,
		DormantBand:   c.Trade.DormantBand,
		Hold:          c.Trade.Hold,
	}
}

// LiquidationPlan parses the configured plan, or builds the default one
// when none is set.
func (c *Config) LiquidationPlan() (domain.LiquidationPlan, error) {
	l := c.Liquidation
	plan, err := domain.ParseLiquidationPlan(l.Plan, l.SlippageBps, l.MaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("liquidation plan: %w", err)
	}
	return plan, nil
}

// RPCEndpoints returns the primary endpoint followed by the fallbacks.
func (c *Config) RPCEndpoints() []string {
	return append([]string{c.RPC.URL}, c.RPC.Fallbacks...)
}

func hasScheme(u string, schemes ...string) bool {
	for _, s := range schemes {
		if strings.HasPrefix(u, s) && len(u) > len(s) {
			return true
		}
	}
	return false
}

// overrideWithEnv replaces settings with environment values where present.
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("TRADER_RPC_URL"); v != "" {
		cfg.RPC.URL = v
	}
	if v := os.Getenv("TRADER_RPC_FALLBACKS"); v != "" {
		cfg.RPC.Fallbacks = splitList(v)
	}
	if v := os.Getenv("TRADER_WS_URL"); v != "" {
		cfg.RPC.WSURL = v
	}
	if v := os.Getenv("TRADER_KEYPAIR"); v != "" {
		cfg.Wallet.Keypair = v
	}
	if v := os.Getenv("JUPITER_API_KEY"); v != "" {
		cfg.Jupiter.APIKey = v
	}
	if v := os.Getenv("TRADER_POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("TRADER_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("TRADER_CLICKHOUSE_DSN"); v != "" {
		cfg.Storage.ClickHouseDSN = v
	}
	if v := os.Getenv("TRADER_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("TRADER_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("TRADER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadEnvFile sets variables from a KEY=VALUE file without overriding ones
// already in the environment. A missing file is not an error.
func LoadEnvFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("set %s: %w", key, err)
			}
		}
	}
	return nil
}
