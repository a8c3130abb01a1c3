package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v2"
)

// ErrInvalidConfig is wrapped by every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Exchange kinds understood by dex.NewHandler
const (
	KindUniswapV2 = "uniswap_v2"
	KindSushiswap = "sushiswap"
	KindStatic    = "static"
)

// Flash loan provider kinds
const (
	LoanAave     = "aave"
	LoanBalancer = "balancer"
)

type Config struct {
	// Chain settings
	ChainID     uint64 `json:"chain_id" yaml:"chain_id"`
	RPCEndpoint string `json:"rpc_endpoint" yaml:"rpc_endpoint"`

	// Trading
	BaseToken   string `json:"base_token" yaml:"base_token"`
	TradeAmount Amount `json:"trade_amount" yaml:"trade_amount"`

	// Bundle builder
	BundleTimeout      Duration `json:"bundle_timeout" yaml:"bundle_timeout"`
	MinProfitThreshold Amount   `json:"min_profit_threshold" yaml:"min_profit_threshold"`
	MaxBundleSize      int      `json:"max_bundle_size" yaml:"max_bundle_size"`
	FrontrunProtection bool     `json:"frontrun_protection" yaml:"frontrun_protection"`
	PollInterval       Duration `json:"poll_interval" yaml:"poll_interval"`

	// Route finder
	MaxSlippage        float64  `json:"max_slippage" yaml:"max_slippage"`
	RouteTimeout       Duration `json:"route_timeout" yaml:"route_timeout"`
	MaxHops            int      `json:"max_hops" yaml:"max_hops"`
	MaxConcurrent      int      `json:"max_concurrent" yaml:"max_concurrent"`
	SlippageCap        float64  `json:"slippage_cap" yaml:"slippage_cap"`
	DecayStep          float64  `json:"decay_step" yaml:"decay_step"`
	DefaultReliability float64  `json:"default_reliability" yaml:"default_reliability"`

	// Profitability and gas
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence"`
	GasBuffer     float64 `json:"gas_buffer" yaml:"gas_buffer"`
	GasMultiplier float64 `json:"gas_multiplier" yaml:"gas_multiplier"`
	MaxGasPrice   Amount  `json:"max_gas_price" yaml:"max_gas_price"`

	// Coordinator
	ConcurrentRoutes int      `json:"concurrent_routes" yaml:"concurrent_routes"`
	BackupGasBump    float64  `json:"backup_gas_bump" yaml:"backup_gas_bump"`
	CycleInterval    Duration `json:"cycle_interval" yaml:"cycle_interval"`
	FailureBackoff   Duration `json:"failure_backoff" yaml:"failure_backoff"`
	RouteCooldown    Duration `json:"route_cooldown" yaml:"route_cooldown"`
	VaultAddress     string   `json:"vault_address" yaml:"vault_address"`
	VaultShare       float64  `json:"vault_share" yaml:"vault_share"`

	// Monitoring
	HistorySize    int                  `json:"history_size" yaml:"history_size"`
	Alerts         AlertConfig          `json:"alerts" yaml:"alerts"`
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker" yaml:"circuit_breaker"`
	MetricsAddr    string               `json:"metrics_addr" yaml:"metrics_addr"`

	RPCRateLimit RateLimitConfig `json:"rpc_rate_limit" yaml:"rpc_rate_limit"`

	Exchanges   []ExchangeConfig `json:"exchanges" yaml:"exchanges"`
	FlashLoan   FlashLoanConfig  `json:"flash_loan" yaml:"flash_loan"`
	JournalPath string           `json:"journal_path" yaml:"journal_path"`
}

type ExchangeConfig struct {
	ID           string       `json:"id" yaml:"id"`
	Kind         string       `json:"kind" yaml:"kind"`
	Router       string       `json:"router" yaml:"router"`
	Factory      string       `json:"factory" yaml:"factory"`
	InitCodeHash string       `json:"init_code_hash" yaml:"init_code_hash"`
	FeeBps       int64        `json:"fee_bps" yaml:"fee_bps"`
	Reliability  float64      `json:"reliability" yaml:"reliability"`
	Pairs        []PairConfig `json:"pairs" yaml:"pairs"`
}

// PairConfig lists a pair to watch. Reserves are only read for static exchanges.
type PairConfig struct {
	TokenA   string `json:"token_a" yaml:"token_a"`
	TokenB   string `json:"token_b" yaml:"token_b"`
	ReserveA Amount `json:"reserve_a" yaml:"reserve_a"`
	ReserveB Amount `json:"reserve_b" yaml:"reserve_b"`
}

type FlashLoanConfig struct {
	Enabled   bool                      `json:"enabled" yaml:"enabled"`
	// Receiver is the contract that executes the swaps inside the loan callback
	Receiver  string                    `json:"receiver" yaml:"receiver"`
	Providers []FlashLoanProviderConfig `json:"providers" yaml:"providers"`
}

type FlashLoanProviderConfig struct {
	Name    string `json:"name" yaml:"name"`
	Kind    string `json:"kind" yaml:"kind"`
	Address string `json:"address" yaml:"address"`
	MaxLoan Amount `json:"max_loan" yaml:"max_loan"`
}

type AlertConfig struct {
	MinAccuracy   float64  `json:"min_accuracy" yaml:"min_accuracy"`
	MaxLatency    Duration `json:"max_latency" yaml:"max_latency"`
	NotableProfit Amount   `json:"notable_profit" yaml:"notable_profit"`
	// MinSamples is the number of recent executions needed before accuracy alerts fire
	MinSamples int `json:"min_samples" yaml:"min_samples"`
}

type CircuitBreakerConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled"`
	ErrorThreshold int      `json:"error_threshold" yaml:"error_threshold"`
	MaxFailureRate float64  `json:"max_failure_rate" yaml:"max_failure_rate"`
	Window         int      `json:"window" yaml:"window"`
	CooldownPeriod Duration `json:"cooldown_period" yaml:"cooldown_period"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64  `json:"requests_per_second" yaml:"requests_per_second"`
	BurstSize         int      `json:"burst_size" yaml:"burst_size"`
	WaitTimeout       Duration `json:"wait_timeout" yaml:"wait_timeout"`
}

type SecureConfig struct {
	PrivateKey string
}

// ReliabilityMap returns the configured per-exchange reliability factors.
func (c *Config) ReliabilityMap() map[string]float64 {
	out := make(map[string]float64, len(c.Exchanges))
	for _, ex := range c.Exchanges {
		if ex.Reliability > 0 {
			out[ex.ID] = ex.Reliability
		}
	}
	return out
}

// BaseTokenAddress returns the token every route starts and ends on
func (c *Config) BaseTokenAddress() common.Address {
	return common.HexToAddress(c.BaseToken)
}

// Vault returns the profit vault address, or the zero address when unset
func (c *Config) Vault() common.Address {
	return common.HexToAddress(c.VaultAddress)
}

func (c *Config) ValidateConfig() error {
	var errs []string

	if c.ChainID == 0 {
		errs = append(errs, "chain_id must be specified")
	}
	if c.RPCEndpoint == "" {
		errs = append(errs, "rpc_endpoint must be specified")
	}
	if !common.IsHexAddress(c.BaseToken) {
		errs = append(errs, "base_token must be a hex address")
	}
	if c.TradeAmount.Int().Sign() <= 0 {
		errs = append(errs, "trade_amount must be positive")
	}

	if c.BundleTimeout <= 0 {
		errs = append(errs, "bundle_timeout must be positive")
	}
	if c.MinProfitThreshold.Int().Sign() <= 0 {
		errs = append(errs, "min_profit_threshold must be positive")
	}
	if c.MaxBundleSize <= 0 {
		errs = append(errs, "max_bundle_size must be positive")
	}
	if c.PollInterval <= 0 {
		errs = append(errs, "poll_interval must be positive")
	}

	if c.MaxSlippage <= 0 || c.MaxSlippage >= 1 {
		errs = append(errs, "max_slippage must be in (0, 1)")
	}
	if c.RouteTimeout <= 0 {
		errs = append(errs, "route_timeout must be positive")
	}
	if c.MaxHops < 2 {
		errs = append(errs, "max_hops must be at least 2")
	}
	if c.MaxConcurrent <= 0 {
		errs = append(errs, "max_concurrent must be positive")
	}
	if c.SlippageCap <= 0 || c.SlippageCap > 1 {
		errs = append(errs, "slippage_cap must be in (0, 1]")
	}
	if c.DecayStep < 0 || c.DecayStep >= 1 {
		errs = append(errs, "decay_step must be in [0, 1)")
	}
	if c.DefaultReliability <= 0 || c.DefaultReliability > 1 {
		errs = append(errs, "default_reliability must be in (0, 1]")
	}

	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		errs = append(errs, "min_confidence must be in [0, 1]")
	}
	if c.GasBuffer < 1 {
		errs = append(errs, "gas_buffer must be at least 1")
	}
	if c.GasMultiplier < 1 {
		errs = append(errs, "gas_multiplier must be at least 1")
	}
	if c.MaxGasPrice.Int().Sign() <= 0 {
		errs = append(errs, "max_gas_price must be positive")
	}

	if c.ConcurrentRoutes <= 0 {
		errs = append(errs, "concurrent_routes must be positive")
	}
	if c.BackupGasBump < 0 {
		errs = append(errs, "backup_gas_bump must not be negative")
	}
	if c.CycleInterval < 0 || c.FailureBackoff < 0 || c.RouteCooldown < 0 {
		errs = append(errs, "cycle_interval, failure_backoff and route_cooldown must not be negative")
	}
	if c.VaultShare < 0 || c.VaultShare > 1 {
		errs = append(errs, "vault_share must be in [0, 1]")
	}
	if c.VaultShare > 0 && !common.IsHexAddress(c.VaultAddress) {
		errs = append(errs, "vault_address must be a hex address when vault_share is set")
	}

	if c.HistorySize <= 0 {
		errs = append(errs, "history_size must be positive")
	}

	if err := c.CircuitBreaker.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("circuit breaker error: %v", err))
	}
	if err := c.RPCRateLimit.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("RPC rate limit error: %v", err))
	}

	if len(c.Exchanges) < 2 {
		errs = append(errs, "at least two exchanges must be configured")
	}
	seen := make(map[string]bool)
	for i := range c.Exchanges {
		ex := &c.Exchanges[i]
		if seen[ex.ID] {
			errs = append(errs, fmt.Sprintf("exchange %q configured twice", ex.ID))
		}
		seen[ex.ID] = true
		if err := ex.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("exchange %q: %v", ex.ID, err))
		}
	}

	if c.FlashLoan.Enabled {
		if len(c.FlashLoan.Providers) == 0 {
			errs = append(errs, "flash_loan.providers must not be empty when flash loans are enabled")
		}
		if !common.IsHexAddress(c.FlashLoan.Receiver) {
			errs = append(errs, "flash_loan.receiver must be a hex address when flash loans are enabled")
		}
		for _, p := range c.FlashLoan.Providers {
			if err := p.Validate(); err != nil {
				errs = append(errs, fmt.Sprintf("flash loan provider %q: %v", p.Name, err))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

func (e *ExchangeConfig) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id must be specified")
	}
	if e.FeeBps < 0 || e.FeeBps >= 10_000 {
		return fmt.Errorf("fee_bps must be in [0, 10000)")
	}
	if e.Reliability < 0 || e.Reliability > 1 {
		return fmt.Errorf("reliability must be in [0, 1]")
	}
	if len(e.Pairs) == 0 {
		return fmt.Errorf("at least one pair must be listed")
	}
	for _, p := range e.Pairs {
		if !common.IsHexAddress(p.TokenA) || !common.IsHexAddress(p.TokenB) {
			return fmt.Errorf("pair %s/%s has an invalid token address", p.TokenA, p.TokenB)
		}
	}

	switch e.Kind {
	case KindUniswapV2, KindSushiswap:
		if !common.IsHexAddress(e.Router) || !common.IsHexAddress(e.Factory) {
			return fmt.Errorf("router and factory must be hex addresses")
		}
	case KindStatic:
		for _, p := range e.Pairs {
			if p.ReserveA.Int().Sign() <= 0 || p.ReserveB.Int().Sign() <= 0 {
				return fmt.Errorf("static pair %s/%s needs positive reserves", p.TokenA, p.TokenB)
			}
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	return nil
}

func (p *FlashLoanProviderConfig) Validate() error {
	switch p.Kind {
	case LoanAave, LoanBalancer:
	default:
		return fmt.Errorf("unknown kind %q", p.Kind)
	}
	if !common.IsHexAddress(p.Address) {
		return fmt.Errorf("address must be a hex address")
	}
	return nil
}

func (c *CircuitBreakerConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.ErrorThreshold <= 0 {
		return fmt.Errorf("error threshold must be positive")
	}
	if c.MaxFailureRate <= 0 || c.MaxFailureRate > 1 {
		return fmt.Errorf("max failure rate must be in (0, 1]")
	}
	if c.Window <= 0 {
		return fmt.Errorf("window must be positive")
	}
	if c.CooldownPeriod <= 0 {
		return fmt.Errorf("cooldown period must be positive")
	}

	return nil
}

func (r *RateLimitConfig) Validate() error {
	if r.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive")
	}
	if r.BurstSize <= 0 {
		return fmt.Errorf("burst size must be positive")
	}
	if r.WaitTimeout <= 0 {
		return fmt.Errorf("wait timeout must be positive")
	}

	return nil
}

// LoadConfig reads a JSON or YAML file over DefaultConfig and validates the result.
// An empty path means ~/.arbengine.yaml.
func LoadConfig(cfgFile string) (*Config, error) {
	if cfgFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		cfgFile = filepath.Join(home, ".arbengine.yaml")
	}

	data, err := os.ReadFile(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	config := DefaultConfig()
	switch strings.ToLower(filepath.Ext(cfgFile)) {
	case ".yaml", ".yml":
		err = yaml.UnmarshalStrict(data, config)
	case ".json":
		err = json.Unmarshal(data, config)
	default:
		return nil, fmt.Errorf("unsupported config format %q", filepath.Ext(cfgFile))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	if err := config.ValidateConfig(); err != nil {
		return nil, err
	}

	return config, nil
}

func SaveConfig(cfg *Config, cfgFile string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(cfgFile)) {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "    ")
	default:
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(cfgFile, data, 0o644)
}

func LoadSecureConfig() (*SecureConfig, error) {
	privateKey, err := GetRequiredEnv(EnvPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("private key not found: %w", err)
	}

	return &SecureConfig{
		PrivateKey: strings.TrimPrefix(privateKey, "0x"),
	}, nil
}

func DefaultConfig() *Config {
	return &Config{
		ChainID:            1,
		RPCEndpoint:        "http://localhost:8545",
		BundleTimeout:      Duration(120 * time.Second),
		MinProfitThreshold: MustAmount("0.01 ether"),
		MaxBundleSize:      10,
		FrontrunProtection: true,
		PollInterval:       Duration(2 * time.Second),
		MaxSlippage:        0.02,
		RouteTimeout:       Duration(2 * time.Second),
		MaxHops:            3,
		MaxConcurrent:      50,
		SlippageCap:        0.5,
		DecayStep:          0.05,
		DefaultReliability: 0.90,
		MinConfidence:      0.75,
		GasBuffer:          1.2,
		GasMultiplier:      1.1,
		MaxGasPrice:        MustAmount("500 gwei"),
		ConcurrentRoutes:   3,
		BackupGasBump:      0.20,
		CycleInterval:      Duration(time.Second),
		FailureBackoff:     Duration(5 * time.Second),
		RouteCooldown:      Duration(time.Minute),
		VaultShare:         0.5,
		HistorySize:        1000,
		Alerts: AlertConfig{
			MinAccuracy:   0.6,
			MaxLatency:    Duration(5 * time.Second),
			NotableProfit: MustAmount("1 ether"),
			MinSamples:    20,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:        true,
			ErrorThreshold: 10,
			MaxFailureRate: 0.8,
			Window:         50,
			CooldownPeriod: Duration(30 * time.Second),
		},
		RPCRateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			BurstSize:         100,
			WaitTimeout:       Duration(time.Second),
		},
		JournalPath: "arbengine.db",
		MetricsAddr: ":9090",
	}
}
