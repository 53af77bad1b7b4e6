package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	// Chain
	RPCUrl     string
	ChainID    int64
	PrivateKey string
	Recipient  string

	// Contracts
	RouterAddress  string
	WrappedAddress string
	StableAddress  string

	// Swap defaults
	SlippagePercent      float64
	CloseSlippagePercent float64
	DeadlineSeconds      int64
	Gas                  GasConfig
	ReceiptTimeout       time.Duration

	// Extra tokens by symbol, resolved alongside BNB, WBNB and USDT
	Tokens map[string]string

	// Local trade store
	TradeStorePath string

	Oracle     OracleConfig
	Automation AutomationConfig

	LogLevel    string
	HTTPTimeout time.Duration
}

// GasConfig holds the fixed gas ceilings attached to each router call
type GasConfig struct {
	Approve    uint64
	NativeSwap uint64
	TokenSwap  uint64
}

// OracleConfig configures the price sources
type OracleConfig struct {
	SupraURL      string
	SupraAPIKey   string
	TradingPair   string
	CoinGeckoURL  string
	CoinID        string
	FallbackPrice string
	CacheTTL      time.Duration
}

// AutomationConfig configures the TP/SL automation service
type AutomationConfig struct {
	Enabled       bool
	URL           string
	APIKey        string
	ModuleAddress string
	AllowFallback bool
	WatchInterval time.Duration
}

const (
	defaultConfigName = ".bnb-copilot"
	defaultStoreName  = ".bnb-copilot-trades.json"
	envPrefix         = "BNB_COPILOT"
)

// Load reads configuration from environment variables and an optional config file.
// configFile overrides the default search path when non-empty.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(defaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// The config file is optional unless one was named explicitly
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound || configFile != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	storePath := v.GetString("trade_store_path")
	if storePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		storePath = filepath.Join(home, defaultStoreName)
	}

	cfg := &Config{
		RPCUrl:               v.GetString("rpc_url"),
		ChainID:              v.GetInt64("chain_id"),
		PrivateKey:           v.GetString("private_key"),
		Recipient:            v.GetString("recipient"),
		RouterAddress:        v.GetString("router_address"),
		WrappedAddress:       v.GetString("wrapped_address"),
		StableAddress:        v.GetString("stable_address"),
		SlippagePercent:      v.GetFloat64("slippage"),
		CloseSlippagePercent: v.GetFloat64("close_slippage"),
		DeadlineSeconds:      v.GetInt64("deadline_seconds"),
		Gas: GasConfig{
			Approve:    v.GetUint64("gas.approve"),
			NativeSwap: v.GetUint64("gas.native_swap"),
			TokenSwap:  v.GetUint64("gas.token_swap"),
		},
		ReceiptTimeout: v.GetDuration("receipt_timeout"),
		Tokens:         v.GetStringMapString("tokens"),
		TradeStorePath: storePath,
		Oracle: OracleConfig{
			SupraURL:      v.GetString("oracle.supra_url"),
			SupraAPIKey:   v.GetString("oracle.supra_api_key"),
			TradingPair:   v.GetString("oracle.trading_pair"),
			CoinGeckoURL:  v.GetString("oracle.coingecko_url"),
			CoinID:        v.GetString("oracle.coin_id"),
			FallbackPrice: v.GetString("oracle.fallback_price"),
			CacheTTL:      v.GetDuration("oracle.cache_ttl"),
		},
		Automation: AutomationConfig{
			Enabled:       v.GetBool("automation.enabled"),
			URL:           v.GetString("automation.url"),
			APIKey:        v.GetString("automation.api_key"),
			ModuleAddress: v.GetString("automation.module_address"),
			AllowFallback: v.GetBool("automation.allow_fallback"),
			WatchInterval: v.GetDuration("automation.watch_interval"),
		},
		LogLevel:    v.GetString("log_level"),
		HTTPTimeout: v.GetDuration("http_timeout"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("rpc_url", "https://bsc-dataseed1.binance.org/")
	v.SetDefault("chain_id", 56)
	v.SetDefault("router_address", "0x10ED43C718714eb63d5aA57B78B54704E256024E")
	v.SetDefault("wrapped_address", "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c")
	v.SetDefault("stable_address", "0x55d398326f99059fF775485246999027B3197955")
	v.SetDefault("slippage", 2.0)
	v.SetDefault("close_slippage", 2.5)
	v.SetDefault("deadline_seconds", 1200)
	v.SetDefault("gas.approve", 50000)
	v.SetDefault("gas.native_swap", 180000)
	v.SetDefault("gas.token_swap", 200000)
	v.SetDefault("receipt_timeout", 2*time.Minute)

	v.SetDefault("oracle.supra_url", "https://prod-kline-rest.supra.com")
	v.SetDefault("oracle.trading_pair", "bnb_usdt")
	v.SetDefault("oracle.coingecko_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("oracle.coin_id", "binancecoin")
	v.SetDefault("oracle.fallback_price", "635.50")
	v.SetDefault("oracle.cache_ttl", 15*time.Second)

	v.SetDefault("automation.enabled", true)
	v.SetDefault("automation.url", "https://rpc-mainnet.supra.com")
	v.SetDefault("automation.module_address", "0x1")
	v.SetDefault("automation.allow_fallback", true)
	v.SetDefault("automation.watch_interval", 45*time.Second)

	v.SetDefault("log_level", "warn")
	v.SetDefault("http_timeout", 10*time.Second)
}

// Validate checks the values that have no sensible fallback
func (c *Config) Validate() error {
	if c.RPCUrl == "" {
		return fmt.Errorf("rpc_url is required")
	}
	if c.ChainID <= 0 {
		return fmt.Errorf("chain_id must be positive")
	}
	if !validPercent(c.SlippagePercent) {
		return fmt.Errorf("slippage must be between 0 and 100, got %v", c.SlippagePercent)
	}
	if !validPercent(c.CloseSlippagePercent) {
		return fmt.Errorf("close_slippage must be between 0 and 100, got %v", c.CloseSlippagePercent)
	}
	if c.DeadlineSeconds <= 0 {
		return fmt.Errorf("deadline_seconds must be positive")
	}
	for symbol, addr := range c.Tokens {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("tokens.%s: invalid address %q", symbol, addr)
		}
	}
	return nil
}

func validPercent(p float64) bool {
	return !math.IsNaN(p) && p >= 0 && p <= 100
}

// RequireSigner reports whether a signing key is available for write commands
func (c *Config) RequireSigner() error {
	if c.PrivateKey == "" {
		return fmt.Errorf("private key not found. Please set BNB_COPILOT_PRIVATE_KEY environment variable or add private_key to .bnb-copilot.yaml")
	}
	return nil
}
