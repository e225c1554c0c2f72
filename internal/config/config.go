package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Trading  Trading  `mapstructure:"trading"`
	Exchange Exchange `mapstructure:"exchange"`
	Rugcheck Rugcheck `mapstructure:"rugcheck"`
	Gmgn     Gmgn     `mapstructure:"gmgn"`
	Executor Executor `mapstructure:"executor"`
	Logger   Logger   `mapstructure:"logger"`
	Database Database `mapstructure:"database"`
}

// TokenDescriptor maps a trading symbol to its on-chain identity and the
// token pair used for swaps.
type TokenDescriptor struct {
	Chain           string `mapstructure:"chain"`
	ContractAddress string `mapstructure:"contract_address"`
	InputToken      string `mapstructure:"input_token"`
	OutputToken     string `mapstructure:"output_token"`
}

// Trading holds the configuration for the strategy logic. Read-only for the
// duration of a run.
type Trading struct {
	Symbols              []string                   `mapstructure:"symbols"`
	Timeframe            string                     `mapstructure:"timeframe"`
	IntervalSeconds      int                        `mapstructure:"interval_seconds"`
	AllocationPercent    float64                    `mapstructure:"allocation_percent"`
	MaxAllocationPercent float64                    `mapstructure:"max_allocation_percent"`
	SellPercent2x        float64                    `mapstructure:"sell_percent_2x"`
	SellPercent3x        float64                    `mapstructure:"sell_percent_3x"`
	MinTradeUnit         string                     `mapstructure:"min_trade_unit"`
	Tokens               map[string]TokenDescriptor `mapstructure:"tokens"`
}

// Exchange holds the configuration for the price-feed exchange API.
type Exchange struct {
	BaseURL        string  `mapstructure:"base_url"`
	ApiKey         string  `mapstructure:"apiKey"`
	SecretKey      string  `mapstructure:"secretKey"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Rugcheck holds the configuration for the token-safety validator API.
type Rugcheck struct {
	BaseURL           string  `mapstructure:"base_url"`
	ApiKey            string  `mapstructure:"apiKey"`
	VerdictTTLSeconds int     `mapstructure:"verdict_ttl_seconds"`
	RateLimit         float64 `mapstructure:"rate_limit"`
	RateLimitBurst    int     `mapstructure:"rate_limit_burst"`
}

// Gmgn holds the configuration for the order gateway and trading session.
type Gmgn struct {
	ApiHost        string  `mapstructure:"api_host"`
	Chain          string  `mapstructure:"chain"`
	WalletAddress  string  `mapstructure:"wallet_address"`
	SecretKey      string  `mapstructure:"secretKey"`
	SlippagePct    float64 `mapstructure:"slippage_pct"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Executor holds retry and fill-confirmation tuning for order execution.
type Executor struct {
	MaxAttempts       int `mapstructure:"max_attempts"`
	RetryBaseMs       int `mapstructure:"retry_base_ms"`
	FillPollMs        int `mapstructure:"fill_poll_ms"`
	FillTimeoutMs     int `mapstructure:"fill_timeout_ms"`
	NetworkTimeoutSec int `mapstructure:"network_timeout_sec"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("trading.timeframe", "1m")
	viper.SetDefault("trading.interval_seconds", 60)
	viper.SetDefault("trading.sell_percent_2x", 50)
	viper.SetDefault("trading.sell_percent_3x", 100)
	viper.SetDefault("trading.min_trade_unit", "0.000001")
	viper.SetDefault("exchange.rate_limit", 20)
	viper.SetDefault("exchange.rate_limit_burst", 5)
	viper.SetDefault("rugcheck.verdict_ttl_seconds", 300)
	viper.SetDefault("rugcheck.rate_limit", 5)
	viper.SetDefault("rugcheck.rate_limit_burst", 2)
	viper.SetDefault("gmgn.slippage_pct", 0.5)
	viper.SetDefault("gmgn.rate_limit", 5)
	viper.SetDefault("gmgn.rate_limit_burst", 2)
	viper.SetDefault("executor.max_attempts", 3)
	viper.SetDefault("executor.retry_base_ms", 1000)
	viper.SetDefault("executor.fill_poll_ms", 2000)
	viper.SetDefault("executor.fill_timeout_ms", 60000)
	viper.SetDefault("executor.network_timeout_sec", 15)
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "console")
	viper.SetDefault("database.dsn", "trader.db")

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	err = config.Validate()
	return
}

// Validate checks the configuration invariants. Any violation is fatal at
// startup; nothing here is recoverable at runtime.
func (c *Config) Validate() error {
	t := c.Trading
	if len(t.Symbols) == 0 {
		return fmt.Errorf("trading.symbols must not be empty")
	}
	for _, sym := range t.Symbols {
		if !strings.Contains(sym, "/") {
			return fmt.Errorf("symbol %q is not in BASE/QUOTE form", sym)
		}
		td, ok := t.Tokens[sym]
		if !ok {
			return fmt.Errorf("symbol %q has no token descriptor", sym)
		}
		if td.Chain == "" || td.ContractAddress == "" || td.InputToken == "" || td.OutputToken == "" {
			return fmt.Errorf("token descriptor for %q is incomplete", sym)
		}
	}
	if t.IntervalSeconds <= 0 {
		return fmt.Errorf("trading.interval_seconds must be positive, got %d", t.IntervalSeconds)
	}
	if t.AllocationPercent <= 0 || t.AllocationPercent > 100 {
		return fmt.Errorf("trading.allocation_percent must be in (0, 100], got %v", t.AllocationPercent)
	}
	if t.MaxAllocationPercent <= 0 || t.MaxAllocationPercent > 100 {
		return fmt.Errorf("trading.max_allocation_percent must be in (0, 100], got %v", t.MaxAllocationPercent)
	}
	if t.SellPercent2x <= 0 || t.SellPercent2x > 100 {
		return fmt.Errorf("trading.sell_percent_2x must be in (0, 100], got %v", t.SellPercent2x)
	}
	if t.SellPercent3x <= 0 || t.SellPercent3x > 100 {
		return fmt.Errorf("trading.sell_percent_3x must be in (0, 100], got %v", t.SellPercent3x)
	}
	if t.MinTradeUnit == "" {
		return fmt.Errorf("trading.min_trade_unit must be set")
	}
	if c.Executor.MaxAttempts <= 0 {
		return fmt.Errorf("executor.max_attempts must be positive, got %d", c.Executor.MaxAttempts)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn must be set")
	}
	return nil
}
