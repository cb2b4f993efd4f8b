package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Lighter       LighterConfig             `yaml:"lighter"`
	Trading       TradingConfig             `yaml:"trading"`
	Risk          RiskConfig                `yaml:"risk_management"`
	Notifications NotificationsConfig       `yaml:"notifications"`
	DataSources   DataSourcesConfig         `yaml:"data_sources"`
	Strategies    map[string]StrategyConfig `yaml:"strategies"`
	Logging       LoggingConfig             `yaml:"logging"`
	Server        ServerConfig              `yaml:"server"`
}

type LighterConfig struct {
	BaseURL          string `yaml:"base_url"`
	WSURL            string `yaml:"ws_url"`
	APIKeyPrivateKey string `yaml:"api_key_private_key"`
	AccountIndex     int    `yaml:"account_index"`
	APIKeyIndex      int    `yaml:"api_key_index"`
}

type TradingConfig struct {
	TickIntervalMs          int `yaml:"tick_interval_ms"`
	MaxConcurrentStrategies int `yaml:"max_concurrent_strategies"`
}

type RiskConfig struct {
	MaxPositionPct  float64 `yaml:"max_position_pct"`
	MaxDailyLossPct float64 `yaml:"max_daily_loss_pct"`
	MaxDrawdownPct  float64 `yaml:"max_drawdown_pct"`
	MaxLeverage     int     `yaml:"max_leverage"`
	MaxOrdersPerMin int     `yaml:"max_orders_per_min"`
	MaxOpenOrders   int     `yaml:"max_open_orders"`
}

type NotificationsConfig struct {
	Enabled       bool     `yaml:"enabled"`
	SMTPHost      string   `yaml:"smtp_host"`
	SMTPPort      int      `yaml:"smtp_port"`
	SMTPUser      string   `yaml:"smtp_user"`
	SMTPPassword  string   `yaml:"smtp_password"`
	From          string   `yaml:"from"`
	To            []string `yaml:"to"`
	BatchSize     int      `yaml:"batch_size"`
	RateLimitSecs int      `yaml:"rate_limit_secs"`
}

type DataSourcesConfig struct {
	Primary            string          `yaml:"primary"`
	ExtraMarkets       []int           `yaml:"extra_markets"`
	MarketIDMapping    map[int]string  `yaml:"market_id_mapping"`
	CustomMinOrderSize map[int]float64 `yaml:"custom_min_order_size"`
	CustomMinQuoteAmt  map[int]float64 `yaml:"custom_min_quote_amount"`
}

type MarketSlippageConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Tolerance float64 `yaml:"tolerance"`
}

type MarketRiskConfig struct {
	StopLossEnabled   bool    `yaml:"stop_loss_enabled"`
	StopLoss          float64 `yaml:"stop_loss"`
	TakeProfitEnabled bool    `yaml:"take_profit_enabled"`
	TakeProfit        float64 `yaml:"take_profit"`
}

type StrategyConfig struct {
	Enabled   bool  `yaml:"enabled"`
	MarketID  int   `yaml:"market_id"`
	MarketIDs []int `yaml:"market_ids"`

	// UT-Bot indicator parameters
	KeyValue  float64 `yaml:"key_value"`
	ATRPeriod int     `yaml:"atr_period"`

	PositionSizeUSD float64 `yaml:"position_size"`
	Leverage        int     `yaml:"leverage"`
	MarginMode      string  `yaml:"margin_mode"` // "cross" or "isolated"

	OrderType        string  `yaml:"order_type"` // "market" or "limit"
	LimitPriceOffset float64 `yaml:"limit_price_offset"`

	SlippageEnabled   bool    `yaml:"slippage_enabled"`
	SlippageTolerance float64 `yaml:"slippage_tolerance"`

	KlineTypes             []int `yaml:"kline_types"` // minutes, e.g. [1, 5]
	EnableMultiTimeframe   bool  `yaml:"enable_multi_timeframe"`
	WaitForKlineCompletion *bool `yaml:"wait_for_kline_completion"`
	UseRealTimeTicks       bool  `yaml:"use_real_time_ticks"`

	SignalCooldownSecs int `yaml:"signal_cooldown_secs"`

	MarketSlippage map[int]MarketSlippageConfig `yaml:"market_slippage_config"`
	MarketRisk     map[int]MarketRiskConfig     `yaml:"market_risk_config"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

// WaitForCompletion resolves the tri-state flag; the safe default is true.
func (s *StrategyConfig) WaitForCompletion() bool {
	if s.WaitForKlineCompletion == nil {
		return true
	}
	return *s.WaitForKlineCompletion
}

// Markets returns the full set of markets this strategy trades.
func (s *StrategyConfig) Markets() []int {
	if len(s.MarketIDs) > 0 {
		return s.MarketIDs
	}
	return []int{s.MarketID}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Trading.TickIntervalMs == 0 {
		c.Trading.TickIntervalMs = 1000
	}
	if c.Trading.MaxConcurrentStrategies == 0 {
		c.Trading.MaxConcurrentStrategies = 10
	}
	if c.Risk.MaxOrdersPerMin == 0 {
		c.Risk.MaxOrdersPerMin = 60
	}
	if c.Risk.MaxOpenOrders == 0 {
		c.Risk.MaxOpenOrders = 20
	}
	if c.Notifications.BatchSize == 0 {
		c.Notifications.BatchSize = 10
	}
	if c.Notifications.RateLimitSecs == 0 {
		c.Notifications.RateLimitSecs = 60
	}
	if c.DataSources.Primary == "" {
		c.DataSources.Primary = "lighter"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}

	for name, sc := range c.Strategies {
		if sc.ATRPeriod == 0 {
			sc.ATRPeriod = 10
		}
		if sc.KeyValue == 0 {
			sc.KeyValue = 1.0
		}
		if sc.SignalCooldownSecs == 0 {
			sc.SignalCooldownSecs = 300
		}
		if len(sc.KlineTypes) == 0 {
			sc.KlineTypes = []int{1}
		}
		if sc.OrderType == "" {
			sc.OrderType = "market"
		}
		if sc.MarginMode == "" {
			sc.MarginMode = "cross"
		}
		if sc.Leverage == 0 {
			sc.Leverage = 1
		}
		c.Strategies[name] = sc
	}
}

// Validate reports the first fatal configuration problem.
func (c *Config) Validate() error {
	if c.Lighter.BaseURL == "" {
		return fmt.Errorf("lighter.base_url is required")
	}
	if c.Trading.TickIntervalMs < 100 {
		return fmt.Errorf("trading.tick_interval_ms must be >= 100, got %d", c.Trading.TickIntervalMs)
	}
	for name, sc := range c.Strategies {
		if !sc.Enabled {
			continue
		}
		if sc.PositionSizeUSD <= 0 {
			return fmt.Errorf("strategy %q: position_size must be > 0", name)
		}
		if sc.OrderType != "market" && sc.OrderType != "limit" {
			return fmt.Errorf("strategy %q: order_type must be market or limit, got %q", name, sc.OrderType)
		}
		if sc.MarginMode != "cross" && sc.MarginMode != "isolated" {
			return fmt.Errorf("strategy %q: margin_mode must be cross or isolated, got %q", name, sc.MarginMode)
		}
		if c.Risk.MaxLeverage > 0 && sc.Leverage > c.Risk.MaxLeverage {
			return fmt.Errorf("strategy %q: leverage %d exceeds risk_management.max_leverage %d", name, sc.Leverage, c.Risk.MaxLeverage)
		}
		for _, kt := range sc.KlineTypes {
			if kt <= 0 {
				return fmt.Errorf("strategy %q: kline_types must be positive minutes, got %d", name, kt)
			}
		}
	}
	return nil
}
