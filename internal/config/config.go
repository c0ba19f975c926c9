// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/broker/ibkr"
	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/engine"
	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/metrics"
	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/strategy"
	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/types"
)

// Config represents the full agent configuration.
type Config struct {
	Gateway    GatewayConfig    `yaml:"gateway"`
	Engine     EngineConfig     `yaml:"engine"`
	Budget     BudgetConfig     `yaml:"budget"`
	MarketData MarketDataConfig `yaml:"market_data"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Alerting   AlertingConfig   `yaml:"alerting"`
	Logging    LoggingConfig    `yaml:"logging"`
	Strategies []StrategyEntry  `yaml:"strategies"`
}

// GatewayConfig holds broker connection settings.
type GatewayConfig struct {
	Host                 string `yaml:"host"`
	Port                 int    `yaml:"port"`
	ClientID             int    `yaml:"client_id"`
	ConnectTimeoutSec    int    `yaml:"connect_timeout_sec"`
	RequestTimeoutSec    int    `yaml:"request_timeout_sec"`
	MaxRequestsPerSecond int    `yaml:"max_requests_per_second"`
	AutoReconnect        bool   `yaml:"auto_reconnect"`
	ReconnectIntervalSec int    `yaml:"reconnect_interval_sec"`
	MaxReconnectTries    int    `yaml:"max_reconnect_tries"`
	PaperTrading         bool   `yaml:"paper_trading"`

	// DryRun swaps the TWS connection for an in-process simulated gateway.
	DryRun bool `yaml:"dry_run"`
}

// EngineConfig holds evaluation loop and safety-gate settings.
type EngineConfig struct {
	TickIntervalMs         int  `yaml:"tick_interval_ms"`
	SweepEveryNTicks       int  `yaml:"sweep_every_n_ticks"`
	StaleOrderThresholdSec int  `yaml:"stale_order_threshold_sec"`
	FlipFlopWindowSec      int  `yaml:"flip_flop_window_sec"`
	FlipFlopMaxOrders      int  `yaml:"flip_flop_max_orders"`
	FlipFlopCooldownSec    int  `yaml:"flip_flop_cooldown_sec"`
	MaxInflightOrders      int  `yaml:"max_inflight_orders"`
	OrderTimeoutSec        int  `yaml:"order_timeout_sec"`
	ErrorLogSize           int  `yaml:"error_log_size"`
	EventQueueSize         int  `yaml:"event_queue_size"`
	CancelOnUnload         bool `yaml:"cancel_on_unload"`
}

// BudgetConfig holds the order budget applied at startup.
// Negative means unlimited, zero halts all submission.
type BudgetConfig struct {
	InitialOrders int64 `yaml:"initial_orders"`
}

// MarketDataConfig holds market data capacity settings.
type MarketDataConfig struct {
	MaxLines int `yaml:"max_lines"`
}

// LedgerConfig holds position ledger settings.
type LedgerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MetricsConfig holds metrics server settings.
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Port        int    `yaml:"port"`
	MetricsPath string `yaml:"metrics_path"`
	HealthPath  string `yaml:"health_path"`
	StatusPath  string `yaml:"status_path"`
}

// AlertingConfig holds operator notification settings. The console channel is
// always on when alerting is enabled; Telegram is added when a bot token is
// configured.
type AlertingConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig holds Telegram bot credentials.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// StrategyEntry declares one strategy to load at startup.
type StrategyEntry struct {
	ID            string         `yaml:"id"`
	Type          string         `yaml:"type"`
	Symbol        string         `yaml:"symbol"`
	DealPrice     float64        `yaml:"deal_price"`
	ExpectedClose string         `yaml:"expected_close"` // YYYYMMDD
	MaxContracts  int            `yaml:"max_contracts"`
	EdgeThreshold float64        `yaml:"edge_threshold"`
	OrderTIF      string         `yaml:"order_tif"`
	Params        map[string]any `yaml:"params"`
}

// ToStrategyConfig converts a strategy entry to a runtime strategy config.
func (e StrategyEntry) ToStrategyConfig() *strategy.Config {
	cfg := strategy.DefaultConfig()
	cfg.Type = e.Type
	cfg.Symbol = e.Symbol
	cfg.DealPrice = decimal.NewFromFloat(e.DealPrice)
	if e.ExpectedClose != "" {
		cfg.ExpectedClose = e.ExpectedClose
	}
	if e.MaxContracts > 0 {
		cfg.MaxContracts = e.MaxContracts
	}
	if e.EdgeThreshold > 0 {
		cfg.EdgeThreshold = decimal.NewFromFloat(e.EdgeThreshold)
	}
	if e.OrderTIF != "" {
		cfg.OrderTIF = types.TimeInForce(e.OrderTIF)
	}
	if len(e.Params) > 0 {
		cfg.Params = make(map[string]any, len(e.Params))
		for k, v := range e.Params {
			cfg.Params[k] = v
		}
	}
	return cfg
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes.
func LoadFromBytes(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with every knob at its default.
func Default() *Config {
	gw := ibkr.DefaultConfig()
	eng := engine.DefaultConfig()
	srv := metrics.DefaultServerConfig()

	return &Config{
		Gateway: GatewayConfig{
			Host:                 gw.Host,
			Port:                 gw.Port,
			ClientID:             gw.ClientID,
			ConnectTimeoutSec:    int(gw.ConnectTimeout / time.Second),
			RequestTimeoutSec:    int(gw.RequestTimeout / time.Second),
			MaxRequestsPerSecond: gw.MaxRequestsPerSecond,
			AutoReconnect:        gw.AutoReconnect,
			ReconnectIntervalSec: int(gw.ReconnectInterval / time.Second),
			MaxReconnectTries:    gw.MaxReconnectTries,
			PaperTrading:         gw.PaperTrading,
		},
		Engine: EngineConfig{
			TickIntervalMs:         int(eng.TickInterval / time.Millisecond),
			SweepEveryNTicks:       eng.SweepEveryNTicks,
			StaleOrderThresholdSec: int(eng.StaleOrderThreshold / time.Second),
			FlipFlopWindowSec:      int(eng.FlipFlopWindow / time.Second),
			FlipFlopMaxOrders:      eng.FlipFlopMaxOrders,
			MaxInflightOrders:      eng.MaxInflightOrders,
			OrderTimeoutSec:        int(eng.OrderTimeout / time.Second),
			ErrorLogSize:           eng.ErrorLogSize,
			EventQueueSize:         eng.EventQueueSize,
		},
		Budget: BudgetConfig{
			InitialOrders: -1,
		},
		MarketData: MarketDataConfig{
			MaxLines: 100,
		},
		Ledger: LedgerConfig{
			Enabled: true,
			Path:    "agent.db",
		},
		Metrics: MetricsConfig{
			Enabled:     true,
			Port:        srv.Port,
			MetricsPath: srv.MetricsPath,
			HealthPath:  srv.HealthPath,
			StatusPath:  srv.StatusPath,
		},
		Alerting: AlertingConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	// Gateway validation
	if c.Gateway.Host == "" {
		errs = append(errs, "gateway.host is required")
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		errs = append(errs, "gateway.port must be between 1 and 65535")
	}
	if c.Gateway.ClientID < 0 {
		errs = append(errs, "gateway.client_id must not be negative")
	}
	if c.Gateway.MaxRequestsPerSecond <= 0 {
		errs = append(errs, "gateway.max_requests_per_second must be positive")
	}

	// Engine validation
	if c.Engine.TickIntervalMs <= 0 {
		errs = append(errs, "engine.tick_interval_ms must be positive")
	}
	if c.Engine.SweepEveryNTicks <= 0 {
		errs = append(errs, "engine.sweep_every_n_ticks must be positive")
	}
	if c.Engine.FlipFlopWindowSec <= 0 {
		errs = append(errs, "engine.flip_flop_window_sec must be positive")
	}
	if c.Engine.FlipFlopMaxOrders <= 0 {
		errs = append(errs, "engine.flip_flop_max_orders must be positive")
	}
	if c.Engine.MaxInflightOrders <= 0 {
		errs = append(errs, "engine.max_inflight_orders must be positive")
	}
	if c.Engine.OrderTimeoutSec <= 0 {
		errs = append(errs, "engine.order_timeout_sec must be positive")
	}
	if c.Engine.EventQueueSize <= 0 {
		errs = append(errs, "engine.event_queue_size must be positive")
	}

	// Market data validation
	if c.MarketData.MaxLines <= 0 {
		errs = append(errs, "market_data.max_lines must be positive")
	}

	// Ledger validation
	if c.Ledger.Enabled && c.Ledger.Path == "" {
		errs = append(errs, "ledger.path is required when ledger is enabled")
	}

	// Metrics validation
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		errs = append(errs, "metrics.port must be between 1 and 65535")
	}

	// Alerting validation
	if c.Alerting.Enabled && c.Alerting.Telegram.BotToken != "" && c.Alerting.Telegram.ChatID == "" {
		errs = append(errs, "alerting.telegram.chat_id is required when bot_token is set")
	}

	// Logging validation
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level '%s' is not supported", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("logging.format '%s' is not supported", c.Logging.Format))
	}

	// Strategy validation
	seen := make(map[string]bool, len(c.Strategies))
	for i, entry := range c.Strategies {
		if entry.ID == "" {
			errs = append(errs, fmt.Sprintf("strategies[%d].id is required", i))
			continue
		}
		if seen[entry.ID] {
			errs = append(errs, fmt.Sprintf("strategies[%d].id '%s' is duplicated", i, entry.ID))
		}
		seen[entry.ID] = true

		if entry.Type == "" {
			errs = append(errs, fmt.Sprintf("strategies[%d].type is required", i))
		}
		if entry.Symbol == "" {
			errs = append(errs, fmt.Sprintf("strategies[%d].symbol is required", i))
		}
		if entry.DealPrice <= 0 {
			errs = append(errs, fmt.Sprintf("strategies[%d].deal_price must be positive", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

// ToGatewayConfig converts to the broker gateway configuration.
func (c *Config) ToGatewayConfig() ibkr.Config {
	return ibkr.Config{
		Host:                 c.Gateway.Host,
		Port:                 c.Gateway.Port,
		ClientID:             c.Gateway.ClientID,
		ConnectTimeout:       time.Duration(c.Gateway.ConnectTimeoutSec) * time.Second,
		RequestTimeout:       time.Duration(c.Gateway.RequestTimeoutSec) * time.Second,
		MaxRequestsPerSecond: c.Gateway.MaxRequestsPerSecond,
		AutoReconnect:        c.Gateway.AutoReconnect,
		ReconnectInterval:    time.Duration(c.Gateway.ReconnectIntervalSec) * time.Second,
		MaxReconnectTries:    c.Gateway.MaxReconnectTries,
		PaperTrading:         c.Gateway.PaperTrading,
	}
}

// ToEngineConfig converts to the execution engine configuration.
func (c *Config) ToEngineConfig() engine.Config {
	return engine.Config{
		TickInterval:        time.Duration(c.Engine.TickIntervalMs) * time.Millisecond,
		SweepEveryNTicks:    c.Engine.SweepEveryNTicks,
		StaleOrderThreshold: time.Duration(c.Engine.StaleOrderThresholdSec) * time.Second,
		FlipFlopWindow:      time.Duration(c.Engine.FlipFlopWindowSec) * time.Second,
		FlipFlopMaxOrders:   c.Engine.FlipFlopMaxOrders,
		FlipFlopCooldown:    time.Duration(c.Engine.FlipFlopCooldownSec) * time.Second,
		MaxInflightOrders:   c.Engine.MaxInflightOrders,
		OrderTimeout:        time.Duration(c.Engine.OrderTimeoutSec) * time.Second,
		ErrorLogSize:        c.Engine.ErrorLogSize,
		EventQueueSize:      c.Engine.EventQueueSize,
		CancelOnUnload:      c.Engine.CancelOnUnload,
	}
}

// ToMetricsServerConfig converts to the metrics server configuration.
func (c *Config) ToMetricsServerConfig() metrics.ServerConfig {
	return metrics.ServerConfig{
		Port:        c.Metrics.Port,
		MetricsPath: c.Metrics.MetricsPath,
		HealthPath:  c.Metrics.HealthPath,
		StatusPath:  c.Metrics.StatusPath,
	}
}
