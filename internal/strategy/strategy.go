// Package strategy defines the pluggable strategy interface and its variants.
package strategy

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/quotes"
	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/types"
)

// Subscription declares one instrument a strategy wants streamed, tagged with
// the cache key it will read quotes under.
type Subscription struct {
	Contract types.Contract
	CacheKey string
	Fields   []quotes.Field
}

// Strategy is the interface every loadable strategy implements. The engine is
// agnostic to decision logic; it only routes quotes in and order events back.
//
// Evaluate runs once per tick per active strategy on the shared evaluation
// thread. It must return quickly and perform no I/O.
type Strategy interface {
	// GetSubscriptions declares the instruments to stream. Called once at load.
	GetSubscriptions(cfg *Config) []Subscription

	// Evaluate turns the latest quotes into order instructions.
	Evaluate(q map[string]types.Quote, cfg *Config) []types.OrderAction

	// OnFill is called when an order's filled quantity rises, or immediately
	// on a full fill at acknowledgment.
	OnFill(orderID int64, fill types.FillData, cfg *Config)

	// OnOrderDead is called when an order reaches a terminal non-fill state.
	OnOrderDead(orderID int64, reason error, cfg *Config)

	// OnOrderPlaced is called after a successful submission acknowledgment.
	OnOrderPlaced(orderID int64, action types.OrderAction, cfg *Config)

	// Lifecycle hooks.
	OnStart(cfg *Config)
	OnStop(cfg *Config)

	// GetStrategyState returns an optional telemetry snapshot.
	GetStrategyState() map[string]any
}

// Base provides no-op defaults for the optional Strategy methods. Embed it so
// a variant only implements what it needs.
type Base struct{}

func (Base) OnFill(int64, types.FillData, *Config)           {}
func (Base) OnOrderDead(int64, error, *Config)               {}
func (Base) OnOrderPlaced(int64, types.OrderAction, *Config) {}
func (Base) OnStart(*Config)                                 {}
func (Base) OnStop(*Config)                                  {}
func (Base) GetStrategyState() map[string]any                { return nil }

// Config holds a loaded strategy's configuration. Fields are hot-mergeable
// through Merge without a restart.
type Config struct {
	Type          string            `yaml:"type"`
	Symbol        string            `yaml:"symbol"`
	DealPrice     decimal.Decimal   `yaml:"deal_price"`
	ExpectedClose string            `yaml:"expected_close"` // YYYYMMDD
	MaxContracts  int               `yaml:"max_contracts"`
	EdgeThreshold decimal.Decimal   `yaml:"edge_threshold"`
	OrderTIF      types.TimeInForce `yaml:"order_tif"`
	Params        map[string]any    `yaml:"params"`
}

// DefaultConfig returns a conservative strategy configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxContracts:  1,
		EdgeThreshold: decimal.RequireFromString("0.02"),
		OrderTIF:      types.TIFDay,
		Params:        make(map[string]any),
	}
}

// Merge hot-merges partial configuration fields. Unknown keys land in Params.
func (c *Config) Merge(partial map[string]any) error {
	for key, val := range partial {
		switch key {
		case "symbol":
			s, ok := val.(string)
			if !ok {
				return fmt.Errorf("%w: symbol must be a string", types.ErrInvalidConfig)
			}
			c.Symbol = s
		case "deal_price":
			d, err := toDecimal(val)
			if err != nil {
				return fmt.Errorf("%w: deal_price: %v", types.ErrInvalidConfig, err)
			}
			c.DealPrice = d
		case "expected_close":
			s, ok := val.(string)
			if !ok {
				return fmt.Errorf("%w: expected_close must be a string", types.ErrInvalidConfig)
			}
			c.ExpectedClose = s
		case "max_contracts":
			n, ok := toInt(val)
			if !ok {
				return fmt.Errorf("%w: max_contracts must be an integer", types.ErrInvalidConfig)
			}
			c.MaxContracts = n
		case "edge_threshold":
			d, err := toDecimal(val)
			if err != nil {
				return fmt.Errorf("%w: edge_threshold: %v", types.ErrInvalidConfig, err)
			}
			c.EdgeThreshold = d
		case "order_tif":
			s, ok := val.(string)
			if !ok {
				return fmt.Errorf("%w: order_tif must be a string", types.ErrInvalidConfig)
			}
			c.OrderTIF = types.TimeInForce(s)
		default:
			if c.Params == nil {
				c.Params = make(map[string]any)
			}
			c.Params[key] = val
		}
	}
	return nil
}

// Snapshot serializes the config to YAML for persistence. Decimals are
// written as strings so the round trip is exact.
func (c *Config) Snapshot() ([]byte, error) {
	return yaml.Marshal(map[string]any{
		"type":           c.Type,
		"symbol":         c.Symbol,
		"deal_price":     c.DealPrice.String(),
		"expected_close": c.ExpectedClose,
		"max_contracts":  c.MaxContracts,
		"edge_threshold": c.EdgeThreshold.String(),
		"order_tif":      string(c.OrderTIF),
		"params":         c.Params,
	})
}

// Clone returns a deep-enough copy for telemetry snapshots.
func (c *Config) Clone() *Config {
	cp := *c
	cp.Params = make(map[string]any, len(c.Params))
	for k, v := range c.Params {
		cp.Params[k] = v
	}
	return &cp
}

func toDecimal(val any) (decimal.Decimal, error) {
	switch v := val.(type) {
	case float64:
		return decimal.NewFromFloat(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case string:
		return decimal.NewFromString(v)
	case decimal.Decimal:
		return v, nil
	default:
		return decimal.Zero, fmt.Errorf("unsupported type %T", val)
	}
}

func toInt(val any) (int, bool) {
	switch v := val.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// Factory creates a fresh strategy instance.
type Factory func() Strategy

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a strategy variant under its type name. Called from init.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// New creates a strategy instance by type name.
func New(name string) (Strategy, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: unknown strategy type %q", types.ErrInvalidConfig, name)
	}
	return f(), nil
}

// Registered returns the registered type names.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
