package strategy

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/types"
)

func TestConfig_Merge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Symbol = "ACME"
	cfg.DealPrice = decimal.NewFromInt(40)

	err := cfg.Merge(map[string]any{
		"deal_price":     "41.25",
		"max_contracts":  10,
		"edge_threshold": 0.03,
		"order_tif":      "GTC",
		"strike":         38.0,
	})
	if err != nil {
		t.Fatalf("Merge error: %v", err)
	}

	if !cfg.DealPrice.Equal(decimal.RequireFromString("41.25")) {
		t.Errorf("DealPrice = %s, want 41.25", cfg.DealPrice)
	}
	if cfg.MaxContracts != 10 {
		t.Errorf("MaxContracts = %d, want 10", cfg.MaxContracts)
	}
	if !cfg.EdgeThreshold.Equal(decimal.NewFromFloat(0.03)) {
		t.Errorf("EdgeThreshold = %s, want 0.03", cfg.EdgeThreshold)
	}
	if cfg.OrderTIF != types.TIFGTC {
		t.Errorf("OrderTIF = %s, want GTC", cfg.OrderTIF)
	}
	if cfg.Params["strike"] != 38.0 {
		t.Error("unknown key strike did not land in Params")
	}
	// Untouched fields survive the merge.
	if cfg.Symbol != "ACME" {
		t.Errorf("Symbol = %s, want ACME", cfg.Symbol)
	}
}

func TestConfig_MergeRejectsBadTypes(t *testing.T) {
	tests := []struct {
		name    string
		partial map[string]any
	}{
		{"deal_price", map[string]any{"deal_price": []int{1}}},
		{"max_contracts", map[string]any{"max_contracts": "many"}},
		{"symbol", map[string]any{"symbol": 7}},
		{"order_tif", map[string]any{"order_tif": 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			if err := cfg.Merge(tt.partial); !errors.Is(err, types.ErrInvalidConfig) {
				t.Errorf("Merge(%v) error = %v, want ErrInvalidConfig", tt.partial, err)
			}
		})
	}
}

func TestConfig_Clone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Params["k"] = "v"

	cp := cfg.Clone()
	cp.Params["k"] = "changed"
	cp.MaxContracts = 99

	if cfg.Params["k"] != "v" {
		t.Error("clone shares Params with the original")
	}
	if cfg.MaxContracts == 99 {
		t.Error("clone shares scalar fields with the original")
	}
}

func TestConfig_SnapshotRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Type = "merger_call"
	cfg.Symbol = "ACME"
	cfg.DealPrice = decimal.RequireFromString("40.50")

	data, err := cfg.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot error: %v", err)
	}

	var out map[string]any
	if err := yaml.Unmarshal(data, &out); err != nil {
		t.Fatalf("snapshot is not valid YAML: %v", err)
	}
	if out["symbol"] != "ACME" {
		t.Errorf("symbol = %v, want ACME", out["symbol"])
	}
	if out["deal_price"] != "40.5" {
		t.Errorf("deal_price = %v, want \"40.5\"", out["deal_price"])
	}
}

func TestRegistry(t *testing.T) {
	s, err := New("merger_call")
	if err != nil {
		t.Fatalf("New(merger_call) error: %v", err)
	}
	if s == nil {
		t.Fatal("New returned nil strategy")
	}

	if _, err := New("no_such_type"); !errors.Is(err, types.ErrInvalidConfig) {
		t.Errorf("New(no_such_type) error = %v, want ErrInvalidConfig", err)
	}

	found := false
	for _, name := range Registered() {
		if name == "merger_call" {
			found = true
		}
	}
	if !found {
		t.Error("merger_call missing from Registered()")
	}
}
