// Package ledger persists positions and fills so an agent restart can
// reconstruct what each strategy is holding.
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/types"
)

// Ledger defines the interface for position persistence.
type Ledger interface {
	// Position operations
	SavePosition(ctx context.Context, position Position) error
	GetOpenPositions(ctx context.Context) ([]Position, error)
	GetPositionsByStrategy(ctx context.Context, strategyID string) ([]Position, error)
	UpdateRuntimeState(ctx context.Context, positionID string, state []byte) error
	ClosePosition(ctx context.Context, positionID string, exitPrice decimal.Decimal, exitTime time.Time) error

	// Fill audit trail
	SaveFill(ctx context.Context, fill FillRecord) error
	GetFills(ctx context.Context, positionID string) ([]FillRecord, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// Position is a persisted position: the entry fill, the instrument, and the
// strategy that owns it. ConfigYAML carries the owning strategy's config as
// saved at entry time; RuntimeState is an opaque blob the strategy uses to
// rebuild its in-memory state on reload.
type Position struct {
	ID           string
	StrategyID   string
	StrategyType string

	Symbol    string
	SecType   types.SecType
	Expiry    string
	Strike    decimal.Decimal
	Right     types.Right
	Contracts int64

	EntryPrice decimal.Decimal
	EntryTime  time.Time
	ExitPrice  decimal.Decimal
	ExitTime   *time.Time

	ConfigYAML   []byte
	RuntimeState []byte

	Open      bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FillRecord is one execution, kept for the audit trail.
type FillRecord struct {
	ID         int64
	PositionID string
	OrderID    int64
	ExecID     string
	Side       types.Side
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Commission decimal.Decimal
	Time       time.Time
}
