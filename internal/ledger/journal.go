package ledger

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/strategy"
	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/types"
)

// Journal wraps a strategy so its order lifecycle is persisted. Evaluation
// passes through untouched; placement and fill hooks are forwarded first and
// then recorded, so the strategy's in-memory state always leads the ledger.
// Persistence failures are logged and never fail a hook.
type Journal struct {
	strategy.Strategy

	strategyID string
	ledger     Ledger
	logger     *slog.Logger

	mu        sync.Mutex
	actions   map[int64]types.OrderAction // working order to originating action
	positions map[int64]string            // working order to position id
}

// NewJournal wraps inner so its fills land in the ledger under strategyID.
func NewJournal(strategyID string, inner strategy.Strategy, l Ledger, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{
		Strategy:   inner,
		strategyID: strategyID,
		ledger:     l,
		logger:     logger,
		actions:    make(map[int64]types.OrderAction),
		positions:  make(map[int64]string),
	}
}

// Unwrap returns the wrapped strategy.
func (j *Journal) Unwrap() strategy.Strategy { return j.Strategy }

// OnOrderPlaced remembers the action so fills can be tied back to a contract.
func (j *Journal) OnOrderPlaced(orderID int64, action types.OrderAction, cfg *strategy.Config) {
	j.Strategy.OnOrderPlaced(orderID, action, cfg)

	j.mu.Lock()
	j.actions[orderID] = action
	j.mu.Unlock()
}

// OnFill forwards the fill, then records it. The first fill for an order opens
// a ledger position; later fills update it under the same position id.
func (j *Journal) OnFill(orderID int64, fill types.FillData, cfg *strategy.Config) {
	j.Strategy.OnFill(orderID, fill, cfg)

	j.mu.Lock()
	action, known := j.actions[orderID]
	positionID, open := j.positions[orderID]
	if !open {
		positionID = uuid.New().String()
		j.positions[orderID] = positionID
	}
	if fill.RemainingQty == 0 {
		delete(j.actions, orderID)
		delete(j.positions, orderID)
	}
	j.mu.Unlock()

	if !known {
		// Manual or recovered order; nothing to tie the fill to.
		j.logger.Warn("fill for unknown order skipped by ledger",
			"strategy_id", j.strategyID,
			"order_id", orderID,
		)
		return
	}

	ctx := context.Background()

	if !open {
		configYAML, err := cfg.Snapshot()
		if err != nil {
			j.logger.Warn("config snapshot failed", "strategy_id", j.strategyID, "err", err)
		}

		position := Position{
			ID:           positionID,
			StrategyID:   j.strategyID,
			StrategyType: cfg.Type,
			Symbol:       action.Contract.Symbol,
			SecType:      action.Contract.SecType,
			Expiry:       action.Contract.Expiry,
			Strike:       action.Contract.Strike,
			Right:        action.Contract.Right,
			Contracts:    int64(fill.FilledQty),
			EntryPrice:   fill.AvgFillPrice,
			EntryTime:    fill.Timestamp,
			ConfigYAML:   configYAML,
			RuntimeState: j.runtimeState(),
			Open:         true,
		}
		if err := j.ledger.SavePosition(ctx, position); err != nil {
			j.logger.Error("ledger position save failed",
				"strategy_id", j.strategyID,
				"position_id", positionID,
				"err", err,
			)
		}
	} else if err := j.ledger.UpdateRuntimeState(ctx, positionID, j.runtimeState()); err != nil {
		j.logger.Warn("ledger runtime state update failed",
			"strategy_id", j.strategyID,
			"position_id", positionID,
			"err", err,
		)
	}

	record := FillRecord{
		PositionID: positionID,
		OrderID:    orderID,
		ExecID:     uuid.New().String(),
		Side:       action.Side,
		Quantity:   decimal.NewFromInt(int64(fill.FilledQty)),
		Price:      fill.AvgFillPrice,
		Commission: decimal.Zero,
		Time:       fill.Timestamp,
	}
	if err := j.ledger.SaveFill(ctx, record); err != nil {
		j.logger.Warn("ledger fill save failed",
			"strategy_id", j.strategyID,
			"order_id", orderID,
			"err", err,
		)
	}
}

// OnOrderDead drops the pending action.
func (j *Journal) OnOrderDead(orderID int64, reason error, cfg *strategy.Config) {
	j.Strategy.OnOrderDead(orderID, reason, cfg)

	j.mu.Lock()
	delete(j.actions, orderID)
	delete(j.positions, orderID)
	j.mu.Unlock()
}

// OnStop forwards the hook, then writes a final runtime state snapshot for
// every open position so a restart resumes from the latest state.
func (j *Journal) OnStop(cfg *strategy.Config) {
	j.Strategy.OnStop(cfg)

	ctx := context.Background()
	positions, err := j.ledger.GetPositionsByStrategy(ctx, j.strategyID)
	if err != nil {
		j.logger.Warn("ledger snapshot on stop failed", "strategy_id", j.strategyID, "err", err)
		return
	}

	state := j.runtimeState()
	for _, p := range positions {
		if !p.Open {
			continue
		}
		if err := j.ledger.UpdateRuntimeState(ctx, p.ID, state); err != nil {
			j.logger.Warn("ledger runtime state update failed",
				"strategy_id", j.strategyID,
				"position_id", p.ID,
				"err", err,
			)
		}
	}
}

func (j *Journal) runtimeState() []byte {
	state := j.Strategy.GetStrategyState()
	if state == nil {
		return nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		j.logger.Warn("runtime state marshal failed", "strategy_id", j.strategyID, "err", err)
		return nil
	}
	return data
}

// restorer is implemented by strategies that can rebuild a holding on reload.
type restorer interface {
	RestoreHolding(contracts int)
}

// Restore replays the ledger's open positions for this strategy into the
// wrapped strategy. Called once at startup before the engine starts ticking.
func (j *Journal) Restore(ctx context.Context) error {
	r, ok := j.Strategy.(restorer)
	if !ok {
		return nil
	}

	positions, err := j.ledger.GetPositionsByStrategy(ctx, j.strategyID)
	if err != nil {
		return err
	}

	var contracts int64
	for _, p := range positions {
		if p.Open {
			contracts += p.Contracts
		}
	}

	if contracts > 0 {
		r.RestoreHolding(int(contracts))
		j.logger.Info("position restored from ledger",
			"strategy_id", j.strategyID,
			"contracts", contracts,
		)
	}

	return nil
}
