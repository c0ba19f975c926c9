// Package types defines shared types used across the execution agent.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of an order.
type Side int

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Opposite returns the opposite side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderKind represents the type of order sent to the broker.
type OrderKind string

const (
	OrderKindMarket    OrderKind = "MKT"
	OrderKindLimit     OrderKind = "LMT"
	OrderKindStop      OrderKind = "STP"
	OrderKindStopLimit OrderKind = "STP LMT"
)

// HasLimit returns true if the order kind carries a limit price.
func (k OrderKind) HasLimit() bool {
	return k == OrderKindLimit || k == OrderKindStopLimit
}

// Supported returns true if the kind is accepted by the gateway.
func (k OrderKind) Supported() bool {
	switch k {
	case OrderKindMarket, OrderKindLimit, OrderKindStop, OrderKindStopLimit:
		return true
	default:
		return false
	}
}

// TimeInForce controls how long an order stays working.
type TimeInForce string

const (
	TIFDay TimeInForce = "DAY"
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
)

// SecType represents the security type of a contract.
type SecType string

const (
	SecTypeStock  SecType = "STK"
	SecTypeOption SecType = "OPT"
)

// Supported returns true if the security type is accepted by the gateway.
func (s SecType) Supported() bool {
	return s == SecTypeStock || s == SecTypeOption
}

// Right represents an option right.
type Right string

const (
	RightCall Right = "C"
	RightPut  Right = "P"
)

// Contract describes a tradeable instrument.
// Options carry Expiry (YYYYMMDD), Strike and Right; a non-empty LocalSymbol
// (OCC symbol) may stand in for Expiry.
type Contract struct {
	Symbol      string
	SecType     SecType
	Exchange    string
	Currency    string
	LocalSymbol string
	Expiry      string
	Strike      decimal.Decimal
	Right       Right
	Multiplier  int
}

// IsOption returns true for option contracts.
func (c Contract) IsOption() bool {
	return c.SecType == SecTypeOption
}

// Describe returns a short human-readable contract description.
func (c Contract) Describe() string {
	if c.IsOption() {
		return fmt.Sprintf("%s %s %s %s", c.Symbol, c.Expiry, c.Strike.String(), c.Right)
	}
	return fmt.Sprintf("%s %s", c.Symbol, c.SecType)
}

// OptionContract returns a SMART-routed US equity option contract.
func OptionContract(symbol, expiry string, strike decimal.Decimal, right Right) Contract {
	return Contract{
		Symbol:     symbol,
		SecType:    SecTypeOption,
		Exchange:   "SMART",
		Currency:   "USD",
		Expiry:     expiry,
		Strike:     strike,
		Right:      right,
		Multiplier: 100,
	}
}

// StockContract returns a SMART-routed US equity contract.
func StockContract(symbol string) Contract {
	return Contract{
		Symbol:   symbol,
		SecType:  SecTypeStock,
		Exchange: "SMART",
		Currency: "USD",
	}
}

// OrderAction is an immutable order request produced by a strategy during
// evaluation. Actions are created fresh each tick and never persisted.
type OrderAction struct {
	ID         string
	StrategyID string
	Side       Side
	Kind       OrderKind
	Quantity   int
	Contract   Contract
	LimitPrice decimal.Decimal
	AuxPrice   decimal.Decimal
	TIF        TimeInForce
	Rationale  string
	CreatedAt  time.Time
}

// OrderStatus represents the lifecycle state of a broker order.
type OrderStatus int

const (
	OrderStatusSubmitted OrderStatus = iota // sent, not yet acknowledged
	OrderStatusAcknowledged
	OrderStatusPartiallyFilled
	OrderStatusFilled
	OrderStatusCancelled
	OrderStatusRejected
	OrderStatusInactive
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusSubmitted:
		return "SUBMITTED"
	case OrderStatusAcknowledged:
		return "ACKNOWLEDGED"
	case OrderStatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case OrderStatusFilled:
		return "FILLED"
	case OrderStatusCancelled:
		return "CANCELLED"
	case OrderStatusRejected:
		return "REJECTED"
	case OrderStatusInactive:
		return "INACTIVE"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal returns true if no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusInactive:
		return true
	default:
		return false
	}
}

// FillData carries fill information delivered to a strategy.
type FillData struct {
	OrderID      int64
	Status       OrderStatus
	FilledQty    int
	RemainingQty int
	AvgFillPrice decimal.Decimal
	PermID       int64
	Timestamp    time.Time
}

// ActiveOrder is the engine's lifecycle record for a working order.
// Created on submission acknowledgment, mutated on every status event,
// removed on terminal status.
type ActiveOrder struct {
	OrderID      int64
	PermID       int64
	StrategyID   string
	Status       OrderStatus
	FilledQty    int
	RemainingQty int
	AvgFillPrice decimal.Decimal
	Action       OrderAction
	PlacedAt     time.Time
	UpdatedAt    time.Time
	LastError    string
}

// Quote is the latest market data snapshot for one subscribed instrument.
type Quote struct {
	CacheKey  string
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Last      decimal.Decimal
	BidSize   int64
	AskSize   int64
	Volume    int64
	Timestamp time.Time
}

// Mid returns the bid/ask midpoint, or the last price when one side is missing.
func (q Quote) Mid() decimal.Decimal {
	if q.Bid.IsPositive() && q.Ask.IsPositive() {
		return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
	}
	return q.Last
}
