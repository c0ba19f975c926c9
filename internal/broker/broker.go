// Package broker provides broker connectivity for order execution.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/types"
)

// UnboundOrderID is the sentinel for an order id not yet assigned by the broker.
const UnboundOrderID int64 = 0

// ConnectionState represents the broker connection state.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Order holds the broker-facing parameters of an order placement.
type Order struct {
	Action     types.Side
	Quantity   int
	Kind       types.OrderKind
	LimitPrice decimal.Decimal
	AuxPrice   decimal.Decimal
	TIF        types.TimeInForce
}

// OrderResult is the definitive answer to a synchronous placement.
type OrderResult struct {
	OrderID      int64
	PermID       int64
	Status       types.OrderStatus
	FilledQty    int
	RemainingQty int
	AvgFillPrice decimal.Decimal
}

// OrderSnapshot is one entry of the live order book. The book reflects broker
// ground truth: orders placed outside this process are bound and visible too.
type OrderSnapshot struct {
	OrderID      int64
	PermID       int64
	ClientID     int
	Contract     types.Contract
	Order        Order
	Status       types.OrderStatus
	FilledQty    int
	RemainingQty int
	AvgFillPrice decimal.Decimal
	LastError    string
	LastUpdate   time.Time
}

// PositionSnapshot is one entry of a full broker position dump.
type PositionSnapshot struct {
	Account  string
	Contract types.Contract
	Quantity int
	AvgCost  decimal.Decimal
}

// StatusEvent is delivered for every order status change the broker reports.
type StatusEvent struct {
	OrderID      int64
	PermID       int64
	Status       types.OrderStatus
	FilledQty    int
	RemainingQty int
	AvgFillPrice decimal.Decimal
	LastError    string
	Timestamp    time.Time
}

// ExecutionEvent is delivered for every execution report. Audit only;
// StatusEvent is authoritative for state transitions.
type ExecutionEvent struct {
	OrderID   int64
	ExecID    string
	Contract  types.Contract
	Side      types.Side
	Shares    int
	Price     decimal.Decimal
	Timestamp time.Time
}

// StatusListener receives order status events.
type StatusListener func(StatusEvent)

// ExecutionListener receives execution detail events.
type ExecutionListener func(ExecutionEvent)

// Gateway is the synchronous facade over the broker's callback-driven API.
type Gateway interface {
	// PlaceOrderSync submits an order and blocks until the broker delivers a
	// matching status or error callback, or the timeout elapses.
	PlaceOrderSync(ctx context.Context, contract types.Contract, order Order, timeout time.Duration) (*OrderResult, error)

	// ModifyOrderSync resubmits under an existing broker order id.
	ModifyOrderSync(ctx context.Context, orderID int64, contract types.Contract, order Order, timeout time.Duration) (*OrderResult, error)

	// CancelOrderSync requests cancellation; confirmation arrives later as a
	// status event.
	CancelOrderSync(orderID int64) error

	// GetOpenOrdersSnapshot returns the open orders known to the broker.
	// When forceRefresh is false the live book serves the request directly.
	GetOpenOrdersSnapshot(ctx context.Context, forceRefresh bool) ([]OrderSnapshot, error)

	// GetPositionsSnapshot requests a full broker position dump and blocks
	// for the terminating signal.
	GetPositionsSnapshot(ctx context.Context) ([]PositionSnapshot, error)

	// SetStatusListener registers the single status listener (nil deregisters).
	SetStatusListener(l StatusListener)

	// SetExecutionListener registers the single execution listener (nil deregisters).
	SetExecutionListener(l ExecutionListener)

	IsConnected() bool
}

// ValidateContract checks a contract locally, without a broker round trip.
func ValidateContract(c types.Contract) error {
	if c.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", types.ErrInvalidContract)
	}
	if !c.SecType.Supported() {
		return fmt.Errorf("%w: unsupported security type %q", types.ErrInvalidContract, c.SecType)
	}
	if c.IsOption() {
		if c.Expiry == "" && c.LocalSymbol == "" {
			return fmt.Errorf("%w: option needs expiry or local symbol", types.ErrInvalidContract)
		}
		if !c.Strike.IsPositive() {
			return fmt.Errorf("%w: option needs a positive strike", types.ErrInvalidContract)
		}
		if c.Right != types.RightCall && c.Right != types.RightPut {
			return fmt.Errorf("%w: option needs right C or P", types.ErrInvalidContract)
		}
	}
	return nil
}

// ValidateOrder checks order parameters locally, without a broker round trip.
func ValidateOrder(o Order) error {
	if o.Action != types.SideBuy && o.Action != types.SideSell {
		return fmt.Errorf("%w: unsupported action", types.ErrInvalidOrder)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", types.ErrInvalidOrder, o.Quantity)
	}
	if !o.Kind.Supported() {
		return fmt.Errorf("%w: unsupported order kind %q", types.ErrInvalidOrder, o.Kind)
	}
	if o.Kind.HasLimit() && o.LimitPrice.IsNegative() {
		return fmt.Errorf("%w: negative limit price", types.ErrInvalidOrder)
	}
	return nil
}
