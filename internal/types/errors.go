package types

import "errors"

// Sentinel errors for the execution agent.
var (
	// Local validation errors (no broker round trip)
	ErrInvalidOrder    = errors.New("invalid order")
	ErrInvalidContract = errors.New("invalid contract")

	// Gateway errors
	ErrOrderTimeout  = errors.New("order timeout")
	ErrOrderRejected = errors.New("order rejected by broker")
	ErrNotConnected  = errors.New("broker not connected")

	// Subscription errors
	ErrInsufficientMarketDataCapacity = errors.New("insufficient market data capacity")

	// Safety gate rejections
	ErrBudgetExhausted    = errors.New("order budget exhausted")
	ErrFlipFlopDetected   = errors.New("flip-flop detected: rapid repeated submission")
	ErrInflightCapReached = errors.New("in-flight order cap reached")
	ErrConnectionDown     = errors.New("broker connection down")

	// Engine state errors
	ErrStrategyExists   = errors.New("strategy already loaded")
	ErrStrategyNotFound = errors.New("strategy not found")
	ErrEngineRunning    = errors.New("engine already running")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
)
