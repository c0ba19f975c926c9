package ibkr

import (
	"fmt"

	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/types"
)

// Known TWS error codes.
const (
	codeDuplicateOrderID   = 103
	codeCannotModifyFilled = 104
	codeNoSecurityDef      = 200
	codeOrderRejected      = 201
	codeOrderCancelled     = 202
	codeInvalidOrderType   = 387
	codePriceOutOfRange    = 110
	codeMarketDataLines    = 101
	codeConnectivityLost   = 1100
	codeConnectivityOK     = 1101
	codeConnectivityOKData = 1102
)

// translateError maps a TWS error code to a typed sentinel where known.
// The broker message text is preserved for diagnostics.
func translateError(code int, msg string) error {
	switch code {
	case codeOrderRejected:
		return fmt.Errorf("%w: code %d: %s", types.ErrOrderRejected, code, msg)
	case codeOrderCancelled:
		return fmt.Errorf("%w: code %d: %s", types.ErrOrderRejected, code, msg)
	case codeDuplicateOrderID, codeInvalidOrderType, codePriceOutOfRange, codeCannotModifyFilled:
		return fmt.Errorf("%w: code %d: %s", types.ErrInvalidOrder, code, msg)
	case codeNoSecurityDef:
		return fmt.Errorf("%w: code %d: %s", types.ErrInvalidContract, code, msg)
	case codeMarketDataLines:
		return fmt.Errorf("%w: code %d: %s", types.ErrInsufficientMarketDataCapacity, code, msg)
	case codeConnectivityLost:
		return fmt.Errorf("%w: code %d: %s", types.ErrConnectionDown, code, msg)
	default:
		return fmt.Errorf("%w: code %d: %s", types.ErrOrderRejected, code, msg)
	}
}

// isNotice reports whether a TWS code is informational rather than an error.
// The 2100 block carries farm connectivity notices and similar chatter.
func isNotice(code int) bool {
	return code >= 2100 && code < 2200
}
