// Package indicator provides the rolling calculations strategies use to
// smooth quote streams.
package indicator

import (
	"github.com/shopspring/decimal"
)

// SMA is a simple moving average over a fixed window. Strategies feed it
// one observation per evaluation tick and read the smoothed value back;
// it reports zero until the window has filled.
type SMA struct {
	period int
	window []decimal.Decimal
	sum    decimal.Decimal
}

// NewSMA creates an SMA over the given window size. Periods below one are
// clamped to one.
func NewSMA(period int) *SMA {
	if period < 1 {
		period = 1
	}
	return &SMA{
		period: period,
		window: make([]decimal.Decimal, 0, period),
		sum:    decimal.Zero,
	}
}

// Update appends an observation and returns the new average, or zero while
// the window is still filling.
func (s *SMA) Update(value decimal.Decimal) decimal.Decimal {
	s.window = append(s.window, value)
	s.sum = s.sum.Add(value)

	if len(s.window) > s.period {
		s.sum = s.sum.Sub(s.window[0])
		s.window = s.window[1:]
	}

	return s.Current()
}

// Current returns the average of the current window without consuming an
// observation, or zero while the window is still filling.
func (s *SMA) Current() decimal.Decimal {
	if len(s.window) < s.period {
		return decimal.Zero
	}
	return s.sum.Div(decimal.NewFromInt(int64(s.period)))
}

// Ready reports whether the window has filled.
func (s *SMA) Ready() bool {
	return len(s.window) >= s.period
}

// Period returns the window size.
func (s *SMA) Period() int {
	return s.period
}

// Reset empties the window.
func (s *SMA) Reset() {
	s.window = s.window[:0]
	s.sum = decimal.Zero
}

// Count returns how many observations the window currently holds.
func (s *SMA) Count() int {
	return len(s.window)
}
