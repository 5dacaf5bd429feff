// Package market defines the normalized OHLCV data model shared by every engine component.
package market

import (
	"fmt"
	"time"
)

// Bar is one OHLCV interval for a symbol.
type Bar struct {
	Ts     time.Time `json:"ts"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Quote is a point-in-time price snapshot from one venue. Value semantics keep
// snapshot reads atomic for the arbitrage scanner.
type Quote struct {
	Exchange string    `json:"exchange"`
	Symbol   string    `json:"symbol"`
	Price    float64   `json:"price"`
	Ts       time.Time `json:"ts"`
}

// Series is an ordered bar sequence for one (exchange, symbol, interval) tuple.
// Timestamps are strictly increasing; Append enforces the invariant.
type Series struct {
	Exchange string
	Symbol   string
	Interval string
	bars     []Bar
}

// DataUnavailableError signals an ingestion gap or venue outage. Callers skip the
// cycle and keep running; it is never fatal to the process.
type DataUnavailableError struct {
	Exchange string
	Symbol   string
	Err      error
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("market data unavailable for %s on %s: %v", e.Symbol, e.Exchange, e.Err)
}

func (e *DataUnavailableError) Unwrap() error { return e.Err }

// NewSeries creates an empty series, optionally pre-sizing storage.
func NewSeries(exchange, symbol, interval string, capacity int) *Series {
	if capacity < 0 {
		capacity = 0
	}
	return &Series{
		Exchange: exchange,
		Symbol:   symbol,
		Interval: interval,
		bars:     make([]Bar, 0, capacity),
	}
}

// Append adds one bar, rejecting duplicates and out-of-order timestamps.
func (s *Series) Append(bar Bar) error {
	if n := len(s.bars); n > 0 && !bar.Ts.After(s.bars[n-1].Ts) {
		return fmt.Errorf("series %s@%s: bar timestamp %s not after %s",
			s.Symbol, s.Exchange, bar.Ts.Format(time.RFC3339), s.bars[len(s.bars)-1].Ts.Format(time.RFC3339))
	}
	s.bars = append(s.bars, bar)
	return nil
}

// Extend appends bars in order, silently skipping any that overlap the existing window.
// New bars beyond the last known timestamp must still be strictly increasing.
func (s *Series) Extend(bars []Bar) error {
	for _, bar := range bars {
		if n := len(s.bars); n > 0 && !bar.Ts.After(s.bars[n-1].Ts) {
			continue
		}
		if err := s.Append(bar); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of bars held.
func (s *Series) Len() int { return len(s.bars) }

// At returns the bar at index i.
func (s *Series) At(i int) Bar { return s.bars[i] }

// Last returns the most recent bar and false when the series is empty.
func (s *Series) Last() (Bar, bool) {
	if len(s.bars) == 0 {
		return Bar{}, false
	}
	return s.bars[len(s.bars)-1], true
}

// Bars returns a copy of the underlying bars.
func (s *Series) Bars() []Bar {
	out := make([]Bar, len(s.bars))
	copy(out, s.bars)
	return out
}

// Slice returns a new series holding a copy of bars [from, to). Bounds are
// clamped to the stored window; an inverted range yields an empty series.
func (s *Series) Slice(from, to int) *Series {
	if from < 0 {
		from = 0
	}
	if to > len(s.bars) {
		to = len(s.bars)
	}
	if from > to {
		from = to
	}
	out := NewSeries(s.Exchange, s.Symbol, s.Interval, to-from)
	out.bars = append(out.bars, s.bars[from:to]...)
	return out
}
