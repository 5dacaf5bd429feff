// Package arb detects cross-exchange price dislocations on matching symbols.
package arb

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantatc/crossx/internal/market"
	"github.com/quantatc/crossx/internal/metrics"
	"github.com/quantatc/crossx/internal/util"
)

// Params tunes spread detection.
type Params struct {
	// ThresholdPct is the minimum absolute spread percent to report.
	ThresholdPct float64
	// StalenessWindow is the maximum age gap between the two quotes of a pair.
	StalenessWindow time.Duration
	// HistoryCap bounds the rolling event history; oldest events are evicted.
	HistoryCap int
	// FeeRate is the per-leg taker fee used for net profit (0.001 = 0.1%).
	FeeRate float64
}

func (p Params) validate() error {
	switch {
	case p.ThresholdPct < 0:
		return fmt.Errorf("arb: threshold_pct must be >= 0, got %v", p.ThresholdPct)
	case p.StalenessWindow <= 0:
		return fmt.Errorf("arb: staleness_window must be positive, got %v", p.StalenessWindow)
	case p.HistoryCap <= 0:
		return fmt.Errorf("arb: history_cap must be positive, got %d", p.HistoryCap)
	case p.FeeRate < 0:
		return fmt.Errorf("arb: fee_rate must be >= 0, got %v", p.FeeRate)
	}
	return nil
}

// SpreadEvent is one detected dislocation. SpreadPct keeps the sign of
// (sell − buy reference); NetPct is what survives after paying the fee on
// both legs, relative to the buy price.
type SpreadEvent struct {
	Symbol       string    `json:"symbol"`
	BuyExchange  string    `json:"buy_exchange"`
	SellExchange string    `json:"sell_exchange"`
	BuyPrice     float64   `json:"buy_price"`
	SellPrice    float64   `json:"sell_price"`
	SpreadPct    float64   `json:"spread_pct"`
	NetPct       float64   `json:"net_pct"`
	Ts           time.Time `json:"ts"`
}

// Scanner compares quotes pairwise and keeps a bounded history of events.
// Safe for concurrent use.
type Scanner struct {
	mu      sync.Mutex
	params  Params
	log     zerolog.Logger
	history []SpreadEvent
}

func NewScanner(params Params, log zerolog.Logger) (*Scanner, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	return &Scanner{params: params, log: util.ComponentLogger(log, "arb")}, nil
}

// Scan compares two quotes for the same symbol. It returns nil when the
// symbols differ, when the quotes are further apart in time than the
// staleness window, or when the spread is below the threshold. Emitted
// events are appended to the rolling history.
func (s *Scanner) Scan(a, b market.Quote) *SpreadEvent {
	if a.Symbol != b.Symbol || a.Price <= 0 || b.Price <= 0 {
		return nil
	}
	gap := a.Ts.Sub(b.Ts)
	if gap < 0 {
		gap = -gap
	}
	if gap > s.params.StalenessWindow {
		return nil
	}

	spreadPct := (b.Price - a.Price) / a.Price * 100
	if math.Abs(spreadPct) < s.params.ThresholdPct {
		return nil
	}

	buy, sell := a, b
	if b.Price < a.Price {
		buy, sell = b, a
	}
	feeCost := (buy.Price + sell.Price) * s.params.FeeRate
	netPct := (sell.Price - buy.Price - feeCost) / buy.Price * 100

	ts := a.Ts
	if b.Ts.After(ts) {
		ts = b.Ts
	}
	ev := SpreadEvent{
		Symbol:       a.Symbol,
		BuyExchange:  buy.Exchange,
		SellExchange: sell.Exchange,
		BuyPrice:     buy.Price,
		SellPrice:    sell.Price,
		SpreadPct:    spreadPct,
		NetPct:       netPct,
		Ts:           ts,
	}

	s.mu.Lock()
	s.history = append(s.history, ev)
	if len(s.history) > s.params.HistoryCap {
		s.history = s.history[len(s.history)-s.params.HistoryCap:]
	}
	s.mu.Unlock()

	metrics.SpreadEvents.WithLabelValues(ev.Symbol).Inc()
	s.log.Info().
		Str("sym", ev.Symbol).
		Str("buy", ev.BuyExchange).
		Str("sell", ev.SellExchange).
		Float64("spread_pct", ev.SpreadPct).
		Float64("net_pct", ev.NetPct).
		Msg("spread event")
	return &ev
}

// Matrix scans every exchange pair in the snapshot, grouped by symbol, and
// returns the emitted events sorted by absolute net profit descending.
func (s *Scanner) Matrix(quotes []market.Quote) []SpreadEvent {
	bySymbol := make(map[string][]market.Quote)
	for _, q := range quotes {
		bySymbol[q.Symbol] = append(bySymbol[q.Symbol], q)
	}

	var events []SpreadEvent
	for _, group := range bySymbol {
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				if group[i].Exchange == group[j].Exchange {
					continue
				}
				if ev := s.Scan(group[i], group[j]); ev != nil {
					events = append(events, *ev)
				}
			}
		}
	}
	sort.Slice(events, func(i, j int) bool {
		return math.Abs(events[i].NetPct) > math.Abs(events[j].NetPct)
	})
	return events
}

// History returns a copy of the rolling event history, oldest first.
func (s *Scanner) History() []SpreadEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SpreadEvent, len(s.history))
	copy(out, s.history)
	return out
}
