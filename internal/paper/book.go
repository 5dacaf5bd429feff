// Package paper implements the virtual position and ledger state machine shared by
// live paper trading and backtesting, so both modes account identically.
package paper

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantatc/crossx/internal/execution"
	"github.com/quantatc/crossx/internal/market"
	"github.com/quantatc/crossx/internal/metrics"
	"github.com/quantatc/crossx/internal/strategy"
)

// SequenceError reports an out-of-order bar delivery. It is fatal to the
// affected symbol's run but never to the process.
type SequenceError struct {
	Symbol string
	Got    time.Time
	Last   time.Time
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("bar for %s at %s arrived at or before last processed %s",
		e.Symbol, e.Got.Format(time.RFC3339), e.Last.Format(time.RFC3339))
}

// Position is the single open exposure for a symbol.
type Position struct {
	Symbol     string
	Side       strategy.Signal
	EntryPrice float64
	Size       float64
	StopLoss   float64
	TakeProfit float64
	OpenedAt   time.Time
}

// Trade is the closed-position record appended to the trade log.
type Trade struct {
	Symbol     string
	Side       strategy.Signal
	EntryPrice float64
	ExitPrice  float64
	Size       float64
	PnL        float64
	Fees       float64
	OpenedAt   time.Time
	ClosedAt   time.Time
	ExitReason execution.Reason
}

// EquityPoint is one mark-to-market sample of total account value.
type EquityPoint struct {
	Ts     time.Time
	Equity float64
}

// Params holds every sizing and accounting knob. Construction fails fast on
// values the state machine cannot run with.
type Params struct {
	InitialBalance   float64
	RiskFraction     float64
	ATRMultiplier    float64
	RewardRatio      float64
	MinOrderNotional float64
	FeeRate          float64
}

func (p Params) validate() error {
	switch {
	case p.InitialBalance <= 0:
		return fmt.Errorf("paper: initial balance must be positive")
	case p.RiskFraction <= 0 || p.RiskFraction > 1:
		return fmt.Errorf("paper: risk fraction must be in (0, 1]")
	case p.ATRMultiplier <= 0:
		return fmt.Errorf("paper: atr multiplier must be positive")
	case p.RewardRatio <= 0:
		return fmt.Errorf("paper: reward ratio must be positive")
	case p.FeeRate < 0:
		return fmt.Errorf("paper: fee rate must not be negative")
	}
	return nil
}

// Book tracks virtual cash, open positions, fills, trades, and the equity curve.
// Margin-style accounting: cash moves only on realized P&L and fees, equity adds
// the open position's unrealized P&L on top.
type Book struct {
	mu     sync.Mutex
	params Params
	exec   execution.Executor // nil in simulation mode; authoritative when set
	log    zerolog.Logger

	cash      float64
	realized  float64
	positions map[string]*Position
	lastBar   map[string]time.Time
	fills     []execution.Fill
	trades    []Trade
	curve     []EquityPoint
}

// Snapshot is a read-only copy of the account state.
type Snapshot struct {
	Cash        float64
	RealizedPnL float64
	Equity      float64
	Positions   map[string]Position
}

// Option configures Book construction.
type Option func(*Book)

// WithExecutor routes entries and exits through a live executor whose fill
// prices override the simulated ones.
func WithExecutor(exec execution.Executor) Option {
	return func(b *Book) { b.exec = exec }
}

// WithLogger attaches a structured logger.
func WithLogger(log zerolog.Logger) Option {
	return func(b *Book) { b.log = log }
}

// NewBook constructs a ledger seeded with the configured balance.
func NewBook(params Params, opts ...Option) (*Book, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	b := &Book{
		params:    params,
		log:       zerolog.Nop(),
		cash:      params.InitialBalance,
		positions: make(map[string]*Position),
		lastBar:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// OnBar applies one closed bar for a symbol: exit checks first, then entry, then
// a mark-to-market sample. Bars must arrive in strictly increasing timestamp
// order per symbol; anything else is a caller error.
func (b *Book) OnBar(symbol string, bar market.Bar, sig strategy.Signal, atr float64) ([]execution.Fill, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if last, ok := b.lastBar[symbol]; ok && !bar.Ts.After(last) {
		return nil, &SequenceError{Symbol: symbol, Got: bar.Ts, Last: last}
	}
	b.lastBar[symbol] = bar.Ts

	var fills []execution.Fill
	var orderErr error

	if pos := b.positions[symbol]; pos != nil {
		if price, reason, hit := exitTrigger(pos, bar, sig); hit {
			fill, err := b.closeLocked(pos, price, bar.Ts, reason)
			if err != nil {
				orderErr = err
			} else {
				fills = append(fills, fill)
			}
		}
	}

	if orderErr == nil && b.positions[symbol] == nil && sig != strategy.Flat {
		fill, opened, err := b.openLocked(symbol, bar, sig, atr)
		switch {
		case err != nil:
			orderErr = err
		case opened:
			fills = append(fills, fill)
		}
	}

	b.markLocked(symbol, bar)
	return fills, orderErr
}

// exitTrigger decides whether the open position leaves on this bar.
// Stop beats target when both are inside the bar's range, and both beat a
// signal-driven exit.
func exitTrigger(pos *Position, bar market.Bar, sig strategy.Signal) (float64, execution.Reason, bool) {
	stopHit := (pos.Side == strategy.Long && bar.Low <= pos.StopLoss) ||
		(pos.Side == strategy.Short && bar.High >= pos.StopLoss)
	targetHit := (pos.Side == strategy.Long && bar.High >= pos.TakeProfit) ||
		(pos.Side == strategy.Short && bar.Low <= pos.TakeProfit)

	switch {
	case stopHit:
		return pos.StopLoss, execution.ReasonStop, true
	case targetHit:
		return pos.TakeProfit, execution.ReasonTakeProfit, true
	case sig != pos.Side:
		return bar.Close, execution.ReasonSignal, true
	}
	return 0, "", false
}

func (b *Book) openLocked(symbol string, bar market.Bar, sig strategy.Signal, atr float64) (execution.Fill, bool, error) {
	entry := bar.Close
	stopDistance := atr * b.params.ATRMultiplier
	if stopDistance <= 0 {
		b.log.Debug().Str("sym", symbol).Msg("entry skipped: no volatility estimate")
		return execution.Fill{}, false, nil
	}

	equity := b.equityLocked(map[string]float64{symbol: entry})
	size := equity * b.params.RiskFraction / stopDistance
	if size <= 0 || size*entry < b.params.MinOrderNotional {
		b.log.Debug().Str("sym", symbol).Float64("size", size).
			Msg("entry skipped: below minimum order size")
		return execution.Fill{}, false, nil
	}

	side := execution.Buy
	if sig == strategy.Short {
		side = execution.Sell
	}
	fill := execution.Fill{
		Symbol: symbol, Side: side, Price: entry, Size: size,
		Ts: bar.Ts, Reason: execution.ReasonSignal,
	}
	if b.exec != nil {
		live, err := b.exec.Submit(execution.Order{
			Symbol: symbol, Side: side, Qty: size, Price: entry,
			Reason: execution.ReasonSignal, Ts: bar.Ts,
		})
		if err != nil {
			b.log.Warn().Err(err).Str("sym", symbol).Msg("entry order rejected")
			return execution.Fill{}, false, err
		}
		fill = live
	}

	// Stops anchor to the actual fill price, not the requested one.
	stop := fill.Price - stopDistance
	target := fill.Price + stopDistance*b.params.RewardRatio
	if sig == strategy.Short {
		stop = fill.Price + stopDistance
		target = fill.Price - stopDistance*b.params.RewardRatio
	}

	b.positions[symbol] = &Position{
		Symbol:     symbol,
		Side:       sig,
		EntryPrice: fill.Price,
		Size:       fill.Size,
		StopLoss:   stop,
		TakeProfit: target,
		OpenedAt:   bar.Ts,
	}
	b.cash -= fill.Price * fill.Size * b.params.FeeRate
	b.fills = append(b.fills, fill)
	if b.exec == nil { // a wired executor already counted this fill
		metrics.FillsTotal.WithLabelValues(symbol, string(side), string(execution.ReasonSignal)).Inc()
	}
	return fill, true, nil
}

func (b *Book) closeLocked(pos *Position, price float64, ts time.Time, reason execution.Reason) (execution.Fill, error) {
	side := execution.Sell
	if pos.Side == strategy.Short {
		side = execution.Buy
	}
	fill := execution.Fill{
		Symbol: pos.Symbol, Side: side, Price: price, Size: pos.Size,
		Ts: ts, Reason: reason,
	}
	if b.exec != nil {
		live, err := b.exec.Submit(execution.Order{
			Symbol: pos.Symbol, Side: side, Qty: pos.Size, Price: price,
			Reason: reason, Ts: ts,
		})
		if err != nil {
			b.log.Warn().Err(err).Str("sym", pos.Symbol).Msg("exit order rejected")
			return execution.Fill{}, err
		}
		fill = live
	}

	pnl := (fill.Price - pos.EntryPrice) * pos.Size
	if pos.Side == strategy.Short {
		pnl = -pnl
	}
	entryFee := pos.EntryPrice * pos.Size * b.params.FeeRate
	exitFee := fill.Price * pos.Size * b.params.FeeRate

	b.cash += pnl - exitFee
	b.realized += pnl - entryFee - exitFee
	b.trades = append(b.trades, Trade{
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  fill.Price,
		Size:       pos.Size,
		PnL:        pnl - entryFee - exitFee,
		Fees:       entryFee + exitFee,
		OpenedAt:   pos.OpenedAt,
		ClosedAt:   ts,
		ExitReason: reason,
	})
	b.fills = append(b.fills, fill)
	delete(b.positions, pos.Symbol)
	if b.exec == nil {
		metrics.FillsTotal.WithLabelValues(pos.Symbol, string(side), string(reason)).Inc()
	}
	return fill, nil
}

// ForceClose flattens the symbol's position at the given price, if any. Used by
// the backtest engine at the final bar so every run ends flat.
func (b *Book) ForceClose(symbol string, price float64, ts time.Time) (execution.Fill, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos := b.positions[symbol]
	if pos == nil {
		return execution.Fill{}, false, nil
	}
	fill, err := b.closeLocked(pos, price, ts, execution.ReasonManual)
	if err != nil {
		return execution.Fill{}, false, err
	}
	point := EquityPoint{Ts: ts, Equity: b.equityLocked(nil)}
	if n := len(b.curve); n > 0 && b.curve[n-1].Ts.Equal(ts) {
		b.curve[n-1] = point
	} else {
		b.curve = append(b.curve, point)
	}
	return fill, true, nil
}

func (b *Book) markLocked(symbol string, bar market.Bar) {
	equity := b.equityLocked(map[string]float64{symbol: bar.Close})
	b.curve = append(b.curve, EquityPoint{Ts: bar.Ts, Equity: equity})
	metrics.Equity.WithLabelValues(symbol).Set(equity)
}

// equityLocked values the account with the supplied marks; positions without a
// mark fall back to their entry price.
func (b *Book) equityLocked(marks map[string]float64) float64 {
	equity := b.cash
	for sym, pos := range b.positions {
		mark, ok := marks[sym]
		if !ok {
			mark = pos.EntryPrice
		}
		unrealized := (mark - pos.EntryPrice) * pos.Size
		if pos.Side == strategy.Short {
			unrealized = -unrealized
		}
		equity += unrealized
	}
	return equity
}

// InitialBalance returns the configured starting cash.
func (b *Book) InitialBalance() float64 { return b.params.InitialBalance }

// Snapshot returns a copy of the account state marked with the supplied prices.
func (b *Book) Snapshot(marks map[string]float64) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	positions := make(map[string]Position, len(b.positions))
	for sym, pos := range b.positions {
		positions[sym] = *pos
	}
	return Snapshot{
		Cash:        b.cash,
		RealizedPnL: b.realized,
		Equity:      b.equityLocked(marks),
		Positions:   positions,
	}
}

// EquityCurve returns a copy of the mark-to-market history.
func (b *Book) EquityCurve() []EquityPoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]EquityPoint, len(b.curve))
	copy(out, b.curve)
	return out
}

// Trades returns a copy of the closed-trade log.
func (b *Book) Trades() []Trade {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Trade, len(b.trades))
	copy(out, b.trades)
	return out
}

// Fills returns a copy of every recorded fill.
func (b *Book) Fills() []execution.Fill {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]execution.Fill, len(b.fills))
	copy(out, b.fills)
	return out
}

// OpenPosition returns the open position for symbol, if any.
func (b *Book) OpenPosition(symbol string) (Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos := b.positions[symbol]
	if pos == nil {
		return Position{}, false
	}
	return *pos, true
}
