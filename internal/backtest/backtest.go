// Package backtest replays historical series through the signal generator and
// paper book, then derives performance metrics from the run artifacts.
package backtest

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/quantatc/crossx/internal/execution"
	"github.com/quantatc/crossx/internal/market"
	"github.com/quantatc/crossx/internal/paper"
	"github.com/quantatc/crossx/internal/strategy"
)

// Report is the read-only outcome of one backtest run. Every metric is derived
// solely from the equity curve and trade log, never recomputed from raw bars.
type Report struct {
	Symbol       string
	Trades       []paper.Trade
	Fills        []execution.Fill
	EquityCurve  []paper.EquityPoint
	WinRate      float64
	MaxDrawdown  float64
	TotalReturn  float64
	SharpeRatio  float64
	FinalEquity  float64
	InitialCash  float64
	BarsReplayed int
}

// Engine runs deterministic single-threaded replays.
type Engine struct {
	gen    *strategy.Generator
	params paper.Params
	log    zerolog.Logger
}

// NewEngine builds an engine from a generator and ledger parameters.
func NewEngine(gen *strategy.Generator, params paper.Params, log zerolog.Logger) *Engine {
	return &Engine{gen: gen, params: params, log: log}
}

// Run replays every bar of the series through a fresh book. Any position still
// open at the final bar is force-closed at its close so every run ends flat.
func (e *Engine) Run(series *market.Series) (*Report, error) {
	if series.Len() == 0 {
		return nil, fmt.Errorf("backtest: empty series for %s", series.Symbol)
	}

	book, err := paper.NewBook(e.params, paper.WithLogger(e.log))
	if err != nil {
		return nil, err
	}

	frame, signals := e.gen.Generate(series)
	for i := 0; i < series.Len(); i++ {
		bar := series.At(i)
		atr := 0.0
		if v := frame.ATR[i]; !math.IsNaN(v) {
			atr = v
		}
		if _, err := book.OnBar(series.Symbol, bar, signals[i], atr); err != nil {
			return nil, fmt.Errorf("backtest %s at bar %d: %w", series.Symbol, i, err)
		}
	}

	last, _ := series.Last()
	if _, closed, err := book.ForceClose(series.Symbol, last.Close, last.Ts); err != nil {
		return nil, err
	} else if closed {
		e.log.Debug().Str("sym", series.Symbol).Msg("force-closed open position at end of replay")
	}

	report := buildReport(series.Symbol, book)
	report.BarsReplayed = series.Len()
	return report, nil
}

func buildReport(symbol string, book *paper.Book) *Report {
	trades := book.Trades()
	curve := book.EquityCurve()
	initial := book.InitialBalance()

	final := initial
	if len(curve) > 0 {
		final = curve[len(curve)-1].Equity
	}

	return &Report{
		Symbol:      symbol,
		Trades:      trades,
		Fills:       book.Fills(),
		EquityCurve: curve,
		WinRate:     winRate(trades),
		MaxDrawdown: maxDrawdown(curve, initial),
		TotalReturn: final/initial - 1,
		SharpeRatio: sharpe(curve),
		FinalEquity: final,
		InitialCash: initial,
	}
}

func winRate(trades []paper.Trade) float64 {
	if len(trades) == 0 {
		return 0
	}
	wins := 0
	for _, tr := range trades {
		if tr.PnL > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(trades))
}

// maxDrawdown is the largest fractional peak-to-trough decline of the curve,
// with the starting balance as the initial peak.
func maxDrawdown(curve []paper.EquityPoint, initial float64) float64 {
	peak := initial
	worst := 0.0
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			if dd := (peak - p.Equity) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// sharpe is the risk-adjusted ratio of per-bar returns: mean/stdev scaled by
// the root of the sample count. Zero when volatility is zero.
func sharpe(curve []paper.EquityPoint) float64 {
	if len(curve) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev != 0 {
			returns = append(returns, curve[i].Equity/prev-1)
		}
	}
	if len(returns) < 2 {
		return 0
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	if variance == 0 {
		return 0
	}
	return mean / math.Sqrt(variance) * math.Sqrt(float64(len(returns)))
}
