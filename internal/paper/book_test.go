package paper

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantatc/crossx/internal/execution"
	"github.com/quantatc/crossx/internal/market"
	"github.com/quantatc/crossx/internal/strategy"
)

var t0 = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func bar(minute int, open, high, low, close float64) market.Bar {
	return market.Bar{
		Ts: t0.Add(time.Duration(minute) * time.Minute),
		Open: open, High: high, Low: low, Close: close, Volume: 100,
	}
}

func newTestBook(t *testing.T, params Params, opts ...Option) *Book {
	t.Helper()
	book, err := NewBook(params, opts...)
	if err != nil {
		t.Fatalf("NewBook: %v", err)
	}
	return book
}

func defaultParams() Params {
	return Params{
		InitialBalance: 10000,
		RiskFraction:   0.01,
		ATRMultiplier:  2.0,
		RewardRatio:    1.5,
	}
}

func TestEntrySizing(t *testing.T) {
	book := newTestBook(t, defaultParams())

	// ATR 25 with multiplier 2 gives a 50-wide stop; risk 1% of 10k equity.
	fills, err := book.OnBar("BTCUSDT", bar(0, 1000, 1001, 999, 1000), strategy.Long, 25)
	if err != nil {
		t.Fatalf("OnBar: %v", err)
	}
	if len(fills) != 1 {
		t.Fatalf("expected entry fill, got %d", len(fills))
	}
	if math.Abs(fills[0].Size-2.0) > 1e-9 {
		t.Fatalf("expected size 2.0 = (10000*0.01)/50, got %.6f", fills[0].Size)
	}

	pos, ok := book.OpenPosition("BTCUSDT")
	if !ok {
		t.Fatalf("position not open")
	}
	if pos.StopLoss != 950 || pos.TakeProfit != 1075 {
		t.Fatalf("unexpected stop/target: %.2f / %.2f", pos.StopLoss, pos.TakeProfit)
	}
	// Risked amount equals the risk fraction of entry equity exactly.
	if risked := pos.Size * (pos.EntryPrice - pos.StopLoss); math.Abs(risked-100) > 1e-9 {
		t.Fatalf("risked %.4f, want 100", risked)
	}
}

func TestEntrySkippedBelowMinNotional(t *testing.T) {
	params := defaultParams()
	params.MinOrderNotional = 1e6
	book := newTestBook(t, params)

	fills, err := book.OnBar("BTCUSDT", bar(0, 1000, 1001, 999, 1000), strategy.Long, 25)
	if err != nil {
		t.Fatalf("no-op entry must not error: %v", err)
	}
	if len(fills) != 0 {
		t.Fatalf("expected no fills, got %d", len(fills))
	}
	if _, ok := book.OpenPosition("BTCUSDT"); ok {
		t.Fatalf("phantom position opened")
	}
	if len(book.EquityCurve()) != 1 {
		t.Fatalf("mark-to-market must still run on no-op bars")
	}
}

func TestEntrySkippedWithoutATR(t *testing.T) {
	book := newTestBook(t, defaultParams())
	fills, err := book.OnBar("BTCUSDT", bar(0, 1000, 1001, 999, 1000), strategy.Long, 0)
	if err != nil || len(fills) != 0 {
		t.Fatalf("zero ATR entry must be a silent no-op, fills=%d err=%v", len(fills), err)
	}
}

func TestSequenceError(t *testing.T) {
	book := newTestBook(t, defaultParams())
	if _, err := book.OnBar("BTCUSDT", bar(1, 1000, 1001, 999, 1000), strategy.Flat, 25); err != nil {
		t.Fatalf("first bar: %v", err)
	}

	_, err := book.OnBar("BTCUSDT", bar(1, 1000, 1001, 999, 1000), strategy.Flat, 25)
	var serr *SequenceError
	if !errors.As(err, &serr) {
		t.Fatalf("expected *SequenceError for duplicate ts, got %v", err)
	}
	_, err = book.OnBar("BTCUSDT", bar(0, 1000, 1001, 999, 1000), strategy.Flat, 25)
	if !errors.As(err, &serr) {
		t.Fatalf("expected *SequenceError for earlier ts, got %v", err)
	}

	// A different symbol is an independent sequence.
	if _, err := book.OnBar("ETHUSDT", bar(0, 100, 101, 99, 100), strategy.Flat, 2); err != nil {
		t.Fatalf("other symbol must not share the sequence: %v", err)
	}
}

func TestStopBeatsTargetOnSameBar(t *testing.T) {
	book := newTestBook(t, defaultParams())
	if _, err := book.OnBar("BTCUSDT", bar(0, 1000, 1001, 999, 1000), strategy.Long, 25); err != nil {
		t.Fatalf("entry: %v", err)
	}

	// Wide bar touches both the 950 stop and the 1075 target.
	fills, err := book.OnBar("BTCUSDT", bar(1, 1000, 1100, 940, 1050), strategy.Long, 25)
	if err != nil {
		t.Fatalf("exit bar: %v", err)
	}
	var exit *execution.Fill
	for i := range fills {
		if fills[i].Side == execution.Sell {
			exit = &fills[i]
		}
	}
	if exit == nil {
		t.Fatalf("expected an exit fill")
	}
	if exit.Reason != execution.ReasonStop {
		t.Fatalf("stop must win the tie-break, got %s", exit.Reason)
	}
	if exit.Price != 950 {
		t.Fatalf("exit must print at the stop, got %.2f", exit.Price)
	}
}

func TestTakeProfitExit(t *testing.T) {
	book := newTestBook(t, defaultParams())
	if _, err := book.OnBar("BTCUSDT", bar(0, 1000, 1001, 999, 1000), strategy.Long, 25); err != nil {
		t.Fatalf("entry: %v", err)
	}

	fills, err := book.OnBar("BTCUSDT", bar(1, 1060, 1080, 1055, 1070), strategy.Long, 25)
	if err != nil {
		t.Fatalf("exit bar: %v", err)
	}
	if len(fills) == 0 || fills[0].Reason != execution.ReasonTakeProfit || fills[0].Price != 1075 {
		t.Fatalf("expected take-profit exit at 1075, got %+v", fills)
	}

	trades := book.Trades()
	if len(trades) != 1 {
		t.Fatalf("expected one closed trade, got %d", len(trades))
	}
	if math.Abs(trades[0].PnL-150) > 1e-9 { // (1075-1000)*2, no fees
		t.Fatalf("unexpected pnl %.4f", trades[0].PnL)
	}
	snap := book.Snapshot(nil)
	if math.Abs(snap.Cash-10150) > 1e-9 {
		t.Fatalf("realized pnl not in cash: %.4f", snap.Cash)
	}
}

func TestSignalFlipClosesAndReenters(t *testing.T) {
	book := newTestBook(t, defaultParams())
	if _, err := book.OnBar("BTCUSDT", bar(0, 1000, 1001, 999, 1000), strategy.Long, 25); err != nil {
		t.Fatalf("entry: %v", err)
	}

	// Narrow bar (no stop/target touch) with an opposite signal: exit then re-enter short.
	fills, err := book.OnBar("BTCUSDT", bar(1, 1000, 1002, 998, 1001), strategy.Short, 25)
	if err != nil {
		t.Fatalf("flip bar: %v", err)
	}
	if len(fills) != 2 {
		t.Fatalf("flip must produce exit+entry, got %d fills", len(fills))
	}
	if fills[0].Reason != execution.ReasonSignal || fills[0].Side != execution.Sell {
		t.Fatalf("unexpected exit fill %+v", fills[0])
	}
	if fills[1].Side != execution.Sell {
		t.Fatalf("short entry must sell, got %+v", fills[1])
	}
	pos, ok := book.OpenPosition("BTCUSDT")
	if !ok || pos.Side != strategy.Short {
		t.Fatalf("expected open short after flip")
	}
	// Freed capital re-sized the entry: equity moved by the realized pnl.
	wantSize := (10000 + 2.0) * 0.01 / 50 // +2 realized from (1001-1000)*2
	if math.Abs(pos.Size-wantSize) > 1e-9 {
		t.Fatalf("flip sizing used stale equity: got %.6f want %.6f", pos.Size, wantSize)
	}
}

func TestFlatSignalClosesPosition(t *testing.T) {
	book := newTestBook(t, defaultParams())
	if _, err := book.OnBar("BTCUSDT", bar(0, 1000, 1001, 999, 1000), strategy.Long, 25); err != nil {
		t.Fatalf("entry: %v", err)
	}
	fills, err := book.OnBar("BTCUSDT", bar(1, 1000, 1002, 998, 1001), strategy.Flat, 25)
	if err != nil {
		t.Fatalf("flat bar: %v", err)
	}
	if len(fills) != 1 || fills[0].Reason != execution.ReasonSignal {
		t.Fatalf("flat signal should close without re-entry, got %+v", fills)
	}
	if _, ok := book.OpenPosition("BTCUSDT"); ok {
		t.Fatalf("position should be closed")
	}
}

func TestShortPositionAccounting(t *testing.T) {
	book := newTestBook(t, defaultParams())
	if _, err := book.OnBar("BTCUSDT", bar(0, 1000, 1001, 999, 1000), strategy.Short, 25); err != nil {
		t.Fatalf("entry: %v", err)
	}
	pos, _ := book.OpenPosition("BTCUSDT")
	if pos.StopLoss != 1050 || pos.TakeProfit != 925 {
		t.Fatalf("short stop/target wrong: %.2f / %.2f", pos.StopLoss, pos.TakeProfit)
	}

	// Price falls to the target.
	fills, err := book.OnBar("BTCUSDT", bar(1, 960, 965, 920, 930), strategy.Short, 25)
	if err != nil {
		t.Fatalf("exit: %v", err)
	}
	if len(fills) != 2 {
		// take-profit exit then same-bar re-entry on the standing short signal
		t.Fatalf("expected exit + re-entry, got %d", len(fills))
	}
	if fills[0].Reason != execution.ReasonTakeProfit || fills[0].Side != execution.Buy {
		t.Fatalf("unexpected short exit %+v", fills[0])
	}
	trades := book.Trades()
	if math.Abs(trades[0].PnL-150) > 1e-9 { // (1000-925)*2
		t.Fatalf("short pnl wrong: %.4f", trades[0].PnL)
	}
}

func TestEquityInvariantEveryBar(t *testing.T) {
	book := newTestBook(t, defaultParams())

	closes := []float64{1000, 1005, 1010, 1008, 1012, 1003}
	for i, c := range closes {
		sig := strategy.Long
		_, err := book.OnBar("BTCUSDT", bar(i, c, c+3, c-3, c), sig, 25)
		if err != nil {
			t.Fatalf("bar %d: %v", i, err)
		}

		snap := book.Snapshot(map[string]float64{"BTCUSDT": c})
		var unrealized float64
		if pos, ok := snap.Positions["BTCUSDT"]; ok {
			unrealized = (c - pos.EntryPrice) * pos.Size
			if pos.Side == strategy.Short {
				unrealized = -unrealized
			}
		}
		if math.Abs(snap.Equity-(snap.Cash+unrealized)) > 1e-9 {
			t.Fatalf("bar %d: equity %.6f != cash %.6f + unrealized %.6f",
				i, snap.Equity, snap.Cash, unrealized)
		}

		curve := book.EquityCurve()
		if len(curve) != i+1 {
			t.Fatalf("equity curve must gain one point per bar, have %d after bar %d", len(curve), i)
		}
		if math.Abs(curve[i].Equity-snap.Equity) > 1e-9 {
			t.Fatalf("curve point diverges from snapshot at bar %d", i)
		}
	}
}

func TestFeesCharged(t *testing.T) {
	params := defaultParams()
	params.FeeRate = 0.001
	book := newTestBook(t, params)

	if _, err := book.OnBar("BTCUSDT", bar(0, 1000, 1001, 999, 1000), strategy.Long, 25); err != nil {
		t.Fatalf("entry: %v", err)
	}
	pos, _ := book.OpenPosition("BTCUSDT")
	entryFee := pos.EntryPrice * pos.Size * 0.001

	snap := book.Snapshot(map[string]float64{"BTCUSDT": 1000})
	if math.Abs(snap.Cash-(10000-entryFee)) > 1e-9 {
		t.Fatalf("entry fee not charged: cash %.6f", snap.Cash)
	}

	if _, err := book.OnBar("BTCUSDT", bar(1, 1000, 1002, 998, 1001), strategy.Flat, 25); err != nil {
		t.Fatalf("exit: %v", err)
	}
	trades := book.Trades()
	if len(trades) != 1 || trades[0].Fees <= entryFee {
		t.Fatalf("exit fee missing from trade record: %+v", trades)
	}
}

type rejectingExecutor struct{}

func (rejectingExecutor) Submit(order execution.Order) (execution.Fill, error) {
	return execution.Fill{}, &execution.OrderError{Symbol: order.Symbol, Msg: "venue down"}
}

func TestOrderErrorLeavesStateUnchanged(t *testing.T) {
	book := newTestBook(t, defaultParams(), WithExecutor(rejectingExecutor{}), WithLogger(zerolog.Nop()))

	_, err := book.OnBar("BTCUSDT", bar(0, 1000, 1001, 999, 1000), strategy.Long, 25)
	var oerr *execution.OrderError
	if !errors.As(err, &oerr) {
		t.Fatalf("expected *OrderError, got %v", err)
	}
	if _, ok := book.OpenPosition("BTCUSDT"); ok {
		t.Fatalf("rejected order must not open a position")
	}
	snap := book.Snapshot(nil)
	if snap.Cash != 10000 {
		t.Fatalf("cash mutated on rejection: %.2f", snap.Cash)
	}
}

type slippingExecutor struct{}

func (slippingExecutor) Submit(order execution.Order) (execution.Fill, error) {
	return execution.Fill{
		Symbol: order.Symbol, Side: order.Side, Price: order.Price + 1,
		Size: order.Qty, Ts: order.Ts, Reason: order.Reason,
	}, nil
}

func TestLiveFillPriceIsAuthoritative(t *testing.T) {
	book := newTestBook(t, defaultParams(), WithExecutor(slippingExecutor{}))

	fills, err := book.OnBar("BTCUSDT", bar(0, 1000, 1001, 999, 1000), strategy.Long, 25)
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if fills[0].Price != 1001 {
		t.Fatalf("reported fill price must override simulation, got %.2f", fills[0].Price)
	}
	pos, _ := book.OpenPosition("BTCUSDT")
	if pos.EntryPrice != 1001 || pos.StopLoss != 951 {
		t.Fatalf("stops must anchor to live fill: entry %.2f stop %.2f", pos.EntryPrice, pos.StopLoss)
	}
}

func TestForceClose(t *testing.T) {
	book := newTestBook(t, defaultParams())
	if _, err := book.OnBar("BTCUSDT", bar(0, 1000, 1001, 999, 1000), strategy.Long, 25); err != nil {
		t.Fatalf("entry: %v", err)
	}

	fill, closed, err := book.ForceClose("BTCUSDT", 1010, t0.Add(time.Minute))
	if err != nil || !closed {
		t.Fatalf("force close failed: closed=%v err=%v", closed, err)
	}
	if fill.Reason != execution.ReasonManual {
		t.Fatalf("force close must report MANUAL, got %s", fill.Reason)
	}
	if _, ok := book.OpenPosition("BTCUSDT"); ok {
		t.Fatalf("position survived force close")
	}

	if _, closed, _ := book.ForceClose("BTCUSDT", 1010, t0.Add(2*time.Minute)); closed {
		t.Fatalf("second force close must be a no-op")
	}
}

func TestNewBookValidation(t *testing.T) {
	bad := defaultParams()
	bad.RiskFraction = 0
	if _, err := NewBook(bad); err == nil {
		t.Fatalf("expected validation error for zero risk fraction")
	}
	bad = defaultParams()
	bad.InitialBalance = -5
	if _, err := NewBook(bad); err == nil {
		t.Fatalf("expected validation error for negative balance")
	}
}
