package arb

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantatc/crossx/internal/market"
)

func testScanner(t *testing.T, params Params) *Scanner {
	t.Helper()
	s, err := NewScanner(params, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	return s
}

func quote(exchange string, price float64, ts time.Time) market.Quote {
	return market.Quote{Exchange: exchange, Symbol: "BTCUSDT", Price: price, Ts: ts}
}

func TestScanEmitsAboveThreshold(t *testing.T) {
	s := testScanner(t, Params{ThresholdPct: 2.0, StalenessWindow: 5 * time.Second, HistoryCap: 10})
	now := time.Now()

	ev := s.Scan(quote("binance", 100, now), quote("kraken", 103, now))
	if ev == nil {
		t.Fatalf("expected event for 3%% spread at 2%% threshold")
	}
	if math.Abs(ev.SpreadPct-3.0) > 1e-9 {
		t.Fatalf("spread pct = %.6f, want 3.0", ev.SpreadPct)
	}
	if ev.BuyExchange != "binance" || ev.SellExchange != "kraken" {
		t.Fatalf("buy/sell legs wrong: %s -> %s", ev.BuyExchange, ev.SellExchange)
	}
	if len(s.History()) != 1 {
		t.Fatalf("event not recorded in history")
	}
}

func TestScanBelowThreshold(t *testing.T) {
	s := testScanner(t, Params{ThresholdPct: 2.0, StalenessWindow: 5 * time.Second, HistoryCap: 10})
	now := time.Now()

	if ev := s.Scan(quote("binance", 100, now), quote("kraken", 100.5, now)); ev != nil {
		t.Fatalf("0.5%% spread must not fire a 2%% threshold, got %+v", ev)
	}
	if len(s.History()) != 0 {
		t.Fatalf("history must stay empty")
	}
}

func TestScanRejectsStaleAndMismatchedQuotes(t *testing.T) {
	s := testScanner(t, Params{ThresholdPct: 0.1, StalenessWindow: 2 * time.Second, HistoryCap: 10})
	now := time.Now()

	// Huge spread, but the quotes are 10s apart.
	if ev := s.Scan(quote("binance", 100, now), quote("kraken", 150, now.Add(10*time.Second))); ev != nil {
		t.Fatalf("stale pair must be dropped regardless of magnitude")
	}

	other := market.Quote{Exchange: "kraken", Symbol: "ETHUSDT", Price: 200, Ts: now}
	if ev := s.Scan(quote("binance", 100, now), other); ev != nil {
		t.Fatalf("mismatched symbols must not compare")
	}
}

func TestScanNetPctChargesBothLegs(t *testing.T) {
	s := testScanner(t, Params{ThresholdPct: 1.0, StalenessWindow: 5 * time.Second, HistoryCap: 10, FeeRate: 0.001})
	now := time.Now()

	ev := s.Scan(quote("binance", 100, now), quote("kraken", 103, now))
	if ev == nil {
		t.Fatalf("expected event")
	}
	// (103 - 100 - (100+103)*0.001) / 100 * 100 = 2.797
	if math.Abs(ev.NetPct-2.797) > 1e-9 {
		t.Fatalf("net pct = %.6f, want 2.797", ev.NetPct)
	}
}

func TestScanSignPreservedAndLegsNormalized(t *testing.T) {
	s := testScanner(t, Params{ThresholdPct: 1.0, StalenessWindow: 5 * time.Second, HistoryCap: 10})
	now := time.Now()

	// First quote is the expensive side: spread is negative but the buy leg
	// is still the cheaper exchange.
	ev := s.Scan(quote("kraken", 103, now), quote("binance", 100, now))
	if ev == nil {
		t.Fatalf("expected event")
	}
	if ev.SpreadPct >= 0 {
		t.Fatalf("spread must keep its sign, got %.4f", ev.SpreadPct)
	}
	if ev.BuyExchange != "binance" || ev.SellExchange != "kraken" {
		t.Fatalf("legs not normalized: buy %s sell %s", ev.BuyExchange, ev.SellExchange)
	}
}

func TestHistoryEvictsOldest(t *testing.T) {
	s := testScanner(t, Params{ThresholdPct: 0.1, StalenessWindow: 5 * time.Second, HistoryCap: 3})
	now := time.Now()

	for i := 0; i < 5; i++ {
		price := 102 + float64(i)
		if ev := s.Scan(quote("binance", 100, now), quote("kraken", price, now)); ev == nil {
			t.Fatalf("event %d not emitted", i)
		}
	}
	hist := s.History()
	if len(hist) != 3 {
		t.Fatalf("history cap not enforced, len %d", len(hist))
	}
	if hist[0].SellPrice != 104 {
		t.Fatalf("oldest events not evicted, first sell price %.2f", hist[0].SellPrice)
	}
}

func TestMatrixSortsByNetProfit(t *testing.T) {
	s := testScanner(t, Params{ThresholdPct: 0.5, StalenessWindow: 5 * time.Second, HistoryCap: 50, FeeRate: 0.001})
	now := time.Now()

	quotes := []market.Quote{
		quote("binance", 100, now),
		quote("kraken", 101, now),
		quote("coinbase", 105, now),
		{Exchange: "binance", Symbol: "ETHUSDT", Price: 2000, Ts: now},
		{Exchange: "kraken", Symbol: "ETHUSDT", Price: 2000.5, Ts: now}, // below threshold
	}
	events := s.Matrix(quotes)
	if len(events) != 3 {
		t.Fatalf("expected 3 BTC pairs above threshold, got %d", len(events))
	}
	for i := 1; i < len(events); i++ {
		if math.Abs(events[i].NetPct) > math.Abs(events[i-1].NetPct) {
			t.Fatalf("events not sorted by |net| desc at %d", i)
		}
	}
	if events[0].BuyExchange != "binance" || events[0].SellExchange != "coinbase" {
		t.Fatalf("widest pair should rank first, got %s -> %s", events[0].BuyExchange, events[0].SellExchange)
	}
}

func TestNewScannerValidatesParams(t *testing.T) {
	bad := []Params{
		{ThresholdPct: -1, StalenessWindow: time.Second, HistoryCap: 10},
		{ThresholdPct: 1, StalenessWindow: 0, HistoryCap: 10},
		{ThresholdPct: 1, StalenessWindow: time.Second, HistoryCap: 0},
		{ThresholdPct: 1, StalenessWindow: time.Second, HistoryCap: 10, FeeRate: -0.1},
	}
	for i, p := range bad {
		if _, err := NewScanner(p, zerolog.Nop()); err == nil {
			t.Fatalf("params %d should be rejected", i)
		}
	}
}
