package strategy

import (
	"testing"
	"time"

	"github.com/quantatc/crossx/internal/indicator"
	"github.com/quantatc/crossx/internal/market"
)

func seriesFromCloses(t *testing.T, closes []float64) *market.Series {
	t.Helper()
	s := market.NewSeries("binance", "BTCUSDT", "5m", len(closes))
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		bar := market.Bar{
			Ts: base.Add(time.Duration(i) * 5 * time.Minute),
			Open: c, High: c * 1.005, Low: c * 0.995, Close: c, Volume: 100,
		}
		if err := s.Append(bar); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	return s
}

func smallLengths() indicator.Lengths {
	return indicator.Lengths{RSI: 3, EMAFast: 2, EMAMid: 4, EMASlow: 6, ATR: 3}
}

func TestGenerateWarmupIsFlat(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	gen := NewGenerator(smallLengths())
	frame, signals := gen.Generate(seriesFromCloses(t, closes))

	if len(signals) != 20 {
		t.Fatalf("expected one signal per bar, got %d", len(signals))
	}
	for i := 0; i < 5; i++ {
		if signals[i] != Flat {
			t.Fatalf("bar %d inside warm-up classified %s", i, signals[i])
		}
		if frame.Ready(i) {
			t.Fatalf("frame ready at %d before slow EMA warm-up", i)
		}
	}
}

func TestGenerateLongOnUptrend(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + float64(i)*2
	}
	gen := NewGenerator(smallLengths())
	_, signals := gen.Generate(seriesFromCloses(t, closes))

	if got := signals[len(signals)-1]; got != Long {
		t.Fatalf("steady uptrend should classify LONG, got %s", got)
	}
}

func TestGenerateShortOnDowntrend(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 200 - float64(i)*2
	}
	gen := NewGenerator(smallLengths())
	_, signals := gen.Generate(seriesFromCloses(t, closes))

	if got := signals[len(signals)-1]; got != Short {
		t.Fatalf("steady downtrend should classify SHORT, got %s", got)
	}
}

func TestGenerateDeterministic(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		switch {
		case i < 30:
			closes[i] = 100 + float64(i)
		default:
			closes[i] = 130 - float64(i-30)*1.5
		}
	}
	series := seriesFromCloses(t, closes)
	gen := NewGenerator(smallLengths())

	_, first := gen.Generate(series)
	_, second := NewGenerator(smallLengths()).Generate(series)
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("re-evaluation drifted at bar %d: %s vs %s", i, first[i], second[i])
		}
	}
}

func TestSignalStringAndOpposite(t *testing.T) {
	if Long.String() != "LONG" || Short.String() != "SHORT" || Flat.String() != "FLAT" {
		t.Fatalf("unexpected signal names")
	}
	if !Long.Opposite(Short) || !Short.Opposite(Long) {
		t.Fatalf("long/short must oppose")
	}
	if Flat.Opposite(Long) || Long.Opposite(Long) {
		t.Fatalf("flat and same-side must not oppose")
	}
}
