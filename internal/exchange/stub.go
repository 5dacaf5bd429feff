package exchange

import (
	"context"
	"hash/fnv"
	"math"
	"time"

	"github.com/quantatc/crossx/internal/market"
	"github.com/quantatc/crossx/internal/metrics"
)

// Stub is a deterministic synthetic ingestor. Prices are a pure function of
// symbol and bar timestamp, so repeated fetches agree and series extension
// lines up bar for bar.
type Stub struct {
	name    string
	symbols []string
	now     func() time.Time
}

// StubOption configures a Stub.
type StubOption func(*Stub)

// WithStubClock overrides the time source for deterministic tests.
func WithStubClock(now func() time.Time) StubOption {
	return func(s *Stub) { s.now = now }
}

// WithStubName labels the stub as a distinct venue, letting one process
// simulate several exchanges.
func WithStubName(name string) StubOption {
	return func(s *Stub) {
		if name != "" {
			s.name = name
		}
	}
}

func NewStub(symbols []string, opts ...StubOption) *Stub {
	s := &Stub{name: ProviderStub, symbols: append([]string(nil), symbols...), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Stub) Name() string { return s.name }

// ListSymbols satisfies symbols.Lister with the configured universe.
func (s *Stub) ListSymbols(context.Context) ([]string, error) {
	return append([]string(nil), s.symbols...), nil
}

func (s *Stub) FetchHistorical(ctx context.Context, symbol, interval string, lookback int) (*market.Series, error) {
	step, err := ParseInterval(interval)
	if err != nil {
		return nil, &market.DataUnavailableError{Exchange: s.name, Symbol: symbol, Err: err}
	}
	if lookback <= 0 {
		lookback = 1
	}

	end := s.now().Truncate(step)
	series := market.NewSeries(s.name, symbol, interval, lookback)
	for i := lookback - 1; i >= 0; i-- {
		ts := end.Add(-time.Duration(i) * step)
		if err := series.Append(s.bar(symbol, ts, step)); err != nil {
			return nil, &market.DataUnavailableError{Exchange: s.name, Symbol: symbol, Err: err}
		}
	}
	metrics.BarsIngested.WithLabelValues(s.name, symbol).Add(float64(lookback))
	return series, nil
}

func (s *Stub) FetchQuote(_ context.Context, symbol string) (market.Quote, error) {
	ts := s.now()
	return market.Quote{
		Exchange: s.name,
		Symbol:   symbol,
		Price:    s.price(symbol, ts),
		Ts:       ts,
	}, nil
}

func (s *Stub) bar(symbol string, ts time.Time, step time.Duration) market.Bar {
	open := s.price(symbol, ts.Add(-step))
	close := s.price(symbol, ts)
	high := math.Max(open, close) * 1.001
	low := math.Min(open, close) * 0.999
	return market.Bar{Ts: ts, Open: open, High: high, Low: low, Close: close, Volume: 100}
}

// price is a slow upward drift plus a sine swing, seeded per symbol.
func (s *Stub) price(symbol string, ts time.Time) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	base := 50 + float64(h.Sum32()%400)
	t := float64(ts.Unix())
	return base + base*0.05*math.Sin(t/1800) + t/1e6
}
