// Package exchange hosts connectors for centralized venues.
package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/quantatc/crossx/internal/market"
)

const (
	// ProviderStub emits deterministic synthetic bars and quotes
	// (useful for tests/offline work).
	ProviderStub = "stub"
	// ProviderBinance serves REST klines and live trade quotes from
	// Binance public endpoints.
	ProviderBinance = "binance"
)

// Ingestor pulls market data from one venue. Failures surface as
// *market.DataUnavailableError so callers can skip a cycle and retry.
type Ingestor interface {
	Name() string
	FetchHistorical(ctx context.Context, symbol, interval string, lookback int) (*market.Series, error)
	FetchQuote(ctx context.Context, symbol string) (market.Quote, error)
}

// QuoteStreamer is the optional push-based counterpart to FetchQuote. Venues
// that hold a live connection implement it; StreamQuotes blocks until the
// context is canceled, delivering quotes on out as they arrive.
type QuoteStreamer interface {
	StreamQuotes(ctx context.Context, symbols []string, out chan<- market.Quote) error
}

// ParseInterval turns a venue interval token ("1m", "5m", "1h", "1d") into
// a duration.
func ParseInterval(interval string) (time.Duration, error) {
	if strings.HasSuffix(interval, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(interval, "d"))
		if err != nil || days <= 0 {
			return 0, fmt.Errorf("exchange: bad interval %q", interval)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(interval)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("exchange: bad interval %q", interval)
	}
	return d, nil
}
