package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/quantatc/crossx/internal/market"
	"github.com/quantatc/crossx/internal/metrics"
	"github.com/quantatc/crossx/internal/util"
)

const (
	defaultBinanceBaseURL = "https://api.binance.com"
	defaultBinanceWSURL   = "wss://stream.binance.com:9443"
)

// Binance talks to the public spot API: REST klines and tickers for the
// Ingestor surface, websocket trade streams for live quotes.
type Binance struct {
	baseURL string
	wsURL   string
	httpc   *http.Client
	log     zerolog.Logger
}

// BinanceOption configures the connector.
type BinanceOption func(*Binance)

// WithBinanceBaseURL points REST calls at a different host (tests, mirrors).
func WithBinanceBaseURL(u string) BinanceOption {
	return func(b *Binance) { b.baseURL = strings.TrimSuffix(u, "/") }
}

// WithBinanceWSURL points the trade stream at a different host.
func WithBinanceWSURL(u string) BinanceOption {
	return func(b *Binance) { b.wsURL = strings.TrimSuffix(u, "/") }
}

// WithBinanceHTTPClient swaps the HTTP client.
func WithBinanceHTTPClient(c *http.Client) BinanceOption {
	return func(b *Binance) { b.httpc = c }
}

func NewBinance(log zerolog.Logger, opts ...BinanceOption) *Binance {
	b := &Binance{
		baseURL: defaultBinanceBaseURL,
		wsURL:   defaultBinanceWSURL,
		httpc:   &http.Client{Timeout: 15 * time.Second},
		log:     util.ComponentLogger(log, "binance"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Binance) Name() string { return ProviderBinance }

func (b *Binance) unavailable(symbol string, err error) *market.DataUnavailableError {
	return &market.DataUnavailableError{Exchange: ProviderBinance, Symbol: symbol, Err: err}
}

func (b *Binance) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := b.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := b.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// FetchHistorical loads up to lookback klines into a fresh series, oldest
// first. Kline rows arrive as mixed-type arrays; prices are strings.
func (b *Binance) FetchHistorical(ctx context.Context, symbol, interval string, lookback int) (*market.Series, error) {
	if lookback <= 0 {
		lookback = 500
	}
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(lookback))

	var rows [][]any
	if err := b.getJSON(ctx, "/api/v3/klines", q, &rows); err != nil {
		return nil, b.unavailable(symbol, err)
	}

	series := market.NewSeries(ProviderBinance, symbol, interval, len(rows))
	for _, row := range rows {
		bar, err := parseKline(row)
		if err != nil {
			return nil, b.unavailable(symbol, err)
		}
		if err := series.Append(bar); err != nil {
			return nil, b.unavailable(symbol, err)
		}
	}
	metrics.BarsIngested.WithLabelValues(ProviderBinance, symbol).Add(float64(series.Len()))
	return series, nil
}

func parseKline(row []any) (market.Bar, error) {
	if len(row) < 6 {
		return market.Bar{}, fmt.Errorf("kline row too short: %d fields", len(row))
	}
	openTime, ok := row[0].(float64)
	if !ok {
		return market.Bar{}, fmt.Errorf("kline open time not numeric: %v", row[0])
	}
	fields := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		str, ok := row[i].(string)
		if !ok {
			return market.Bar{}, fmt.Errorf("kline field %d not a string: %v", i, row[i])
		}
		v, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return market.Bar{}, fmt.Errorf("kline field %d: %w", i, err)
		}
		fields[i-1] = v
	}
	return market.Bar{
		Ts:     time.UnixMilli(int64(openTime)),
		Open:   fields[0],
		High:   fields[1],
		Low:    fields[2],
		Close:  fields[3],
		Volume: fields[4],
	}, nil
}

// FetchQuote returns the latest ticker price.
func (b *Binance) FetchQuote(ctx context.Context, symbol string) (market.Quote, error) {
	q := url.Values{}
	q.Set("symbol", symbol)

	var payload struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := b.getJSON(ctx, "/api/v3/ticker/price", q, &payload); err != nil {
		return market.Quote{}, b.unavailable(symbol, err)
	}
	px, err := strconv.ParseFloat(payload.Price, 64)
	if err != nil {
		return market.Quote{}, b.unavailable(symbol, fmt.Errorf("bad ticker price %q: %w", payload.Price, err))
	}
	return market.Quote{Exchange: ProviderBinance, Symbol: symbol, Price: px, Ts: time.Now()}, nil
}

// ListSymbols satisfies symbols.Lister with every TRADING spot pair.
func (b *Binance) ListSymbols(ctx context.Context) ([]string, error) {
	var payload struct {
		Symbols []struct {
			Symbol string `json:"symbol"`
			Status string `json:"status"`
		} `json:"symbols"`
	}
	if err := b.getJSON(ctx, "/api/v3/exchangeInfo", nil, &payload); err != nil {
		return nil, b.unavailable("", err)
	}
	out := make([]string, 0, len(payload.Symbols))
	for _, s := range payload.Symbols {
		if s.Status == "TRADING" {
			out = append(out, s.Symbol)
		}
	}
	return out, nil
}

type binanceEnvelope struct {
	Stream string       `json:"stream"`
	Data   binanceTrade `json:"data"`
}

type binanceTrade struct {
	Price     string `json:"p"`
	TradeTime int64  `json:"T"`
}

// StreamQuotes pushes live trade prices onto out until the context is
// canceled, reconnecting with capped backoff on stream failures.
func (b *Binance) StreamQuotes(ctx context.Context, symbols []string, out chan<- market.Quote) error {
	if len(symbols) == 0 {
		return fmt.Errorf("binance stream requires at least one symbol")
	}
	streams := make([]string, len(symbols))
	for i, sym := range symbols {
		streams[i] = strings.ToLower(sym) + "@trade"
	}
	streamURL := fmt.Sprintf("%s/stream?streams=%s", b.wsURL, strings.Join(streams, "/"))

	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := b.consumeStream(ctx, streamURL, out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.log.Warn().Err(err).Msg("trade stream disconnected, retrying")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
			continue
		}
		return nil
	}
}

func (b *Binance) consumeStream(ctx context.Context, streamURL string, out chan<- market.Quote) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	b.log.Info().Str("url", streamURL).Msg("connected trade stream")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					b.log.Warn().Err(err).Msg("ping failed")
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var env binanceEnvelope
		if err := json.Unmarshal(message, &env); err != nil {
			b.log.Warn().Err(err).Msg("failed to decode stream message")
			continue
		}
		px, err := strconv.ParseFloat(env.Data.Price, 64)
		if err != nil {
			b.log.Warn().Err(err).Msg("invalid price on stream")
			continue
		}
		quote := market.Quote{
			Exchange: ProviderBinance,
			Symbol:   parseStreamSymbol(env.Stream),
			Price:    px,
			Ts:       time.UnixMilli(env.Data.TradeTime),
		}
		select {
		case out <- quote:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func parseStreamSymbol(stream string) string {
	parts := strings.Split(stream, "@")
	if len(parts) == 0 || parts[0] == "" {
		return strings.ToUpper(stream)
	}
	return strings.ToUpper(parts[0])
}
