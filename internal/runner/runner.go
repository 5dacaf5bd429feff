// Package runner coordinates live paper trading: one pipeline per symbol
// feeding bars through the signal generator into its own book, plus a
// cross-exchange spread scan over fresh quotes.
package runner

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/quantatc/crossx/internal/arb"
	"github.com/quantatc/crossx/internal/config"
	"github.com/quantatc/crossx/internal/exchange"
	"github.com/quantatc/crossx/internal/execution"
	"github.com/quantatc/crossx/internal/indicator"
	"github.com/quantatc/crossx/internal/market"
	"github.com/quantatc/crossx/internal/metrics"
	"github.com/quantatc/crossx/internal/paper"
	"github.com/quantatc/crossx/internal/strategy"
	"github.com/quantatc/crossx/internal/util"
)

// Coordinator owns the live pipelines. The first ingestor drives trading;
// every ingestor contributes quotes to the spread scan.
type Coordinator struct {
	log       zerolog.Logger
	symbols   []string
	ingestors []exchange.Ingestor
	scanner   *arb.Scanner
	gen       *strategy.Generator
	params    paper.Params

	interval    string
	lookback    int
	poll        time.Duration
	slippageBps float64

	mu       sync.Mutex
	books    map[string]*paper.Book
	streamed map[string]market.Quote // keyed exchange/symbol, latest live quote
}

func NewCoordinator(cfg *config.Config, symbols []string, ingestors []exchange.Ingestor, scanner *arb.Scanner, log zerolog.Logger) (*Coordinator, error) {
	if len(ingestors) == 0 {
		return nil, errors.New("runner: at least one ingestor required")
	}
	if len(symbols) == 0 {
		return nil, errors.New("runner: at least one symbol required")
	}
	lengths := indicator.Lengths{
		RSI:     cfg.Strategy.RSIPeriod,
		EMAFast: cfg.Strategy.EMAFast,
		EMAMid:  cfg.Strategy.EMAMid,
		EMASlow: cfg.Strategy.EMASlow,
		ATR:     cfg.Strategy.ATRPeriod,
	}
	return &Coordinator{
		log:       util.ComponentLogger(log, "runner"),
		symbols:   append([]string(nil), symbols...),
		ingestors: ingestors,
		scanner:   scanner,
		gen:       strategy.NewGenerator(lengths),
		params: paper.Params{
			InitialBalance:   cfg.Paper.InitialBalance,
			RiskFraction:     cfg.Risk.RiskFraction,
			ATRMultiplier:    cfg.Risk.ATRMultiplier,
			RewardRatio:      cfg.Risk.RewardRatio,
			MinOrderNotional: cfg.Risk.MinOrderNotional,
			FeeRate:          cfg.Risk.FeeRate,
		},
		interval:    cfg.Runner.Interval,
		lookback:    cfg.Runner.LookbackBars,
		poll:        time.Duration(cfg.Runner.PollIntervalMs) * time.Millisecond,
		slippageBps: cfg.Paper.SlippageBps,
		books:       make(map[string]*paper.Book),
		streamed:    make(map[string]market.Quote),
	}, nil
}

func (c *Coordinator) primary() exchange.Ingestor { return c.ingestors[0] }

// Run blocks until the context is canceled or every pipeline has stopped.
// A sequencing fault kills only the affected symbol's pipeline.
func (c *Coordinator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, sym := range c.symbols {
		sym := sym
		g.Go(func() error { return c.runSymbol(ctx, sym) })
	}
	if c.scanner != nil {
		for _, ing := range c.ingestors {
			if streamer, ok := ing.(exchange.QuoteStreamer); ok {
				name := ing.Name()
				g.Go(func() error { return c.runStream(ctx, name, streamer) })
			}
		}
		g.Go(func() error { return c.runArb(ctx) })
	}
	return g.Wait()
}

func (c *Coordinator) runSymbol(ctx context.Context, symbol string) error {
	log := c.log.With().Str("sym", symbol).Logger()

	book, err := paper.NewBook(c.params,
		paper.WithExecutor(execution.NewPaper(c.slippageBps, log)),
		paper.WithLogger(log),
	)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.books[symbol] = book
	c.mu.Unlock()

	series, err := c.fetchInitial(ctx, symbol, log)
	if err != nil {
		return err
	}

	frame := indicator.NewFrame(c.gen.Lengths())
	next := 0
	if stop, err := c.processNew(ctx, symbol, book, series, frame, &next, log); stop {
		c.settle(book, series, symbol, log)
		return err
	}

	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.settle(book, series, symbol, log)
			return ctx.Err()
		case <-ticker.C:
		}

		latest, err := c.primary().FetchHistorical(ctx, symbol, c.interval, c.lookback)
		if err != nil {
			var derr *market.DataUnavailableError
			if errors.As(err, &derr) {
				log.Warn().Err(err).Msg("data unavailable, skipping cycle")
				continue
			}
			c.settle(book, series, symbol, log)
			return err
		}
		if err := series.Extend(latest.Bars()); err != nil {
			log.Warn().Err(err).Msg("series extension failed, skipping cycle")
			continue
		}
		if stop, err := c.processNew(ctx, symbol, book, series, frame, &next, log); stop {
			c.settle(book, series, symbol, log)
			return err
		}
		sum := market.Stats(series)
		log.Debug().
			Float64("last", sum.LastPrice).
			Float64("change_pct", sum.Change24hPct).
			Float64("vol_pct", sum.VolatilityPct).
			Msg("market summary")
	}
}

// processNew drains unprocessed bars through the book. The context is only
// consulted between bars so a cancellation never interrupts accounting.
// stop=true means the pipeline must end (sequencing fault or cancellation).
func (c *Coordinator) processNew(ctx context.Context, symbol string, book *paper.Book, series *market.Series, frame *indicator.Frame, next *int, log zerolog.Logger) (stop bool, err error) {
	for ; *next < series.Len(); *next++ {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		bar := series.At(*next)
		frame.Push(bar)
		sig := c.gen.Classify(frame, *next)
		if sig != strategy.Flat {
			metrics.SignalsEmitted.WithLabelValues(symbol, sig.String()).Inc()
		}

		atr := frame.ATR[*next]
		if math.IsNaN(atr) {
			atr = 0
		}
		if _, err := book.OnBar(symbol, bar, sig, atr); err != nil {
			var serr *paper.SequenceError
			if errors.As(err, &serr) {
				log.Error().Err(err).Msg("bar sequencing fault, stopping pipeline")
				return true, nil
			}
			var oerr *execution.OrderError
			if errors.As(err, &oerr) {
				log.Warn().Err(err).Msg("order rejected, position unchanged")
				continue
			}
			return true, err
		}
	}
	return false, nil
}

func (c *Coordinator) fetchInitial(ctx context.Context, symbol string, log zerolog.Logger) (*market.Series, error) {
	for {
		series, err := c.primary().FetchHistorical(ctx, symbol, c.interval, c.lookback)
		if err == nil {
			log.Info().Int("bars", series.Len()).Msg("historical backfill loaded")
			return series, nil
		}
		var derr *market.DataUnavailableError
		if !errors.As(err, &derr) {
			return nil, err
		}
		log.Warn().Err(err).Msg("backfill unavailable, retrying")
		select {
		case <-time.After(c.poll):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// settle force-closes any open exposure at the last seen close so shutdown
// leaves the book flat.
func (c *Coordinator) settle(book *paper.Book, series *market.Series, symbol string, log zerolog.Logger) {
	last, ok := series.Last()
	if !ok {
		return
	}
	if _, closed, err := book.ForceClose(symbol, last.Close, last.Ts); err != nil {
		log.Error().Err(err).Msg("settlement close failed")
	} else if closed {
		log.Info().Float64("price", last.Close).Msg("settled open position on shutdown")
	}
}

// runStream drains one venue's live quote feed into the snapshot cache.
// A dead feed downgrades the venue to REST polling instead of stopping the
// scan.
func (c *Coordinator) runStream(ctx context.Context, name string, streamer exchange.QuoteStreamer) error {
	quotes := make(chan market.Quote, 64)
	errc := make(chan error, 1)
	go func() { errc <- streamer.StreamQuotes(ctx, c.symbols, quotes) }()
	for {
		select {
		case q := <-quotes:
			c.mu.Lock()
			c.streamed[name+"/"+q.Symbol] = q
			c.mu.Unlock()
		case err := <-errc:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn().Err(err).Str("exchange", name).Msg("quote stream ended, venue falls back to polling")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// liveQuote returns the streamed quote for a venue/symbol when one is fresh
// enough to stand in for a poll. Stale entries fall through to REST.
func (c *Coordinator) liveQuote(name, symbol string) (market.Quote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.streamed[name+"/"+symbol]
	if !ok || time.Since(q.Ts) > 2*c.poll {
		return market.Quote{}, false
	}
	return q, true
}

func (c *Coordinator) runArb(ctx context.Context) error {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		snapshot := make([]market.Quote, 0, len(c.ingestors)*len(c.symbols))
		for _, ing := range c.ingestors {
			for _, sym := range c.symbols {
				if q, ok := c.liveQuote(ing.Name(), sym); ok {
					snapshot = append(snapshot, q)
					continue
				}
				q, err := ing.FetchQuote(ctx, sym)
				if err != nil {
					c.log.Debug().Err(err).Str("exchange", ing.Name()).Str("sym", sym).Msg("quote unavailable")
					continue
				}
				snapshot = append(snapshot, q)
			}
		}
		events := c.scanner.Matrix(snapshot)
		if len(events) > 0 {
			top := events[0]
			c.log.Info().
				Int("events", len(events)).
				Str("sym", top.Symbol).
				Float64("net_pct", top.NetPct).
				Msg("spread opportunities this cycle")
		}
	}
}

// Book returns the live book for a symbol, nil before its pipeline started.
func (c *Coordinator) Book(symbol string) *paper.Book {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.books[symbol]
}

// Books returns the symbol-to-book map as a shallow copy.
func (c *Coordinator) Books() map[string]*paper.Book {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]*paper.Book, len(c.books))
	for k, v := range c.books {
		out[k] = v
	}
	return out
}
