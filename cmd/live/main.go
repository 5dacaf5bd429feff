package main

import (
	"context"
	"errors"
	"flag"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantatc/crossx/internal/arb"
	"github.com/quantatc/crossx/internal/config"
	"github.com/quantatc/crossx/internal/exchange"
	"github.com/quantatc/crossx/internal/metrics"
	"github.com/quantatc/crossx/internal/runner"
	"github.com/quantatc/crossx/internal/symbols"
	"github.com/quantatc/crossx/internal/util"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML configuration")
	flag.Parse()

	log := util.NewLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	log = util.NewLogger(cfg.App.LogLevel)

	srv := metrics.Serve(cfg.App.MetricsAddr)
	log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ingestors, listers, configured := buildVenues(cfg, log)
	if len(ingestors) == 0 {
		log.Fatal().Msg("no exchanges configured")
	}

	universe := configured
	manager, err := symbols.NewManager(5*time.Minute, listers, log)
	if err == nil {
		if common, cerr := manager.Common(ctx, ""); cerr == nil {
			universe = intersect(configured, common)
		} else {
			log.Warn().Err(cerr).Msg("symbol listing failed, trading configured symbols unchecked")
		}
	}
	if len(universe) == 0 {
		log.Fatal().Strs("configured", configured).Msg("no tradable symbols across venues")
	}

	scanner, err := arb.NewScanner(arb.Params{
		ThresholdPct:    cfg.Arb.ThresholdPct,
		StalenessWindow: time.Duration(cfg.Arb.StalenessWindowMs) * time.Millisecond,
		HistoryCap:      cfg.Arb.HistoryCap,
		FeeRate:         cfg.Arb.FeeRate,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("build scanner")
	}

	coord, err := runner.NewCoordinator(cfg, universe, ingestors, scanner, log)
	if err != nil {
		log.Fatal().Err(err).Msg("build coordinator")
	}

	log.Info().Strs("symbols", universe).Int("venues", len(ingestors)).Msg("paper engine started")
	if err := coord.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("coordinator stopped")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("shut down")
}

func buildVenues(cfg *config.Config, log zerolog.Logger) ([]exchange.Ingestor, []symbols.Lister, []string) {
	var (
		ingestors  []exchange.Ingestor
		listers    []symbols.Lister
		configured []string
		seen       = map[string]bool{}
	)
	for _, ex := range cfg.Exchanges {
		switch ex.Provider {
		case exchange.ProviderBinance:
			opts := []exchange.BinanceOption{}
			if ex.RestURL != "" {
				opts = append(opts, exchange.WithBinanceBaseURL(ex.RestURL))
			}
			if ex.WsURL != "" {
				opts = append(opts, exchange.WithBinanceWSURL(ex.WsURL))
			}
			b := exchange.NewBinance(log, opts...)
			ingestors = append(ingestors, b)
			listers = append(listers, b)
		default:
			s := exchange.NewStub(ex.Symbols, exchange.WithStubName(ex.Name))
			ingestors = append(ingestors, s)
			listers = append(listers, s)
		}
		for _, sym := range ex.Symbols {
			if !seen[sym] {
				seen[sym] = true
				configured = append(configured, sym)
			}
		}
	}
	return ingestors, listers, configured
}

func intersect(a, b []string) []string {
	in := make(map[string]bool, len(b))
	for _, s := range b {
		in[s] = true
	}
	var out []string
	for _, s := range a {
		if in[s] {
			out = append(out, s)
		}
	}
	return out
}
