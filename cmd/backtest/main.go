package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"time"

	"github.com/quantatc/crossx/internal/backtest"
	"github.com/quantatc/crossx/internal/config"
	"github.com/quantatc/crossx/internal/exchange"
	"github.com/quantatc/crossx/internal/indicator"
	"github.com/quantatc/crossx/internal/paper"
	"github.com/quantatc/crossx/internal/strategy"
	"github.com/quantatc/crossx/internal/util"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML configuration")
	symbol := flag.String("symbol", "BTCUSDT", "symbol to replay")
	provider := flag.String("provider", exchange.ProviderStub, "data source: stub|binance")
	jsonOut := flag.Bool("json", false, "print the full report as JSON")
	flag.Parse()

	log := util.NewLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	log = util.NewLogger(cfg.App.LogLevel)

	var ing exchange.Ingestor
	switch *provider {
	case exchange.ProviderBinance:
		ing = exchange.NewBinance(log)
	default:
		ing = exchange.NewStub([]string{*symbol})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	series, err := ing.FetchHistorical(ctx, *symbol, cfg.Runner.Interval, cfg.Runner.LookbackBars)
	if err != nil {
		log.Fatal().Err(err).Msg("fetch historical")
	}

	gen := strategy.NewGenerator(indicator.Lengths{
		RSI:     cfg.Strategy.RSIPeriod,
		EMAFast: cfg.Strategy.EMAFast,
		EMAMid:  cfg.Strategy.EMAMid,
		EMASlow: cfg.Strategy.EMASlow,
		ATR:     cfg.Strategy.ATRPeriod,
	})
	params := paper.Params{
		InitialBalance:   cfg.Paper.InitialBalance,
		RiskFraction:     cfg.Risk.RiskFraction,
		ATRMultiplier:    cfg.Risk.ATRMultiplier,
		RewardRatio:      cfg.Risk.RewardRatio,
		MinOrderNotional: cfg.Risk.MinOrderNotional,
		FeeRate:          cfg.Risk.FeeRate,
	}

	report, err := backtest.NewEngine(gen, params, log).Run(series)
	if err != nil {
		log.Fatal().Err(err).Msg("backtest failed")
	}

	log.Info().
		Str("sym", report.Symbol).
		Int("bars", report.BarsReplayed).
		Int("trades", len(report.Trades)).
		Float64("win_rate", report.WinRate).
		Float64("total_return", report.TotalReturn).
		Float64("max_drawdown", report.MaxDrawdown).
		Float64("sharpe", report.SharpeRatio).
		Float64("final_equity", report.FinalEquity).
		Msg("backtest complete")

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			log.Fatal().Err(err).Msg("encode report")
		}
	}
}
