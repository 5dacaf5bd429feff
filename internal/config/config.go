// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidationError reports an invalid configuration value detected at load time.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: invalid %s: %s", e.Field, e.Reason)
}

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name" env:"CROSSX_APP_NAME"`
	Env         string `yaml:"env" env:"CROSSX_ENV"`
	MetricsAddr string `yaml:"metrics_addr" env:"CROSSX_METRICS_ADDR"`
	LogLevel    string `yaml:"log_level" env:"CROSSX_LOG_LEVEL"`
}

// Exchange describes one venue the engine ingests market data from.
type Exchange struct {
	Name      string   `yaml:"name"`
	Provider  string   `yaml:"provider"` // stub|binance
	Symbols   []string `yaml:"symbols"`
	RestURL   string   `yaml:"rest_url"`
	WsURL     string   `yaml:"ws_url"`
	APIKey    string   `yaml:"api_key"`
	APISecret string   `yaml:"api_secret"`
}

// Strategy groups indicator lengths used by the signal generator.
type Strategy struct {
	RSIPeriod int `yaml:"rsi_period"`
	EMAFast   int `yaml:"ema_fast"`
	EMAMid    int `yaml:"ema_mid"`
	EMASlow   int `yaml:"ema_slow"`
	ATRPeriod int `yaml:"atr_period"`
}

// Risk encodes sizing and exit knobs for the paper book.
type Risk struct {
	RiskFraction     float64 `yaml:"risk_fraction"`
	ATRMultiplier    float64 `yaml:"atr_multiplier"`
	RewardRatio      float64 `yaml:"reward_ratio"`
	MinOrderNotional float64 `yaml:"min_order_notional"`
	FeeRate          float64 `yaml:"fee_rate"`
}

// Paper captures virtual account settings.
type Paper struct {
	InitialBalance float64 `yaml:"initial_balance"`
	SlippageBps    float64 `yaml:"slippage_bps"`
}

// Arb configures the cross-exchange spread scanner.
type Arb struct {
	ThresholdPct      float64 `yaml:"threshold_pct"`
	StalenessWindowMs int     `yaml:"staleness_window_ms"`
	HistoryCap        int     `yaml:"spread_history_cap"`
	FeeRate           float64 `yaml:"fee_rate"`
}

// Runner tunes polling cadence and historical lookback for the coordinator.
type Runner struct {
	Interval       string `yaml:"interval"`
	LookbackBars   int    `yaml:"lookback_bars"`
	PollIntervalMs int    `yaml:"poll_interval_ms"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App       App        `yaml:"app"`
	Exchanges []Exchange `yaml:"exchanges"`
	Strategy  Strategy   `yaml:"strategy"`
	Risk      Risk       `yaml:"risk"`
	Paper     Paper      `yaml:"paper"`
	Arb       Arb        `yaml:"arb"`
	Runner    Runner     `yaml:"runner"`
}

// Defaults returns the engine defaults applied before YAML decoding.
func Defaults() Config {
	return Config{
		App: App{Name: "crossx", Env: "dev", MetricsAddr: ":9100", LogLevel: "info"},
		Strategy: Strategy{
			RSIPeriod: 14,
			EMAFast:   21,
			EMAMid:    50,
			EMASlow:   200,
			ATRPeriod: 14,
		},
		Risk: Risk{
			RiskFraction:     0.01,
			ATRMultiplier:    2.0,
			RewardRatio:      1.5,
			MinOrderNotional: 10,
			FeeRate:          0.001,
		},
		Paper: Paper{InitialBalance: 10000},
		Arb: Arb{
			ThresholdPct:      0.5,
			StalenessWindowMs: 5000,
			HistoryCap:        500,
			FeeRate:           0.001,
		},
		Runner: Runner{Interval: "5m", LookbackBars: 500, PollIntervalMs: 5000},
	}
}

// Load reads a YAML file, overlays .env and process environment, and validates the result.
func Load(path string) (*Config, error) {
	// .env is optional; real keys usually arrive via the process environment.
	_ = godotenv.Load()

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	cfg := Defaults()
	if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	// Credentials stay out of YAML; they overlay per venue as BINANCE_API_KEY etc.
	for i := range cfg.Exchanges {
		prefix := strings.ToUpper(cfg.Exchanges[i].Name)
		if v := os.Getenv(prefix + "_API_KEY"); v != "" {
			cfg.Exchanges[i].APIKey = v
		}
		if v := os.Getenv(prefix + "_API_SECRET"); v != "" {
			cfg.Exchanges[i].APISecret = v
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate fails fast on parameter values the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Strategy.RSIPeriod <= 0:
		return &ValidationError{Field: "strategy.rsi_period", Reason: "must be positive"}
	case c.Strategy.EMAFast <= 0 || c.Strategy.EMAMid <= 0 || c.Strategy.EMASlow <= 0:
		return &ValidationError{Field: "strategy.ema_*", Reason: "lengths must be positive"}
	case c.Strategy.EMAFast >= c.Strategy.EMAMid || c.Strategy.EMAMid >= c.Strategy.EMASlow:
		return &ValidationError{Field: "strategy.ema_*", Reason: "lengths must satisfy fast < mid < slow"}
	case c.Strategy.ATRPeriod <= 0:
		return &ValidationError{Field: "strategy.atr_period", Reason: "must be positive"}
	case c.Risk.RiskFraction <= 0 || c.Risk.RiskFraction > 1:
		return &ValidationError{Field: "risk.risk_fraction", Reason: "must be in (0, 1]"}
	case c.Risk.ATRMultiplier <= 0:
		return &ValidationError{Field: "risk.atr_multiplier", Reason: "must be positive"}
	case c.Risk.RewardRatio <= 0:
		return &ValidationError{Field: "risk.reward_ratio", Reason: "must be positive"}
	case c.Risk.FeeRate < 0:
		return &ValidationError{Field: "risk.fee_rate", Reason: "must not be negative"}
	case c.Paper.InitialBalance <= 0:
		return &ValidationError{Field: "paper.initial_balance", Reason: "must be positive"}
	case c.Arb.ThresholdPct < 0:
		return &ValidationError{Field: "arb.threshold_pct", Reason: "must not be negative"}
	case c.Arb.StalenessWindowMs <= 0:
		return &ValidationError{Field: "arb.staleness_window_ms", Reason: "must be positive"}
	case c.Arb.HistoryCap <= 0:
		return &ValidationError{Field: "arb.spread_history_cap", Reason: "must be positive"}
	case c.Runner.LookbackBars <= 0:
		return &ValidationError{Field: "runner.lookback_bars", Reason: "must be positive"}
	case c.Runner.PollIntervalMs <= 0:
		return &ValidationError{Field: "runner.poll_interval_ms", Reason: "must be positive"}
	}
	for i, ex := range c.Exchanges {
		if ex.Name == "" {
			return &ValidationError{Field: fmt.Sprintf("exchanges[%d].name", i), Reason: "must not be empty"}
		}
		if len(ex.Symbols) == 0 {
			return &ValidationError{Field: fmt.Sprintf("exchanges[%d].symbols", i), Reason: "at least one symbol required"}
		}
	}
	return nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
