// Package strategy turns indicator frames into discrete per-bar trading signals.
package strategy

import (
	"github.com/quantatc/crossx/internal/indicator"
	"github.com/quantatc/crossx/internal/market"
)

// Signal is the trading bias for one bar. The set is closed so the ledger can
// switch over it exhaustively.
type Signal int

const (
	Flat Signal = iota
	Long
	Short
)

// String returns the wire/log name of the signal.
func (s Signal) String() string {
	switch s {
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	default:
		return "FLAT"
	}
}

// Opposite reports whether o is the opposing direction. Flat opposes nothing.
func (s Signal) Opposite(o Signal) bool {
	return (s == Long && o == Short) || (s == Short && o == Long)
}

// Generator classifies bars using a triple-EMA trend filter gated by RSI momentum.
// Generation is pure: the same series always yields the same frame and signals,
// and extending a series never rewrites earlier values.
type Generator struct {
	lengths indicator.Lengths
}

// NewGenerator builds a generator with the provided lookbacks.
func NewGenerator(lengths indicator.Lengths) *Generator {
	return &Generator{lengths: lengths}
}

// Lengths returns the configured lookbacks.
func (g *Generator) Lengths() indicator.Lengths { return g.lengths }

// Generate computes the indicator frame and one signal per bar of the series.
func (g *Generator) Generate(series *market.Series) (*indicator.Frame, []Signal) {
	frame := indicator.NewFrame(g.lengths)
	signals := make([]Signal, 0, series.Len())
	for i := 0; i < series.Len(); i++ {
		frame.Push(series.At(i))
		signals = append(signals, g.Classify(frame, frame.Len()-1))
	}
	return frame, signals
}

// Classify evaluates the signal rule at row i of a frame. Signals are only
// meaningful on bar close; warm-up rows are always Flat.
func (g *Generator) Classify(frame *indicator.Frame, i int) Signal {
	if !frame.Ready(i) {
		return Flat
	}
	fast, mid, slow, rsi := frame.EMAFast[i], frame.EMAMid[i], frame.EMASlow[i], frame.RSI[i]
	switch {
	case fast > mid && mid > slow && rsi > 50:
		return Long
	case fast < mid && mid < slow && rsi < 50:
		return Short
	default:
		return Flat
	}
}
