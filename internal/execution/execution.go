// Package execution handles order lifecycle and interaction with venues.
package execution

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantatc/crossx/internal/metrics"
)

// Side enumerates order directions.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Reason records why a fill happened.
type Reason string

const (
	ReasonSignal     Reason = "SIGNAL"
	ReasonStop       Reason = "STOP"
	ReasonTakeProfit Reason = "TAKE_PROFIT"
	ReasonManual     Reason = "MANUAL"
)

// Order represents a placement request an executor can process.
type Order struct {
	Symbol string
	Side   Side
	Qty    float64
	Price  float64
	Reason Reason
	Ts     time.Time
}

// Fill is the immutable record of one simulated or reported execution.
type Fill struct {
	Symbol string    `json:"symbol"`
	Side   Side      `json:"side"`
	Price  float64   `json:"price"`
	Size   float64   `json:"size"`
	Ts     time.Time `json:"ts"`
	Reason Reason    `json:"reason"`
}

// OrderError reports a rejected placement. Position state is unchanged when it
// is returned; callers may retry at their discretion.
type OrderError struct {
	Symbol string
	Msg    string
	Err    error
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("order rejected for %s: %s", e.Symbol, e.Msg)
}

func (e *OrderError) Unwrap() error { return e.Err }

// Executor submits orders and reports authoritative fills. Implementations must
// either fill fully or return *OrderError; no partial application.
type Executor interface {
	Submit(order Order) (Fill, error)
}

// Paper simulates immediate fills with configurable slippage, always against the taker.
type Paper struct {
	slippageBps float64
	log         zerolog.Logger
}

// NewPaper builds a paper executor. slippageBps is applied adversarially: buys
// fill above the requested price, sells below.
func NewPaper(slippageBps float64, log zerolog.Logger) *Paper {
	if slippageBps < 0 {
		slippageBps = 0
	}
	return &Paper{slippageBps: slippageBps, log: log}
}

// Submit fills the order at the slipped price and records metrics.
func (p *Paper) Submit(order Order) (Fill, error) {
	if order.Qty <= 0 {
		return Fill{}, &OrderError{Symbol: order.Symbol, Msg: "quantity must be positive"}
	}
	if order.Price <= 0 {
		return Fill{}, &OrderError{Symbol: order.Symbol, Msg: "price must be positive"}
	}

	slip := order.Price * p.slippageBps / 10000
	price := order.Price
	if order.Side == Buy {
		price += slip
	} else {
		price -= slip
	}

	fill := Fill{
		Symbol: order.Symbol,
		Side:   order.Side,
		Price:  price,
		Size:   order.Qty,
		Ts:     order.Ts,
		Reason: order.Reason,
	}
	metrics.FillsTotal.WithLabelValues(order.Symbol, string(order.Side), string(order.Reason)).Inc()
	p.log.Debug().
		Str("sym", order.Symbol).Str("side", string(order.Side)).
		Float64("qty", order.Qty).Float64("px", price).Str("reason", string(order.Reason)).
		Msg("paper fill")
	return fill, nil
}
