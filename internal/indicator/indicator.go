// Package indicator implements incremental technical indicators. Each indicator is
// an explicit small state machine so live updates and historical replays share the
// exact same recursion, bar by bar, with no look-ahead.
package indicator

import (
	"math"

	"github.com/quantatc/crossx/internal/market"
)

// Undefined is the column value before an indicator's warm-up completes.
var Undefined = math.NaN()

// Defined reports whether a column value is past its warm-up.
func Defined(v float64) bool { return !math.IsNaN(v) }

// EMA is an exponential moving average seeded by the simple average of the first
// `length` inputs, then smoothed with alpha = 2/(length+1).
type EMA struct {
	length int
	alpha  float64
	sum    float64
	count  int
	prev   float64
}

// NewEMA returns an EMA state for the given length.
func NewEMA(length int) *EMA {
	return &EMA{length: length, alpha: 2.0 / float64(length+1)}
}

// Update feeds one value and returns the EMA, false until warm-up completes.
func (e *EMA) Update(x float64) (float64, bool) {
	e.count++
	if e.count < e.length {
		e.sum += x
		return 0, false
	}
	if e.count == e.length {
		e.sum += x
		e.prev = e.sum / float64(e.length)
		return e.prev, true
	}
	e.prev = x*e.alpha + e.prev*(1-e.alpha)
	return e.prev, true
}

// RSI is Wilder's relative strength index over close-to-close changes.
type RSI struct {
	length    int
	prevClose float64
	count     int
	avgGain   float64
	avgLoss   float64
}

// NewRSI returns an RSI state for the given lookback.
func NewRSI(length int) *RSI {
	return &RSI{length: length}
}

// Update feeds one close and returns the RSI, false until warm-up completes.
// Warm-up needs length+1 closes: the first close only anchors the change series.
func (r *RSI) Update(close float64) (float64, bool) {
	r.count++
	if r.count == 1 {
		r.prevClose = close
		return 0, false
	}

	change := close - r.prevClose
	r.prevClose = close
	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}

	changes := r.count - 1
	switch {
	case changes < r.length:
		r.avgGain += gain
		r.avgLoss += loss
		return 0, false
	case changes == r.length:
		r.avgGain = (r.avgGain + gain) / float64(r.length)
		r.avgLoss = (r.avgLoss + loss) / float64(r.length)
	default:
		n := float64(r.length)
		r.avgGain = (r.avgGain*(n-1) + gain) / n
		r.avgLoss = (r.avgLoss*(n-1) + loss) / n
	}

	if r.avgLoss == 0 {
		if r.avgGain == 0 {
			return 50, true
		}
		return 100, true
	}
	rs := r.avgGain / r.avgLoss
	return 100 - 100/(1+rs), true
}

// ATR is Wilder's average true range.
type ATR struct {
	length    int
	prevClose float64
	count     int
	sum       float64
	prev      float64
}

// NewATR returns an ATR state for the given lookback.
func NewATR(length int) *ATR {
	return &ATR{length: length}
}

// Update feeds one bar and returns the ATR, false until warm-up completes.
// The first bar only anchors true range, so warm-up needs length+1 bars.
func (a *ATR) Update(bar market.Bar) (float64, bool) {
	a.count++
	if a.count == 1 {
		a.prevClose = bar.Close
		return 0, false
	}

	tr := math.Max(bar.High-bar.Low,
		math.Max(math.Abs(bar.High-a.prevClose), math.Abs(bar.Low-a.prevClose)))
	a.prevClose = bar.Close

	ranges := a.count - 1
	switch {
	case ranges < a.length:
		a.sum += tr
		return 0, false
	case ranges == a.length:
		a.prev = (a.sum + tr) / float64(a.length)
	default:
		n := float64(a.length)
		a.prev = (a.prev*(n-1) + tr) / n
	}
	return a.prev, true
}
