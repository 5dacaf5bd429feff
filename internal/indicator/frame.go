package indicator

import "github.com/quantatc/crossx/internal/market"

// Lengths bundles every indicator lookback used by a Frame.
type Lengths struct {
	RSI     int
	EMAFast int
	EMAMid  int
	EMASlow int
	ATR     int
}

// DefaultLengths matches the engine defaults: RSI 14, EMAs 21/50/200, ATR 14.
func DefaultLengths() Lengths {
	return Lengths{RSI: 14, EMAFast: 21, EMAMid: 50, EMASlow: 200, ATR: 14}
}

// Frame is a bar series augmented with derived indicator columns. Values at index
// i depend only on bars up to i; columns hold Undefined during warm-up. Pushing
// more bars never changes prior rows.
type Frame struct {
	RSI     []float64
	EMAFast []float64
	EMAMid  []float64
	EMASlow []float64
	ATR     []float64

	rsi  *RSI
	fast *EMA
	mid  *EMA
	slow *EMA
	atr  *ATR
}

// NewFrame creates an empty frame computing the configured lookbacks.
func NewFrame(l Lengths) *Frame {
	return &Frame{
		rsi:  NewRSI(l.RSI),
		fast: NewEMA(l.EMAFast),
		mid:  NewEMA(l.EMAMid),
		slow: NewEMA(l.EMASlow),
		atr:  NewATR(l.ATR),
	}
}

// Push appends one bar's worth of indicator values.
func (f *Frame) Push(bar market.Bar) {
	f.RSI = append(f.RSI, valueOr(f.rsi.Update(bar.Close)))
	f.EMAFast = append(f.EMAFast, valueOr(f.fast.Update(bar.Close)))
	f.EMAMid = append(f.EMAMid, valueOr(f.mid.Update(bar.Close)))
	f.EMASlow = append(f.EMASlow, valueOr(f.slow.Update(bar.Close)))
	f.ATR = append(f.ATR, valueOr(f.atr.Update(bar)))
}

// Len returns the number of rows pushed so far.
func (f *Frame) Len() int { return len(f.RSI) }

// Ready reports whether every column is defined at index i.
func (f *Frame) Ready(i int) bool {
	return Defined(f.RSI[i]) && Defined(f.EMAFast[i]) &&
		Defined(f.EMAMid[i]) && Defined(f.EMASlow[i]) && Defined(f.ATR[i])
}

func valueOr(v float64, ok bool) float64 {
	if !ok {
		return Undefined
	}
	return v
}
