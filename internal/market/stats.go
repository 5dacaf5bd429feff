package market

import "math"

// Summary condenses recent series activity for the reporting surface.
type Summary struct {
	LastPrice     float64
	Change24hPct  float64
	High24h       float64
	Low24h        float64
	Volume24h     float64
	VolatilityPct float64 // stdev of per-bar returns over the window, in percent
}

// bars per summary window, sized for 24h of hourly bars.
const summaryWindow = 24

// Stats summarizes the trailing window of a series for dashboards and logs.
func Stats(s *Series) Summary {
	n := s.Len()
	if n == 0 {
		return Summary{}
	}

	win := s.Slice(n-summaryWindow, n)
	m := win.Len()
	last := win.At(m - 1).Close

	anchor := win.At(0).Close
	var changePct float64
	if anchor != 0 {
		changePct = (last - anchor) / anchor * 100
	}

	high := math.Inf(-1)
	low := math.Inf(1)
	var volume float64
	returns := make([]float64, 0, m)
	for i := 0; i < m; i++ {
		bar := win.At(i)
		high = math.Max(high, bar.High)
		low = math.Min(low, bar.Low)
		volume += bar.Volume
		if i > 0 {
			prev := win.At(i - 1).Close
			if prev != 0 {
				returns = append(returns, (bar.Close-prev)/prev)
			}
		}
	}

	return Summary{
		LastPrice:     last,
		Change24hPct:  changePct,
		High24h:       high,
		Low24h:        low,
		Volume24h:     volume,
		VolatilityPct: stdev(returns) * 100,
	}
}

func stdev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var variance float64
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	variance /= float64(len(xs) - 1)
	return math.Sqrt(variance)
}
