// Package indicator provides pure technical-analysis functions over a
// price slice ordered oldest to newest. Every function reports ok=false
// when the slice is too short; callers treat that as "no value" rather
// than an error.
package indicator

import "math"

// SMA returns the arithmetic mean of the last n prices.
func SMA(prices []float64, n int) (float64, bool) {
	if n <= 0 || len(prices) < n {
		return 0, false
	}
	sum := 0.0
	for _, p := range prices[len(prices)-n:] {
		sum += p
	}
	return sum / float64(n), true
}

// RSI returns the relative strength index over the last n pairwise
// moves. avg_loss of zero maps to RSI 100.
func RSI(prices []float64, n int) (float64, bool) {
	if n <= 0 || len(prices) < n+1 {
		return 0, false
	}
	window := prices[len(prices)-(n+1):]
	var gains, losses float64
	for i := 1; i < len(window); i++ {
		d := window[i] - window[i-1]
		if d > 0 {
			gains += d
		} else {
			losses += -d
		}
	}
	avgGain := gains / float64(n)
	avgLoss := losses / float64(n)
	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// Bollinger returns the middle band (SMA), upper and lower bands at k
// population standard deviations over the last n prices.
func Bollinger(prices []float64, n int, k float64) (middle, upper, lower float64, ok bool) {
	middle, ok = SMA(prices, n)
	if !ok {
		return 0, 0, 0, false
	}
	window := prices[len(prices)-n:]
	variance := 0.0
	for _, p := range window {
		d := p - middle
		variance += d * d
	}
	variance /= float64(n)
	sigma := math.Sqrt(variance)
	return middle, middle + k*sigma, middle - k*sigma, true
}

// Params bundles the indicator periods used by Compute.
type Params struct {
	SMAShort  int
	SMALong   int
	RSIPeriod int
	BBPeriod  int
	BBStd     float64
}

// DefaultParams mirrors the configuration defaults.
func DefaultParams() Params {
	return Params{SMAShort: 10, SMALong: 50, RSIPeriod: 14, BBPeriod: 20, BBStd: 2}
}

// Snapshot holds the indicator values computable from one price window.
// Nil fields mean insufficient history.
type Snapshot struct {
	SMAShort *float64 `json:"smaShort,omitempty"`
	SMALong  *float64 `json:"smaLong,omitempty"`
	RSI      *float64 `json:"rsi,omitempty"`
	BBMiddle *float64 `json:"bbMiddle,omitempty"`
	BBUpper  *float64 `json:"bbUpper,omitempty"`
	BBLower  *float64 `json:"bbLower,omitempty"`
}

// Compute evaluates all indicators over the window, leaving fields nil
// where the window is too short.
func Compute(prices []float64, p Params) Snapshot {
	var snap Snapshot
	if v, ok := SMA(prices, p.SMAShort); ok {
		snap.SMAShort = &v
	}
	if v, ok := SMA(prices, p.SMALong); ok {
		snap.SMALong = &v
	}
	if v, ok := RSI(prices, p.RSIPeriod); ok {
		snap.RSI = &v
	}
	if m, u, l, ok := Bollinger(prices, p.BBPeriod, p.BBStd); ok {
		snap.BBMiddle = &m
		snap.BBUpper = &u
		snap.BBLower = &l
	}
	return snap
}
