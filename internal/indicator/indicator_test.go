package indicator

import (
	"math"
	"testing"

	"github.com/ndrandal/fx-trader/internal/rng"
)

const tolerance = 1e-9

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) <= tolerance
}

func TestSMAReference(t *testing.T) {
	cases := []struct {
		prices []float64
		n      int
		want   float64
	}{
		{[]float64{1, 2, 3, 4, 5}, 3, 4},
		{[]float64{1, 2, 3, 4, 5}, 5, 3},
		{[]float64{1.0850, 1.0852, 1.0854}, 2, 1.0853},
		{[]float64{10}, 1, 10},
	}
	for i, c := range cases {
		got, ok := SMA(c.prices, c.n)
		if !ok {
			t.Fatalf("case %d: SMA undefined", i)
		}
		if !almostEqual(got, c.want) {
			t.Errorf("case %d: SMA = %.12f, want %.12f", i, got, c.want)
		}
	}
}

func TestSMAInsufficientHistory(t *testing.T) {
	if _, ok := SMA([]float64{1, 2}, 3); ok {
		t.Error("SMA over 2 points with n=3 should be undefined")
	}
	if _, ok := SMA(nil, 1); ok {
		t.Error("SMA over empty slice should be undefined")
	}
	if _, ok := SMA([]float64{1, 2, 3}, 0); ok {
		t.Error("SMA with n=0 should be undefined")
	}
}

func TestRSIReference(t *testing.T) {
	// Classic 14-period example series.
	prices := []float64{
		44.00, 44.34, 44.09, 44.15, 43.61, 44.33, 44.83, 45.10,
		45.42, 45.84, 46.08, 45.89, 46.03, 45.61, 46.28,
	}
	got, ok := RSI(prices, 14)
	if !ok {
		t.Fatal("RSI undefined")
	}
	want := 72.44094488188976
	if !almostEqual(got, want) {
		t.Errorf("RSI = %.12f, want %.12f", got, want)
	}
}

func TestRSIAllGainsIs100(t *testing.T) {
	prices := make([]float64, 16)
	for i := range prices {
		prices[i] = 1 + float64(i)*0.01
	}
	got, ok := RSI(prices, 14)
	if !ok {
		t.Fatal("RSI undefined")
	}
	if got != 100 {
		t.Errorf("RSI of pure uptrend = %f, want 100", got)
	}
}

func TestRSIAllLossesIs0(t *testing.T) {
	prices := make([]float64, 16)
	for i := range prices {
		prices[i] = 10 - float64(i)*0.01
	}
	got, ok := RSI(prices, 14)
	if !ok {
		t.Fatal("RSI undefined")
	}
	if !almostEqual(got, 0) {
		t.Errorf("RSI of pure downtrend = %f, want 0", got)
	}
}

func TestRSIInsufficientHistory(t *testing.T) {
	prices := make([]float64, 14)
	for i := range prices {
		prices[i] = float64(i)
	}
	// n=14 needs n+1 points
	if _, ok := RSI(prices, 14); ok {
		t.Error("RSI over 14 points with n=14 should be undefined")
	}
}

func TestBollingerReference(t *testing.T) {
	prices := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	middle, upper, lower, ok := Bollinger(prices, 8, 2)
	if !ok {
		t.Fatal("Bollinger undefined")
	}
	if !almostEqual(middle, 5) {
		t.Errorf("middle = %.12f, want 5", middle)
	}
	if !almostEqual(upper, 9) {
		t.Errorf("upper = %.12f, want 9", upper)
	}
	if !almostEqual(lower, 1) {
		t.Errorf("lower = %.12f, want 1", lower)
	}
}

func TestBollingerBandOrdering(t *testing.T) {
	r := rng.New(42)
	prices := make([]float64, 0, 500)
	price := 1.0850
	for i := 0; i < 500; i++ {
		price *= 1 + (r.Float64()*2-1)*0.002
		prices = append(prices, price)
	}
	for n := 20; n <= len(prices); n++ {
		middle, upper, lower, ok := Bollinger(prices[:n], 20, 2)
		if !ok {
			t.Fatalf("Bollinger undefined at n=%d", n)
		}
		if lower > middle || middle > upper {
			t.Fatalf("band ordering violated at n=%d: %f / %f / %f", n, lower, middle, upper)
		}
	}
}

func TestComputeSnapshotPartial(t *testing.T) {
	params := DefaultParams()

	// 21 points: RSI and Bollinger defined, long SMA not.
	prices := make([]float64, 21)
	for i := range prices {
		prices[i] = 1 + float64(i)*0.001
	}
	snap := Compute(prices, params)
	if snap.SMAShort == nil {
		t.Error("short SMA should be defined over 21 points")
	}
	if snap.SMALong != nil {
		t.Error("long SMA should be undefined over 21 points")
	}
	if snap.RSI == nil {
		t.Error("RSI should be defined over 21 points")
	}
	if snap.BBUpper == nil || snap.BBMiddle == nil || snap.BBLower == nil {
		t.Error("Bollinger should be defined over 21 points")
	}

	empty := Compute(nil, params)
	if empty.SMAShort != nil || empty.RSI != nil || empty.BBMiddle != nil {
		t.Error("empty window must produce an empty snapshot")
	}
}
