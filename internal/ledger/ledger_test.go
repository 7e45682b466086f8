package ledger

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/ndrandal/fx-trader/internal/market"
	"github.com/ndrandal/fx-trader/internal/symbol"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestLedger() *Ledger {
	return New(symbol.Default())
}

func apply(t *testing.T, l *Ledger, side market.Side, qty, price, mark float64) (market.Position, float64) {
	t.Helper()
	pos, realized, err := l.Apply("EURUSD", side, qty, price, mark, now, nil)
	if err != nil {
		t.Fatalf("apply %s %f @ %f: %v", side, qty, price, err)
	}
	return pos, realized
}

func TestOpenLong(t *testing.T) {
	l := newTestLedger()
	pos, realized := apply(t, l, market.SideBuy, 10_000, 1.0800, 1.0800)
	if pos.Quantity != 10_000 || pos.AvgPrice != 1.0800 {
		t.Fatalf("position = %f @ %f, want 10000 @ 1.08", pos.Quantity, pos.AvgPrice)
	}
	if realized != 0 {
		t.Errorf("realized = %f, want 0", realized)
	}
}

func TestAddBlendsAveragePrice(t *testing.T) {
	l := newTestLedger()
	apply(t, l, market.SideBuy, 10_000, 1.0800, 1.0800)
	pos, realized := apply(t, l, market.SideBuy, 10_000, 1.0900, 1.0900)
	if pos.Quantity != 20_000 {
		t.Fatalf("quantity = %f, want 20000", pos.Quantity)
	}
	if math.Abs(pos.AvgPrice-1.0850) > 1e-12 {
		t.Errorf("avg price = %.12f, want 1.0850", pos.AvgPrice)
	}
	if realized != 0 {
		t.Errorf("adding must not realize PnL, got %f", realized)
	}
}

func TestReduceRealizesPnL(t *testing.T) {
	l := newTestLedger()
	apply(t, l, market.SideBuy, 10_000, 1.0800, 1.0800)
	pos, realized := apply(t, l, market.SideSell, 4_000, 1.0900, 1.0900)
	want := (1.0900 - 1.0800) * 4_000
	if math.Abs(realized-want) > 1e-9 {
		t.Errorf("realized = %f, want %f", realized, want)
	}
	if pos.Quantity != 6_000 {
		t.Errorf("quantity = %f, want 6000", pos.Quantity)
	}
	if pos.AvgPrice != 1.0800 {
		t.Errorf("avg price = %f, want unchanged 1.0800", pos.AvgPrice)
	}
}

// Flip scenario: +10000 @ 1.0800, SELL 15000 @ 1.0900.
func TestFlipPosition(t *testing.T) {
	l := newTestLedger()
	apply(t, l, market.SideBuy, 10_000, 1.0800, 1.0800)
	pos, realized := apply(t, l, market.SideSell, 15_000, 1.0900, 1.0900)

	wantRealized := (1.0900 - 1.0800) * 10_000 // = 100
	if math.Abs(realized-wantRealized) > 1e-9 {
		t.Errorf("realized = %f, want %f", realized, wantRealized)
	}
	if pos.Quantity != -5_000 {
		t.Errorf("quantity = %f, want -5000", pos.Quantity)
	}
	if pos.AvgPrice != 1.0900 {
		t.Errorf("avg price = %f, want 1.0900 (flip resets to fill price)", pos.AvgPrice)
	}
}

func TestCloseToFlat(t *testing.T) {
	l := newTestLedger()
	apply(t, l, market.SideBuy, 10_000, 1.0800, 1.0800)
	pos, _ := apply(t, l, market.SideSell, 10_000, 1.0850, 1.0850)
	if pos.Quantity != 0 {
		t.Fatalf("quantity = %f, want 0", pos.Quantity)
	}
	if pos.AvgPrice != 0 {
		t.Errorf("flat position must have avg price 0, got %f", pos.AvgPrice)
	}
	if pos.UnrealizedPnL != 0 {
		t.Errorf("flat position must have unrealized 0, got %f", pos.UnrealizedPnL)
	}
}

func TestShortSideAccounting(t *testing.T) {
	l := newTestLedger()
	apply(t, l, market.SideSell, 8_000, 1.1000, 1.1000)
	pos, realized := apply(t, l, market.SideBuy, 8_000, 1.0900, 1.0900)
	want := (1.0900 - 1.1000) * 8_000 * -1 // short profits when price falls
	if math.Abs(realized-want) > 1e-9 {
		t.Errorf("realized = %f, want %f", realized, want)
	}
	if pos.Quantity != 0 || pos.AvgPrice != 0 {
		t.Errorf("position = %f @ %f, want flat", pos.Quantity, pos.AvgPrice)
	}
}

func TestZeroQuantityInvariantAfterEveryApply(t *testing.T) {
	l := newTestLedger()
	steps := []struct {
		side market.Side
		qty  float64
	}{
		{market.SideBuy, 5000},
		{market.SideSell, 2000},
		{market.SideSell, 7000},
		{market.SideBuy, 4000},
		{market.SideBuy, 10000},
		{market.SideSell, 10000},
	}
	price := 1.0800
	for i, s := range steps {
		price += 0.001
		pos, _ := apply(t, l, s.side, s.qty, price, price)
		if (pos.Quantity == 0) != (pos.AvgPrice == 0) {
			t.Fatalf("step %d: invariant q=0 <=> avg=0 violated: %f @ %f", i, pos.Quantity, pos.AvgPrice)
		}
		if pos.Quantity != 0 && pos.AvgPrice < 0 {
			t.Fatalf("step %d: negative avg price %f", i, pos.AvgPrice)
		}
	}
}

// The sum of per-apply realized deltas must equal the final booked
// realized PnL.
func TestRealizedSumMatchesTape(t *testing.T) {
	l := newTestLedger()
	tape := []struct {
		side  market.Side
		qty   float64
		price float64
	}{
		{market.SideBuy, 10_000, 1.0800},
		{market.SideSell, 4_000, 1.0850},
		{market.SideSell, 9_000, 1.0750},
		{market.SideBuy, 3_000, 1.0700},
		{market.SideBuy, 1_000, 1.0900},
	}
	var sum float64
	for _, step := range tape {
		_, realized := apply(t, l, step.side, step.qty, step.price, step.price)
		sum += realized
	}
	pos, _ := l.Position("EURUSD")
	if math.Abs(pos.RealizedPnL-sum) > 1e-9 {
		t.Fatalf("booked realized %f != sum of deltas %f", pos.RealizedPnL, sum)
	}
}

func TestMarkUpdatesUnrealizedOnly(t *testing.T) {
	l := newTestLedger()
	apply(t, l, market.SideBuy, 10_000, 1.0800, 1.0800)
	l.Mark("EURUSD", 1.0820, now)

	pos, _ := l.Position("EURUSD")
	want := (1.0820 - 1.0800) * 10_000
	if math.Abs(pos.UnrealizedPnL-want) > 1e-9 {
		t.Errorf("unrealized = %f, want %f", pos.UnrealizedPnL, want)
	}
	if pos.Quantity != 10_000 || pos.AvgPrice != 1.0800 || pos.RealizedPnL != 0 {
		t.Errorf("mark must not touch quantity/avg/realized: %+v", pos)
	}
}

func TestPersistFailureRollsBack(t *testing.T) {
	l := newTestLedger()
	apply(t, l, market.SideBuy, 10_000, 1.0800, 1.0800)

	boom := errors.New("store down")
	_, _, err := l.Apply("EURUSD", market.SideSell, 5_000, 1.0900, 1.0900, now,
		func(next market.Position, realized float64) error {
			return boom
		})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped store error", err)
	}

	pos, _ := l.Position("EURUSD")
	if pos.Quantity != 10_000 || pos.AvgPrice != 1.0800 || pos.RealizedPnL != 0 {
		t.Fatalf("position mutated despite persist failure: %+v", pos)
	}
}

func TestPersistSeesProspectiveState(t *testing.T) {
	l := newTestLedger()
	apply(t, l, market.SideBuy, 10_000, 1.0800, 1.0800)

	var seen market.Position
	_, _, err := l.Apply("EURUSD", market.SideSell, 15_000, 1.0900, 1.0900, now,
		func(next market.Position, realized float64) error {
			seen = next
			return nil
		})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if seen.Quantity != -5_000 || seen.AvgPrice != 1.0900 {
		t.Fatalf("persist callback saw %f @ %f, want -5000 @ 1.0900", seen.Quantity, seen.AvgPrice)
	}
}

func TestApplyUnknownSymbol(t *testing.T) {
	l := newTestLedger()
	_, _, err := l.Apply("XXXYYY", market.SideBuy, 100, 1, 1, now, nil)
	var unknown *symbol.UnknownError
	if !errors.As(err, &unknown) {
		t.Fatalf("err = %v, want *symbol.UnknownError", err)
	}
}

func TestApplyRejectsNonPositiveInputs(t *testing.T) {
	l := newTestLedger()
	if _, _, err := l.Apply("EURUSD", market.SideBuy, 0, 1.08, 1.08, now, nil); err == nil {
		t.Error("zero quantity accepted")
	}
	if _, _, err := l.Apply("EURUSD", market.SideBuy, 100, 0, 1.08, now, nil); err == nil {
		t.Error("zero price accepted")
	}
}

func TestActiveCount(t *testing.T) {
	l := newTestLedger()
	if l.ActiveCount() != 0 {
		t.Fatalf("fresh ledger active count = %d, want 0", l.ActiveCount())
	}
	apply(t, l, market.SideBuy, 1_000, 1.0800, 1.0800)
	l.Apply("USDJPY", market.SideSell, 1_000, 148.50, 148.50, now, nil)
	if l.ActiveCount() != 2 {
		t.Fatalf("active count = %d, want 2", l.ActiveCount())
	}
	apply(t, l, market.SideSell, 1_000, 1.0850, 1.0850)
	if l.ActiveCount() != 1 {
		t.Fatalf("active count after close = %d, want 1", l.ActiveCount())
	}
}
