package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ndrandal/fx-trader/internal/market"
)

var base = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func tradeN(i int, symbol string) market.Trade {
	return market.Trade{
		ID:        "trade-" + symbol + "-" + string(rune('a'+i)),
		Symbol:    symbol,
		Side:      market.SideBuy,
		Quantity:  1000,
		Price:     1.08,
		Notional:  1080,
		Status:    market.StatusExecuted,
		EventTime: base.Add(time.Duration(i) * time.Minute),
		Seq:       uint64(i + 1),
	}
}

func TestMemoryExecuteTradeAtomicVisibility(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	trade := tradeN(0, "EURUSD")
	pos := market.Position{Symbol: "EURUSD", Quantity: 1000, AvgPrice: 1.08}
	stats := market.DailyStats{Date: "2024-06-01", TotalNotional: 1080, TradeCount: 1}

	if err := m.ExecuteTrade(ctx, trade, pos, stats); err != nil {
		t.Fatalf("execute: %v", err)
	}

	trades, _ := m.ListTrades(ctx, TradeFilter{})
	if len(trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(trades))
	}
	positions, _ := m.LoadPositions(ctx)
	if len(positions) != 1 || positions[0].Quantity != 1000 {
		t.Fatalf("positions = %+v", positions)
	}
	notional, _ := m.LoadTodayNotional(ctx, "2024-06-01")
	if notional != 1080 {
		t.Fatalf("notional = %f, want 1080", notional)
	}
}

func TestMemoryExecuteTradeFailureLeavesNothing(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	boom := errors.New("injected failure")
	m.FailNextExecute(boom)

	err := m.ExecuteTrade(ctx,
		tradeN(0, "EURUSD"),
		market.Position{Symbol: "EURUSD", Quantity: 1000, AvgPrice: 1.08},
		market.DailyStats{Date: "2024-06-01", TotalNotional: 1080})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want injected failure", err)
	}

	trades, _ := m.ListTrades(ctx, TradeFilter{})
	if len(trades) != 0 {
		t.Fatalf("failed execute left %d trades visible", len(trades))
	}
	positions, _ := m.LoadPositions(ctx)
	if len(positions) != 0 {
		t.Fatalf("failed execute left positions: %+v", positions)
	}
	notional, _ := m.LoadTodayNotional(ctx, "2024-06-01")
	if notional != 0 {
		t.Fatalf("failed execute left notional %f", notional)
	}

	// failure hook is one-shot
	if err := m.ExecuteTrade(ctx, tradeN(1, "EURUSD"),
		market.Position{Symbol: "EURUSD"}, market.DailyStats{Date: "2024-06-01"}); err != nil {
		t.Fatalf("second execute should succeed: %v", err)
	}
}

func TestMemoryAppendTradeIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	trade := tradeN(0, "EURUSD")
	if err := m.AppendTrade(ctx, trade); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := m.AppendTrade(ctx, trade); err != nil {
		t.Fatalf("duplicate append: %v", err)
	}

	trades, _ := m.ListTrades(ctx, TradeFilter{})
	if len(trades) != 1 {
		t.Fatalf("trades = %d, want 1 (idempotent by ID)", len(trades))
	}
}

func TestMemoryListTradesOrderAndPagination(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	for i := 0; i < 5; i++ {
		m.AppendTrade(ctx, tradeN(i, "EURUSD"))
	}
	m.AppendTrade(ctx, tradeN(5, "USDJPY"))

	// descending by event time
	trades, _ := m.ListTrades(ctx, TradeFilter{})
	if len(trades) != 6 {
		t.Fatalf("trades = %d, want 6", len(trades))
	}
	for i := 1; i < len(trades); i++ {
		if trades[i].EventTime.After(trades[i-1].EventTime) {
			t.Fatal("trades not in descending event-time order")
		}
	}

	// symbol filter
	jpy, _ := m.ListTrades(ctx, TradeFilter{Symbol: "USDJPY"})
	if len(jpy) != 1 || jpy[0].Symbol != "USDJPY" {
		t.Fatalf("filtered trades = %+v", jpy)
	}

	// pagination
	page, _ := m.ListTrades(ctx, TradeFilter{Symbol: "EURUSD", Limit: 2, Offset: 1})
	if len(page) != 2 {
		t.Fatalf("page size = %d, want 2", len(page))
	}
	if page[0].Seq != 4 || page[1].Seq != 3 {
		t.Fatalf("page seqs = %d,%d, want 4,3", page[0].Seq, page[1].Seq)
	}
}

func TestMemoryTradesBeforeAndDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for i := 0; i < 5; i++ {
		m.AppendTrade(ctx, tradeN(i, "EURUSD"))
	}

	cutoff := base.Add(3 * time.Minute)
	old, _ := m.TradesBefore(ctx, cutoff)
	if len(old) != 3 {
		t.Fatalf("old trades = %d, want 3", len(old))
	}

	ids := make([]string, len(old))
	for i, tr := range old {
		ids[i] = tr.ID
	}
	if err := m.DeleteTrades(ctx, ids); err != nil {
		t.Fatalf("delete: %v", err)
	}
	remaining, _ := m.ListTrades(ctx, TradeFilter{})
	if len(remaining) != 2 {
		t.Fatalf("remaining = %d, want 2", len(remaining))
	}
}

func TestMemoryStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if v, err := m.LoadState(ctx, "missing"); err != nil || v != nil {
		t.Fatalf("missing state = %v/%v, want nil/nil", v, err)
	}
	if err := m.SaveState(ctx, StateHaltReason, []byte("DailyVolumeExceeded")); err != nil {
		t.Fatalf("save: %v", err)
	}
	v, err := m.LoadState(ctx, StateHaltReason)
	if err != nil || string(v) != "DailyVolumeExceeded" {
		t.Fatalf("state = %q/%v", v, err)
	}
}

func TestMemoryLoadDailyStatsAbsentDate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	stats, err := m.LoadDailyStats(ctx, "2024-06-02")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if stats.Date != "2024-06-02" || stats.TotalNotional != 0 || stats.TradeCount != 0 {
		t.Fatalf("absent-date stats = %+v, want zero row", stats)
	}
}
