package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ndrandal/fx-trader/internal/market"
)

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func TestSQLiteExecuteTradeRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	trade := market.Trade{
		ID:          "t-1",
		Symbol:      "EURUSD",
		Side:        market.SideBuy,
		Quantity:    9217,
		Price:       1.08505,
		Notional:    10001.0,
		StrategyTag: "COMBINED",
		Status:      market.StatusExecuted,
		EventTime:   now,
		Seq:         1,
	}
	pos := market.Position{Symbol: "EURUSD", Quantity: 9217, AvgPrice: 1.08505, UpdatedAt: now}
	stats := market.DailyStats{Date: "2024-06-01", TotalNotional: 10001.0, TradeCount: 1, ActivePositions: 1}

	if err := s.ExecuteTrade(ctx, trade, pos, stats); err != nil {
		t.Fatalf("execute: %v", err)
	}

	trades, err := s.ListTrades(ctx, TradeFilter{Symbol: "EURUSD"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(trades))
	}
	got := trades[0]
	if got.ID != trade.ID || got.Side != trade.Side || got.Quantity != trade.Quantity || got.Status != trade.Status {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if !got.EventTime.Equal(now) {
		t.Fatalf("event time = %v, want %v", got.EventTime, now)
	}

	positions, err := s.LoadPositions(ctx)
	if err != nil {
		t.Fatalf("positions: %v", err)
	}
	if len(positions) != 1 || positions[0].Quantity != 9217 {
		t.Fatalf("positions = %+v", positions)
	}

	notional, err := s.LoadTodayNotional(ctx, "2024-06-01")
	if err != nil {
		t.Fatalf("notional: %v", err)
	}
	if notional != 10001.0 {
		t.Fatalf("notional = %f, want 10001", notional)
	}
}

func TestSQLiteAppendTradeIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	trade := market.Trade{
		ID: "dup", Symbol: "EURUSD", Side: market.SideSell,
		Quantity: 1, Price: 1, Notional: 1,
		Status: market.StatusExecuted, EventTime: time.Now().UTC(), Seq: 1,
	}
	if err := s.AppendTrade(ctx, trade); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendTrade(ctx, trade); err != nil {
		t.Fatalf("duplicate append: %v", err)
	}
	trades, _ := s.ListTrades(ctx, TradeFilter{})
	if len(trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(trades))
	}
}

func TestSQLiteListTradesDescending(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		s.AppendTrade(ctx, market.Trade{
			ID: "t-" + string(rune('a'+i)), Symbol: "EURUSD", Side: market.SideBuy,
			Quantity: 1, Price: 1, Notional: 1, Status: market.StatusExecuted,
			EventTime: base.Add(time.Duration(i) * time.Minute), Seq: uint64(i + 1),
		})
	}
	trades, _ := s.ListTrades(ctx, TradeFilter{})
	for i := 1; i < len(trades); i++ {
		if trades[i].EventTime.After(trades[i-1].EventTime) {
			t.Fatal("trades not in descending event-time order")
		}
	}
	page, _ := s.ListTrades(ctx, TradeFilter{Limit: 2, Offset: 1})
	if len(page) != 2 || page[0].Seq != 3 {
		t.Fatalf("page = %+v, want seqs 3,2", page)
	}
}

func TestSQLiteUpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	now := time.Now().UTC()
	s.UpsertPosition(ctx, market.Position{Symbol: "EURUSD", Quantity: 100, AvgPrice: 1.08, UpdatedAt: now})
	s.UpsertPosition(ctx, market.Position{Symbol: "EURUSD", Quantity: 250, AvgPrice: 1.09, UpdatedAt: now})

	positions, _ := s.LoadPositions(ctx)
	if len(positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(positions))
	}
	if positions[0].Quantity != 250 || positions[0].AvgPrice != 1.09 {
		t.Fatalf("upsert did not overwrite: %+v", positions[0])
	}

	s.UpsertDailyStats(ctx, market.DailyStats{Date: "2024-06-01", TotalNotional: 10})
	s.UpsertDailyStats(ctx, market.DailyStats{Date: "2024-06-01", TotalNotional: 20, TradeCount: 2})
	stats, _ := s.LoadDailyStats(ctx, "2024-06-01")
	if stats.TotalNotional != 20 || stats.TradeCount != 2 {
		t.Fatalf("stats upsert did not overwrite: %+v", stats)
	}
}

func TestSQLiteTradesBeforeAndDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		s.AppendTrade(ctx, market.Trade{
			ID: "t-" + string(rune('a'+i)), Symbol: "EURUSD", Side: market.SideBuy,
			Quantity: 1, Price: 1, Notional: 1, Status: market.StatusExecuted,
			EventTime: base.Add(time.Duration(i) * time.Hour), Seq: uint64(i + 1),
		})
	}

	old, err := s.TradesBefore(ctx, base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("trades before: %v", err)
	}
	if len(old) != 2 {
		t.Fatalf("old trades = %d, want 2", len(old))
	}

	ids := []string{old[0].ID, old[1].ID}
	if err := s.DeleteTrades(ctx, ids); err != nil {
		t.Fatalf("delete: %v", err)
	}
	remaining, _ := s.ListTrades(ctx, TradeFilter{})
	if len(remaining) != 3 {
		t.Fatalf("remaining = %d, want 3", len(remaining))
	}
}

func TestSQLiteStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	if v, err := s.LoadState(ctx, "missing"); err != nil || v != nil {
		t.Fatalf("missing state = %v/%v, want nil/nil", v, err)
	}
	payload := []byte{0x01, 0x02, 0x03}
	if err := s.SaveState(ctx, StateRNG, payload); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveState(ctx, StateRNG, []byte{0xff}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	v, err := s.LoadState(ctx, StateRNG)
	if err != nil || len(v) != 1 || v[0] != 0xff {
		t.Fatalf("state = %v/%v, want [0xff]", v, err)
	}
}
