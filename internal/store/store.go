// Package store persists trades, positions and daily statistics. Three
// implementations share one contract: MongoDB, SQLite and an in-memory
// store for tests and throwaway runs.
package store

import (
	"context"
	"time"

	"github.com/ndrandal/fx-trader/internal/market"
)

// State keys used by other components.
const (
	StateRNG           = "rng_state"
	StateFeedPrices    = "feed_prices"
	StateHaltReason    = "halt_reason"
	StateArchiveCursor = "archive_cursor"
)

// TradeFilter controls ListTrades.
type TradeFilter struct {
	Symbol string // empty = all symbols
	Limit  int
	Offset int
}

func (f TradeFilter) normalized() TradeFilter {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Store is the persistence contract.
//
// ExecuteTrade commits the trade append, position upsert and daily-stats
// upsert of a single execution as one transaction: either all three are
// visible afterwards or none is. AppendTrade is idempotent by trade ID.
type Store interface {
	ExecuteTrade(ctx context.Context, trade market.Trade, pos market.Position, stats market.DailyStats) error
	AppendTrade(ctx context.Context, trade market.Trade) error
	UpsertPosition(ctx context.Context, pos market.Position) error
	UpsertDailyStats(ctx context.Context, stats market.DailyStats) error

	LoadTodayNotional(ctx context.Context, date string) (float64, error)
	LoadDailyStats(ctx context.Context, date string) (market.DailyStats, error)
	LoadPositions(ctx context.Context) ([]market.Position, error)
	ListTrades(ctx context.Context, f TradeFilter) ([]market.Trade, error)

	// Archive support.
	TradesBefore(ctx context.Context, cutoff time.Time) ([]market.Trade, error)
	DeleteTrades(ctx context.Context, ids []string) error

	// Opaque simulator/engine state (RNG state, halt reason, cursors).
	SaveState(ctx context.Context, key string, value []byte) error
	LoadState(ctx context.Context, key string) ([]byte, error)

	Close(ctx context.Context) error
}
