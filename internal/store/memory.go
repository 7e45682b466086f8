package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ndrandal/fx-trader/internal/market"
)

// Memory is an in-process Store. It backs tests (with fault injection)
// and the "memory" backend for throwaway runs.
type Memory struct {
	mu        sync.Mutex
	trades    []market.Trade
	byID      map[string]bool
	positions map[string]market.Position
	stats     map[string]market.DailyStats
	state     map[string][]byte

	failExecute error
	failAppend  error
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		byID:      make(map[string]bool),
		positions: make(map[string]market.Position),
		stats:     make(map[string]market.DailyStats),
		state:     make(map[string][]byte),
	}
}

// FailNextExecute makes the next ExecuteTrade return err.
func (m *Memory) FailNextExecute(err error) {
	m.mu.Lock()
	m.failExecute = err
	m.mu.Unlock()
}

// FailNextAppend makes the next AppendTrade return err.
func (m *Memory) FailNextAppend(err error) {
	m.mu.Lock()
	m.failAppend = err
	m.mu.Unlock()
}

func (m *Memory) ExecuteTrade(ctx context.Context, trade market.Trade, pos market.Position, stats market.DailyStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failExecute; err != nil {
		m.failExecute = nil
		return err
	}
	m.appendLocked(trade)
	m.positions[pos.Symbol] = pos
	m.stats[stats.Date] = stats
	return nil
}

func (m *Memory) AppendTrade(ctx context.Context, trade market.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failAppend; err != nil {
		m.failAppend = nil
		return err
	}
	m.appendLocked(trade)
	return nil
}

func (m *Memory) appendLocked(trade market.Trade) {
	if m.byID[trade.ID] {
		return // idempotent by ID
	}
	m.byID[trade.ID] = true
	m.trades = append(m.trades, trade)
}

func (m *Memory) UpsertPosition(ctx context.Context, pos market.Position) error {
	m.mu.Lock()
	m.positions[pos.Symbol] = pos
	m.mu.Unlock()
	return nil
}

func (m *Memory) UpsertDailyStats(ctx context.Context, stats market.DailyStats) error {
	m.mu.Lock()
	m.stats[stats.Date] = stats
	m.mu.Unlock()
	return nil
}

func (m *Memory) LoadTodayNotional(ctx context.Context, date string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats[date].TotalNotional, nil
}

func (m *Memory) LoadDailyStats(ctx context.Context, date string) (market.DailyStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stats[date]
	if !ok {
		return market.DailyStats{Date: date}, nil
	}
	return s, nil
}

func (m *Memory) LoadPositions(ctx context.Context) ([]market.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]market.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (m *Memory) ListTrades(ctx context.Context, f TradeFilter) ([]market.Trade, error) {
	f = f.normalized()
	m.mu.Lock()
	defer m.mu.Unlock()

	matched := make([]market.Trade, 0, len(m.trades))
	for _, t := range m.trades {
		if f.Symbol == "" || t.Symbol == f.Symbol {
			matched = append(matched, t)
		}
	}
	// descending by (event_time, seq)
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].EventTime.Equal(matched[j].EventTime) {
			return matched[i].EventTime.After(matched[j].EventTime)
		}
		return matched[i].Seq > matched[j].Seq
	})

	if f.Offset >= len(matched) {
		return []market.Trade{}, nil
	}
	matched = matched[f.Offset:]
	if len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

func (m *Memory) TradesBefore(ctx context.Context, cutoff time.Time) ([]market.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []market.Trade
	for _, t := range m.trades {
		if t.EventTime.Before(cutoff) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventTime.Before(out[j].EventTime) })
	return out, nil
}

func (m *Memory) DeleteTrades(ctx context.Context, ids []string) error {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.trades[:0]
	for _, t := range m.trades {
		if drop[t.ID] {
			delete(m.byID, t.ID)
			continue
		}
		kept = append(kept, t)
	}
	m.trades = kept
	return nil
}

func (m *Memory) SaveState(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	m.state[key] = append([]byte(nil), value...)
	m.mu.Unlock()
	return nil
}

func (m *Memory) LoadState(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.state[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Close(ctx context.Context) error { return nil }
