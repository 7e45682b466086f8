package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ndrandal/fx-trader/internal/market"

	_ "modernc.org/sqlite"
)

// SQLite implements Store on an embedded SQLite database.
type SQLite struct {
	sql *sql.DB
}

// OpenSQLite opens (or creates) the database file and runs migrations.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	s := &SQLite{sql: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	log.Printf("opened SQLite store %s", path)
	return s, nil
}

func (s *SQLite) migrate() error {
	version := 0
	s.sql.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := s.sql.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS trades (
				id            TEXT PRIMARY KEY,
				symbol        TEXT NOT NULL,
				side          TEXT NOT NULL,
				quantity      REAL NOT NULL,
				price         REAL NOT NULL,
				notional      REAL NOT NULL,
				strategy_tag  TEXT NOT NULL DEFAULT '',
				status        TEXT NOT NULL,
				reject_reason TEXT NOT NULL DEFAULT '',
				event_time    TEXT NOT NULL,
				seq           INTEGER NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_trades_symbol_time ON trades(symbol, event_time DESC);

			CREATE TABLE IF NOT EXISTS positions (
				symbol         TEXT PRIMARY KEY,
				quantity       REAL NOT NULL,
				avg_price      REAL NOT NULL,
				realized_pnl   REAL NOT NULL,
				unrealized_pnl REAL NOT NULL,
				updated_at     TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS daily_stats (
				date             TEXT PRIMARY KEY,
				total_notional   REAL NOT NULL,
				trade_count      INTEGER NOT NULL,
				realized_pnl     REAL NOT NULL,
				active_positions INTEGER NOT NULL
			);

			CREATE TABLE IF NOT EXISTS sim_state (
				key   TEXT PRIMARY KEY,
				value BLOB NOT NULL
			);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
	}
	return nil
}

const timeLayout = time.RFC3339Nano

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLite) insertTrade(ctx context.Context, ex execer, t market.Trade) error {
	_, err := ex.ExecContext(ctx, `
		INSERT OR IGNORE INTO trades
			(id, symbol, side, quantity, price, notional, strategy_tag, status, reject_reason, event_time, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Symbol, string(t.Side), t.Quantity, t.Price, t.Notional,
		t.StrategyTag, string(t.Status), t.RejectReason,
		t.EventTime.UTC().Format(timeLayout), int64(t.Seq))
	return err
}

func (s *SQLite) upsertPosition(ctx context.Context, ex execer, p market.Position) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO positions (symbol, quantity, avg_price, realized_pnl, unrealized_pnl, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			quantity = excluded.quantity,
			avg_price = excluded.avg_price,
			realized_pnl = excluded.realized_pnl,
			unrealized_pnl = excluded.unrealized_pnl,
			updated_at = excluded.updated_at`,
		p.Symbol, p.Quantity, p.AvgPrice, p.RealizedPnL, p.UnrealizedPnL,
		p.UpdatedAt.UTC().Format(timeLayout))
	return err
}

func (s *SQLite) upsertStats(ctx context.Context, ex execer, st market.DailyStats) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO daily_stats (date, total_notional, trade_count, realized_pnl, active_positions)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			total_notional = excluded.total_notional,
			trade_count = excluded.trade_count,
			realized_pnl = excluded.realized_pnl,
			active_positions = excluded.active_positions`,
		st.Date, st.TotalNotional, st.TradeCount, st.RealizedPnL, st.ActivePositions)
	return err
}

// ExecuteTrade commits the three writes of one execution atomically.
func (s *SQLite) ExecuteTrade(ctx context.Context, trade market.Trade, pos market.Position, stats market.DailyStats) error {
	tx, err := s.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.insertTrade(ctx, tx, trade); err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	if err := s.upsertPosition(ctx, tx, pos); err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	if err := s.upsertStats(ctx, tx, stats); err != nil {
		return fmt.Errorf("upsert daily stats: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLite) AppendTrade(ctx context.Context, trade market.Trade) error {
	return s.insertTrade(ctx, s.sql, trade)
}

func (s *SQLite) UpsertPosition(ctx context.Context, pos market.Position) error {
	return s.upsertPosition(ctx, s.sql, pos)
}

func (s *SQLite) UpsertDailyStats(ctx context.Context, stats market.DailyStats) error {
	return s.upsertStats(ctx, s.sql, stats)
}

func (s *SQLite) LoadTodayNotional(ctx context.Context, date string) (float64, error) {
	var notional float64
	err := s.sql.QueryRowContext(ctx,
		"SELECT total_notional FROM daily_stats WHERE date = ?", date).Scan(&notional)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load today notional: %w", err)
	}
	return notional, nil
}

func (s *SQLite) LoadDailyStats(ctx context.Context, date string) (market.DailyStats, error) {
	st := market.DailyStats{Date: date}
	err := s.sql.QueryRowContext(ctx, `
		SELECT total_notional, trade_count, realized_pnl, active_positions
		FROM daily_stats WHERE date = ?`, date).
		Scan(&st.TotalNotional, &st.TradeCount, &st.RealizedPnL, &st.ActivePositions)
	if err == sql.ErrNoRows {
		return st, nil
	}
	if err != nil {
		return market.DailyStats{}, fmt.Errorf("load daily stats: %w", err)
	}
	return st, nil
}

func (s *SQLite) LoadPositions(ctx context.Context) ([]market.Position, error) {
	rows, err := s.sql.QueryContext(ctx, `
		SELECT symbol, quantity, avg_price, realized_pnl, unrealized_pnl, updated_at
		FROM positions ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	defer rows.Close()

	var out []market.Position
	for rows.Next() {
		var p market.Position
		var updated string
		if err := rows.Scan(&p.Symbol, &p.Quantity, &p.AvgPrice, &p.RealizedPnL, &p.UnrealizedPnL, &updated); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.UpdatedAt, _ = time.Parse(timeLayout, updated)
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanTrades(rows *sql.Rows) ([]market.Trade, error) {
	var out []market.Trade
	for rows.Next() {
		var t market.Trade
		var side, status, eventTime string
		var seq int64
		if err := rows.Scan(&t.ID, &t.Symbol, &side, &t.Quantity, &t.Price, &t.Notional,
			&t.StrategyTag, &status, &t.RejectReason, &eventTime, &seq); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Side = market.Side(side)
		t.Status = market.TradeStatus(status)
		t.EventTime, _ = time.Parse(timeLayout, eventTime)
		t.Seq = uint64(seq)
		out = append(out, t)
	}
	return out, rows.Err()
}

const tradeColumns = "id, symbol, side, quantity, price, notional, strategy_tag, status, reject_reason, event_time, seq"

func (s *SQLite) ListTrades(ctx context.Context, f TradeFilter) ([]market.Trade, error) {
	f = f.normalized()
	query := "SELECT " + tradeColumns + " FROM trades"
	var args []any
	if f.Symbol != "" {
		query += " WHERE symbol = ?"
		args = append(args, f.Symbol)
	}
	query += " ORDER BY event_time DESC, seq DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	rows, err := s.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

func (s *SQLite) TradesBefore(ctx context.Context, cutoff time.Time) ([]market.Trade, error) {
	rows, err := s.sql.QueryContext(ctx,
		"SELECT "+tradeColumns+" FROM trades WHERE event_time < ? ORDER BY event_time",
		cutoff.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("query trades before: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

func (s *SQLite) DeleteTrades(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.sql.ExecContext(ctx, "DELETE FROM trades WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("delete trades: %w", err)
	}
	return nil
}

func (s *SQLite) SaveState(ctx context.Context, key string, value []byte) error {
	_, err := s.sql.ExecContext(ctx, `
		INSERT INTO sim_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	return err
}

func (s *SQLite) LoadState(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.sql.QueryRowContext(ctx, "SELECT value FROM sim_state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *SQLite) Close(ctx context.Context) error {
	return s.sql.Close()
}
