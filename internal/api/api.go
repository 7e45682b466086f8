// Package api exposes a read-only REST surface over the documented
// operations, plus news injection and on-demand backtests. The
// WebSocket feed lives in internal/session; this package never mutates
// engine or ledger state directly.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ndrandal/fx-trader/internal/bus"
	"github.com/ndrandal/fx-trader/internal/feed"
	"github.com/ndrandal/fx-trader/internal/ledger"
	"github.com/ndrandal/fx-trader/internal/session"
	"github.com/ndrandal/fx-trader/internal/store"
	"github.com/ndrandal/fx-trader/internal/symbol"
	"github.com/ndrandal/fx-trader/internal/trading"
)

// Server provides REST API endpoints for the trader.
type Server struct {
	st      store.Store
	led     *ledger.Ledger
	eng     *trading.Engine
	sim     *feed.Simulator
	tickBus *bus.Bus
	mgr     *session.Manager
	reg     *symbol.Registry
	startAt time.Time
}

// NewServer creates a new API server.
func NewServer(st store.Store, led *ledger.Ledger, eng *trading.Engine, sim *feed.Simulator, b *bus.Bus, mgr *session.Manager, reg *symbol.Registry) *Server {
	return &Server{
		st:      st,
		led:     led,
		eng:     eng,
		sim:     sim,
		tickBus: b,
		mgr:     mgr,
		reg:     reg,
		startAt: time.Now(),
	}
}

// Register attaches API routes to the given mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/symbols", s.handleSymbols)
	mux.HandleFunc("GET /api/ticks/{symbol}", s.handleLatestTick)
	mux.HandleFunc("GET /api/indicators/{symbol}", s.handleIndicators)
	mux.HandleFunc("GET /api/trades", s.handleTrades)
	mux.HandleFunc("GET /api/positions", s.handlePositions)
	mux.HandleFunc("GET /api/stats/daily", s.handleDailyStats)
	mux.HandleFunc("GET /api/engine", s.handleEngine)
	mux.HandleFunc("POST /api/news", s.handleNews)
	mux.HandleFunc("POST /api/backtest", s.handleBacktest)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response with a machine-readable code.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"code": code, "error": msg})
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
