package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ndrandal/fx-trader/internal/backtest"
	"github.com/ndrandal/fx-trader/internal/feed"
	"github.com/ndrandal/fx-trader/internal/indicator"
	"github.com/ndrandal/fx-trader/internal/market"
	"github.com/ndrandal/fx-trader/internal/store"
	"github.com/ndrandal/fx-trader/internal/strategy"
	"github.com/ndrandal/fx-trader/internal/symbol"
)

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	type symbolView struct {
		Symbol        string  `json:"symbol"`
		BasePrice     float64 `json:"basePrice"`
		TypicalSpread float64 `json:"typicalSpread"`
		Decimals      int     `json:"decimals"`
	}
	syms := s.reg.All()
	out := make([]symbolView, len(syms))
	for i, sym := range syms {
		out[i] = symbolView{
			Symbol:        sym.Code,
			BasePrice:     sym.BasePrice,
			TypicalSpread: sym.TypicalSpread,
			Decimals:      sym.Decimals,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLatestTick(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("symbol")
	if !s.reg.Has(code) {
		writeError(w, http.StatusNotFound, "UnknownSymbol", "unknown symbol: "+code)
		return
	}
	tick, ok := s.tickBus.Latest(code)
	if !ok {
		writeError(w, http.StatusNotFound, "NoData", "no ticks yet for "+code)
		return
	}
	writeJSON(w, http.StatusOK, tick)
}

func (s *Server) handleIndicators(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("symbol")
	if !s.reg.Has(code) {
		writeError(w, http.StatusNotFound, "UnknownSymbol", "unknown symbol: "+code)
		return
	}
	hist := s.tickBus.Snapshot(code, parseIntParam(r, "n", 200))
	prices := make([]float64, len(hist))
	for i, h := range hist {
		prices[i] = h.Mid
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":     code,
		"points":     len(prices),
		"indicators": indicator.Compute(prices, indicator.DefaultParams()),
	})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	f := store.TradeFilter{
		Symbol: r.URL.Query().Get("symbol"),
		Limit:  parseIntParam(r, "limit", 100),
		Offset: parseIntParam(r, "offset", 0),
	}
	if f.Symbol != "" && !s.reg.Has(f.Symbol) {
		writeError(w, http.StatusNotFound, "UnknownSymbol", "unknown symbol: "+f.Symbol)
		return
	}
	trades, err := s.st.ListTrades(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "StoreError", err.Error())
		return
	}
	if trades == nil {
		trades = []market.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.led.All())
}

func (s *Server) handleDailyStats(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = market.DateOf(time.Now())
	}
	stats, err := s.st.LoadDailyStats(r.Context(), date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "StoreError", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleEngine(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.State())
}

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol string `json:"symbol"`
		Impact string `json:"impact"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	if err := s.sim.InjectNews(req.Symbol, feed.Impact(req.Impact)); err != nil {
		var unknown *symbol.UnknownError
		if errors.As(err, &unknown) {
			writeError(w, http.StatusNotFound, "UnknownSymbol", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol         string  `json:"symbol"`
		Start          string  `json:"start"`
		End            string  `json:"end"`
		Interval       string  `json:"interval"`
		InitialCapital float64 `json:"initialCapital"`
		SMAShort       int     `json:"smaShort"`
		SMALong        int     `json:"smaLong"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}

	start, err := time.Parse("2006-01-02", req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "start: "+err.Error())
		return
	}
	end, err := time.Parse("2006-01-02", req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "end: "+err.Error())
		return
	}
	interval, err := time.ParseDuration(req.Interval)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "interval: "+err.Error())
		return
	}
	if req.InitialCapital <= 0 {
		req.InitialCapital = 100_000
	}

	params := strategy.DefaultParams()
	if req.SMAShort > 0 {
		params.SMAShort = req.SMAShort
	}
	if req.SMALong > 0 {
		params.SMALong = req.SMALong
	}

	result, err := backtest.Run(s.reg, backtest.Request{
		Symbol:         req.Symbol,
		Start:          start,
		End:            end,
		Interval:       interval,
		InitialCapital: req.InitialCapital,
		Params:         params,
	})
	if err != nil {
		var unknown *symbol.UnknownError
		if errors.As(err, &unknown) {
			writeError(w, http.StatusNotFound, "UnknownSymbol", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}
