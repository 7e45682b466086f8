// Package trading runs the evaluation loop: it pulls consensus signals
// from tick-bus history, sizes and risk-gates them, executes against the
// current bid/ask and commits trade + position + daily stats atomically.
package trading

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ndrandal/fx-trader/internal/bus"
	"github.com/ndrandal/fx-trader/internal/clock"
	"github.com/ndrandal/fx-trader/internal/ledger"
	"github.com/ndrandal/fx-trader/internal/market"
	"github.com/ndrandal/fx-trader/internal/risk"
	"github.com/ndrandal/fx-trader/internal/store"
	"github.com/ndrandal/fx-trader/internal/strategy"
	"github.com/ndrandal/fx-trader/internal/symbol"
)

// State is a read-only snapshot of the engine.
type State struct {
	Running       bool    `json:"running"`
	CurrentDate   string  `json:"currentDate"`
	DailyNotional float64 `json:"dailyNotional"`
	HaltReason    string  `json:"haltReason,omitempty"`
}

// Options configures an Engine.
type Options struct {
	Limits             risk.Limits
	Strategy           strategy.Params
	EvaluationInterval time.Duration
	PersistTimeout     time.Duration
}

// Engine owns EngineState. All state mutations happen on the engine's
// goroutines; readers use the State() snapshot.
type Engine struct {
	opt       Options
	reg       *symbol.Registry
	bus       *bus.Bus
	ledger    *ledger.Ledger
	store     store.Store
	clk       clock.Clock
	ids       *clock.IDGen
	consensus strategy.Consensus

	mu            sync.Mutex
	started       bool
	running       bool
	haltReason    string
	currentDate   string
	dailyNotional float64
	tradeCount    int64
	realizedToday float64

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	markSub *bus.Subscription

	persistFailures atomic.Uint64
	rejections      atomic.Uint64
}

// New creates a stopped engine.
func New(reg *symbol.Registry, b *bus.Bus, led *ledger.Ledger, st store.Store, clk clock.Clock, opt Options) *Engine {
	if opt.EvaluationInterval <= 0 {
		opt.EvaluationInterval = 5 * time.Second
	}
	if opt.PersistTimeout <= 0 {
		opt.PersistTimeout = 2 * time.Second
	}
	return &Engine{
		opt:       opt,
		reg:       reg,
		bus:       b,
		ledger:    led,
		store:     st,
		clk:       clk,
		ids:       clock.NewIDGen(),
		consensus: strategy.NewConsensus(opt.Strategy),
	}
}

// minHistory is the snapshot depth the evaluation loop requests.
func (e *Engine) minHistory() int {
	n := e.opt.Strategy.SMALong + 1
	if n < 21 {
		n = 21
	}
	return n
}

// Start loads today's state from the store, subscribes to the tick bus
// and begins the mark and evaluation loops. Valid only from Stopped.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("engine already started")
	}
	e.started = true
	e.mu.Unlock()

	now := e.clk.Now()
	date := market.DateOf(now)

	loadCtx, cancel := context.WithTimeout(ctx, e.opt.PersistTimeout)
	defer cancel()

	stats, err := e.store.LoadDailyStats(loadCtx, date)
	if err != nil {
		e.mu.Lock()
		e.started = false
		e.mu.Unlock()
		return fmt.Errorf("load daily stats: %w", err)
	}
	positions, err := e.store.LoadPositions(loadCtx)
	if err != nil {
		e.mu.Lock()
		e.started = false
		e.mu.Unlock()
		return fmt.Errorf("load positions: %w", err)
	}
	for _, p := range positions {
		if err := e.ledger.Restore(p); err != nil {
			log.Printf("engine: skip restored position %s: %v", p.Symbol, err)
		}
	}

	e.mu.Lock()
	e.running = true
	e.haltReason = ""
	e.currentDate = date
	e.dailyNotional = stats.TotalNotional
	e.tradeCount = stats.TradeCount
	e.realizedToday = stats.RealizedPnL
	e.mu.Unlock()

	runCtx, cancelRun := context.WithCancel(ctx)
	e.cancel = cancelRun
	e.markSub = e.bus.Subscribe(nil)

	e.wg.Add(2)
	go e.markLoop(runCtx)
	go e.evalLoop(runCtx)

	log.Printf("engine: started (date=%s dailyNotional=%.2f positions=%d)", date, stats.TotalNotional, len(positions))
	return nil
}

// Halt stops trade execution but keeps marking positions to market.
func (e *Engine) Halt(reason string) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.haltReason = reason
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), e.opt.PersistTimeout)
	defer cancel()
	if err := e.store.SaveState(ctx, store.StateHaltReason, []byte(reason)); err != nil {
		log.Printf("engine: persist halt reason: %v", err)
	}
	log.Printf("engine: halted (%s)", reason)
}

// Stop ends both loops and releases the bus subscription. Valid from
// any state; returns once in-flight work has drained.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	e.running = false
	e.mu.Unlock()

	if e.cancel != nil {
		e.cancel()
	}
	if e.markSub != nil {
		e.bus.Unsubscribe(e.markSub)
	}
	e.wg.Wait()
	log.Println("engine: stopped")
}

// State returns a snapshot of the engine state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		Running:       e.running,
		CurrentDate:   e.currentDate,
		DailyNotional: e.dailyNotional,
		HaltReason:    e.haltReason,
	}
}

// PersistFailures returns the persistence-failure counter.
func (e *Engine) PersistFailures() uint64 { return e.persistFailures.Load() }

// Rejections returns the rejected-trade counter.
func (e *Engine) Rejections() uint64 { return e.rejections.Load() }

// markLoop updates unrealized PnL for held symbols on every tick.
func (e *Engine) markLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-e.markSub.C:
			if !ok {
				return
			}
			if ev.Kind != market.KindTick || ev.Tick == nil {
				continue
			}
			pos, ok := e.ledger.Position(ev.Tick.Symbol)
			if ok && pos.Quantity != 0 {
				e.ledger.Mark(ev.Tick.Symbol, ev.Tick.Mid, e.clk.Now())
			}
		}
	}
}

// evalLoop runs strategy evaluation at a fixed cadence.
func (e *Engine) evalLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.opt.EvaluationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.EvaluateOnce(ctx)
		}
	}
}

// EvaluateOnce performs one evaluation pass over all symbols. Errors
// never abort the pass; each symbol logs and continues.
func (e *Engine) EvaluateOnce(ctx context.Context) {
	e.rollover()

	if !e.State().Running {
		return
	}
	for _, sym := range e.reg.All() {
		if ctx.Err() != nil {
			return
		}
		e.evaluateSymbol(ctx, sym)
	}
}

func (e *Engine) evaluateSymbol(ctx context.Context, sym symbol.Symbol) {
	hist := e.bus.Snapshot(sym.Code, e.minHistory())
	prices := make([]float64, len(hist))
	for i, h := range hist {
		prices[i] = h.Mid
	}

	sig := e.consensus.Evaluate(sym.Code, prices)
	if sig.Kind == strategy.Hold || sig.Confidence < e.opt.Limits.MinConfidence {
		return
	}
	if _, err := e.Execute(ctx, sym, sig); err != nil {
		var reject *risk.RejectError
		if !errors.As(err, &reject) {
			log.Printf("engine: execute %s: %v", sym.Code, err)
		}
	}
}

// Execute sizes, gates and executes one signal. On acceptance the trade
// is persisted together with the position and daily stats in a single
// transaction, then the in-memory state is updated and a trade event is
// published. Rejections return a *risk.RejectError.
func (e *Engine) Execute(ctx context.Context, sym symbol.Symbol, sig strategy.Signal) (market.Trade, error) {
	pos, _ := e.ledger.Position(sym.Code)

	// Direction must be compatible with the existing position: buys are
	// taken only when flat or short, sells only when flat or long.
	var side market.Side
	switch sig.Kind {
	case strategy.Buy:
		if pos.Quantity > 0 {
			return market.Trade{}, nil
		}
		side = market.SideBuy
	case strategy.Sell:
		if pos.Quantity < 0 {
			return market.Trade{}, nil
		}
		side = market.SideSell
	default:
		return market.Trade{}, nil
	}

	tick, ok := e.bus.Latest(sym.Code)
	if !ok {
		return market.Trade{}, fmt.Errorf("no market data for %s", sym.Code)
	}
	price := tick.Ask
	if side == market.SideSell {
		price = tick.Bid
	}

	qty := e.opt.Limits.Size(sig.Confidence, tick.Mid, sym.LotStep)
	qty = e.opt.Limits.FloorQuantity(qty, price, sym.LotStep)
	if qty <= 0 {
		return market.Trade{}, fmt.Errorf("sized zero quantity for %s", sym.Code)
	}
	notional := qty * price
	exposure := math.Abs(pos.Quantity * pos.AvgPrice)

	e.mu.Lock()
	running, daily := e.running, e.dailyNotional
	e.mu.Unlock()

	if err := e.opt.Limits.Check(running, daily, notional, exposure); err != nil {
		return e.reject(ctx, sym.Code, side, qty, price, notional, err)
	}

	now := e.clk.Now()
	id, seq := e.ids.Next()
	trade := market.Trade{
		ID:          id,
		Symbol:      sym.Code,
		Side:        side,
		Quantity:    qty,
		Price:       price,
		Notional:    notional,
		StrategyTag: string(sig.Source),
		Status:      market.StatusExecuted,
		EventTime:   now,
		Seq:         seq,
	}

	// Snapshot the active-position count before taking the symbol lock;
	// the persist callback runs under it and must not reach back into
	// other ledger entries.
	activeBefore := e.ledger.ActiveCount()

	_, realized, err := e.ledger.Apply(sym.Code, side, qty, price, tick.Mid, now,
		func(next market.Position, realizedDelta float64) error {
			stats := e.prospectiveStats(notional, realizedDelta, pos, next, activeBefore)
			pctx, cancel := context.WithTimeout(ctx, e.opt.PersistTimeout)
			defer cancel()
			return e.store.ExecuteTrade(pctx, trade, next, stats)
		})
	if err != nil {
		// Persistence failed: the ledger did not commit and the daily
		// notional is untouched. Surface as a rejection without writing
		// anything to the store.
		e.persistFailures.Add(1)
		e.rejections.Add(1)
		log.Printf("engine: persist %s %s: %v", sym.Code, side, err)
		return market.Trade{}, &risk.RejectError{Code: risk.CodePersistenceFailed, Reason: err.Error()}
	}

	e.mu.Lock()
	e.dailyNotional += notional
	e.tradeCount++
	e.realizedToday += realized
	e.mu.Unlock()

	e.bus.PublishTrade(trade)
	log.Printf("engine: %s %s %.0f @ %.5f (notional %.2f, realized %+.2f)", side, sym.Code, qty, price, notional, realized)
	return trade, nil
}

// prospectiveStats computes the daily-stats row as it must look after
// this execution commits.
func (e *Engine) prospectiveStats(notional, realizedDelta float64, before, after market.Position, activeBefore int) market.DailyStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	active := activeBefore
	if before.Quantity == 0 && after.Quantity != 0 {
		active++
	} else if before.Quantity != 0 && after.Quantity == 0 {
		active--
	}
	return market.DailyStats{
		Date:            e.currentDate,
		TotalNotional:   e.dailyNotional + notional,
		TradeCount:      e.tradeCount + 1,
		RealizedPnL:     e.realizedToday + realizedDelta,
		ActivePositions: active,
	}
}

// reject records a refused trade. Risk rejections are appended to the
// trade tape best-effort; DailyVolumeExceeded additionally halts the
// engine.
func (e *Engine) reject(ctx context.Context, code string, side market.Side, qty, price, notional float64, cause error) (market.Trade, error) {
	e.rejections.Add(1)

	var reject *risk.RejectError
	if errors.As(cause, &reject) && reject.Code == risk.CodeDailyVolumeExceeded {
		e.Halt(risk.CodeDailyVolumeExceeded)
	}

	id, seq := e.ids.Next()
	trade := market.Trade{
		ID:           id,
		Symbol:       code,
		Side:         side,
		Quantity:     qty,
		Price:        price,
		Notional:     notional,
		StrategyTag:  string(strategy.SourceCombined),
		Status:       market.StatusRejected,
		RejectReason: cause.Error(),
		EventTime:    e.clk.Now(),
		Seq:          seq,
	}
	pctx, cancel := context.WithTimeout(ctx, e.opt.PersistTimeout)
	defer cancel()
	if err := e.store.AppendTrade(pctx, trade); err != nil {
		log.Printf("engine: record rejection %s: %v", code, err)
	}
	log.Printf("engine: reject %s %s: %v", side, code, cause)
	return trade, cause
}

// rollover resets daily state at UTC midnight. A halt caused by the
// daily volume cap is lifted; other halt reasons stick.
func (e *Engine) rollover() {
	date := market.DateOf(e.clk.Now())

	e.mu.Lock()
	if date == e.currentDate {
		e.mu.Unlock()
		return
	}
	e.currentDate = date
	e.dailyNotional = 0
	e.tradeCount = 0
	e.realizedToday = 0
	resumed := false
	if e.haltReason == risk.CodeDailyVolumeExceeded {
		e.haltReason = ""
		if e.started {
			e.running = true
			resumed = true
		}
	}
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), e.opt.PersistTimeout)
	defer cancel()
	if err := e.store.SaveState(ctx, store.StateHaltReason, nil); err != nil {
		log.Printf("engine: clear halt reason: %v", err)
	}
	if resumed {
		log.Printf("engine: daily rollover to %s, resumed", date)
	} else {
		log.Printf("engine: daily rollover to %s", date)
	}
}
