// Package backtest replays synthetic bars through a sandboxed
// indicator+strategy stack. It never touches the live tick bus, store
// or trading engine; the bar generator is seeded from the request so
// identical inputs produce identical results.
package backtest

import (
	"fmt"
	"math"
	"time"

	"github.com/ndrandal/fx-trader/internal/rng"
	"github.com/ndrandal/fx-trader/internal/strategy"
	"github.com/ndrandal/fx-trader/internal/symbol"
)

const (
	sigma         = 0.001 // same per-bar volatility as the live feed
	wickJitter    = 0.0005
	minConfidence = 0.6
	warmupBars    = 30
	cashFraction  = 0.10
	maxBars       = 1_000_000
)

// Request describes one backtest run.
type Request struct {
	Symbol         string
	Start          time.Time
	End            time.Time
	Interval       time.Duration
	InitialCapital float64
	Params         strategy.Params
}

func (r Request) seed() int64 {
	p := r.Params
	return rng.DeriveSeed(
		r.Symbol,
		r.Start.UTC().Format(time.RFC3339),
		r.End.UTC().Format(time.RFC3339),
		r.Interval.String(),
		fmt.Sprintf("%.2f", r.InitialCapital),
		fmt.Sprintf("%d|%d|%d|%g|%g|%d|%g",
			p.SMAShort, p.SMALong, p.RSIPeriod, p.RSIOverbought, p.RSIOversold, p.BBPeriod, p.BBStd),
	)
}

// Bar is one synthetic OHLCV candle.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// ClosedTrade is one completed long round trip.
type ClosedTrade struct {
	EntryTime  time.Time `json:"entryTime"`
	ExitTime   time.Time `json:"exitTime"`
	Quantity   float64   `json:"quantity"`
	EntryPrice float64   `json:"entryPrice"`
	ExitPrice  float64   `json:"exitPrice"`
	PnL        float64   `json:"pnl"`
}

// Result holds the computed performance metrics.
type Result struct {
	Symbol         string        `json:"symbol"`
	Bars           int           `json:"bars"`
	TotalTrades    int           `json:"totalTrades"`
	WinningTrades  int           `json:"winningTrades"`
	WinRate        float64       `json:"winRate"`
	TotalPnL       float64       `json:"totalPnl"`
	FinalEquity    float64       `json:"finalEquity"`
	ReturnPct      float64       `json:"returnPct"`
	MaxDrawdownPct float64       `json:"maxDrawdownPct"`
	Trades         []ClosedTrade `json:"trades"`
}

// Run executes the backtest against the registry's symbol metadata.
func Run(reg *symbol.Registry, req Request) (Result, error) {
	return run(reg, req, nil)
}

// run is the hookable core; evalHook observes each strategy evaluation
// window (used by tests to assert no lookahead).
func run(reg *symbol.Registry, req Request, evalHook func(barIndex int, window []float64)) (Result, error) {
	sym, err := reg.Lookup(req.Symbol)
	if err != nil {
		return Result{}, err
	}
	if !req.End.After(req.Start) {
		return Result{}, fmt.Errorf("backtest: end %v not after start %v", req.End, req.Start)
	}
	if req.Interval <= 0 {
		return Result{}, fmt.Errorf("backtest: interval must be positive")
	}
	if req.InitialCapital <= 0 {
		return Result{}, fmt.Errorf("backtest: initial capital must be positive")
	}

	r := rng.New(req.seed())
	bars := generateBars(r, sym, req)

	cons := strategy.NewConsensus(req.Params)
	history := make([]float64, 0, len(bars))

	cash := req.InitialCapital
	var posQty, entryPrice float64
	var entryTime time.Time
	var trades []ClosedTrade

	peak := req.InitialCapital
	maxDrawdown := 0.0

	for i, bar := range bars {
		history = append(history, bar.Close)

		if len(history) >= warmupBars {
			// the strategy sees only bars 0..i
			if evalHook != nil {
				evalHook(i, history)
			}
			sig := cons.Evaluate(req.Symbol, history)
			if sig.Confidence >= minConfidence {
				switch sig.Kind {
				case strategy.Buy:
					if posQty == 0 {
						units := math.Floor(cash * cashFraction / bar.Close)
						if units >= 1 {
							cash -= units * bar.Close
							posQty = units
							entryPrice = bar.Close
							entryTime = bar.Time
						}
					}
				case strategy.Sell:
					if posQty > 0 {
						cash += posQty * bar.Close
						trades = append(trades, ClosedTrade{
							EntryTime:  entryTime,
							ExitTime:   bar.Time,
							Quantity:   posQty,
							EntryPrice: entryPrice,
							ExitPrice:  bar.Close,
							PnL:        (bar.Close - entryPrice) * posQty,
						})
						posQty = 0
						entryPrice = 0
					}
				}
			}
		}

		equity := cash + posQty*bar.Close
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak * 100; dd > maxDrawdown {
				maxDrawdown = dd
			}
		}
	}

	finalEquity := cash
	if len(bars) > 0 {
		finalEquity = cash + posQty*bars[len(bars)-1].Close
	}

	res := Result{
		Symbol:         req.Symbol,
		Bars:           len(bars),
		TotalTrades:    len(trades),
		FinalEquity:    finalEquity,
		ReturnPct:      (finalEquity - req.InitialCapital) / req.InitialCapital * 100,
		MaxDrawdownPct: maxDrawdown,
		Trades:         trades,
	}
	for _, t := range trades {
		res.TotalPnL += t.PnL
		if t.PnL > 0 {
			res.WinningTrades++
		}
	}
	if res.TotalTrades > 0 {
		res.WinRate = float64(res.WinningTrades) / float64(res.TotalTrades) * 100
	}
	return res, nil
}

// generateBars walks the price from the symbol's base price, one bar
// per interval, with highs and lows jittered around the body.
func generateBars(r *rng.RNG, sym symbol.Symbol, req Request) []Bar {
	n := int(req.End.Sub(req.Start) / req.Interval)
	if n > maxBars {
		n = maxBars
	}
	bars := make([]Bar, 0, n)
	price := sym.BasePrice
	for i := 0; i < n; i++ {
		open := price
		close := sym.Round(open * (1 + (r.Float64()*2-1)*sigma))
		if close <= 0 {
			close = open
		}
		body := math.Max(open, close)
		wick := math.Min(open, close)
		bars = append(bars, Bar{
			Time:   req.Start.Add(time.Duration(i) * req.Interval),
			Open:   open,
			High:   sym.Round(body * (1 + r.Float64()*wickJitter)),
			Low:    sym.Round(wick * (1 - r.Float64()*wickJitter)),
			Close:  close,
			Volume: r.Float64Range(100_000, 1_100_000),
		})
		price = close
	}
	return bars
}
