// fxbacktest runs an offline backtest and prints the metrics as JSON.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"github.com/ndrandal/fx-trader/internal/backtest"
	"github.com/ndrandal/fx-trader/internal/strategy"
	"github.com/ndrandal/fx-trader/internal/symbol"
)

func main() {
	var (
		symbolFlag   = flag.String("symbol", "EURUSD", "symbol to backtest")
		startFlag    = flag.String("start", "2024-01-01", "start date (YYYY-MM-DD)")
		endFlag      = flag.String("end", "2024-01-31", "end date (YYYY-MM-DD)")
		intervalFlag = flag.Duration("interval", time.Hour, "bar interval")
		capitalFlag  = flag.Float64("capital", 100_000, "initial capital")
		smaShort     = flag.Int("sma-short", 10, "short SMA period")
		smaLong      = flag.Int("sma-long", 50, "long SMA period")
		rsiPeriod    = flag.Int("rsi-period", 14, "RSI period")
		bbPeriod     = flag.Int("bb-period", 20, "Bollinger period")
		bbStd        = flag.Float64("bb-std", 2, "Bollinger standard deviations")
		verbose      = flag.Bool("v", false, "include closed trades in output")
	)
	flag.Parse()

	start, err := time.Parse("2006-01-02", *startFlag)
	if err != nil {
		log.Fatalf("start: %v", err)
	}
	end, err := time.Parse("2006-01-02", *endFlag)
	if err != nil {
		log.Fatalf("end: %v", err)
	}

	params := strategy.DefaultParams()
	params.SMAShort = *smaShort
	params.SMALong = *smaLong
	params.RSIPeriod = *rsiPeriod
	params.BBPeriod = *bbPeriod
	params.BBStd = *bbStd

	result, err := backtest.Run(symbol.Default(), backtest.Request{
		Symbol:         *symbolFlag,
		Start:          start,
		End:            end,
		Interval:       *intervalFlag,
		InitialCapital: *capitalFlag,
		Params:         params,
	})
	if err != nil {
		log.Fatalf("backtest: %v", err)
	}
	if !*verbose {
		result.Trades = nil
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		log.Fatalf("encode: %v", err)
	}
}
