package strategy

import "github.com/ndrandal/fx-trader/internal/indicator"

// SMACross signals on short/long moving-average crossovers.
type SMACross struct {
	Short int
	Long  int
}

// Evaluate compares the current and previous bars' SMA pair and signals
// on a fresh cross. Prices are ordered oldest to newest.
func (s SMACross) Evaluate(symbol string, prices []float64) Signal {
	if len(prices) < s.Long+1 {
		return hold(symbol, SourceSMA, ReasonInsufficientHistory)
	}

	shortNow, _ := indicator.SMA(prices, s.Short)
	longNow, _ := indicator.SMA(prices, s.Long)
	prev := prices[:len(prices)-1]
	shortPrev, _ := indicator.SMA(prev, s.Short)
	longPrev, _ := indicator.SMA(prev, s.Long)

	inputs := map[string]float64{
		"smaShort":     shortNow,
		"smaLong":      longNow,
		"smaShortPrev": shortPrev,
		"smaLongPrev":  longPrev,
	}

	switch {
	case shortPrev <= longPrev && shortNow > longNow:
		return Signal{
			Symbol:     symbol,
			Kind:       Buy,
			Confidence: capConfidence((shortNow - longNow) / longNow * 100),
			ReasonCode: ReasonGoldenCross,
			Source:     SourceSMA,
			Inputs:     inputs,
		}
	case shortPrev >= longPrev && shortNow < longNow:
		return Signal{
			Symbol:     symbol,
			Kind:       Sell,
			Confidence: capConfidence((longNow - shortNow) / longNow * 100),
			ReasonCode: ReasonDeathCross,
			Source:     SourceSMA,
			Inputs:     inputs,
		}
	}
	sig := hold(symbol, SourceSMA, ReasonNeutral)
	sig.Inputs = inputs
	return sig
}
