package strategy

import "github.com/ndrandal/fx-trader/internal/indicator"

// RSIStrategy signals on overbought/oversold RSI readings.
type RSIStrategy struct {
	Period     int
	Overbought float64
	Oversold   float64
}

func (s RSIStrategy) Evaluate(symbol string, prices []float64) Signal {
	rsi, ok := indicator.RSI(prices, s.Period)
	if !ok {
		return hold(symbol, SourceRSI, ReasonInsufficientHistory)
	}

	inputs := map[string]float64{"rsi": rsi}

	switch {
	case rsi > s.Overbought:
		return Signal{
			Symbol:     symbol,
			Kind:       Sell,
			Confidence: capConfidence((rsi - s.Overbought) / (100 - s.Overbought)),
			ReasonCode: ReasonOverbought,
			Source:     SourceRSI,
			Inputs:     inputs,
		}
	case rsi < s.Oversold:
		return Signal{
			Symbol:     symbol,
			Kind:       Buy,
			Confidence: capConfidence((s.Oversold - rsi) / s.Oversold),
			ReasonCode: ReasonOversold,
			Source:     SourceRSI,
			Inputs:     inputs,
		}
	}
	sig := hold(symbol, SourceRSI, ReasonNeutral)
	sig.Inputs = inputs
	return sig
}
