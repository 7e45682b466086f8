package strategy

import "github.com/ndrandal/fx-trader/internal/indicator"

// BollingerStrategy signals when price escapes the bands.
type BollingerStrategy struct {
	Period int
	Std    float64
}

func (s BollingerStrategy) Evaluate(symbol string, prices []float64) Signal {
	middle, upper, lower, ok := indicator.Bollinger(prices, s.Period, s.Std)
	if !ok {
		return hold(symbol, SourceBB, ReasonInsufficientHistory)
	}
	price := prices[len(prices)-1]

	inputs := map[string]float64{
		"price":    price,
		"bbMiddle": middle,
		"bbUpper":  upper,
		"bbLower":  lower,
	}

	switch {
	case price > upper && upper > middle:
		return Signal{
			Symbol:     symbol,
			Kind:       Sell,
			Confidence: capConfidence((price - upper) / (upper - middle)),
			ReasonCode: ReasonAboveUpperBand,
			Source:     SourceBB,
			Inputs:     inputs,
		}
	case price < lower && middle > lower:
		return Signal{
			Symbol:     symbol,
			Kind:       Buy,
			Confidence: capConfidence((lower - price) / (middle - lower)),
			ReasonCode: ReasonBelowLowerBand,
			Source:     SourceBB,
			Inputs:     inputs,
		}
	}
	sig := hold(symbol, SourceBB, ReasonNeutral)
	sig.Inputs = inputs
	return sig
}
