package strategy

// Consensus combines the three component strategies by majority vote.
type Consensus struct {
	SMA SMACross
	RSI RSIStrategy
	BB  BollingerStrategy
}

// Params configures a consensus stack.
type Params struct {
	SMAShort      int
	SMALong       int
	RSIPeriod     int
	RSIOverbought float64
	RSIOversold   float64
	BBPeriod      int
	BBStd         float64
}

// DefaultParams mirrors the configuration defaults.
func DefaultParams() Params {
	return Params{
		SMAShort:      10,
		SMALong:       50,
		RSIPeriod:     14,
		RSIOverbought: 70,
		RSIOversold:   30,
		BBPeriod:      20,
		BBStd:         2,
	}
}

// NewConsensus builds the three-strategy stack from parameters.
func NewConsensus(p Params) Consensus {
	return Consensus{
		SMA: SMACross{Short: p.SMAShort, Long: p.SMALong},
		RSI: RSIStrategy{Period: p.RSIPeriod, Overbought: p.RSIOverbought, Oversold: p.RSIOversold},
		BB:  BollingerStrategy{Period: p.BBPeriod, Std: p.BBStd},
	}
}

// Evaluate runs the three strategies and votes. The output is a pure
// function of the component signals: BUYs vs SELLs with confidence
// above zero are counted; the majority side wins with the mean of its
// confidences; ties and all-HOLD produce HOLD.
func (c Consensus) Evaluate(symbol string, prices []float64) Signal {
	components := []Signal{
		c.SMA.Evaluate(symbol, prices),
		c.RSI.Evaluate(symbol, prices),
		c.BB.Evaluate(symbol, prices),
	}
	return Combine(symbol, components)
}

// Combine applies the voting rule to already-computed component signals.
func Combine(symbol string, components []Signal) Signal {
	var buySum, sellSum float64
	var buys, sells int
	for _, s := range components {
		if s.Confidence <= 0 {
			continue
		}
		switch s.Kind {
		case Buy:
			buys++
			buySum += s.Confidence
		case Sell:
			sells++
			sellSum += s.Confidence
		}
	}

	out := Signal{
		Symbol:     symbol,
		Kind:       Hold,
		ReasonCode: ReasonCombined,
		Source:     SourceCombined,
		Components: components,
	}
	switch {
	case buys > sells:
		out.Kind = Buy
		out.Confidence = capConfidence(buySum / float64(buys))
	case sells > buys:
		out.Kind = Sell
		out.Confidence = capConfidence(sellSum / float64(sells))
	}
	return out
}
