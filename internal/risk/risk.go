// Package risk sizes proposed trades and gates them against the daily
// volume cap, per-trade cap, per-symbol exposure cap and notional floor.
package risk

import (
	"fmt"
	"math"
)

// Reject codes surfaced to callers. Every rejection carries both a
// machine-readable code and a human-readable reason.
const (
	CodeEngineHalted           = "EngineHalted"
	CodeDailyVolumeExceeded    = "DailyVolumeExceeded"
	CodeTradeTooLarge          = "TradeTooLarge"
	CodeSymbolExposureExceeded = "SymbolExposureExceeded"
	CodePersistenceFailed      = "PersistenceFailed"
)

// RejectError is a gated-out trade.
type RejectError struct {
	Code   string
	Reason string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

// Is makes errors.Is match any RejectError with the same code.
func (e *RejectError) Is(target error) bool {
	t, ok := target.(*RejectError)
	return ok && t.Code == e.Code
}

// Limits holds the risk configuration.
type Limits struct {
	DailyCap          float64
	PerTradeFraction  float64
	PerSymbolFraction float64
	MinNotional       float64
	BasePosition      float64
	MinConfidence     float64
}

// DefaultLimits mirrors the configuration defaults.
func DefaultLimits() Limits {
	return Limits{
		DailyCap:          10_000_000,
		PerTradeFraction:  0.10,
		PerSymbolFraction: 0.20,
		MinNotional:       1_000,
		BasePosition:      10_000,
		MinConfidence:     0.6,
	}
}

// Size converts signal confidence into a quantity at the given price:
// the larger of the minimum notional and base_position x confidence,
// snapped to the lot step, then lifted to the notional floor.
func (l Limits) Size(confidence, price, lotStep float64) float64 {
	if price <= 0 {
		return 0
	}
	notional := math.Max(l.MinNotional, l.BasePosition*confidence)
	qty := snapLot(notional/price, lotStep)
	return l.FloorQuantity(qty, price, lotStep)
}

// FloorQuantity lifts a below-floor quantity up to the minimum notional
// at the given execution price (an adjustment, not a reject).
func (l Limits) FloorQuantity(qty, price, lotStep float64) float64 {
	if qty*price >= l.MinNotional {
		return qty
	}
	return math.Ceil(l.MinNotional/price/lotStep) * lotStep
}

func snapLot(qty, lotStep float64) float64 {
	if lotStep <= 0 {
		return qty
	}
	return math.Round(qty/lotStep) * lotStep
}

// Check gates a proposed notional. exposure is the symbol's current
// |quantity x avg_price|. The caller is responsible for the engine-state
// transition on DailyVolumeExceeded.
func (l Limits) Check(running bool, dailyNotional, proposedNotional, exposure float64) error {
	if !running {
		return &RejectError{Code: CodeEngineHalted, Reason: "engine is not running"}
	}
	if dailyNotional+proposedNotional > l.DailyCap {
		return &RejectError{
			Code:   CodeDailyVolumeExceeded,
			Reason: fmt.Sprintf("daily notional %.2f + %.2f exceeds cap %.2f", dailyNotional, proposedNotional, l.DailyCap),
		}
	}
	if perTrade := l.DailyCap * l.PerTradeFraction; proposedNotional > perTrade {
		return &RejectError{
			Code:   CodeTradeTooLarge,
			Reason: fmt.Sprintf("notional %.2f exceeds per-trade cap %.2f", proposedNotional, perTrade),
		}
	}
	if perSymbol := l.DailyCap * l.PerSymbolFraction; exposure+proposedNotional > perSymbol {
		return &RejectError{
			Code:   CodeSymbolExposureExceeded,
			Reason: fmt.Sprintf("exposure %.2f + %.2f exceeds per-symbol cap %.2f", exposure, proposedNotional, perSymbol),
		}
	}
	return nil
}
