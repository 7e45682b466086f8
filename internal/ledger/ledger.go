// Package ledger owns per-symbol net positions. Each symbol has its own
// lock so distinct symbols update in parallel while a given symbol's
// trade-apply and mark operations stay mutually exclusive.
package ledger

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ndrandal/fx-trader/internal/market"
	"github.com/ndrandal/fx-trader/internal/symbol"
)

type entry struct {
	mu  sync.Mutex
	pos market.Position
}

// Ledger tracks one position per registered symbol.
type Ledger struct {
	entries map[string]*entry
}

// New creates a ledger with flat positions for the registry's symbols.
func New(reg *symbol.Registry) *Ledger {
	entries := make(map[string]*entry)
	for _, s := range reg.All() {
		entries[s.Code] = &entry{pos: market.Position{Symbol: s.Code}}
	}
	return &Ledger{entries: entries}
}

// Restore installs a persisted position (used at engine start).
func (l *Ledger) Restore(pos market.Position) error {
	e, ok := l.entries[pos.Symbol]
	if !ok {
		return &symbol.UnknownError{Code: pos.Symbol}
	}
	e.mu.Lock()
	e.pos = pos
	e.mu.Unlock()
	return nil
}

// next computes the position after applying a fill, per weighted-average
// accounting: same-direction fills extend the position and blend the
// average price; opposite fills realize PnL against the average and may
// flip the position onto the fill price.
func next(pos market.Position, side market.Side, quantity, price, mark float64, now time.Time) (market.Position, float64) {
	signed := quantity
	if side == market.SideSell {
		signed = -quantity
	}

	q0, a0 := pos.Quantity, pos.AvgPrice
	q1 := q0 + signed
	a1 := a0
	realized := 0.0

	switch {
	case q0 == 0 || sameSign(q0, signed):
		// add
		if q1 == 0 {
			a1 = 0
		} else {
			a1 = (math.Abs(q0)*a0 + quantity*price) / math.Abs(q1)
		}
	default:
		// reduce or flip
		reduce := math.Min(math.Abs(q0), quantity)
		realized = (price - a0) * reduce * sign(q0)
		switch {
		case q1 == 0:
			a1 = 0
		case sameSign(q1, q0):
			a1 = a0
		default:
			// flipped: residual units opened at the fill price
			a1 = price
		}
	}

	out := pos
	out.Quantity = q1
	out.AvgPrice = a1
	out.RealizedPnL += realized
	out.UnrealizedPnL = (mark - a1) * q1
	out.UpdatedAt = now
	return out, realized
}

func sign(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

// Apply computes the post-trade position for symbol under its lock,
// calls persist with the prospective state, and commits to memory only
// if persist succeeds. A nil persist commits unconditionally. The
// returned values are the committed position and the realized PnL delta.
func (l *Ledger) Apply(code string, side market.Side, quantity, price, mark float64, now time.Time, persist func(next market.Position, realized float64) error) (market.Position, float64, error) {
	e, ok := l.entries[code]
	if !ok {
		return market.Position{}, 0, &symbol.UnknownError{Code: code}
	}
	if quantity <= 0 || price <= 0 {
		return market.Position{}, 0, fmt.Errorf("apply %s: quantity and price must be positive", code)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	prospective, realized := next(e.pos, side, quantity, price, mark, now)
	if err := checkInvariants(prospective); err != nil {
		return market.Position{}, 0, err
	}
	if persist != nil {
		if err := persist(prospective, realized); err != nil {
			return market.Position{}, 0, err
		}
	}
	e.pos = prospective
	return prospective, realized, nil
}

func checkInvariants(p market.Position) error {
	if p.Quantity == 0 && p.AvgPrice != 0 {
		return fmt.Errorf("position %s: flat but avg price %.6f", p.Symbol, p.AvgPrice)
	}
	if p.Quantity != 0 && p.AvgPrice <= 0 {
		return fmt.Errorf("position %s: open but avg price %.6f", p.Symbol, p.AvgPrice)
	}
	return nil
}

// Mark recomputes unrealized PnL against the given mid price.
func (l *Ledger) Mark(code string, mid float64, now time.Time) {
	e, ok := l.entries[code]
	if !ok {
		return
	}
	e.mu.Lock()
	e.pos.UnrealizedPnL = (mid - e.pos.AvgPrice) * e.pos.Quantity
	e.pos.UpdatedAt = now
	e.mu.Unlock()
}

// Position returns a snapshot of one symbol's position.
func (l *Ledger) Position(code string) (market.Position, bool) {
	e, ok := l.entries[code]
	if !ok {
		return market.Position{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos, true
}

// All returns snapshots of every position.
func (l *Ledger) All() []market.Position {
	out := make([]market.Position, 0, len(l.entries))
	for _, e := range l.entries {
		e.mu.Lock()
		out = append(out, e.pos)
		e.mu.Unlock()
	}
	return out
}

// ActiveCount returns the number of symbols with a non-zero position.
func (l *Ledger) ActiveCount() int {
	n := 0
	for _, e := range l.entries {
		e.mu.Lock()
		if e.pos.Quantity != 0 {
			n++
		}
		e.mu.Unlock()
	}
	return n
}
