package feed

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/ndrandal/fx-trader/internal/bus"
	"github.com/ndrandal/fx-trader/internal/clock"
	"github.com/ndrandal/fx-trader/internal/market"
	"github.com/ndrandal/fx-trader/internal/rng"
	"github.com/ndrandal/fx-trader/internal/symbol"
)

// Impact classifies the magnitude of a news shock.
type Impact string

const (
	ImpactLow  Impact = "LOW"
	ImpactMed  Impact = "MED"
	ImpactHigh Impact = "HIGH"
)

var impactMagnitude = map[Impact]float64{
	ImpactLow:  0.002,
	ImpactMed:  0.005,
	ImpactHigh: 0.01,
}

const (
	spreadBase      = 0.0001
	spreadJitter    = 0.0003
	newsSpread      = 0.0003
	volumeMin       = 100_000
	volumeMax       = 1_100_000
	newsVolumeScale = 5
)

// Options configures a Simulator.
type Options struct {
	TickIntervalMin time.Duration
	TickIntervalMax time.Duration
	Sigma           float64
}

// Simulator drives per-symbol random-walk quote generation. Each symbol
// runs its own goroutine publishing ticks at jittered intervals.
type Simulator struct {
	rng *rng.RNG
	reg *symbol.Registry
	bus *bus.Bus
	clk clock.Clock
	opt Options

	mu      sync.Mutex
	mids    map[string]float64
	pending map[string]Impact // one-shot news shocks
}

// New creates a simulator with mids initialized from base prices.
func New(r *rng.RNG, reg *symbol.Registry, b *bus.Bus, clk clock.Clock, opt Options) *Simulator {
	mids := make(map[string]float64)
	for _, s := range reg.All() {
		mids[s.Code] = s.BasePrice
	}
	return &Simulator{
		rng:     r,
		reg:     reg,
		bus:     b,
		clk:     clk,
		opt:     opt,
		mids:    mids,
		pending: make(map[string]Impact),
	}
}

// Run starts one tick runner per symbol. Blocks until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, sym := range s.reg.All() {
		wg.Add(1)
		go func(sym symbol.Symbol) {
			defer wg.Done()
			s.runner(ctx, sym)
		}(sym)
	}
	wg.Wait()
}

func (s *Simulator) runner(ctx context.Context, sym symbol.Symbol) {
	timer := time.NewTimer(s.nextInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.Step(sym.Code)
			timer.Reset(s.nextInterval())
		}
	}
}

func (s *Simulator) nextInterval() time.Duration {
	min, max := s.opt.TickIntervalMin, s.opt.TickIntervalMax
	if max <= min {
		return min
	}
	return min + time.Duration(s.rng.Float64()*float64(max-min))
}

// Step advances one symbol's price and publishes the resulting tick.
func (s *Simulator) Step(code string) {
	sym, err := s.reg.Lookup(code)
	if err != nil {
		return
	}

	s.mu.Lock()
	mid := s.mids[code]
	impact, hasNews := s.pending[code]
	delete(s.pending, code)
	s.mu.Unlock()

	var spread float64
	if hasNews {
		mag := impactMagnitude[impact]
		sign := 1.0
		if s.rng.Float64() < 0.5 {
			sign = -1.0
		}
		mid *= 1 + sign*mag
		spread = mid * newsSpread
	} else {
		mid *= 1 + (s.rng.Float64()*2-1)*s.opt.Sigma
		spread = mid * (spreadBase + s.rng.Float64()*spreadJitter)
	}

	volume := s.rng.Float64Range(volumeMin, volumeMax)
	if hasNews {
		volume *= newsVolumeScale
	}

	bid := sym.Round(mid - spread/2)
	ask := sym.Round(mid + spread/2)
	if ask <= bid {
		// quote precision collapsed the spread; force one quantum
		ask = bid + math.Pow10(-sym.Decimals)
	}

	s.mu.Lock()
	s.mids[code] = mid
	s.mu.Unlock()

	tick := market.Tick{
		Symbol:    code,
		Bid:       bid,
		Ask:       ask,
		Volume:    volume,
		EventTime: s.clk.Now(),
	}
	if err := s.bus.Publish(tick); err != nil {
		log.Printf("feed: publish %s: %v", code, err)
	}
}

// InjectNews schedules a one-shot shock applied on the symbol's next tick.
func (s *Simulator) InjectNews(code string, impact Impact) error {
	if _, err := s.reg.Lookup(code); err != nil {
		return err
	}
	if _, ok := impactMagnitude[impact]; !ok {
		return fmt.Errorf("unknown news impact %q", impact)
	}
	s.mu.Lock()
	s.pending[code] = impact
	s.mu.Unlock()
	log.Printf("feed: news %s impact=%s", code, impact)
	return nil
}

// Prices returns a snapshot of the current mids.
func (s *Simulator) Prices() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(s.mids))
	for k, v := range s.mids {
		out[k] = v
	}
	return out
}

// SetPrice restores a symbol's mid (used when recovering from the store).
func (s *Simulator) SetPrice(code string, mid float64) {
	if mid <= 0 {
		return
	}
	s.mu.Lock()
	s.mids[code] = mid
	s.mu.Unlock()
}
