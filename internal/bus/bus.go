package bus

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ndrandal/fx-trader/internal/market"
	"github.com/ndrandal/fx-trader/internal/symbol"
)

// BadTickError reports a tick that violates quote invariants.
type BadTickError struct {
	Reason string
}

func (e *BadTickError) Error() string {
	return fmt.Sprintf("bad tick: %s", e.Reason)
}

// Subscription is a non-blocking push channel of bus events.
// When the buffer is full new events are dropped and counted; the
// subscriber never blocks a publisher.
type Subscription struct {
	C       <-chan market.Event
	ch      chan market.Event
	id      uint64
	symbols map[string]bool // nil = all symbols
	dropped atomic.Uint64
}

// Dropped returns the number of events dropped for this subscriber.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Subscription) wants(code string) bool {
	if s.symbols == nil {
		return true
	}
	return s.symbols[code]
}

func (s *Subscription) send(ev market.Event) bool {
	select {
	case s.ch <- ev:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// symbolState owns one symbol's sequence counter, latest tick and
// history ring. Appends and fan-out happen under its lock so every
// subscriber sees the symbol's ticks in seq order.
type symbolState struct {
	mu        sync.Mutex
	seq       uint64
	ring      *ring
	latest    market.Tick
	hasLatest bool
}

// Bus accepts ticks, maintains per-symbol bounded history and fans
// events out to subscribers.
type Bus struct {
	states  map[string]*symbolState
	bufSize int

	mu      sync.RWMutex
	subs    map[uint64]*Subscription
	nextSub uint64

	badTicks atomic.Uint64
}

// New creates a bus for the registry's symbols with per-symbol history
// capacity and per-subscriber channel buffer size.
func New(reg *symbol.Registry, historyCapacity, sendBuffer int) *Bus {
	if sendBuffer <= 0 {
		sendBuffer = 1
	}
	states := make(map[string]*symbolState)
	for _, s := range reg.All() {
		states[s.Code] = &symbolState{ring: newRing(historyCapacity)}
	}
	return &Bus{
		states:  states,
		bufSize: sendBuffer,
		subs:    make(map[uint64]*Subscription),
	}
}

// Publish validates the tick, assigns its per-symbol seq, appends it to
// the history ring and delivers it to subscribers of the symbol.
func (b *Bus) Publish(t market.Tick) error {
	st, ok := b.states[t.Symbol]
	if !ok {
		b.badTicks.Add(1)
		return &symbol.UnknownError{Code: t.Symbol}
	}
	if t.Bid <= 0 {
		b.badTicks.Add(1)
		return &BadTickError{Reason: fmt.Sprintf("bid %.6f must be positive", t.Bid)}
	}
	if t.Ask < t.Bid {
		b.badTicks.Add(1)
		return &BadTickError{Reason: fmt.Sprintf("ask %.6f below bid %.6f", t.Ask, t.Bid)}
	}
	if t.Ask-t.Bid <= 0 {
		b.badTicks.Add(1)
		return &BadTickError{Reason: "spread must be positive"}
	}

	t.Mid = (t.Bid + t.Ask) / 2
	t.Spread = t.Ask - t.Bid

	st.mu.Lock()
	defer st.mu.Unlock()

	st.seq++
	t.Seq = st.seq
	st.latest = t
	st.hasLatest = true
	st.ring.push(market.HistoryPoint{
		EventTime: t.EventTime,
		Mid:       t.Mid,
		High:      t.Ask,
		Low:       t.Bid,
		Volume:    t.Volume,
		Seq:       t.Seq,
	})

	tick := t
	b.fanOut(market.Event{Kind: market.KindTick, Tick: &tick})
	return nil
}

// PublishTrade delivers a trade event to subscribers of its symbol.
func (b *Bus) PublishTrade(tr market.Trade) {
	trade := tr
	b.fanOut(market.Event{Kind: market.KindTrade, Trade: &trade})
}

func (b *Bus) fanOut(ev market.Event) {
	code := ev.Symbol()
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.wants(code) {
			sub.send(ev)
		}
	}
}

// Subscribe returns a push channel for the given symbols (nil = all).
func (b *Bus) Subscribe(symbols []string) *Subscription {
	var filter map[string]bool
	if len(symbols) > 0 {
		filter = make(map[string]bool, len(symbols))
		for _, s := range symbols {
			filter[s] = true
		}
	}
	ch := make(chan market.Event, b.bufSize)
	sub := &Subscription{C: ch, ch: ch, symbols: filter}

	b.mu.Lock()
	b.nextSub++
	sub.id = b.nextSub
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes the subscription and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	_, ok := b.subs[sub.id]
	delete(b.subs, sub.id)
	b.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// Snapshot copies the last n history points for a symbol, oldest first.
func (b *Bus) Snapshot(code string, n int) []market.HistoryPoint {
	st, ok := b.states[code]
	if !ok {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.ring.last(n)
}

// HistoryLen returns the current history length for a symbol.
func (b *Bus) HistoryLen(code string) int {
	st, ok := b.states[code]
	if !ok {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.ring.len()
}

// Latest returns the most recent tick for a symbol.
func (b *Bus) Latest(code string) (market.Tick, bool) {
	st, ok := b.states[code]
	if !ok {
		return market.Tick{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.latest, st.hasLatest
}

// BadTicks returns the rejected-tick counter.
func (b *Bus) BadTicks() uint64 {
	return b.badTicks.Load()
}
