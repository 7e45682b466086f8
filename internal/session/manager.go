package session

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ndrandal/fx-trader/internal/bus"
	"github.com/ndrandal/fx-trader/internal/market"
	"github.com/ndrandal/fx-trader/internal/symbol"
)

// Manager handles client registration, subscriptions, and event fan-out.
type Manager struct {
	mu         sync.RWMutex
	clients    map[uint64]*Client
	reg        *symbol.Registry
	bufferSize int
}

// NewManager creates a session manager.
func NewManager(reg *symbol.Registry, bufferSize int) *Manager {
	return &Manager{
		clients:    make(map[uint64]*Client),
		reg:        reg,
		bufferSize: bufferSize,
	}
}

// Register adds a new client. Returns the client for further use.
func (m *Manager) Register(conn *websocket.Conn) *Client {
	c := NewClient(conn, m.bufferSize)

	m.mu.Lock()
	m.clients[c.ID] = c
	m.mu.Unlock()

	log.Printf("client %d connected (%s)", c.ID, conn.RemoteAddr())
	return c
}

// Unregister removes a client.
func (m *Manager) Unregister(c *Client) {
	m.mu.Lock()
	delete(m.clients, c.ID)
	m.mu.Unlock()

	c.Close()
	log.Printf("client %d disconnected (dropped=%d)", c.ID, c.Dropped.Load())
}

// ResolveSymbols filters the requested codes against the registry.
// Returns all=true for "*".
func (m *Manager) ResolveSymbols(codes []string) (known []string, all bool) {
	for _, code := range codes {
		if code == "*" {
			return nil, true
		}
		if m.reg.Has(code) {
			known = append(known, code)
		}
	}
	return known, false
}

// Broadcast fans one bus event out to subscribed clients. The event is
// encoded once and shared.
func (m *Manager) Broadcast(ev market.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	code := ev.Symbol()

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.clients {
		if c.IsSubscribed(code) {
			c.Send(data)
		}
	}
}

// ClientCount returns the number of connected clients.
func (m *Manager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Registry returns the symbol registry.
func (m *Manager) Registry() *symbol.Registry {
	return m.reg
}

// Run bridges the tick bus into the WebSocket fan-out until ctx is
// cancelled. The bridge subscribes to all symbols; per-client filtering
// happens in Broadcast.
func (m *Manager) Run(ctx context.Context, b *bus.Bus) {
	sub := b.Subscribe(nil)
	defer b.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			m.Broadcast(ev)
		}
	}
}
