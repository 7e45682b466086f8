package session

import (
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// Client represents a connected WebSocket subscriber.
type Client struct {
	ID   uint64
	Conn *websocket.Conn

	mu         sync.RWMutex
	symbols    map[string]bool
	allSymbols bool

	sendCh    chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// stats
	Dropped atomic.Uint64
}

var clientIDCounter uint64

// NewClient creates a new client wrapping a WebSocket connection.
func NewClient(conn *websocket.Conn, bufferSize int) *Client {
	return &Client{
		ID:      atomic.AddUint64(&clientIDCounter, 1),
		Conn:    conn,
		symbols: make(map[string]bool),
		sendCh:  make(chan []byte, bufferSize),
		done:    make(chan struct{}),
	}
}

// Subscribe adds symbols to the client's subscription.
func (c *Client) Subscribe(codes []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, code := range codes {
		c.symbols[code] = true
	}
}

// SubscribeAll subscribes the client to all symbols.
func (c *Client) SubscribeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allSymbols = true
}

// Unsubscribe removes symbols from the client's subscription.
func (c *Client) Unsubscribe(codes []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, code := range codes {
		delete(c.symbols, code)
	}
}

// IsSubscribed checks if the client is subscribed to a given symbol.
func (c *Client) IsSubscribed(code string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.allSymbols {
		return true
	}
	return c.symbols[code]
}

// Send enqueues data to be sent to the client.
// Returns false if the buffer is full (message dropped).
func (c *Client) Send(data []byte) bool {
	select {
	case c.sendCh <- data:
		return true
	default:
		c.Dropped.Add(1)
		return false
	}
}

// SendCh returns the send channel for the write pump.
func (c *Client) SendCh() <-chan []byte {
	return c.sendCh
}

// Done returns a channel that is closed when the client is disconnected.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close terminates the client connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.Conn.Close()
	})
}
