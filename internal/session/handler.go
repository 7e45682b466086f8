package session

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// controlMessage represents a client -> server control message.
type controlMessage struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols,omitempty"`
}

// symbolInfo is the directory entry sent on subscribe.
type symbolInfo struct {
	Symbol        string  `json:"symbol"`
	BasePrice     float64 `json:"basePrice"`
	TypicalSpread float64 `json:"typicalSpread"`
	Decimals      int     `json:"decimals"`
}

// Handler creates the HTTP handler for WebSocket upgrades.
func Handler(mgr *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("websocket upgrade error: %v", err)
			return
		}

		client := mgr.Register(conn)

		go writePump(client)
		go readPump(client, mgr)
	}
}

// readPump processes incoming control messages from the client.
func readPump(c *Client, mgr *Manager) {
	defer mgr.Unregister(c)

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			return
		}

		var ctrl controlMessage
		if err := json.Unmarshal(message, &ctrl); err != nil {
			log.Printf("client %d invalid message: %v", c.ID, err)
			continue
		}

		handleControl(c, mgr, &ctrl)
	}
}

// handleControl processes a parsed control message.
func handleControl(c *Client, mgr *Manager, ctrl *controlMessage) {
	switch ctrl.Action {
	case "subscribe":
		codes, all := mgr.ResolveSymbols(ctrl.Symbols)
		if all {
			c.SubscribeAll()
			log.Printf("client %d subscribed to all symbols", c.ID)
			sendDirectory(c, mgr, nil)
		} else if len(codes) > 0 {
			c.Subscribe(codes)
			log.Printf("client %d subscribed to %v", c.ID, codes)
			sendDirectory(c, mgr, codes)
		}

	case "unsubscribe":
		codes, _ := mgr.ResolveSymbols(ctrl.Symbols)
		if len(codes) > 0 {
			c.Unsubscribe(codes)
			log.Printf("client %d unsubscribed from %v", c.ID, codes)
		}

	default:
		log.Printf("client %d unknown action: %s", c.ID, ctrl.Action)
	}
}

// sendDirectory sends symbol metadata for the subscribed codes
// (nil = all registered symbols).
func sendDirectory(c *Client, mgr *Manager, codes []string) {
	want := make(map[string]bool, len(codes))
	for _, code := range codes {
		want[code] = true
	}

	var infos []symbolInfo
	for _, s := range mgr.Registry().All() {
		if codes != nil && !want[s.Code] {
			continue
		}
		infos = append(infos, symbolInfo{
			Symbol:        s.Code,
			BasePrice:     s.BasePrice,
			TypicalSpread: s.TypicalSpread,
			Decimals:      s.Decimals,
		})
	}

	data, err := json.Marshal(map[string]any{"kind": "symbols", "symbols": infos})
	if err != nil {
		return
	}
	c.Send(data)
}

// writePump sends messages from the send channel to the WebSocket.
func writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case data, ok := <-c.SendCh():
			if !ok {
				return
			}
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.Done():
			return
		}
	}
}
