package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ambientplayer/internal/facade"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Local dev tool: accept any origin.
		return true
	},
}

// hub fans the facade's state/track/position subjects out to every
// connected WebSocket client.
type hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

func newHub() *hub {
	return &hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

func (h *hub) run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			if h.clients[conn] {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					conn.Close()
					go func(c *websocket.Conn) { h.unregister <- c }(conn)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *hub) broadcastEvent(event string, data interface{}) {
	msg := map[string]interface{}{"event": event, "data": data}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- b:
	default:
		// backpressure: drop rather than block the publishing goroutine
	}
}

func (h *hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade: %v", err)
		return
	}
	h.register <- conn

	go func() {
		defer func() { h.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// broadcastLoop relays the facade's subjects and events onto the hub. It
// returns only if one of those channels is closed; the facade never closes
// them (f.Stop included), so the loop runs for the life of the process.
func broadcastLoop(f *facade.Facade, h *hub) {
	stateCh := f.SubscribeState()
	trackCh := f.SubscribeTrack()
	posCh := f.SubscribePosition()
	eventCh := f.Events()

	for {
		select {
		case s, ok := <-stateCh:
			if !ok {
				return
			}
			h.broadcastEvent("state", s)
		case t, ok := <-trackCh:
			if !ok {
				return
			}
			h.broadcastEvent("track", t)
		case p, ok := <-posCh:
			if !ok {
				return
			}
			h.broadcastEvent("position", p.String())
		case e, ok := <-eventCh:
			if !ok {
				return
			}
			h.broadcastEvent("event", e)
		case <-time.After(30 * time.Second):
			// idle tick keeps the select from blocking forever if every
			// subject goes briefly quiet; nothing to broadcast.
		}
	}
}
