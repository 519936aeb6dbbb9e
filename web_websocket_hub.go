package main

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"whitewall/feedstore"
)

// feedHub pushes newly persisted feed records to connected websocket
// clients. Clients are write-only; incoming messages are drained solely
// to detect disconnection.
type feedHub struct {
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	register  chan *websocket.Conn
	remove    chan *websocket.Conn
	broadcast chan []byte
}

func newFeedHub() *feedHub {
	hub := &feedHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:   make(map[*websocket.Conn]bool),
		register:  make(chan *websocket.Conn),
		remove:    make(chan *websocket.Conn),
		broadcast: make(chan []byte, 16),
	}
	go hub.run()
	return hub
}

func (h *feedHub) run() {
	for {
		select {
		case conn := <-h.register:
			h.clients[conn] = true
		case conn := <-h.remove:
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
		case msg := <-h.broadcast:
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					GetLogger().Warnf("Failed to push feed entry to WebSocket client: %v", err)
					delete(h.clients, conn)
					conn.Close()
				}
			}
		}
	}
}

func (h *feedHub) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		GetLogger().Errorf("WebSocket upgrade failed: %v", err)
		return
	}

	h.register <- conn

	go func() {
		defer func() { h.remove <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					GetLogger().Warnf("WebSocket error: %v", err)
				}
				return
			}
		}
	}()
}

// Publish broadcasts one persisted record to every connected client.
// Publishing never blocks the caller: when the broadcast buffer is
// full the record is dropped, since slow watchers can re-read the feed.
func (h *feedHub) Publish(rec feedstore.Record) {
	if h == nil {
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		GetLogger().Errorf("Failed to marshal feed record: %v", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		GetLogger().Debugf("feed broadcast buffer full, dropping record %s", rec.ID)
	}
}
