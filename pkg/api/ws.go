package api

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"k8s.io/klog/v2"
)

// Bus message types.
const (
	MsgLimitsChanged = "limits_changed"
)

// WSMessage is the envelope pushed to connected shaper daemons.
type WSMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// WSHub holds daemon connections and broadcasts bus events to all of them.
type WSHub struct {
	upgrader websocket.Upgrader
	mu       sync.Mutex
	conns    map[*websocket.Conn]*sync.Mutex
}

func NewWSHub() *WSHub {
	return &WSHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: map[*websocket.Conn]*sync.Mutex{},
	}
}

// HandleWS upgrades a daemon connection and keeps it until the peer goes away.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		klog.Warningf("ws upgrade failed from %s: %v", r.RemoteAddr, err)
		return
	}
	h.mu.Lock()
	h.conns[c] = &sync.Mutex{}
	n := len(h.conns)
	h.mu.Unlock()
	klog.Infof("daemon ws connected from %s (%d connected)", r.RemoteAddr, n)
	go h.readLoop(c, r.RemoteAddr)
}

// Broadcast sends msg to every connection; failed peers are dropped.
func (h *WSHub) Broadcast(msg WSMessage) int {
	h.mu.Lock()
	targets := make(map[*websocket.Conn]*sync.Mutex, len(h.conns))
	for c, wmu := range h.conns {
		targets[c] = wmu
	}
	h.mu.Unlock()

	sent := 0
	for c, wmu := range targets {
		wmu.Lock()
		err := c.WriteJSON(msg)
		wmu.Unlock()
		if err != nil {
			klog.Warningf("ws send type=%s to %s failed: %v", msg.Type, c.RemoteAddr(), err)
			h.drop(c)
			continue
		}
		sent++
	}
	klog.V(2).Infof("ws broadcast type=%s to %d daemons", msg.Type, sent)
	return sent
}

// Connected returns the number of live daemon connections.
func (h *WSHub) Connected() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *WSHub) readLoop(c *websocket.Conn, remote string) {
	defer func() {
		h.drop(c)
		klog.Infof("daemon ws disconnected: %s", remote)
	}()
	for {
		if _, _, err := c.NextReader(); err != nil {
			return
		}
	}
}

func (h *WSHub) drop(c *websocket.Conn) {
	_ = c.Close()
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}
