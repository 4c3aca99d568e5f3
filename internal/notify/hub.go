package notify

import (
	"log/slog"
	"sync"
)

// Conn is one live connection to an observer.
type Conn interface {
	Send(ev Event) error
	Close() error
}

// Hub keeps at most one live connection per session id and pushes events to
// it. Events published while no connection is attached are dropped; nothing
// is replayed to late subscribers.
type Hub struct {
	mu     sync.Mutex
	conns  map[string]*hubConn
	logger *slog.Logger
}

type hubConn struct {
	mu sync.Mutex // serializes writes
	c  Conn
}

func NewHub() *Hub {
	return &Hub{conns: make(map[string]*hubConn), logger: slog.Default()}
}

// Attach registers c as the session's connection. A previous connection for
// the same session is closed: the last writer wins.
func (h *Hub) Attach(sessionID string, c Conn) {
	h.mu.Lock()
	prev := h.conns[sessionID]
	h.conns[sessionID] = &hubConn{c: c}
	h.mu.Unlock()

	if prev != nil {
		prev.mu.Lock()
		prev.c.Close()
		prev.mu.Unlock()
	}
}

// Detach removes c if it is still the session's current connection.
func (h *Hub) Detach(sessionID string, c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.conns[sessionID]; ok && cur.c == c {
		delete(h.conns, sessionID)
	}
}

// Close closes and forgets the session's connection, if any.
func (h *Hub) Close(sessionID string) {
	h.mu.Lock()
	cur := h.conns[sessionID]
	delete(h.conns, sessionID)
	h.mu.Unlock()

	if cur != nil {
		cur.mu.Lock()
		cur.c.Close()
		cur.mu.Unlock()
	}
}

// Connected reports whether the session has a live connection.
func (h *Hub) Connected(sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.conns[sessionID]
	return ok
}

// Notify sends ev to the session's connection. A failed send drops the connection.
func (h *Hub) Notify(sessionID string, ev Event) {
	h.mu.Lock()
	cur := h.conns[sessionID]
	h.mu.Unlock()
	if cur == nil {
		return
	}

	cur.mu.Lock()
	err := cur.c.Send(ev)
	cur.mu.Unlock()
	if err != nil {
		h.logger.Debug("dropping notification connection", "session_id", sessionID, "error", err)
		h.Detach(sessionID, cur.c)
		cur.c.Close()
	}
}
