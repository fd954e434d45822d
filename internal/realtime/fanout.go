// Package realtime implements the multi-connection-per-user WS Fanout
// registry and its WebSocket connection plumbing.
package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Frame is the wire envelope sent to a connection.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Fanout maps UserId -> list of live connections, tolerating many
// connections per user (multi-tab). Every operation is safe under
// concurrent add/remove/broadcast; a broadcast never observes a
// half-removed handle because remove takes the registry-wide write lock
// and broadcast reads under the same lock's read side. Cross-instance delivery (so a broadcast reaches
// users connected to a different process) is layered on top by
// RedisBridge, which republishes into each instance's local Fanout.
type Fanout struct {
	mu          sync.RWMutex
	connections map[string][]*Connection

	logger *zap.Logger
}

// NewFanout builds an empty registry.
func NewFanout(logger *zap.Logger) *Fanout {
	return &Fanout{
		connections: make(map[string][]*Connection),
		logger:      logger,
	}
}

// Add registers conn under userID.
func (f *Fanout) Add(userID string, conn *Connection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connections[userID] = append(f.connections[userID], conn)
}

// Remove unregisters conn from userID by pointer identity. If the user's
// connection list empties, the key is dropped entirely.
func (f *Fanout) Remove(userID string, conn *Connection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.connections[userID]
	for i, c := range list {
		if c == conn {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(f.connections, userID)
	} else {
		f.connections[userID] = list
	}
}

// SendToUser delivers frame to every connection of userID.
func (f *Fanout) SendToUser(userID string, frame Frame) {
	f.Broadcast([]string{userID}, frame)
}

// Broadcast serializes frame once and delivers it to every connection of
// every user in userIDs. A per-connection send failure is logged and the
// fanout proceeds with the rest — it never aborts early.
func (f *Fanout) Broadcast(userIDs []string, frame Frame) {
	f.mu.RLock()
	handles := make([]*Connection, 0, len(userIDs))
	for _, uid := range userIDs {
		handles = append(handles, f.connections[uid]...)
	}
	f.mu.RUnlock()

	for _, c := range handles {
		if err := c.enqueue(frame); err != nil {
			f.logger.Warn("fanout send failed", zap.String("user_id", c.UserID), zap.Error(err))
		}
	}
}

// AllUserIDs returns every currently-registered user ID (for presence
// broadcast).
func (f *Fanout) AllUserIDs() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.connections))
	for uid := range f.connections {
		out = append(out, uid)
	}
	return out
}

// ConnectionCount returns the number of live connections across all users.
func (f *Fanout) ConnectionCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	total := 0
	for _, list := range f.connections {
		total += len(list)
	}
	return total
}
