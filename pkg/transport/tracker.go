package transport

import (
    "net"
    "sync"
    "time"
)

// Tracker keeps the set of live server-side connections so a daemon can
// report and drain them on shutdown.
type Tracker struct {
    mu    sync.Mutex
    conns map[Conn]ConnInfo
}

// ConnInfo is a snapshot entry for one tracked connection.
type ConnInfo struct {
    Remote     net.Addr
    AcceptedAt time.Time
}

func NewTracker() *Tracker { return &Tracker{conns: make(map[Conn]ConnInfo)} }

// Add registers a connection. Returns the current count.
func (t *Tracker) Add(c Conn) int {
    t.mu.Lock(); defer t.mu.Unlock()
    t.conns[c] = ConnInfo{Remote: c.RemoteAddr(), AcceptedAt: time.Now()}
    return len(t.conns)
}

// Remove drops a connection from the set. Returns the current count.
func (t *Tracker) Remove(c Conn) int {
    t.mu.Lock(); defer t.mu.Unlock()
    delete(t.conns, c)
    return len(t.conns)
}

// Count returns the number of tracked connections.
func (t *Tracker) Count() int {
    t.mu.Lock(); defer t.mu.Unlock()
    return len(t.conns)
}

// Snapshot returns info for all tracked connections.
func (t *Tracker) Snapshot() []ConnInfo {
    t.mu.Lock(); defer t.mu.Unlock()
    out := make([]ConnInfo, 0, len(t.conns))
    for _, info := range t.conns { out = append(out, info) }
    return out
}

// CloseAll closes every tracked connection and clears the set.
func (t *Tracker) CloseAll() {
    t.mu.Lock(); defer t.mu.Unlock()
    for c := range t.conns { _ = c.Close() }
    t.conns = make(map[Conn]ConnInfo)
}
