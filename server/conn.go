package server

import (
	"errors"
	"net"
	"sync"
)

var ErrConnClosed = errors.New("server: connection closed")

// conn is one entry of the connection table. Reads happen only on the
// connection's reader goroutine; writes from task workers take writeMu so
// frames never interleave.
type conn struct {
	id      uint64
	nc      net.Conn
	writeMu sync.Mutex
}

func (c *conn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.nc.Write(data)
	return err
}

// connTable maps connection ids to live connections. An id is removed as soon
// as its connection closes, which is how late responses get dropped.
type connTable struct {
	mu    sync.RWMutex
	conns map[uint64]*conn
}

func newConnTable() *connTable {
	return &connTable{conns: make(map[uint64]*conn)}
}

func (t *connTable) add(id uint64, nc net.Conn) *conn {
	c := &conn{id: id, nc: nc}
	t.mu.Lock()
	t.conns[id] = c
	t.mu.Unlock()
	return c
}

func (t *connTable) get(id uint64) (*conn, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.conns[id]
	return c, ok
}

// remove reports whether id was still present.
func (t *connTable) remove(id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.conns[id]
	delete(t.conns, id)
	return ok
}

func (t *connTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}

// closeAll closes every connection; reader goroutines then remove themselves.
func (t *connTable) closeAll() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, c := range t.conns {
		c.nc.Close()
	}
}
