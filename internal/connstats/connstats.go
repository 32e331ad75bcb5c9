// Package connstats tracks aggregate connection and byte counters for the
// host as a whole, reported through the admin surface's /varz endpoint.
// Per-session access usage is tracked separately, by session.Session.
package connstats

import (
	"fmt"
	"sync/atomic"

	"github.com/jpillora/sizestr"
)

// ConnStats keeps track of both currently open and total connection counts,
// plus cumulative bytes sent/received, for an entity (a ClientStream, a
// session, or the host as a whole).
type ConnStats struct {
	count int32
	open  int32
	sent  int64
	recv  int64
}

// New adds one to the total connection count in a ConnStats
func (c *ConnStats) New() int32 {
	return atomic.AddInt32(&c.count, 1)
}

// Open adds one to the current open connection count in a ConnStats
func (c *ConnStats) Open() {
	atomic.AddInt32(&c.open, 1)
}

// Close subtracts one from the current open connection count in a ConnStats
func (c *ConnStats) Close() {
	atomic.AddInt32(&c.open, -1)
}

// AddSent adds n to the cumulative bytes-sent counter
func (c *ConnStats) AddSent(n int64) {
	atomic.AddInt64(&c.sent, n)
}

// AddRecv adds n to the cumulative bytes-received counter
func (c *ConnStats) AddRecv(n int64) {
	atomic.AddInt64(&c.recv, n)
}

// Snapshot is a point-in-time read of a ConnStats' counters
type Snapshot struct {
	ConnectionsOpen  int32
	ConnectionsTotal int32
	BytesSent        int64
	BytesReceived    int64
}

// Snapshot captures a point-in-time read of the counters
func (c *ConnStats) Snapshot() Snapshot {
	return Snapshot{
		ConnectionsOpen:  atomic.LoadInt32(&c.open),
		ConnectionsTotal: atomic.LoadInt32(&c.count),
		BytesSent:        atomic.LoadInt64(&c.sent),
		BytesReceived:    atomic.LoadInt64(&c.recv),
	}
}

func (c *ConnStats) String() string {
	return fmt.Sprintf("[%d/%d, sent %s, recv %s]",
		atomic.LoadInt32(&c.open),
		atomic.LoadInt32(&c.count),
		sizestr.ToString(atomic.LoadInt64(&c.sent)),
		sizestr.ToString(atomic.LoadInt64(&c.recv)),
	)
}
