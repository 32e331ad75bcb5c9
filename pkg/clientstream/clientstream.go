// Package clientstream implements the ClientStream abstraction: a
// bidirectional byte stream bound to one remote peer, carried either as a
// raw TLS stream or as HTTP/1.1 chunked transfer-encoding framing inside
// TLS. Both variants support the same request/response exchange pattern;
// only the chunked variant supports being handed back to the host for
// reuse on a later exchange.
package clientstream

import (
	"net"
	"time"

	"github.com/relaycore/tunnelhost/internal/streamconn"
)

// ClientStream is a logical connection carrying one or more request/
// response exchanges. Every exchange either disposes the stream (Dispose)
// or returns it to the host via the host's reuse callback; only the
// chunked-reusable variant ever does the latter.
type ClientStream interface {
	streamconn.ChannelConn

	// RemoteAddr returns the peer's observed address.
	RemoteAddr() net.Addr

	// LocalAddr returns the local bind address this stream was accepted
	// on.
	LocalAddr() net.Addr

	// Reusable reports whether this stream's framing variant supports
	// being returned to the host for a further exchange. The raw variant
	// always returns false; the chunked variant returns true only after
	// a full response body has been written and flushed.
	Reusable() bool

	// Dispose tears the stream down. If graceful is true and the variant
	// supports it, a clean termination sequence is sent first (a final
	// empty chunk for the chunked variant); otherwise the connection is
	// simply closed.
	Dispose(graceful bool) error
}

// Deadliner is implemented by ClientStream variants that can bound the
// next exchange with a wall-clock read/write deadline on the underlying
// connection. The host uses this to apply a fresh per-exchange timeout to
// a reused stream.
type Deadliner interface {
	SetDeadline(t time.Time) error
}
