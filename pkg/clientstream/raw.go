package clientstream

import (
	"crypto/tls"
	"net"
	"time"

	"github.com/relaycore/tunnelhost/internal/lifecycle"
	"github.com/relaycore/tunnelhost/internal/logging"
	"github.com/relaycore/tunnelhost/internal/streamconn"
)

// RawClientStream is a thin wrapper over a *tls.Conn: the sniffed version
// byte (0x01) is followed directly by a RequestCode stream with no further
// framing. Reuse is never permitted -- a fresh TLS connection is required
// for every subsequent exchange.
type RawClientStream struct {
	*streamconn.SocketConn
}

// NewRawClientStream wraps an already TLS-handshaked connection as a
// one-shot ClientStream. The version byte has already been consumed by the
// transport sniffer before this constructor is called.
func NewRawClientStream(logger logging.Logger, conn *tls.Conn) (*RawClientStream, error) {
	sc, err := streamconn.NewSocketConn(logger, conn)
	if err != nil {
		return nil, err
	}
	return &RawClientStream{SocketConn: sc}, nil
}

func (s *RawClientStream) RemoteAddr() net.Addr {
	return s.NetConn().RemoteAddr()
}

func (s *RawClientStream) LocalAddr() net.Addr {
	return s.NetConn().LocalAddr()
}

// SetDeadline bounds the next read and write on the underlying connection,
// implementing Deadliner.
func (s *RawClientStream) SetDeadline(t time.Time) error {
	return s.NetConn().SetDeadline(t)
}

// Reusable always returns false for the raw variant.
func (s *RawClientStream) Reusable() bool {
	return false
}

// Dispose closes the underlying TLS and TCP connections. graceful has no
// effect on the raw variant -- there is no end-of-stream sentinel to send,
// so a graceful dispose and a hard dispose are the same operation.
func (s *RawClientStream) Dispose(graceful bool) error {
	return s.StartedCloseAndWait()
}

// StartedCloseAndWait starts shutdown if not already started, and waits
// for it to complete.
func (s *RawClientStream) StartedCloseAndWait() error {
	s.StartShutdown(nil)
	return s.WaitShutdown()
}

var (
	_ lifecycle.AsyncShutdowner = (*RawClientStream)(nil)
	_ ClientStream              = (*RawClientStream)(nil)
	_ Deadliner                 = (*RawClientStream)(nil)
)
