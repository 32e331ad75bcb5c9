package host

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/relaycore/tunnelhost/pkg/clientstream"
	"github.com/relaycore/tunnelhost/pkg/wire"
)

// handleConnection runs the per-connection pipeline: TLS handshake,
// transport sniff, then the exchange loop. It is always run detached from
// the accept loop, one goroutine per connection, tracked only by the
// host's ShutdownWG so Stop() can wait for in-flight exchanges to finish.
func (h *ConnectionHost) handleConnection(conn net.Conn, localAddr net.Addr) {
	h.connStats.New()
	h.connStats.Open()
	defer h.connStats.Close()

	tlsConn, err := h.acceptor.Accept(conn)
	if err != nil {
		h.Logger.DLogf("tls handshake with %s failed: %s", conn.RemoteAddr(), err)
		return
	}

	stream, err := clientstream.Sniff(h.Logger, tlsConn, h.cfg.requestTimeout())
	if err != nil {
		if err == clientstream.ErrTransportClosed {
			h.Logger.TLogf("%s closed before sending a transport byte", tlsConn.RemoteAddr())
		} else {
			h.Logger.DLogf("transport sniff failed for %s: %s", tlsConn.RemoteAddr(), err)
			tlsConn.Write(wire.AnonymousReply(time.Now()))
		}
		tlsConn.Close()
		return
	}

	h.runExchangeLoop(stream)

	h.connStats.AddRecv(stream.GetNumBytesRead())
	h.connStats.AddSent(stream.GetNumBytesWritten())
}

// runExchangeLoop processes exchanges on stream until it is disposed,
// handed off, or an error ends the connection. Each exchange gets its own
// deadline, so a chunked-reusable stream's Nth exchange is not charged
// against the time spent on exchanges 1..N-1.
func (h *ConnectionHost) runExchangeLoop(stream clientstream.ClientStream) {
	for {
		deadline := time.Now().Add(h.cfg.requestTimeout())
		if dl, ok := stream.(clientstream.Deadliner); ok {
			dl.SetDeadline(deadline)
		}
		ctx, cancel := context.WithDeadline(context.Background(), deadline)

		outcome, err := h.dispatch(ctx, stream)
		cancel()

		if err != nil {
			h.replyToError(stream, err)
			stream.Dispose(false)
			return
		}

		switch outcome {
		case outcomeHandoff:
			return
		case outcomeDisposeUngraceful:
			stream.Dispose(false)
			return
		case outcomeRespond:
			if stream.Reusable() {
				if cc, ok := stream.(*clientstream.ChunkedClientStream); ok {
					if err := cc.BeginNextExchange(); err != nil {
						h.Logger.TLogf("%s: no further chunked exchange: %s", stream.RemoteAddr(), err)
						stream.Dispose(true)
						return
					}
					continue
				}
			}
			stream.Dispose(true)
			return
		}
	}
}

// replyToError implements the error reply policy: a *wire.SessionError gets
// a structured SessionResponseBase reply, anything else gets the anonymous
// 401 banner.
func (h *ConnectionHost) replyToError(stream clientstream.ClientStream, err error) {
	if se, ok := wire.AsSessionError(err); ok {
		h.Logger.DLogf("%s: session error: %s", stream.RemoteAddr(), se)
		h.framer.WriteMessage(stream, &wire.SessionResponseBase{ErrorCode: se.Code, Diagnostic: se.Diagnostic})
		return
	}
	h.Logger.DLogf("%s: %s", stream.RemoteAddr(), err)
	// The anonymous reply must appear on the wire exactly as given, not
	// wrapped in a chunked stream's framing, so it bypasses stream.Write
	// in favor of the underlying net.Conn.
	reply := wire.AnonymousReply(time.Now())
	if nc, ok := stream.(interface{ NetConn() net.Conn }); ok {
		nc.NetConn().Write(reply)
		return
	}
	stream.Write(reply)
}

// dispatch reads the one-byte request code and routes to its handler,
// implementing §4.5's RequestDispatcher.
func (h *ConnectionHost) dispatch(ctx context.Context, stream clientstream.ClientStream) (exchangeOutcome, error) {
	code, err := wire.ReadRequestCode(stream)
	if err != nil {
		return outcomeDisposeUngraceful, err
	}

	switch code {
	case wire.Hello:
		return h.handleHello(stream)
	case wire.Bye:
		return h.handleBye(stream)
	case wire.TcpDatagramChannel:
		return h.handleTcpDatagramChannel(stream)
	case wire.TcpProxyChannel:
		return h.handleTcpProxyChannel(ctx, stream)
	case wire.UdpChannel:
		return h.handleUdpChannel(stream)
	default:
		return outcomeDisposeUngraceful, fmt.Errorf("host: unknown request code 0x%02x", byte(code))
	}
}
