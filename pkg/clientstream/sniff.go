package clientstream

import (
	"crypto/tls"
	"fmt"
	"io"
	"time"

	"github.com/relaycore/tunnelhost/internal/logging"
	"github.com/relaycore/tunnelhost/pkg/wire"
)

// ErrTransportClosed indicates the peer closed the connection before
// sending the transport sniff byte. Callers should treat this as a benign
// normal close, not an error worth logging above trace level.
var ErrTransportClosed = fmt.Errorf("clientstream: connection closed before transport byte")

// ErrUnsupportedTransport indicates the first byte read did not match any
// known transport tag.
var ErrUnsupportedTransport = fmt.Errorf("clientstream: unsupported transport byte")

// Sniff reads exactly one byte from conn with a cancellation-aware
// deadline and builds the appropriate ClientStream implementation. conn
// must already be past the TLS handshake.
func Sniff(logger logging.Logger, conn *tls.Conn, readDeadline time.Duration) (ClientStream, error) {
	if readDeadline > 0 {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		defer conn.SetReadDeadline(time.Time{})
	}

	var b [1]byte
	if _, err := io.ReadFull(conn, b[:]); err != nil {
		if err == io.EOF {
			return nil, ErrTransportClosed
		}
		return nil, fmt.Errorf("clientstream: read transport byte: %w", err)
	}

	switch wire.TransportTag(b[0]) {
	case wire.TransportRaw:
		return NewRawClientStream(logger, conn)
	case wire.TransportChunked:
		return NewChunkedClientStream(logger, conn, b[0])
	default:
		return nil, ErrUnsupportedTransport
	}
}
