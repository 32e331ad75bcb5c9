// Package wire defines the request/response wire protocol: the framing
// used on top of a ClientStream, the request code taxonomy, and the JSON
// body types exchanged between client and host.
package wire

// RequestCode tags the JSON body that follows it on a ClientStream.
type RequestCode byte

// Known request codes. Exact numeric values are part of the wire contract
// and must never be reassigned once shipped.
const (
	Hello              RequestCode = 0x01
	TcpDatagramChannel RequestCode = 0x02
	TcpProxyChannel    RequestCode = 0x03
	UdpChannel         RequestCode = 0x04
	Bye                RequestCode = 0x05
)

func (c RequestCode) String() string {
	switch c {
	case Hello:
		return "Hello"
	case TcpDatagramChannel:
		return "TcpDatagramChannel"
	case TcpProxyChannel:
		return "TcpProxyChannel"
	case UdpChannel:
		return "UdpChannel"
	case Bye:
		return "Bye"
	default:
		return "Unknown"
	}
}

// IsKnown reports whether c is one of the codes defined above.
func (c RequestCode) IsKnown() bool {
	switch c {
	case Hello, TcpDatagramChannel, TcpProxyChannel, UdpChannel, Bye:
		return true
	default:
		return false
	}
}

// TransportTag is the first byte read during transport sniffing,
// immediately after the TLS handshake completes.
type TransportTag byte

const (
	// TransportRaw marks the raw framing variant: the byte itself doubles
	// as a version number, and what follows is a RequestCode stream.
	TransportRaw TransportTag = 0x01

	// TransportChunked marks the HTTP/1.1 chunked-reusable framing
	// variant. The byte is ASCII 'P', the first byte of an HTTP request
	// line (e.g. "POST ...").
	TransportChunked TransportTag = 'P'
)

// ServerProtocolVersion is sent on every HelloResponse. It is a wire
// constant, not a build-time version; it never changes without a protocol
// renegotiation story, which does not exist yet (see spec Open Questions).
const ServerProtocolVersion = 3
