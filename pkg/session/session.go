// Package session describes the session manager as an external
// collaborator: the connection host and UDP transmitter call into it, but
// its implementation (session storage, cryptographic key derivation,
// per-session packet tunnelling, access-usage accounting) lives outside
// this module's scope and is described here only by the interfaces this
// core invokes.
package session

import (
	"net"

	"github.com/relaycore/tunnelhost/pkg/wire"
)

// Endpoint is a resolved address+port pair, the concrete type behind
// spec's "ServerEndpoint"/"remote endpoint" notions wherever this package
// needs one.
type Endpoint struct {
	IP   net.IP
	Port int
}

func (e Endpoint) String() string {
	return (&net.TCPAddr{IP: e.IP, Port: e.Port}).String()
}

// Session is the per-client authenticated, encrypted abstraction owning
// its datagram and proxy channels. The connection host only ever touches
// a Session through this interface.
type Session interface {
	// Id returns the session id assigned at creation.
	Id() uint64

	// AuthenticateKey reports whether key matches this session's current
	// session key.
	AuthenticateKey(key []byte) bool

	// SessionKey returns the session key issued at creation, echoed back
	// in a HelloResponse so the client can authenticate later requests.
	SessionKey() []byte

	// SetUseUdpChannel records the client's requested UDP channel
	// preference from its HelloRequest. useUdpChannel2 selects the
	// current session-key-as-UDP-key derivation over the legacy
	// UDP-channel key; it only matters if use is true.
	SetUseUdpChannel(use bool, useUdpChannel2 bool)

	// EnableUdp turns on the session's UDP channel (if not already on),
	// honoring the key-derivation preference recorded by
	// SetUseUdpChannel, and returns its UDP key and bound UDP port.
	EnableUdp() (udpKey []byte, udpPort int, err error)

	// AdoptDatagramChannel hands a long-lived bidirectional stream to the
	// session to retain as a TCP datagram channel. The session owns the
	// stream until it closes; the caller must drop all references after
	// this call succeeds. It registers the channel and returns promptly --
	// it does not block for the channel's lifetime.
	AdoptDatagramChannel(stream ChannelHandle) error

	// AuthorizeProxyChannel reports whether the session may open a
	// TcpProxyChannel to req's destination (network-filter policy,
	// per-session channel limits, access accounting). The host dials the
	// destination and splices it with the ClientStream itself only after
	// this succeeds; the session is not handed the stream, since the
	// splice is pure byte-plumbing the core already owns.
	AuthorizeProxyChannel(req wire.TcpProxyChannelRequest) error

	// UdpIntegrityKey returns the key material the transmitter uses to
	// compute a cheap keyed plausibility tag over a UDP envelope's
	// session id header, before handing the payload off for real
	// decryption. It is not itself the AEAD authentication key -- that
	// happens inside DeliverUdpPacket -- but reusing the session's UDP
	// key here means a forged session id alone is not enough to pass the
	// pre-check.
	UdpIntegrityKey() []byte

	// DeliverUdpPacket hands an inbound UDP datagram (payload only, the
	// session id prefix and integrity tag already stripped) and its
	// source address to the session's UDP channel, in arrival order for
	// that socket.
	DeliverUdpPacket(payload []byte, from net.Addr)

	// AccessUsage returns a point-in-time snapshot of the session's
	// connection/byte accounting.
	AccessUsage() wire.AccessUsageSnapshot

	// Close instructs the session to release its resources. Called on a
	// Bye request.
	Close() error
}

// ChannelHandle is the minimal capability a Session needs from a handed-
// off ClientStream: read, write, and dispose. It is satisfied by
// pkg/clientstream.ClientStream without this package importing it,
// avoiding an import cycle between session and clientstream.
type ChannelHandle interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Dispose(graceful bool) error
}

// NetworkFilterConfig is the local include/exclude IP range configuration
// published to a client in its HelloResponse.
type NetworkFilterConfig struct {
	IncludeIpRanges []wire.IpRange
	ExcludeIpRanges []wire.IpRange
	IPv6Supported   bool
}

// Manager is the session manager external collaborator: session
// creation, lookup, and teardown. The connection host calls into exactly
// these operations; everything else about how sessions are stored,
// authenticated, or billed is out of this core's scope.
type Manager interface {
	// CreateSession authenticates req.TokenId and creates a new session
	// bound to the given local/remote endpoint pair. On success it
	// returns the new session and the server secret to publish in the
	// HelloResponse. A failure is always a *wire.SessionError.
	CreateSession(req wire.HelloRequest, local, remote Endpoint) (sess Session, serverSecret []byte, err error)

	// LookupSession finds a session by id and authenticates key against
	// it. Returns a *wire.SessionError with code SessionNotFound or
	// SessionKeyMismatch on failure.
	LookupSession(sessionId uint64, key []byte) (Session, error)

	// LookupSessionById finds a session by id alone, with no key
	// authentication. Used by the UDP transmitter's demux path, where the
	// datagram's own integrity tag (verified by the session's UDP
	// channel, not here) stands in for key authentication.
	LookupSessionById(sessionId uint64) (Session, bool)

	// NetworkFilterConfig returns the include/exclude IP ranges and
	// IPv6-support flag to publish in a HelloResponse.
	NetworkFilterConfig() NetworkFilterConfig

	// MaxDatagramChannelCount returns the maximum number of TCP datagram
	// channels a single session may hold open concurrently.
	MaxDatagramChannelCount() int
}
