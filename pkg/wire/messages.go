package wire

import "net"

// ClientInfo identifies the connecting client application, carried in a
// HelloRequest.
type ClientInfo struct {
	ClientId       string `json:"ClientId"`
	ProtocolVersion int    `json:"ProtocolVersion"`
	ClientVersion  string `json:"ClientVersion"`
	UserAgent      string `json:"UserAgent"`
}

// AccessUsageSnapshot is the point-in-time connection/byte accounting
// reported in a HelloResponse, taken from the session's own accounting
// (session.Session.AccessUsage).
type AccessUsageSnapshot struct {
	BytesSent        int64 `json:"BytesSent"`
	BytesReceived    int64 `json:"BytesReceived"`
	ConnectionsOpen  int32 `json:"ConnectionsOpen"`
	ConnectionsTotal int32 `json:"ConnectionsTotal"`
}

// IpRange is an inclusive IP address range, used by the include/exclude
// lists published in a HelloResponse for client-side packet capture and
// tunneling decisions.
type IpRange struct {
	From net.IP `json:"From"`
	To   net.IP `json:"To"`
}

// RequestBase is common to every request except Hello: the session id and
// key authenticate the request to a previously-created session, and the
// request id lets the session layer detect and ignore duplicate retries.
type RequestBase struct {
	SessionId  uint64 `json:"SessionId"`
	SessionKey []byte `json:"SessionKey"`
	RequestId  uint64 `json:"RequestId"`
}

// HelloRequest is the body of a Hello request, the only request that does
// not embed RequestBase (there is no session yet).
type HelloRequest struct {
	TokenId        string     `json:"TokenId"`
	ClientInfo     ClientInfo `json:"ClientInfo"`
	UseUdpChannel  bool       `json:"UseUdpChannel"`
	UseUdpChannel2 bool       `json:"UseUdpChannel2"`
}

// SessionResponseBase is the common envelope for every response: an error
// code (Ok on success) plus free-form diagnostic text.
type SessionResponseBase struct {
	ErrorCode  SessionErrorCode `json:"ErrorCode"`
	Diagnostic string           `json:"Diagnostic,omitempty"`
}

// HelloResponse is the reply to a successful (or session-erroring) Hello
// request.
type HelloResponse struct {
	SessionResponseBase

	SessionId    uint64 `json:"SessionId"`
	SessionKey   []byte `json:"SessionKey"`
	ServerSecret []byte `json:"ServerSecret"`

	TcpEndpoint string `json:"TcpEndpoint"`
	UdpEndpoint string `json:"UdpEndpoint,omitempty"`

	UdpKey  []byte `json:"UdpKey,omitempty"`
	UdpPort int    `json:"UdpPort"`

	ServerVersion         string `json:"ServerVersion"`
	ServerProtocolVersion int    `json:"ServerProtocolVersion"`

	Suppressed bool `json:"Suppressed"`

	AccessUsage AccessUsageSnapshot `json:"AccessUsage"`

	MaxDatagramChannelCount int `json:"MaxDatagramChannelCount"`

	ClientPublicAddress string `json:"ClientPublicAddress"`

	IncludeIpRanges []IpRange `json:"IncludeIpRanges,omitempty"`
	ExcludeIpRanges []IpRange `json:"ExcludeIpRanges,omitempty"`

	IPv6Supported bool `json:"IPv6Supported"`
}

// ByeRequest is the body of a Bye request. It carries no fields beyond
// RequestBase.
type ByeRequest struct {
	RequestBase
}

// TcpDatagramChannelRequest is the body of a TcpDatagramChannel request.
// It carries no fields beyond RequestBase; the channel itself is the
// ClientStream the request arrived on.
type TcpDatagramChannelRequest struct {
	RequestBase
}

// TcpProxyChannelRequest is the body of a TcpProxyChannel request.
type TcpProxyChannelRequest struct {
	RequestBase

	DestEndpoint  string `json:"DestEndpoint"`
	DestPort      int    `json:"DestPort"`
	ProxyProtocol string `json:"ProxyProtocol"`
}

// UdpChannelRequest is the body of a UdpChannel request.
type UdpChannelRequest struct {
	RequestBase
}

// UdpChannelSessionResponse is the reply to a successful UdpChannel
// request.
type UdpChannelSessionResponse struct {
	SessionResponseBase

	UdpKey  []byte `json:"UdpKey"`
	UdpPort int    `json:"UdpPort"`
}
