package host

import (
	"context"
	"net"
	"strconv"

	"github.com/relaycore/tunnelhost/internal/streamconn"
	"github.com/relaycore/tunnelhost/pkg/clientstream"
	"github.com/relaycore/tunnelhost/pkg/session"
	"github.com/relaycore/tunnelhost/pkg/wire"
)

// addrToEndpoint converts a net.Addr observed on a ClientStream into the
// session package's address representation.
func addrToEndpoint(addr net.Addr) session.Endpoint {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return session.Endpoint{IP: tcp.IP, Port: tcp.Port}
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return session.Endpoint{}
	}
	port, _ := strconv.Atoi(portStr)
	return session.Endpoint{IP: net.ParseIP(host), Port: port}
}

// firstUdpEndpoint returns the effective bind address of the host's first
// UDP transmitter, or "" if none were configured.
func (h *ConnectionHost) firstUdpEndpoint() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.udpTransmitters) == 0 {
		return ""
	}
	return h.udpTransmitters[0].LocalAddr().String()
}

// handleHello authenticates a new client, creates its session, and
// publishes everything the client needs to conduct later exchanges. Per
// spec, session creation happens before the client's protocol version is
// checked: an unsupported client still gets a session (so the rejection
// reply itself is structured and session-scoped), which is then closed
// immediately.
func (h *ConnectionHost) handleHello(stream clientstream.ClientStream) (exchangeOutcome, error) {
	var req wire.HelloRequest
	if err := h.framer.ReadMessage(stream, &req); err != nil {
		return outcomeDisposeUngraceful, err
	}

	sess, serverSecret, err := h.sessionMgr.CreateSession(req, addrToEndpoint(stream.LocalAddr()), addrToEndpoint(stream.RemoteAddr()))
	if err != nil {
		return outcomeDisposeUngraceful, err
	}

	if req.ClientInfo.ProtocolVersion < MinClientProtocolVersion {
		sess.Close()
		return outcomeDisposeUngraceful, wire.NewSessionError(wire.UnsupportedClient,
			"client protocol version %d is older than minimum supported version %d",
			req.ClientInfo.ProtocolVersion, MinClientProtocolVersion)
	}

	sess.SetUseUdpChannel(req.UseUdpChannel, req.UseUdpChannel2)

	var udpKey []byte
	var udpPort int
	if req.UseUdpChannel {
		udpKey, udpPort, err = sess.EnableUdp()
		if err != nil {
			sess.Close()
			return outcomeDisposeUngraceful, err
		}
	}

	filter := h.sessionMgr.NetworkFilterConfig()

	resp := &wire.HelloResponse{
		SessionResponseBase: wire.SessionResponseBase{ErrorCode: wire.Ok},

		SessionId:    sess.Id(),
		SessionKey:   sess.SessionKey(),
		ServerSecret: serverSecret,

		TcpEndpoint: stream.LocalAddr().String(),
		UdpEndpoint: h.firstUdpEndpoint(),

		UdpKey:  udpKey,
		UdpPort: udpPort,

		ServerVersion:         h.cfg.ServerVersion,
		ServerProtocolVersion: wire.ServerProtocolVersion,

		AccessUsage: sess.AccessUsage(),

		MaxDatagramChannelCount: h.sessionMgr.MaxDatagramChannelCount(),

		ClientPublicAddress: stream.RemoteAddr().String(),

		IncludeIpRanges: filter.IncludeIpRanges,
		ExcludeIpRanges: filter.ExcludeIpRanges,
		IPv6Supported:   filter.IPv6Supported,
	}

	if err := h.framer.WriteMessage(stream, resp); err != nil {
		return outcomeDisposeUngraceful, err
	}
	stream.CloseWrite()
	return outcomeRespond, nil
}

// handleBye tears the client's session down. Per spec it carries no
// response body: the pipeline disposes the stream ungracefully on success
// just as it would on failure, the only difference being whether a session
// error reply is written first.
func (h *ConnectionHost) handleBye(stream clientstream.ClientStream) (exchangeOutcome, error) {
	var req wire.ByeRequest
	if err := h.framer.ReadMessage(stream, &req); err != nil {
		return outcomeDisposeUngraceful, err
	}

	sess, err := h.sessionMgr.LookupSession(req.SessionId, req.SessionKey)
	if err != nil {
		return outcomeDisposeUngraceful, err
	}

	sess.Close()
	return outcomeDisposeUngraceful, nil
}

// handleTcpDatagramChannel hands the ClientStream to the session to retain
// as a long-lived datagram channel.
func (h *ConnectionHost) handleTcpDatagramChannel(stream clientstream.ClientStream) (exchangeOutcome, error) {
	var req wire.TcpDatagramChannelRequest
	if err := h.framer.ReadMessage(stream, &req); err != nil {
		return outcomeDisposeUngraceful, err
	}

	sess, err := h.sessionMgr.LookupSession(req.SessionId, req.SessionKey)
	if err != nil {
		return outcomeDisposeUngraceful, err
	}

	if err := sess.AdoptDatagramChannel(stream); err != nil {
		return outcomeDisposeUngraceful, err
	}
	return outcomeHandoff, nil
}

// handleTcpProxyChannel authorizes the requested destination with the
// session, then dials it and splices it with the ClientStream itself. The
// splice runs in a goroutine detached from the host's ShutdownWG, since it
// can legitimately outlive a single request timeout by as long as the
// session itself lives.
func (h *ConnectionHost) handleTcpProxyChannel(ctx context.Context, stream clientstream.ClientStream) (exchangeOutcome, error) {
	var req wire.TcpProxyChannelRequest
	if err := h.framer.ReadMessage(stream, &req); err != nil {
		return outcomeDisposeUngraceful, err
	}

	sess, err := h.sessionMgr.LookupSession(req.SessionId, req.SessionKey)
	if err != nil {
		return outcomeDisposeUngraceful, err
	}

	if err := sess.AuthorizeProxyChannel(req); err != nil {
		return outcomeDisposeUngraceful, err
	}

	dialer := &net.Dialer{}
	destAddr := net.JoinHostPort(req.DestEndpoint, strconv.Itoa(req.DestPort))
	destConn, err := dialer.DialContext(ctx, "tcp", destAddr)
	if err != nil {
		return outcomeDisposeUngraceful, wire.NewSessionError(wire.GeneralError, "dial %s: %s", destAddr, err)
	}

	destChannel, err := streamconn.NewSocketConn(h.Logger, destConn)
	if err != nil {
		destConn.Close()
		return outcomeDisposeUngraceful, wire.NewSessionError(wire.GeneralError, "wrap dialed connection: %s", err)
	}

	go func() {
		streamconn.BridgeChannels(context.Background(), h.Logger, stream, destChannel)
	}()

	return outcomeHandoff, nil
}

// handleUdpChannel turns on the session's UDP channel and reports its key
// and bound port.
func (h *ConnectionHost) handleUdpChannel(stream clientstream.ClientStream) (exchangeOutcome, error) {
	var req wire.UdpChannelRequest
	if err := h.framer.ReadMessage(stream, &req); err != nil {
		return outcomeDisposeUngraceful, err
	}

	sess, err := h.sessionMgr.LookupSession(req.SessionId, req.SessionKey)
	if err != nil {
		return outcomeDisposeUngraceful, err
	}

	udpKey, udpPort, err := sess.EnableUdp()
	if err != nil {
		return outcomeDisposeUngraceful, err
	}

	resp := &wire.UdpChannelSessionResponse{
		SessionResponseBase: wire.SessionResponseBase{ErrorCode: wire.Ok},
		UdpKey:              udpKey,
		UdpPort:             udpPort,
	}
	if err := h.framer.WriteMessage(stream, resp); err != nil {
		return outcomeDisposeUngraceful, err
	}
	stream.CloseWrite()
	return outcomeRespond, nil
}
