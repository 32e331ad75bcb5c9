package host

import (
	"crypto/tls"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/relaycore/tunnelhost/internal/logging"
	"github.com/relaycore/tunnelhost/internal/testcerts"
	"github.com/relaycore/tunnelhost/pkg/session"
	"github.com/relaycore/tunnelhost/pkg/tlsacceptor"
	"github.com/relaycore/tunnelhost/pkg/wire"
)

// fakeSession is a minimal session.Session used to drive the connection
// host's handlers without a real session manager implementation.
type fakeSession struct {
	mu        sync.Mutex
	id        uint64
	key       []byte
	closed    bool
	adopted   session.ChannelHandle
	authorize error
}

func (s *fakeSession) Id() uint64                   { return s.id }
func (s *fakeSession) AuthenticateKey(key []byte) bool {
	return string(key) == string(s.key)
}
func (s *fakeSession) SessionKey() []byte                           { return s.key }
func (s *fakeSession) SetUseUdpChannel(use bool, useUdpChannel2 bool) {}
func (s *fakeSession) EnableUdp() ([]byte, int, error)              { return []byte("udpkey"), 4000, nil }
func (s *fakeSession) AdoptDatagramChannel(h session.ChannelHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adopted = h
	return nil
}
func (s *fakeSession) AuthorizeProxyChannel(req wire.TcpProxyChannelRequest) error {
	return s.authorize
}
func (s *fakeSession) UdpIntegrityKey() []byte             { return s.key }
func (s *fakeSession) DeliverUdpPacket(p []byte, a net.Addr) {}
func (s *fakeSession) AccessUsage() wire.AccessUsageSnapshot {
	return wire.AccessUsageSnapshot{}
}
func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeManager is a minimal session.Manager backed by an in-memory map, for
// driving the connection host's handlers in tests.
type fakeManager struct {
	mu       sync.Mutex
	sessions map[uint64]*fakeSession
	nextId   uint64
	createErr error
}

func (m *fakeManager) CreateSession(req wire.HelloRequest, local, remote session.Endpoint) (session.Session, []byte, error) {
	if m.createErr != nil {
		return nil, nil, m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextId++
	sess := &fakeSession{id: m.nextId, key: []byte("sessionkey")}
	if m.sessions == nil {
		m.sessions = make(map[uint64]*fakeSession)
	}
	m.sessions[sess.id] = sess
	return sess, []byte("serversecret"), nil
}

func (m *fakeManager) LookupSession(sessionId uint64, key []byte) (session.Session, error) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionId]
	m.mu.Unlock()
	if !ok {
		return nil, wire.NewSessionError(wire.SessionNotFound, "no such session %d", sessionId)
	}
	if !sess.AuthenticateKey(key) {
		return nil, wire.NewSessionError(wire.SessionKeyMismatch, "bad session key")
	}
	return sess, nil
}

func (m *fakeManager) LookupSessionById(sessionId uint64) (session.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionId]
	return sess, ok
}

func (m *fakeManager) NetworkFilterConfig() session.NetworkFilterConfig {
	return session.NetworkFilterConfig{}
}

func (m *fakeManager) MaxDatagramChannelCount() int { return 4 }

// testHost builds and starts a ConnectionHost on an OS-assigned loopback
// port, backed by a fakeManager, and returns it along with that manager
// and a TLS client config trusting the host's test certificate.
func testHost(t *testing.T) (*ConnectionHost, *fakeManager, *tls.Config) {
	t.Helper()

	dir, err := os.MkdirTemp("", "tunnelhost-host-test")
	if err != nil {
		t.Fatalf("MkdirTemp() returned error: %s", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	pair, err := testcerts.Generate("host_test", "127.0.0.1")
	if err != nil {
		t.Fatalf("testcerts.Generate() returned error: %s", err)
	}
	if _, _, err := testcerts.WriteToDir(dir, "default", pair); err != nil {
		t.Fatalf("WriteToDir() returned error: %s", err)
	}

	logger := logging.NewLogger("test", logging.LogLevelTrace)
	selector, err := tlsacceptor.NewDirCertSelector(logger, dir)
	if err != nil {
		t.Fatalf("NewDirCertSelector() returned error: %s", err)
	}
	t.Cleanup(func() { selector.Close() })

	mgr := &fakeManager{}
	h := New(logger, tlsacceptor.New(selector), mgr, Config{RequestTimeout: 5 * time.Second, ServerVersion: "test"})
	if err := h.Start([]string{"127.0.0.1:0"}, nil); err != nil {
		t.Fatalf("Start() returned error: %s", err)
	}
	t.Cleanup(func() { h.Dispose() })

	clientTLSCfg := &tls.Config{InsecureSkipVerify: true}
	return h, mgr, clientTLSCfg
}

func dialRaw(t *testing.T, addr string, tlsCfg *tls.Config) *tls.Conn {
	t.Helper()
	conn, err := tls.Dial("tcp", addr, tlsCfg)
	if err != nil {
		t.Fatalf("tls.Dial() returned error: %s", err)
	}
	if _, err := conn.Write([]byte{byte(wire.TransportRaw)}); err != nil {
		t.Fatalf("write transport byte returned error: %s", err)
	}
	return conn
}

func sendRequest(t *testing.T, conn *tls.Conn, code wire.RequestCode, body interface{}) {
	t.Helper()
	if err := wire.WriteRequestCode(conn, code); err != nil {
		t.Fatalf("WriteRequestCode() returned error: %s", err)
	}
	var f wire.Framer
	if err := f.WriteMessage(conn, body); err != nil {
		t.Fatalf("WriteMessage() returned error: %s", err)
	}
}

func readResponse(t *testing.T, conn *tls.Conn, v interface{}) {
	t.Helper()
	var f wire.Framer
	if err := f.ReadMessage(conn, v); err != nil {
		t.Fatalf("ReadMessage() returned error: %s", err)
	}
}

func TestConnectionHostHelloRoundTrip(t *testing.T) {
	h, _, tlsCfg := testHost(t)

	conn := dialRaw(t, h.TcpEndpoints()[0], tlsCfg)
	defer conn.Close()

	sendRequest(t, conn, wire.Hello, wire.HelloRequest{
		TokenId:    "tok",
		ClientInfo: wire.ClientInfo{ProtocolVersion: MinClientProtocolVersion},
	})

	var resp wire.HelloResponse
	readResponse(t, conn, &resp)

	if resp.ErrorCode != wire.Ok {
		t.Fatalf("HelloResponse.ErrorCode = %s, want Ok", resp.ErrorCode)
	}
	if resp.SessionId == 0 {
		t.Errorf("HelloResponse.SessionId = 0, want nonzero")
	}
	if resp.ServerProtocolVersion != wire.ServerProtocolVersion {
		t.Errorf("HelloResponse.ServerProtocolVersion = %d, want %d", resp.ServerProtocolVersion, wire.ServerProtocolVersion)
	}
}

func TestConnectionHostHelloUnsupportedClientVersion(t *testing.T) {
	h, mgr, tlsCfg := testHost(t)

	conn := dialRaw(t, h.TcpEndpoints()[0], tlsCfg)
	defer conn.Close()

	sendRequest(t, conn, wire.Hello, wire.HelloRequest{
		TokenId:    "tok",
		ClientInfo: wire.ClientInfo{ProtocolVersion: MinClientProtocolVersion - 1},
	})

	var resp wire.SessionResponseBase
	readResponse(t, conn, &resp)

	if resp.ErrorCode != wire.UnsupportedClient {
		t.Fatalf("ErrorCode = %s, want UnsupportedClient", resp.ErrorCode)
	}

	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	for _, sess := range mgr.sessions {
		if !sess.isClosed() {
			t.Errorf("session %d left open after UnsupportedClient rejection", sess.id)
		}
	}
}

func TestConnectionHostByeClosesSession(t *testing.T) {
	h, mgr, tlsCfg := testHost(t)

	conn := dialRaw(t, h.TcpEndpoints()[0], tlsCfg)
	defer conn.Close()

	sendRequest(t, conn, wire.Hello, wire.HelloRequest{
		ClientInfo: wire.ClientInfo{ProtocolVersion: MinClientProtocolVersion},
	})
	var hello wire.HelloResponse
	readResponse(t, conn, &hello)

	byeConn := dialRaw(t, h.TcpEndpoints()[0], tlsCfg)
	defer byeConn.Close()
	sendRequest(t, byeConn, wire.Bye, wire.ByeRequest{RequestBase: wire.RequestBase{
		SessionId:  hello.SessionId,
		SessionKey: hello.SessionKey,
	}})

	// Bye carries no response body; the host disposes the stream, which
	// the client observes as EOF.
	buf := make([]byte, 1)
	byeConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if n, err := byeConn.Read(buf); n != 0 || err == nil {
		t.Fatalf("Read() after Bye = (%d, %v), want (0, EOF-like error)", n, err)
	}

	mgr.mu.Lock()
	sess := mgr.sessions[hello.SessionId]
	mgr.mu.Unlock()
	if sess == nil || !sess.isClosed() {
		t.Errorf("session %d not closed after Bye", hello.SessionId)
	}
}

func TestConnectionHostUnknownRequestCodeGetsAnonymousReply(t *testing.T) {
	h, _, tlsCfg := testHost(t)

	conn := dialRaw(t, h.TcpEndpoints()[0], tlsCfg)
	defer conn.Close()

	if err := wire.WriteRequestCode(conn, wire.RequestCode(0xEE)); err != nil {
		t.Fatalf("WriteRequestCode() returned error: %s", err)
	}

	buf := make([]byte, 512)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _ := conn.Read(buf)
	if !strings.Contains(string(buf[:n]), "401 Unauthorized") {
		t.Errorf("reply = %q, want it to contain 401 Unauthorized", buf[:n])
	}
}

// TestConnectionHostRestartAfterStop exercises stop() followed by start()
// on the same host: a second Start must rebind a fresh, working listener rather than silently
// succeeding over the stale one Stop tore down.
func TestConnectionHostRestartAfterStop(t *testing.T) {
	h, _, tlsCfg := testHost(t)

	firstAddr := h.TcpEndpoints()[0]
	conn := dialRaw(t, firstAddr, tlsCfg)
	sendRequest(t, conn, wire.Hello, wire.HelloRequest{
		ClientInfo: wire.ClientInfo{ProtocolVersion: MinClientProtocolVersion},
	})
	var resp wire.HelloResponse
	readResponse(t, conn, &resp)
	if resp.ErrorCode != wire.Ok {
		t.Fatalf("HelloResponse.ErrorCode = %s, want Ok", resp.ErrorCode)
	}
	conn.Close()

	if err := h.Stop(); err != nil {
		t.Fatalf("Stop() returned error: %s", err)
	}

	if err := h.Start([]string{"127.0.0.1:0"}, nil); err != nil {
		t.Fatalf("Start() after Stop() returned error: %s", err)
	}

	eps := h.TcpEndpoints()
	if len(eps) != 1 {
		t.Fatalf("TcpEndpoints() after restart = %v, want exactly one entry", eps)
	}
	if eps[0] == firstAddr {
		t.Errorf("TcpEndpoints() after restart = %s, want a freshly bound address, not the prior one", eps[0])
	}

	conn2 := dialRaw(t, eps[0], tlsCfg)
	defer conn2.Close()
	sendRequest(t, conn2, wire.Hello, wire.HelloRequest{
		ClientInfo: wire.ClientInfo{ProtocolVersion: MinClientProtocolVersion},
	})
	var resp2 wire.HelloResponse
	readResponse(t, conn2, &resp2)
	if resp2.ErrorCode != wire.Ok {
		t.Fatalf("HelloResponse.ErrorCode after restart = %s, want Ok", resp2.ErrorCode)
	}
}

func TestConnectionHostStopAfterCompletedExchange(t *testing.T) {
	h, _, tlsCfg := testHost(t)

	conn := dialRaw(t, h.TcpEndpoints()[0], tlsCfg)
	defer conn.Close()

	sendRequest(t, conn, wire.Hello, wire.HelloRequest{
		ClientInfo: wire.ClientInfo{ProtocolVersion: MinClientProtocolVersion},
	})
	var resp wire.HelloResponse
	readResponse(t, conn, &resp)

	done := make(chan error, 1)
	go func() { done <- h.Stop() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Stop() returned error: %s", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Stop() did not return within 5s")
	}
}
