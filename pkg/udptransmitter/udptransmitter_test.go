package udptransmitter

import (
	"net"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/relaycore/tunnelhost/internal/logging"
	"github.com/relaycore/tunnelhost/pkg/session"
	"github.com/relaycore/tunnelhost/pkg/wire"
)

type fakeSession struct {
	id      uint64
	udpKey  []byte
	mu      sync.Mutex
	deliveries [][]byte
	wake    chan struct{}
}

func newFakeSession(id uint64, udpKey []byte) *fakeSession {
	return &fakeSession{id: id, udpKey: udpKey, wake: make(chan struct{}, 8)}
}

func (s *fakeSession) Id() uint64                                  { return s.id }
func (s *fakeSession) AuthenticateKey(key []byte) bool             { return true }
func (s *fakeSession) SessionKey() []byte                          { return s.udpKey }
func (s *fakeSession) SetUseUdpChannel(use bool, useUdpChannel2 bool) {}
func (s *fakeSession) EnableUdp() ([]byte, int, error)              { return s.udpKey, 0, nil }
func (s *fakeSession) AdoptDatagramChannel(session.ChannelHandle) error { return nil }
func (s *fakeSession) AuthorizeProxyChannel(wire.TcpProxyChannelRequest) error {
	return nil
}
func (s *fakeSession) UdpIntegrityKey() []byte { return s.udpKey }
func (s *fakeSession) AccessUsage() wire.AccessUsageSnapshot { return wire.AccessUsageSnapshot{} }
func (s *fakeSession) Close() error { return nil }

func (s *fakeSession) DeliverUdpPacket(payload []byte, from net.Addr) {
	s.mu.Lock()
	s.deliveries = append(s.deliveries, append([]byte(nil), payload...))
	s.mu.Unlock()
	s.wake <- struct{}{}
}

type fakeLookup struct {
	sessions map[uint64]*fakeSession
}

func (l *fakeLookup) LookupSessionById(id uint64) (session.Session, bool) {
	s, ok := l.sessions[id]
	return s, ok
}

func buildPacket(sessionId uint64, key, payload []byte) []byte {
	header := make([]byte, wire.UdpSessionIdLen)
	wire.PutUdpSessionId(header, sessionId)

	mac, err := blake2b.New(integrityTagLen, key)
	if err != nil {
		panic(err)
	}
	mac.Write(header)
	tag := mac.Sum(nil)

	packet := append([]byte{}, header...)
	packet = append(packet, tag...)
	packet = append(packet, payload...)
	return packet
}

func TestUdpChannelTransmitterDeliversKnownSession(t *testing.T) {
	key := []byte("a-udp-session-key")
	sess := newFakeSession(42, key)
	lookup := &fakeLookup{sessions: map[uint64]*fakeSession{42: sess}}

	logger := logging.NewLogger("test", logging.LogLevelTrace)
	xmit, err := New(logger, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}, lookup)
	if err != nil {
		t.Fatalf("New() returned error: %s", err)
	}
	defer xmit.Close()

	clientConn, err := net.DialUDP("udp", nil, xmit.LocalAddr())
	if err != nil {
		t.Fatalf("DialUDP() returned error: %s", err)
	}
	defer clientConn.Close()

	payload := []byte("hello session 42")
	packet := buildPacket(42, key, payload)
	if _, err := clientConn.Write(packet); err != nil {
		t.Fatalf("Write() returned error: %s", err)
	}

	select {
	case <-sess.wake:
	case <-time.After(2 * time.Second):
		t.Fatalf("session never received the datagram")
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if len(sess.deliveries) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(sess.deliveries))
	}
	if string(sess.deliveries[0]) != string(payload) {
		t.Errorf("delivered payload = %q, want %q", sess.deliveries[0], payload)
	}
}

func TestUdpChannelTransmitterDropsUnknownSession(t *testing.T) {
	lookup := &fakeLookup{sessions: map[uint64]*fakeSession{}}
	logger := logging.NewLogger("test", logging.LogLevelTrace)
	xmit, err := New(logger, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}, lookup)
	if err != nil {
		t.Fatalf("New() returned error: %s", err)
	}
	defer xmit.Close()

	clientConn, err := net.DialUDP("udp", nil, xmit.LocalAddr())
	if err != nil {
		t.Fatalf("DialUDP() returned error: %s", err)
	}
	defer clientConn.Close()

	packet := buildPacket(999, []byte("irrelevant"), make([]byte, 48))
	if _, err := clientConn.Write(packet); err != nil {
		t.Fatalf("Write() returned error: %s", err)
	}

	// No reply is expected; give the loop a moment to process and drop
	// the datagram, then confirm the transmitter is still alive.
	time.Sleep(100 * time.Millisecond)
	if xmit.IsDoneShutdown() {
		t.Errorf("transmitter unexpectedly shut down after an unknown-session datagram")
	}
}

func TestUdpChannelTransmitterDropsBadIntegrityTag(t *testing.T) {
	key := []byte("correct-key")
	sess := newFakeSession(7, key)
	lookup := &fakeLookup{sessions: map[uint64]*fakeSession{7: sess}}
	logger := logging.NewLogger("test", logging.LogLevelTrace)
	xmit, err := New(logger, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}, lookup)
	if err != nil {
		t.Fatalf("New() returned error: %s", err)
	}
	defer xmit.Close()

	clientConn, err := net.DialUDP("udp", nil, xmit.LocalAddr())
	if err != nil {
		t.Fatalf("DialUDP() returned error: %s", err)
	}
	defer clientConn.Close()

	packet := buildPacket(7, []byte("wrong-key"), []byte("payload"))
	if _, err := clientConn.Write(packet); err != nil {
		t.Fatalf("Write() returned error: %s", err)
	}

	select {
	case <-sess.wake:
		t.Fatalf("session received a datagram with a forged integrity tag")
	case <-time.After(200 * time.Millisecond):
	}
}
