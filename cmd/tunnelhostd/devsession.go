package main

import (
	"crypto/rand"
	"net"
	"sync"

	"github.com/relaycore/tunnelhost/internal/logging"
	"github.com/relaycore/tunnelhost/pkg/session"
	"github.com/relaycore/tunnelhost/pkg/wire"
)

// devSessionManager is a minimal, in-memory session.Manager. The real
// session manager -- token authentication against a backing store,
// cryptographic key derivation, access accounting, network-filter policy --
// is an external collaborator out of this module's scope; this
// implementation exists only so that tunnelhostd has something to run
// against out of the box, and accepts any TokenId.
type devSessionManager struct {
	logger logging.Logger

	mu       sync.Mutex
	sessions map[uint64]*devSession
	nextId   uint64
}

func newDevSessionManager(logger logging.Logger) *devSessionManager {
	return &devSessionManager{
		logger:   logger.Fork("devSessionManager"),
		sessions: make(map[uint64]*devSession),
	}
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

func (m *devSessionManager) CreateSession(req wire.HelloRequest, local, remote session.Endpoint) (session.Session, []byte, error) {
	key, err := randomBytes(16)
	if err != nil {
		return nil, nil, wire.NewSessionError(wire.GeneralError, "generate session key: %s", err)
	}
	secret, err := randomBytes(16)
	if err != nil {
		return nil, nil, wire.NewSessionError(wire.GeneralError, "generate server secret: %s", err)
	}

	m.mu.Lock()
	m.nextId++
	id := m.nextId
	sess := &devSession{mgr: m, id: id, key: key, remote: remote}
	m.sessions[id] = sess
	m.mu.Unlock()

	m.logger.ILogf("created session %d for client %s from token %q", id, remote, req.TokenId)
	return sess, secret, nil
}

func (m *devSessionManager) LookupSession(sessionId uint64, key []byte) (session.Session, error) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionId]
	m.mu.Unlock()
	if !ok {
		return nil, wire.NewSessionError(wire.SessionNotFound, "no such session %d", sessionId)
	}
	if !sess.AuthenticateKey(key) {
		return nil, wire.NewSessionError(wire.SessionKeyMismatch, "bad session key for session %d", sessionId)
	}
	return sess, nil
}

func (m *devSessionManager) LookupSessionById(sessionId uint64) (session.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionId]
	return sess, ok
}

func (m *devSessionManager) NetworkFilterConfig() session.NetworkFilterConfig {
	return session.NetworkFilterConfig{IPv6Supported: true}
}

func (m *devSessionManager) MaxDatagramChannelCount() int {
	return 8
}

func (m *devSessionManager) drop(id uint64) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// devSession is the in-memory session.Session backing devSessionManager.
// It accepts datagram channels and UDP packets but does not forward them
// anywhere -- a real session manager would own the packet routing this
// stands in for.
type devSession struct {
	mgr    *devSessionManager
	id     uint64
	key    []byte
	remote session.Endpoint

	mu         sync.Mutex
	closed     bool
	useUdp     bool
	udpKey     []byte
	udpPort    int
	datagramCh session.ChannelHandle
	usage      wire.AccessUsageSnapshot
}

func (s *devSession) Id() uint64 { return s.id }

func (s *devSession) AuthenticateKey(key []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(key) != len(s.key) {
		return false
	}
	for i := range key {
		if key[i] != s.key[i] {
			return false
		}
	}
	return true
}

func (s *devSession) SessionKey() []byte {
	return s.key
}

func (s *devSession) SetUseUdpChannel(use bool, useUdpChannel2 bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.useUdp = use
}

func (s *devSession) EnableUdp() ([]byte, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.udpKey == nil {
		key, err := randomBytes(32)
		if err != nil {
			return nil, 0, wire.NewSessionError(wire.GeneralError, "generate udp key: %s", err)
		}
		s.udpKey = key
		s.udpPort = s.remote.Port
	}
	return s.udpKey, s.udpPort, nil
}

func (s *devSession) AdoptDatagramChannel(stream session.ChannelHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		stream.Dispose(false)
		return wire.NewSessionError(wire.SessionExpired, "session %d is closed", s.id)
	}
	if s.datagramCh != nil {
		s.datagramCh.Dispose(false)
	}
	s.datagramCh = stream
	return nil
}

func (s *devSession) AuthorizeProxyChannel(req wire.TcpProxyChannelRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return wire.NewSessionError(wire.SessionExpired, "session %d is closed", s.id)
	}
	return nil
}

func (s *devSession) UdpIntegrityKey() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.udpKey
}

func (s *devSession) DeliverUdpPacket(payload []byte, from net.Addr) {
	s.mu.Lock()
	s.usage.BytesReceived += int64(len(payload))
	s.mu.Unlock()
}

func (s *devSession) AccessUsage() wire.AccessUsageSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

func (s *devSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ch := s.datagramCh
	s.datagramCh = nil
	s.mu.Unlock()

	if ch != nil {
		ch.Dispose(true)
	}
	s.mgr.drop(s.id)
	return nil
}
