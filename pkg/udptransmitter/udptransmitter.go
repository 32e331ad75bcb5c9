// Package udptransmitter implements the single-socket UDP channel
// transmitter: one UDP socket per bound endpoint, demultiplexing inbound
// datagrams by the session id carried in their envelope prefix and
// forwarding each to its session, without ever decrypting the payload
// itself.
package udptransmitter

import (
	"fmt"
	"net"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/relaycore/tunnelhost/internal/lifecycle"
	"github.com/relaycore/tunnelhost/internal/logging"
	"github.com/relaycore/tunnelhost/pkg/session"
	"github.com/relaycore/tunnelhost/pkg/wire"
)

const readBufferSize = 2048

// integrityTagLen is the length, in bytes, of the keyed plausibility tag
// appended after the session id prefix. It is a cheap filter to drop
// garbage before handing a packet to the session for real AEAD decryption
// -- it is not a substitute for that decryption, and the key behind it is
// the session's own UDP key, not anything held by the transmitter.
const integrityTagLen = 16

// SessionLookup is the subset of session.Manager the transmitter needs:
// looking a session up by id alone, since a UDP datagram carries no
// session key, only an id and an integrity tag.
type SessionLookup interface {
	LookupSessionById(sessionId uint64) (session.Session, bool)
}

// UdpChannelTransmitter owns exactly one UDP socket, bound at construction
// time. Outbound writes from any session's UDP channel are serialized
// through a mutex, satisfying the single-writer invariant on the shared
// socket.
type UdpChannelTransmitter struct {
	lifecycle.ShutdownHelper

	conn    *net.UDPConn
	lookup  SessionLookup
	writeMu sync.Mutex
}

// New binds a UDP socket at bindAddr (port 0 means OS-assigned) and starts
// its receive loop. The resolved local address is available via LocalAddr
// immediately after this call returns.
func New(logger logging.Logger, bindAddr *net.UDPAddr, lookup SessionLookup) (*UdpChannelTransmitter, error) {
	conn, err := net.ListenUDP("udp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("udptransmitter: listen %s: %w", bindAddr, err)
	}

	t := &UdpChannelTransmitter{
		conn:   conn,
		lookup: lookup,
	}
	t.InitShutdownHelper(logger.Fork("UdpChannelTransmitter(%s)", conn.LocalAddr()), t)
	t.PanicOnError(t.Activate())

	go t.receiveLoop()

	return t, nil
}

// LocalAddr returns the transmitter's bound local address, with the
// OS-assigned port resolved if bindAddr's port was 0.
func (t *UdpChannelTransmitter) LocalAddr() *net.UDPAddr {
	return t.conn.LocalAddr().(*net.UDPAddr)
}

func (t *UdpChannelTransmitter) receiveLoop() {
	buf := make([]byte, readBufferSize)
	for {
		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if t.IsStartedShutdown() {
				return
			}
			t.WLogf("ReadFromUDP error: %s", err)
			continue
		}
		t.handlePacket(buf[:n], from)
	}
}

func (t *UdpChannelTransmitter) handlePacket(packet []byte, from *net.UDPAddr) {
	if len(packet) < wire.UdpSessionIdLen+integrityTagLen+1 {
		t.TLogf("dropping undersized datagram (%d bytes) from %s", len(packet), from)
		return
	}

	sessionId, ok := wire.PeekUdpSessionId(packet)
	if !ok {
		return
	}

	sess, ok := t.lookup.LookupSessionById(sessionId)
	if !ok {
		t.TLogf("dropping datagram for unknown session %d from %s", sessionId, from)
		return
	}

	header := packet[:wire.UdpSessionIdLen]
	rest := packet[wire.UdpSessionIdLen:]
	tag := rest[:integrityTagLen]
	body := rest[integrityTagLen:]

	if !checkIntegrityTag(sess.UdpIntegrityKey(), header, tag) {
		t.TLogf("dropping datagram for session %d from %s: failed integrity pre-check", sessionId, from)
		return
	}

	sess.DeliverUdpPacket(body, from)
}

// checkIntegrityTag computes a blake2b keyed MAC over header using the
// session's UDP key and compares it to tag in constant time. This is a
// cheap plausibility check, not the session layer's real AEAD
// authentication, which runs on the decrypted body.
func checkIntegrityTag(key []byte, header []byte, tag []byte) bool {
	mac, err := blake2b.New(integrityTagLen, key)
	if err != nil {
		return false
	}
	mac.Write(header)
	sum := mac.Sum(nil)
	if len(sum) != len(tag) {
		return false
	}
	var diff byte
	for i := range sum {
		diff |= sum[i] ^ tag[i]
	}
	return diff == 0
}

// WriteTo sends payload, prefixed with sessionId, to addr. Concurrent
// calls from multiple session UDP channels are serialized on this
// transmitter's single socket.
func (t *UdpChannelTransmitter) WriteTo(sessionId uint64, payload []byte, addr *net.UDPAddr) error {
	packet := make([]byte, wire.UdpSessionIdLen+len(payload))
	wire.PutUdpSessionId(packet, sessionId)
	copy(packet[wire.UdpSessionIdLen:], payload)

	t.writeMu.Lock()
	_, err := t.conn.WriteToUDP(packet, addr)
	t.writeMu.Unlock()
	return err
}

// HandleOnceShutdown closes the UDP socket, which unblocks and ends the
// receive loop.
func (t *UdpChannelTransmitter) HandleOnceShutdown(completionErr error) error {
	err := t.conn.Close()
	if err != nil && completionErr == nil {
		completionErr = err
	}
	return completionErr
}
