package wire

import "encoding/binary"

// UdpSessionIdLen is the size in bytes of the session id prefix on every
// UDP datagram.
const UdpSessionIdLen = 8

// MinUdpPacketLen is the smallest datagram that could possibly carry a
// session id and a non-empty encrypted payload; anything shorter is
// dropped during the transmitter's bad-datagram pre-check.
const MinUdpPacketLen = UdpSessionIdLen + 1

// PeekUdpSessionId reads the session id prefix from a UDP datagram without
// touching (or requiring decryption of) the remainder of the packet, so the
// transmitter can demux before handing the payload to a session.
func PeekUdpSessionId(packet []byte) (sessionId uint64, ok bool) {
	if len(packet) < UdpSessionIdLen {
		return 0, false
	}
	return binary.LittleEndian.Uint64(packet[:UdpSessionIdLen]), true
}

// UdpPayload returns the encrypted payload following the session id prefix.
func UdpPayload(packet []byte) []byte {
	if len(packet) < UdpSessionIdLen {
		return nil
	}
	return packet[UdpSessionIdLen:]
}

// PutUdpSessionId writes sessionId as the little-endian prefix of packet.
// packet must be at least UdpSessionIdLen bytes.
func PutUdpSessionId(packet []byte, sessionId uint64) {
	binary.LittleEndian.PutUint64(packet[:UdpSessionIdLen], sessionId)
}
