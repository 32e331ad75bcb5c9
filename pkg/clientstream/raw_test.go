package clientstream

import (
	"crypto/tls"
	"io"
	"testing"

	"github.com/prep/socketpair"

	"github.com/relaycore/tunnelhost/internal/logging"
	"github.com/relaycore/tunnelhost/internal/testcerts"
)

func newTestLogger(t *testing.T) logging.Logger {
	return logging.NewLogger("test", logging.LogLevelTrace)
}

func tlsPair(t *testing.T) (client *tls.Conn, server *tls.Conn) {
	t.Helper()
	clientConn, serverConn, err := socketpair.New("unix")
	if err != nil {
		t.Fatalf("socketpair.New() returned error: %s", err)
	}

	pair, err := testcerts.Generate("raw_test", "127.0.0.1")
	if err != nil {
		t.Fatalf("testcerts.Generate() returned error: %s", err)
	}
	cert, err := tls.X509KeyPair(pair.CertPEM, pair.KeyPEM)
	if err != nil {
		t.Fatalf("tls.X509KeyPair() returned error: %s", err)
	}

	serverTLS := tls.Server(serverConn, &tls.Config{Certificates: []tls.Certificate{cert}})
	clientTLS := tls.Client(clientConn, &tls.Config{InsecureSkipVerify: true})

	done := make(chan error, 1)
	go func() { done <- serverTLS.Handshake() }()
	if err := clientTLS.Handshake(); err != nil {
		t.Fatalf("client handshake failed: %s", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("server handshake failed: %s", err)
	}

	return clientTLS, serverTLS
}

func TestRawClientStreamReadWrite(t *testing.T) {
	logger := newTestLogger(t)
	clientConn, serverConn := tlsPair(t)
	defer clientConn.Close()

	stream, err := NewRawClientStream(logger, serverConn)
	if err != nil {
		t.Fatalf("NewRawClientStream() returned error: %s", err)
	}
	defer stream.Dispose(false)

	if stream.Reusable() {
		t.Errorf("RawClientStream.Reusable() = true, want false")
	}

	payload := []byte("hello over raw tls")
	go func() {
		clientConn.Write(payload)
	}()

	buf := make([]byte, len(payload))
	if _, err := io.ReadFull(stream, buf); err != nil {
		t.Fatalf("Read() returned error: %s", err)
	}
	if string(buf) != string(payload) {
		t.Errorf("Read() = %q, want %q", buf, payload)
	}
}
