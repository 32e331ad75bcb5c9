package clientstream

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"sync/atomic"
	"time"

	"github.com/relaycore/tunnelhost/internal/logging"
	"github.com/relaycore/tunnelhost/internal/streamconn"
)

var (
	_ ClientStream = (*ChunkedClientStream)(nil)
	_ Deadliner    = (*ChunkedClientStream)(nil)
)

// ChunkedClientStream carries the tunnel's request/response exchanges as
// HTTP/1.1 requests and responses, each using chunked transfer-encoding,
// inside the same TLS connection. After a full response body is flushed
// the underlying connection is not closed: the host may reuse the same
// ChunkedClientStream (or read a fresh HTTP request off it) for a further
// exchange, which is how a long-lived chunked tunnel connection amortizes
// the TLS handshake across many requests.
type ChunkedClientStream struct {
	streamconn.BasicConn

	conn net.Conn
	br   *bufio.Reader

	curReq    *http.Request
	curBody   io.ReadCloser
	curWriter io.WriteCloser

	reusable bool
}

// NewChunkedClientStream begins the first exchange on conn. firstByte is
// the sniffed transport tag ('P') that the transport sniffer has already
// consumed from conn; it is the first byte of the HTTP request line and
// must be fed back into the HTTP parser.
func NewChunkedClientStream(logger logging.Logger, conn net.Conn, firstByte byte) (*ChunkedClientStream, error) {
	br := bufio.NewReader(io.MultiReader(bytes.NewReader([]byte{firstByte}), conn))
	s := &ChunkedClientStream{
		conn: conn,
		br:   br,
	}
	s.InitBasicConn(logger, s, "ChunkedClientStream(%s)", conn.RemoteAddr())
	if err := s.beginRequest(); err != nil {
		return nil, err
	}
	return s, nil
}

// beginRequest parses the next pending HTTP request off the wire and
// arranges for Read() to consume its dechunked body.
func (s *ChunkedClientStream) beginRequest() error {
	req, err := http.ReadRequest(s.br)
	if err != nil {
		return fmt.Errorf("clientstream: read chunked request: %w", err)
	}
	s.curReq = req
	s.curBody = req.Body
	s.curWriter = nil
	s.reusable = false
	return nil
}

// BeginNextExchange is called by the host after a prior exchange's
// response has been flushed and the stream was handed back for reuse. It
// parses the next HTTP request on the same connection.
func (s *ChunkedClientStream) BeginNextExchange() error {
	if s.curBody != nil {
		io.Copy(io.Discard, s.curBody)
		s.curBody.Close()
	}
	return s.beginRequest()
}

func (s *ChunkedClientStream) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

func (s *ChunkedClientStream) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// NetConn returns the underlying connection, bypassing the chunked framing.
// The host uses this to write a reply that must appear on the wire exactly
// as given, such as the anonymous error banner.
func (s *ChunkedClientStream) NetConn() net.Conn {
	return s.conn
}

// SetDeadline bounds the next read and write on the underlying connection,
// implementing Deadliner.
func (s *ChunkedClientStream) SetDeadline(t time.Time) error {
	return s.conn.SetDeadline(t)
}

// Reusable reports true only once a full response has been written and
// flushed (CloseWrite called) for the current exchange.
func (s *ChunkedClientStream) Reusable() bool {
	return s.reusable
}

// Read reads from the current request's dechunked body.
func (s *ChunkedClientStream) Read(p []byte) (int, error) {
	if s.curBody == nil {
		return 0, io.EOF
	}
	n, err := s.curBody.Read(p)
	atomic.AddInt64(&s.NumBytesRead, int64(n))
	return n, err
}

// Write starts the response (if not already started) and writes a chunk
// of the response body.
func (s *ChunkedClientStream) Write(p []byte) (int, error) {
	if s.curWriter == nil {
		if err := s.writeResponseHeader(); err != nil {
			return 0, err
		}
		s.curWriter = httputil.NewChunkedWriter(s.conn)
	}
	n, err := s.curWriter.Write(p)
	atomic.AddInt64(&s.NumBytesWritten, int64(n))
	return n, err
}

func (s *ChunkedClientStream) writeResponseHeader() error {
	header := "HTTP/1.1 200 OK\r\n" +
		"Content-Type: application/octet-stream\r\n" +
		"Transfer-Encoding: chunked\r\n\r\n"
	_, err := io.WriteString(s.conn, header)
	return err
}

// CloseWrite terminates the current response's chunked body (the final
// zero-length chunk) and marks the stream reusable for a further exchange.
func (s *ChunkedClientStream) CloseWrite() error {
	if s.curWriter == nil {
		if err := s.writeResponseHeader(); err != nil {
			return err
		}
		s.curWriter = httputil.NewChunkedWriter(s.conn)
	}
	err := s.curWriter.Close()
	if err == nil {
		// The chunked writer's Close omits the CRLF that ends the (empty)
		// trailer section; without it the peer's reader keeps waiting.
		_, err = io.WriteString(s.conn, "\r\n")
	}
	s.curWriter = nil
	s.reusable = true
	return err
}

// HandleOnceShutdown closes the underlying connection.
func (s *ChunkedClientStream) HandleOnceShutdown(completionErr error) error {
	err := s.conn.Close()
	if err != nil && completionErr == nil {
		completionErr = err
	}
	return completionErr
}

// WaitForClose blocks until Close() has completed.
func (s *ChunkedClientStream) WaitForClose() error {
	return s.WaitShutdown()
}

// Close starts (if not already started) and waits for shutdown.
func (s *ChunkedClientStream) Close() error {
	s.StartShutdown(nil)
	return s.WaitShutdown()
}

// Dispose tears the stream down. A graceful dispose sends the final
// zero-length chunk of any in-progress response before closing; a hard
// dispose just closes the connection.
func (s *ChunkedClientStream) Dispose(graceful bool) error {
	if graceful && s.curWriter != nil {
		s.CloseWrite()
	}
	return s.Close()
}
