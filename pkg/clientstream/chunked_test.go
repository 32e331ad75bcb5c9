package clientstream

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/prep/socketpair"
)

func TestChunkedClientStreamRoundTrip(t *testing.T) {
	clientConn, serverConn, err := socketpair.New("unix")
	if err != nil {
		t.Fatalf("socketpair.New() returned error: %s", err)
	}
	defer clientConn.Close()

	requestBody := "request-payload"
	go func() {
		req := "POST /tunnel HTTP/1.1\r\n" +
			"Host: tunnel\r\n" +
			"Transfer-Encoding: chunked\r\n\r\n" +
			fmt.Sprintf("%x\r\n%s\r\n0\r\n\r\n", len(requestBody), requestBody)
		io.WriteString(clientConn, req)
	}()

	var first [1]byte
	if _, err := io.ReadFull(serverConn, first[:]); err != nil {
		t.Fatalf("read first byte: %s", err)
	}
	firstByte := first[0]
	if firstByte != 'P' {
		t.Fatalf("first byte = %q, want 'P'", firstByte)
	}

	logger := newTestLogger(t)
	stream, err := NewChunkedClientStream(logger, serverConn, firstByte)
	if err != nil {
		t.Fatalf("NewChunkedClientStream() returned error: %s", err)
	}

	got, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("reading request body returned error: %s", err)
	}
	if string(got) != requestBody {
		t.Errorf("request body = %q, want %q", got, requestBody)
	}

	responseBody := "response-payload"
	if _, err := stream.Write([]byte(responseBody)); err != nil {
		t.Fatalf("Write() returned error: %s", err)
	}
	if err := stream.CloseWrite(); err != nil {
		t.Fatalf("CloseWrite() returned error: %s", err)
	}
	if !stream.Reusable() {
		t.Errorf("Reusable() = false after CloseWrite, want true")
	}

	br := bufio.NewReader(clientConn)
	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		t.Fatalf("http.ReadResponse() returned error: %s", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading response body returned error: %s", err)
	}
	if string(respBody) != responseBody {
		t.Errorf("response body = %q, want %q", respBody, responseBody)
	}
}
