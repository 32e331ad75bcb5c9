package wire

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"
)

func TestFramerRoundTrip(t *testing.T) {
	f := Framer{}
	req := HelloRequest{
		TokenId: "t",
		ClientInfo: ClientInfo{
			ClientId:        "c",
			ProtocolVersion: 2,
			ClientVersion:   "5.0",
			UserAgent:       "ua",
		},
	}

	var buf bytes.Buffer
	if err := f.WriteMessage(&buf, &req); err != nil {
		t.Fatalf("WriteMessage() returned error: %s", err)
	}

	var got HelloRequest
	if err := f.ReadMessage(&buf, &got); err != nil {
		t.Fatalf("ReadMessage() returned error: %s", err)
	}
	if got != req {
		t.Errorf("round-tripped request = %+v, want %+v", got, req)
	}
}

func TestFramerRejectsTrailingGarbage(t *testing.T) {
	f := Framer{}
	body := []byte(`{"TokenId":"t"}garbage`)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))

	r := bytes.NewReader(append(lenBuf[:], body...))
	var got HelloRequest
	err := f.ReadMessage(r, &got)
	if err == nil {
		t.Fatalf("ReadMessage() succeeded on a body with trailing garbage")
	}
	if !strings.Contains(err.Error(), "unexpected data") {
		t.Errorf("ReadMessage() error = %q, want mention of unexpected trailing data", err)
	}
}

func TestFramerRejectsOversizedLength(t *testing.T) {
	f := Framer{MaxBodyLen: 16}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], 1000)

	r := bytes.NewReader(lenBuf[:])
	var got HelloRequest
	err := f.ReadMessage(r, &got)
	if err == nil {
		t.Fatalf("ReadMessage() succeeded despite declared length exceeding ceiling")
	}
}

func TestFramerRejectsTruncatedPrefix(t *testing.T) {
	f := Framer{}
	r := bytes.NewReader([]byte{0x01, 0x02})
	var got HelloRequest
	if err := f.ReadMessage(r, &got); err == nil {
		t.Fatalf("ReadMessage() succeeded on a truncated length prefix")
	}
}

func TestRequestCodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRequestCode(&buf, TcpProxyChannel); err != nil {
		t.Fatalf("WriteRequestCode() returned error: %s", err)
	}
	got, err := ReadRequestCode(&buf)
	if err != nil {
		t.Fatalf("ReadRequestCode() returned error: %s", err)
	}
	if got != TcpProxyChannel {
		t.Errorf("ReadRequestCode() = %v, want %v", got, TcpProxyChannel)
	}
}

func TestRequestCodeIsKnown(t *testing.T) {
	for _, c := range []RequestCode{Hello, TcpDatagramChannel, TcpProxyChannel, UdpChannel, Bye} {
		if !c.IsKnown() {
			t.Errorf("%v.IsKnown() = false, want true", c)
		}
	}
	if RequestCode(0xFF).IsKnown() {
		t.Errorf("RequestCode(0xFF).IsKnown() = true, want false")
	}
}
