package tlsacceptor

import (
	"net"
	"testing"
	"time"

	"github.com/relaycore/tunnelhost/internal/logging"
	"github.com/relaycore/tunnelhost/internal/testcerts"
)

func TestDirCertSelectorLoadsDefault(t *testing.T) {
	dir := t.TempDir()
	pair, err := testcerts.Generate("dircertselector_default", "127.0.0.1")
	if err != nil {
		t.Fatalf("testcerts.Generate() returned error: %s", err)
	}
	if _, _, err := testcerts.WriteToDir(dir, "default", pair); err != nil {
		t.Fatalf("testcerts.WriteToDir() returned error: %s", err)
	}

	logger := logging.NewLogger("test", logging.LogLevelTrace)
	sel, err := NewDirCertSelector(logger, dir)
	if err != nil {
		t.Fatalf("NewDirCertSelector() returned error: %s", err)
	}
	defer sel.Close()

	cert, err := sel.SelectCertificate(&net.TCPAddr{IP: net.ParseIP("10.0.0.1"), Port: 9999})
	if err != nil {
		t.Fatalf("SelectCertificate() returned error: %s", err)
	}
	if cert == nil {
		t.Fatalf("SelectCertificate() returned nil certificate")
	}
}

func TestDirCertSelectorHotReload(t *testing.T) {
	dir := t.TempDir()

	logger := logging.NewLogger("test", logging.LogLevelTrace)
	sel, err := NewDirCertSelector(logger, dir)
	if err != nil {
		t.Fatalf("NewDirCertSelector() returned error: %s", err)
	}
	defer sel.Close()

	addr := &net.TCPAddr{IP: net.ParseIP("10.0.0.2"), Port: 443}
	if _, err := sel.SelectCertificate(addr); err == nil {
		t.Fatalf("SelectCertificate() succeeded before any certificate was written")
	}

	pair, err := testcerts.Generate("dircertselector_hotreload", "10.0.0.2")
	if err != nil {
		t.Fatalf("testcerts.Generate() returned error: %s", err)
	}
	if _, _, err := testcerts.WriteToDir(dir, "default", pair); err != nil {
		t.Fatalf("testcerts.WriteToDir() returned error: %s", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var lastErr error
	for time.Now().Before(deadline) {
		if _, lastErr = sel.SelectCertificate(addr); lastErr == nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("SelectCertificate() never picked up the hot-reloaded certificate: %s", lastErr)
}

// Clear() must be safe to call even with nothing loaded and concurrently
// with HandleOnceShutdown via Close().
func TestDirCertSelectorClear(t *testing.T) {
	dir := t.TempDir()
	logger := logging.NewLogger("test", logging.LogLevelTrace)
	sel, err := NewDirCertSelector(logger, dir)
	if err != nil {
		t.Fatalf("NewDirCertSelector() returned error: %s", err)
	}
	sel.Clear()
	if err := sel.Close(); err != nil {
		t.Fatalf("Close() returned error: %s", err)
	}
}
