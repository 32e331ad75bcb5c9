package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/relaycore/tunnelhost/internal/logging"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "tunnelhostd.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile() returned error: %s", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
tcp_endpoints:
  - "0.0.0.0:8443"
udp_endpoints:
  - "0.0.0.0:8444"
cert_dir: /etc/tunnelhostd/certs
request_timeout_seconds: 30
accept_error_budget: 50
admin_addr: "127.0.0.1:8080"
server_version: "1.0.0"
debug: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %s", err)
	}
	if len(cfg.TcpEndpoints) != 1 || cfg.TcpEndpoints[0] != "0.0.0.0:8443" {
		t.Errorf("TcpEndpoints = %v, want [0.0.0.0:8443]", cfg.TcpEndpoints)
	}
	if cfg.RequestTimeout() != 30*time.Second {
		t.Errorf("RequestTimeout() = %s, want 30s", cfg.RequestTimeout())
	}
	if !cfg.Debug {
		t.Errorf("Debug = false, want true")
	}
}

func TestLoadMissingTcpEndpoints(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `cert_dir: /etc/tunnelhostd/certs`)

	if _, err := Load(path); err == nil {
		t.Fatalf("Load() succeeded despite missing tcp_endpoints")
	}
}

func TestLoadMissingCertDir(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `tcp_endpoints: ["0.0.0.0:8443"]`)

	if _, err := Load(path); err == nil {
		t.Fatalf("Load() succeeded despite missing cert_dir")
	}
}

func TestWatcherReportsChange(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `tcp_endpoints: ["0.0.0.0:8443"]
cert_dir: /etc/tunnelhostd/certs`)

	logger := logging.NewLogger("test", logging.LogLevelTrace)
	w, err := NewWatcher(logger, path)
	if err != nil {
		t.Fatalf("NewWatcher() returned error: %s", err)
	}
	defer w.Close()

	// Rewriting the file should trigger a watch event; the watcher only
	// logs it (no hot-reload), so this exercises that the watch loop
	// survives the event without panicking or exiting early.
	writeConfig(t, dir, `tcp_endpoints: ["0.0.0.0:9443"]
cert_dir: /etc/tunnelhostd/certs`)

	time.Sleep(100 * time.Millisecond)

	if w.IsDoneShutdown() {
		t.Errorf("watcher shut down unexpectedly after a file change")
	}
}
