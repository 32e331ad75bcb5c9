// Package config loads the host's YAML configuration file and watches it
// for changes. A config-file change is logged and requires a process
// restart to take effect -- hot-swapping listener sets or timeouts is out
// of scope; the one piece of runtime state this module does hot-reload is
// the certificate directory, handled directly by
// pkg/tlsacceptor.DirCertSelector.
package config

import (
	"fmt"
	"io/ioutil"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v2"

	"github.com/relaycore/tunnelhost/internal/lifecycle"
	"github.com/relaycore/tunnelhost/internal/logging"
)

// HostConfig is the file-based configuration for a ConnectionHost plus
// the process's admin surface.
type HostConfig struct {
	// TcpEndpoints are the tunnel protocol's TCP bind addresses
	// ("host:port"). At least one is required.
	TcpEndpoints []string `yaml:"tcp_endpoints"`

	// UdpEndpoints are the UDP channel transmitter's bind addresses.
	// Optional; a host with no UDP endpoints simply never publishes a
	// UdpEndpoint in its HelloResponse.
	UdpEndpoints []string `yaml:"udp_endpoints,omitempty"`

	// CertDir is the directory DirCertSelector watches for certificate
	// files.
	CertDir string `yaml:"cert_dir"`

	// RequestTimeoutSeconds bounds every request/response exchange. Zero
	// means the host's own default.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds,omitempty"`

	// AcceptErrorBudget is the per-listener tolerance for consecutive
	// accept errors before the host stops itself. Zero means the host's
	// own default.
	AcceptErrorBudget int32 `yaml:"accept_error_budget,omitempty"`

	// AdminAddr is the bind address for the admin HTTP surface
	// (/healthz, /varz). Empty disables the admin surface.
	AdminAddr string `yaml:"admin_addr,omitempty"`

	// ServerVersion is published in every HelloResponse.
	ServerVersion string `yaml:"server_version,omitempty"`

	// Debug enables verbose logging and request-log wrapping of the admin
	// surface.
	Debug bool `yaml:"debug,omitempty"`
}

// RequestTimeout returns RequestTimeoutSeconds as a time.Duration.
func (c HostConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// Load reads and parses a HostConfig from path.
func Load(path string) (HostConfig, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return HostConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg HostConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return HostConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if len(cfg.TcpEndpoints) == 0 {
		return HostConfig{}, fmt.Errorf("config: %s: tcp_endpoints is required", path)
	}
	if cfg.CertDir == "" {
		return HostConfig{}, fmt.Errorf("config: %s: cert_dir is required", path)
	}
	return cfg, nil
}

// Watcher watches a config file and reports (via logging only -- no
// callback, since config changes require a restart) when it changes.
// Grounded on pkg/tlsacceptor.DirCertSelector's fsnotify usage, trimmed
// down to "log and let the operator restart" instead of "reload in
// place," since spec.md's non-goals exclude hot-swappable policy/config.
type Watcher struct {
	lifecycle.ShutdownHelper

	path    string
	watcher *fsnotify.Watcher
}

// NewWatcher begins watching path for changes.
func NewWatcher(logger logging.Logger, path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create fsnotify watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}

	w := &Watcher{path: path, watcher: fw}
	w.InitShutdownHelper(logger.Fork("config.Watcher(%s)", path), w)
	w.PanicOnError(w.Activate())

	go w.watchLoop()
	return w, nil
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.WLogf("configuration file %s changed on disk; restart the process to apply it", w.path)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.WLogf("fsnotify watch error: %s", err)
		case <-w.ShutdownStartedChan():
			return
		}
	}
}

// HandleOnceShutdown closes the fsnotify watcher.
func (w *Watcher) HandleOnceShutdown(completionErr error) error {
	if err := w.watcher.Close(); err != nil && completionErr == nil {
		completionErr = err
	}
	return completionErr
}
