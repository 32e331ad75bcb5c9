package tlsacceptor

import (
	"crypto/tls"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/relaycore/tunnelhost/internal/lifecycle"
	"github.com/relaycore/tunnelhost/internal/logging"
)

// DirCertSelector selects a certificate by local bind address, sourced
// from a directory of "<host>_<port>.crt" / "<host>_<port>.key" pairs
// (and a "default.crt" / "default.key" fallback). The directory is
// watched with fsnotify so a certificate rotation (e.g. from an ACME
// renewal process writing new files) takes effect without a restart.
type DirCertSelector struct {
	lifecycle.ShutdownHelper

	dir     string
	watcher *fsnotify.Watcher

	mu    sync.RWMutex
	cache map[string]*tls.Certificate
}

// NewDirCertSelector builds a DirCertSelector watching dir, and performs
// an initial load of whatever certificates are present.
func NewDirCertSelector(logger logging.Logger, dir string) (*DirCertSelector, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("tlsacceptor: create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("tlsacceptor: watch %s: %w", dir, err)
	}

	s := &DirCertSelector{
		dir:     dir,
		watcher: watcher,
		cache:   make(map[string]*tls.Certificate),
	}
	s.InitShutdownHelper(logger.Fork("DirCertSelector(%s)", dir), s)
	if err := s.reload(); err != nil {
		logger.WLogf("initial certificate load from %s failed: %s", dir, err)
	}
	s.PanicOnError(s.Activate())
	go s.watchLoop()

	return s, nil
}

func certKeyForAddr(local net.Addr) string {
	host, port, err := net.SplitHostPort(local.String())
	if err != nil {
		return strings.ReplaceAll(local.String(), ":", "_")
	}
	return strings.ReplaceAll(host, ":", "_") + "_" + port
}

// SelectCertificate implements CertSelector.
func (s *DirCertSelector) SelectCertificate(local net.Addr) (*tls.Certificate, error) {
	key := certKeyForAddr(local)

	s.mu.RLock()
	empty := len(s.cache) == 0
	s.mu.RUnlock()
	if empty {
		// The cache is empty after Clear (or if nothing loaded yet); read the
		// directory again so a restarted host can serve.
		if err := s.reload(); err != nil {
			s.DLogf("reload on empty cache: %s", err)
		}
	}

	s.mu.RLock()
	cert, ok := s.cache[key]
	if !ok {
		cert, ok = s.cache["default"]
	}
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("tlsacceptor: no certificate for local endpoint %s and no default in %s", local, s.dir)
	}
	return cert, nil
}

func (s *DirCertSelector) watchLoop() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				if err := s.reload(); err != nil {
					s.WLogf("reload after %s: %s", event, err)
				} else {
					s.DLogf("reloaded certificates after %s", event)
				}
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.WLogf("fsnotify watch error: %s", err)
		case <-s.ShutdownStartedChan():
			return
		}
	}
}

func (s *DirCertSelector) reload() error {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.crt"))
	if err != nil {
		return err
	}

	next := make(map[string]*tls.Certificate, len(matches))
	for _, certPath := range matches {
		base := strings.TrimSuffix(filepath.Base(certPath), ".crt")
		keyPath := filepath.Join(s.dir, base+".key")
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return fmt.Errorf("load %s/%s: %w", certPath, keyPath, err)
		}
		next[base] = &cert
	}

	s.mu.Lock()
	s.cache = next
	s.mu.Unlock()
	return nil
}

// Clear drops the certificate cache, releasing private key material. The
// host calls this on stop; the next SelectCertificate reloads the directory.
func (s *DirCertSelector) Clear() {
	s.mu.Lock()
	s.cache = make(map[string]*tls.Certificate)
	s.mu.Unlock()
}

// HandleOnceShutdown closes the fsnotify watcher and clears the cache.
func (s *DirCertSelector) HandleOnceShutdown(completionErr error) error {
	s.Clear()
	if err := s.watcher.Close(); err != nil && completionErr == nil {
		completionErr = err
	}
	return completionErr
}

var _ CertSelector = (*DirCertSelector)(nil)
