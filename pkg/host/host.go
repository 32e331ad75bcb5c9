// Package host implements the ConnectionHost: the TCP/UDP listener set,
// accept loops, TLS+transport-sniff+dispatch pipeline, and the five
// tunnel-protocol handlers. It is the component spec'd by
// share/server.go's accept/dispatch shape, generalized from "accept TCP,
// upgrade to websocket, run one SSH session" to "accept TCP, TLS-
// handshake, sniff transport, dispatch one request, optionally loop on
// stream reuse."
package host

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/relaycore/tunnelhost/internal/connstats"
	"github.com/relaycore/tunnelhost/internal/lifecycle"
	"github.com/relaycore/tunnelhost/internal/logging"
	"github.com/relaycore/tunnelhost/pkg/session"
	"github.com/relaycore/tunnelhost/pkg/tlsacceptor"
	"github.com/relaycore/tunnelhost/pkg/udptransmitter"
	"github.com/relaycore/tunnelhost/pkg/wire"
)

// DefaultAcceptErrorBudget is the per-listener tolerance for consecutive
// accept errors before the host stops itself, per spec.
const DefaultAcceptErrorBudget = 200

// DefaultRequestTimeout is the per-exchange timeout applied to every
// request/response cycle, including each reuse of a chunked-reusable
// stream.
const DefaultRequestTimeout = 60 * time.Second

// MinClientProtocolVersion is the minimum HelloRequest.ClientInfo.ProtocolVersion
// accepted. Older clients receive UnsupportedClient, but only after a
// session has already been created for them (see handleHello).
const MinClientProtocolVersion = 2

// Config holds the tunables a ConnectionHost needs beyond its collaborators.
type Config struct {
	// RequestTimeout bounds every request/response exchange. Zero means
	// DefaultRequestTimeout.
	RequestTimeout time.Duration

	// AcceptErrorBudget is the number of consecutive accept errors, per
	// listener, tolerated before the host stops itself. Zero means
	// DefaultAcceptErrorBudget.
	AcceptErrorBudget int32

	// ServerVersion is published in every HelloResponse.
	ServerVersion string
}

func (c Config) requestTimeout() time.Duration {
	if c.RequestTimeout <= 0 {
		return DefaultRequestTimeout
	}
	return c.RequestTimeout
}

func (c Config) acceptErrorBudget() int32 {
	if c.AcceptErrorBudget <= 0 {
		return DefaultAcceptErrorBudget
	}
	return c.AcceptErrorBudget
}

// tcpListener pairs a bound listener with the address it was requested on,
// for logging and for the published-endpoint report.
type tcpListener struct {
	ln   net.Listener
	addr string
}

// ConnectionHost owns the tunnel protocol's TCP listeners and UDP
// transmitters, the accept loops that feed them, and the per-connection
// pipeline that turns an accepted socket into a sequence of dispatched
// requests. Its lifecycle (start/stop/dispose) is realized by the embedded
// ShutdownHelper: stop() is simply StartShutdown+WaitShutdown,
// HandleOnceShutdown is where every TCP listener is closed, and each UDP
// transmitter, registered as a shutdown child, is shut down after it.
type ConnectionHost struct {
	lifecycle.ShutdownHelper

	baseLogger logging.Logger
	cfg        Config
	acceptor   *tlsacceptor.TlsAcceptor
	sessionMgr session.Manager
	connStats  connstats.ConnStats
	framer     wire.Framer

	mu              sync.Mutex
	isStarted       bool
	isDisposed      bool
	tcpListeners    []*tcpListener
	udpTransmitters []*udptransmitter.UdpChannelTransmitter
}

// New builds a ConnectionHost. It does not bind anything; call Start to do
// that.
func New(logger logging.Logger, acceptor *tlsacceptor.TlsAcceptor, sessionMgr session.Manager, cfg Config) *ConnectionHost {
	h := &ConnectionHost{
		baseLogger: logger,
		cfg:        cfg,
		acceptor:   acceptor,
		sessionMgr: sessionMgr,
	}
	h.InitShutdownHelper(logger.Fork("ConnectionHost"), h)
	return h
}

// TcpEndpoints returns the effective bind addresses of every TCP listener,
// valid only after a successful Start.
func (h *ConnectionHost) TcpEndpoints() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	eps := make([]string, len(h.tcpListeners))
	for i, tl := range h.tcpListeners {
		eps[i] = tl.ln.Addr().String()
	}
	return eps
}

// UdpEndpoints returns the effective bind addresses of every UDP
// transmitter, with any port-0 request resolved to its OS-assigned value.
func (h *ConnectionHost) UdpEndpoints() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	eps := make([]string, len(h.udpTransmitters))
	for i, t := range h.udpTransmitters {
		eps[i] = t.LocalAddr().String()
	}
	return eps
}

// Start binds every UDP endpoint (each wrapped in a transmitter), then
// every TCP endpoint, then spawns one accept loop per TCP listener.
// Requires at least one TCP endpoint, and that the host is neither already
// started nor disposed. On failure, whatever was already bound is
// unwound via StartShutdown, which DoOnceActivate triggers automatically.
func (h *ConnectionHost) Start(tcpAddrs, udpAddrs []string) error {
	if len(tcpAddrs) == 0 {
		return fmt.Errorf("host: No TcpEndPoint")
	}

	h.mu.Lock()
	if h.isDisposed {
		h.mu.Unlock()
		return fmt.Errorf("host: disposed")
	}
	if h.isStarted {
		h.mu.Unlock()
		return fmt.Errorf("host: already started")
	}
	// A prior Start/Stop cycle leaves the embedded ShutdownHelper in its
	// terminal isDoneShutdown state, which would make DoOnceActivate below
	// see isActivated already true and return without binding anything.
	// Swapping in a brand new ShutdownHelper gives this start its own
	// cancellation token, per spec's "replaced on each restart."
	if h.IsDoneShutdown() {
		h.ShutdownHelper = *lifecycle.NewShutdownHelper(h.baseLogger.Fork("ConnectionHost"), h)
	}
	h.tcpListeners = nil
	h.udpTransmitters = nil
	h.mu.Unlock()

	err := h.DoOnceActivate(func() error {
		for _, a := range udpAddrs {
			udpAddr, err := net.ResolveUDPAddr("udp", a)
			if err != nil {
				return fmt.Errorf("host: resolve udp endpoint %s: %w", a, err)
			}
			xmit, err := udptransmitter.New(h.Logger, udpAddr, h.sessionMgr)
			if err != nil {
				return fmt.Errorf("host: bind udp endpoint %s: %w", a, err)
			}
			h.mu.Lock()
			h.udpTransmitters = append(h.udpTransmitters, xmit)
			h.mu.Unlock()
			h.AddShutdownChild(xmit)
		}

		for _, a := range tcpAddrs {
			ln, err := net.Listen("tcp", a)
			if err != nil {
				return fmt.Errorf("host: bind tcp endpoint %s: %w", a, err)
			}
			tl := &tcpListener{ln: ln, addr: a}
			h.mu.Lock()
			h.tcpListeners = append(h.tcpListeners, tl)
			h.mu.Unlock()
			h.ShutdownWG().Add(1)
			go h.acceptLoop(tl)
		}

		return nil
	}, true)

	if err != nil {
		return err
	}

	h.mu.Lock()
	h.isStarted = true
	h.mu.Unlock()
	h.ILogf("started with tcp endpoints %v, udp endpoints %v", h.TcpEndpoints(), h.UdpEndpoints())
	return nil
}

// Stop cancels the host, closes every listener and transmitter, and waits
// for every accept loop and in-flight connection handler to finish. Safe
// to call multiple times and concurrently with Dispose.
func (h *ConnectionHost) Stop() error {
	err := h.Shutdown(nil)
	h.mu.Lock()
	h.isStarted = false
	h.mu.Unlock()
	return err
}

// Dispose stops the host (if not already stopped) and marks it disposed,
// so a future Start is rejected.
func (h *ConnectionHost) Dispose() error {
	err := h.Stop()
	h.mu.Lock()
	h.isDisposed = true
	h.mu.Unlock()
	return err
}

// Varz reports the host's point-in-time counters for the admin surface's
// /varz endpoint, satisfying internal/adminsrv.VarzProvider.
func (h *ConnectionHost) Varz() map[string]interface{} {
	snap := h.connStats.Snapshot()
	return map[string]interface{}{
		"connections_open":  snap.ConnectionsOpen,
		"connections_total": snap.ConnectionsTotal,
		"bytes_sent":        snap.BytesSent,
		"bytes_received":    snap.BytesReceived,
		"tcp_endpoints":     h.TcpEndpoints(),
		"udp_endpoints":     h.UdpEndpoints(),
	}
}

// HandleOnceShutdown closes every bound TCP listener, then clears the TLS
// certificate cache. The UDP transmitters are shutdown children and are
// shut down once it returns. It runs exactly once, regardless of whether
// Start fully completed.
func (h *ConnectionHost) HandleOnceShutdown(completionErr error) error {
	h.mu.Lock()
	listeners := h.tcpListeners
	h.mu.Unlock()
	for _, tl := range listeners {
		if err := tl.ln.Close(); err != nil && completionErr == nil {
			completionErr = err
		}
	}

	if clearer, ok := h.acceptor.Selector().(interface{ Clear() }); ok {
		clearer.Clear()
	}

	return completionErr
}
