// Package adminsrv implements a small operational HTTP surface --
// /healthz and /varz -- bound to its own listener, separate from the
// tunnel protocol port, so a scanner hitting the tunnel port never sees
// it and an operator's healthcheck never competes with protocol traffic.
package adminsrv

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	"github.com/jpillora/requestlog"

	"github.com/relaycore/tunnelhost/internal/lifecycle"
	"github.com/relaycore/tunnelhost/internal/logging"
)

// VarzProvider supplies the point-in-time counters reported at /varz.
// pkg/host.ConnectionHost satisfies this with TcpEndpoints/UdpEndpoints
// plus whatever counters the caller wants to expose; adminsrv itself has
// no opinion on what a "var" is.
type VarzProvider interface {
	Varz() map[string]interface{}
}

// Server is a minimal HTTP server with graceful shutdown, grounded on the
// teacher's HTTPServer: ShutdownHelper embed, DoOnceActivate-gated bind,
// net/http.Server.Serve delegated to for the accept loop itself, since
// this surface has none of the tunnel protocol's custom framing needs.
type Server struct {
	lifecycle.ShutdownHelper

	httpServer *http.Server
	listener   net.Listener
	varz       VarzProvider
	debug      bool
}

// New builds an admin Server. varz may be nil, in which case /varz always
// reports an empty object.
func New(logger logging.Logger, varz VarzProvider, debug bool) *Server {
	s := &Server{
		httpServer: &http.Server{},
		varz:       varz,
		debug:      debug,
	}
	s.InitShutdownHelper(logger.Fork("adminsrv"), s)
	return s
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/varz", s.handleVarz)

	var h http.Handler = mux
	if s.debug {
		h = requestlog.Wrap(h)
	}
	return h
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleVarz(w http.ResponseWriter, r *http.Request) {
	vars := map[string]interface{}{}
	if s.varz != nil {
		vars = s.varz.Varz()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(vars)
}

// ListenAndServe binds addr and serves until the context is cancelled or
// Close is called. It returns once serving has fully stopped.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	err := s.DoOnceActivate(func() error {
		s.ShutdownOnContext(ctx)

		l, err := net.Listen("tcp", addr)
		if err != nil {
			return s.Errorf("adminsrv: listen %s: %s", addr, err)
		}
		s.listener = l
		s.httpServer.Handler = s.handler()

		go func() {
			s.Shutdown(s.httpServer.Serve(l))
		}()

		return nil
	}, true)

	if err == nil {
		err = s.WaitShutdown()
	}
	return err
}

// Addr returns the bound listen address, valid only after ListenAndServe
// has started successfully.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// HandleOnceShutdown closes the listener, which unblocks Serve.
func (s *Server) HandleOnceShutdown(completionErr error) error {
	if s.listener == nil {
		return completionErr
	}
	err := s.listener.Close()
	if completionErr == nil {
		completionErr = err
	}
	return completionErr
}
