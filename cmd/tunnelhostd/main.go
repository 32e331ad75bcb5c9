// Command tunnelhostd runs the server-side connection host: it loads a
// YAML configuration file, binds the TCP/UDP tunnel protocol endpoints and
// (optionally) an admin HTTP surface, and serves until signalled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/relaycore/tunnelhost/internal/adminsrv"
	"github.com/relaycore/tunnelhost/internal/config"
	"github.com/relaycore/tunnelhost/internal/logging"
	"github.com/relaycore/tunnelhost/pkg/host"
	"github.com/relaycore/tunnelhost/pkg/tlsacceptor"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "tunnelhostd:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/tunnelhostd/tunnelhostd.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logLevel := logging.LogLevelInfo
	if cfg.Debug {
		logLevel = logging.LogLevelTrace
	}
	logger := logging.NewLogger("tunnelhostd", logLevel)

	watcher, err := config.NewWatcher(logger, *configPath)
	if err != nil {
		return fmt.Errorf("watch config file: %w", err)
	}
	defer watcher.Close()

	selector, err := tlsacceptor.NewDirCertSelector(logger, cfg.CertDir)
	if err != nil {
		return fmt.Errorf("load certificates: %w", err)
	}
	defer selector.Close()

	sessionMgr := newDevSessionManager(logger)

	h := host.New(logger, tlsacceptor.New(selector), sessionMgr, host.Config{
		RequestTimeout:    cfg.RequestTimeout(),
		AcceptErrorBudget: cfg.AcceptErrorBudget,
		ServerVersion:     cfg.ServerVersion,
	})
	if err := h.Start(cfg.TcpEndpoints, cfg.UdpEndpoints); err != nil {
		return fmt.Errorf("start connection host: %w", err)
	}
	defer h.Dispose()

	var admin *adminsrv.Server
	adminDone := make(chan error, 1)
	if cfg.AdminAddr != "" {
		admin = adminsrv.New(logger, h, cfg.Debug)
		adminCtx, cancelAdmin := context.WithCancel(context.Background())
		defer cancelAdmin()
		go func() { adminDone <- admin.ListenAndServe(adminCtx, cfg.AdminAddr) }()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.ILogf("received signal %s, shutting down", sig)

	if err := h.Stop(); err != nil {
		logger.WLogf("connection host stop returned error: %s", err)
	}
	if admin != nil {
		admin.Close()
		<-adminDone
	}

	return nil
}
