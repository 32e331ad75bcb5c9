package host

import (
	"time"

	"github.com/jpillora/backoff"
)

// acceptLoop runs for the lifetime of one TCP listener: accept, detach the
// per-connection pipeline, repeat. A run of consecutive accept errors is
// paced with an exponential backoff and counted against the per-listener
// error budget; any successful accept resets both.
func (h *ConnectionHost) acceptLoop(tl *tcpListener) {
	defer h.ShutdownWG().Done()

	logger := h.Logger.Fork("accept(%s)", tl.addr)
	bo := &backoff.Backoff{Min: 10 * time.Millisecond, Max: time.Second, Factor: 2}
	var errCount int32

	for {
		conn, err := tl.ln.Accept()
		if err != nil {
			if h.IsStartedShutdown() {
				return
			}
			errCount++
			logger.WLogf("accept error (%d consecutive): %s", errCount, err)
			if errCount > h.cfg.acceptErrorBudget() {
				logger.ELogf("accept error budget exceeded (%d consecutive failures); stopping host", errCount)
				h.StartShutdown(err)
				return
			}
			time.Sleep(bo.Duration())
			continue
		}

		errCount = 0
		bo.Reset()

		h.ShutdownWG().Add(1)
		go func() {
			defer h.ShutdownWG().Done()
			h.handleConnection(conn, tl.ln.Addr())
		}()
	}
}
