package streamconn

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/relaycore/tunnelhost/internal/logging"
)

var lastBridgeNum int64

// BridgeChannels connects two ChannelConns together, copying between them
// bidirectionally until end-of-stream is reached in both directions. Both
// connections are closed before this function returns. Used by the
// TcpProxyChannel handler to splice a ClientStream with an outbound
// connection dialed to the request's destination endpoint.
//
// Return values are:
//
//	Number of bytes transferred from caller to destination
//	Number of bytes transferred from destination to caller
//	An error, if io.Copy() returned one in either direction
//
// CloseWrite() is called on each side after the transfer to that side is
// complete, so half-closed protocols (request, then read response) work.
func BridgeChannels(
	ctx context.Context,
	logger logging.Logger,
	caller ChannelConn,
	dest ChannelConn,
) (int64, int64, error) {
	bridgeNum := atomic.AddInt64(&lastBridgeNum, 1)
	logger = logger.Fork("bridge#%d (%s->%s)", bridgeNum, caller, dest)
	logger.DLogf("starting")
	var callerToDestBytes, destToCallerBytes int64
	var callerToDestErr, destToCallerErr error
	var wg sync.WaitGroup
	wg.Add(2)
	copyFunc := func(src ChannelConn, dst ChannelConn, bytesCopied *int64, copyErr *error) {
		*bytesCopied, *copyErr = io.Copy(dst, src)
		if *copyErr != nil {
			logger.DLogf("io.Copy(%s->%s) returned error: %s", src, dst, *copyErr)
		}
		dst.CloseWrite()
		wg.Done()
	}
	go copyFunc(caller, dest, &callerToDestBytes, &callerToDestErr)
	go copyFunc(dest, caller, &destToCallerBytes, &destToCallerErr)
	wg.Wait()
	logger.DLogf("callerToDest=%d, destToCaller=%d", callerToDestBytes, destToCallerBytes)
	dest.Close()
	caller.Close()
	err := callerToDestErr
	if err == nil {
		err = destToCallerErr
	}
	return callerToDestBytes, destToCallerBytes, err
}
