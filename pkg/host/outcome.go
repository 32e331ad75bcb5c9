package host

// exchangeOutcome is what a handler tells the per-connection pipeline to
// do with the stream after it returns, the Go realization of spec's
// result sum type (Ok | SessionErr | TransportErr | AnonymousErr): a
// handler either responds and offers the stream back for reuse, hands the
// stream off to the session layer, or asks for an ungraceful dispose with
// no response body. A non-nil error alongside any outcome overrides it --
// see runExchangeLoop.
type exchangeOutcome int

const (
	// outcomeRespond means the handler wrote a framed response and called
	// CloseWrite; the pipeline disposes gracefully, or -- if the stream is
	// chunked-reusable -- hands it back for another exchange.
	outcomeRespond exchangeOutcome = iota

	// outcomeHandoff means the handler transferred stream ownership
	// elsewhere (a session datagram channel, or a detached proxy splice).
	// The pipeline drops all references without disposing anything.
	outcomeHandoff

	// outcomeDisposeUngraceful means the exchange is over with no response
	// body (a successful Bye) and the stream should simply be closed.
	outcomeDisposeUngraceful
)
