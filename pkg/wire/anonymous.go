package wire

import (
	"net/http"
	"time"
)

// AnonymousReply renders the fixed 401 response emitted on any non-session
// error: unknown client, malformed request, unsupported request code, or
// an unrecognized transport sniff byte. The header set and wording are
// verbatim and must not change without deliberately rethinking the
// server's disguise target -- this is the whole point of the anonymity
// policy, not an arbitrary choice of error page.
func AnonymousReply(now time.Time) []byte {
	return []byte("HTTP/1.1 401 Unauthorized\r\n" +
		"Content-Length: 0\r\n" +
		"Date: " + now.UTC().Format(http.TimeFormat) + "\r\n" +
		"Server: Kestrel\r\n" +
		"WWW-Authenticate: Bearer\r\n")
}
