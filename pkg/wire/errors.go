package wire

import "fmt"

// SessionErrorCode is the closed set of structured error codes a
// SessionResponseBase may carry. These are sent to clients that are known
// or authenticated enough to deserve a structured reply, as opposed to the
// anonymous 401 path.
type SessionErrorCode string

const (
	Ok                      SessionErrorCode = "Ok"
	GeneralError            SessionErrorCode = "GeneralError"
	UnsupportedClient       SessionErrorCode = "UnsupportedClient"
	SessionNotFound         SessionErrorCode = "SessionNotFound"
	SessionKeyMismatch      SessionErrorCode = "SessionKeyMismatch"
	SessionExpired          SessionErrorCode = "SessionExpired"
	AccessDenied            SessionErrorCode = "AccessDenied"
	TooManyDatagramChannels SessionErrorCode = "TooManyDatagramChannels"
)

// SessionError is a structured error carrying a SessionErrorCode and a
// diagnostic string. Handlers return it (rather than a bare error) when the
// failure deserves a SessionResponseBase reply instead of an anonymous 401.
type SessionError struct {
	Code       SessionErrorCode
	Diagnostic string
}

func (e *SessionError) Error() string {
	if e.Diagnostic == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Diagnostic)
}

// NewSessionError builds a SessionError with a formatted diagnostic.
func NewSessionError(code SessionErrorCode, format string, args ...interface{}) *SessionError {
	return &SessionError{Code: code, Diagnostic: fmt.Sprintf(format, args...)}
}

// AsSessionError unwraps err into a *SessionError if that is what it is.
func AsSessionError(err error) (*SessionError, bool) {
	se, ok := err.(*SessionError)
	return se, ok
}
