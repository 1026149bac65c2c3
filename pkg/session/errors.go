package session

import "github.com/systerel/s2opc-go/pkg/statuscode"

type codedError struct {
	code   statuscode.Code
	reason string
}

func newError(code statuscode.Code, reason string) *codedError {
	return &codedError{code: code, reason: reason}
}

func (e *codedError) Error() string {
	if e.reason == "" {
		return e.code.String()
	}
	return e.code.String() + ": " + e.reason
}

func (e *codedError) StatusCode() statuscode.Code { return e.code }

// Failure taxonomy for session operations, per spec.md §4.4.
var (
	ErrSessionIDInvalid     = newError(statuscode.BadSessionIdInvalid, "unknown session-id or authentication-token")
	ErrSessionNotActivated  = newError(statuscode.BadSessionNotActivated, "session is not Activated")
	ErrSecureChannelIDInvalid = newError(statuscode.BadSecureChannelIdInvalid, "channel-id invalid or not bound to this session")
	ErrUserAccessDenied     = newError(statuscode.BadUserAccessDenied, "user identity rejected")
	ErrIdentityTokenInvalid = newError(statuscode.BadIdentityTokenInvalid, "identity token malformed")

	ErrChannelNotConnected = newError(statuscode.BadTcpSecureChannelUnknown, "channel is not Connected")
	ErrTableFull           = newError(statuscode.BadMaxConnectionsReached, "session table at capacity")
	ErrIDExhausted         = newError(statuscode.BadResourceUnavailable, "no session-id available")
)
