package dispatcher

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

var (
	// ErrUnknownConnection names the case of a transport event for a
	// handle the server has no connection state for; Server logs and
	// drops such events and does not return this value.
	ErrUnknownConnection = newError(statuscode.BadTcpSecureChannelUnknown, "no connection state for handle")
	// ErrUnboundChannel is the S5 "unknown channel-id" case: a MSG/CLO
	// chunk arrived on a handle whose channel-id is either not yet
	// assigned (no OPN completed) or no longer registered (already
	// closed elsewhere).
	ErrUnboundChannel = newError(statuscode.BadTcpSecureChannelUnknown, "channel-id not bound on this connection")
	// ErrNoSuchChannel is returned by Server.Send when callers address
	// a channel-id the server has never registered or has since
	// dropped.
	ErrNoSuchChannel = newError(statuscode.BadSecureChannelClosed, "no connection bound to channel-id")
	// ErrTokenExpired is raised by Server.SweepExpiredTokens when a
	// channel's current token outlived its lifetime with no renewal
	// having arrived.
	ErrTokenExpired = newError(statuscode.BadSecureChannelTokenUnknown, "security token expired with no renewal")
)
