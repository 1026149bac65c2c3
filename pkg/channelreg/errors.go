package channelreg

import "github.com/systerel/s2opc-go/pkg/statuscode"

type codedError struct {
	code   statuscode.Code
	reason string
}

func (e *codedError) Error() string {
	if e.reason == "" {
		return e.code.String()
	}
	return e.code.String() + ": " + e.reason
}

func (e *codedError) StatusCode() statuscode.Code { return e.code }

var (
	ErrRegistryFull      = &codedError{code: statuscode.BadMaxConnectionsReached, reason: "channel registry at capacity"}
	ErrIDExhausted       = &codedError{code: statuscode.BadResourceUnavailable, reason: "no channel-id available"}
	ErrDuplicateChannel  = &codedError{code: statuscode.BadInvalidState, reason: "channel-id already registered"}
	ErrInvalidChannelID  = &codedError{code: statuscode.BadSecureChannelIdInvalid, reason: "channel-id is zero or channel is nil"}
	ErrUnknownChannel    = &codedError{code: statuscode.BadTcpSecureChannelUnknown, reason: "channel-id not registered"}
)
