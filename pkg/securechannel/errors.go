package securechannel

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
	ErrUnknownChannel        = newError(statuscode.BadTcpSecureChannelUnknown, "channel-id not recognized")
	ErrUnknownToken          = newError(statuscode.BadSecureChannelTokenUnknown, "token-id not recognized on channel")
	ErrInvalidMessageForState = newError(statuscode.BadTcpMessageTypeInvalid, "message type invalid for current state")
	ErrOpenOutsideHandshake  = newError(statuscode.BadSecurityChecksFailed, "OPN request outside ScInit or legitimate renewal")
	ErrChannelClosed         = newError(statuscode.BadSecureChannelClosed, "channel closed")
	ErrSecurityCheckFailed   = newError(statuscode.BadSecurityChecksFailed, "security check failed")
	ErrCertificateUntrusted  = newError(statuscode.BadSecurityChecksFailed, "peer certificate not trusted")
)
