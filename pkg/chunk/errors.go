package chunk

import (
	"github.com/systerel/s2opc-go/pkg/statuscode"
)

// codedError adapts a statuscode.Code plus a free-text reason to the
// CodedError contract consumed by the channel FSM and dispatcher.
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
	// ErrDecoding covers malformed chunk bytes: bad headers, truncated
	// length fields.
	ErrDecoding = newError(statuscode.BadDecodingError, "malformed chunk")
	// ErrSecurityCheckFailed covers signature/decrypt failures.
	ErrSecurityCheckFailed = newError(statuscode.BadSecurityChecksFailed, "chunk security check failed")
	// ErrChunkTooLarge is returned when a declared chunk length exceeds
	// the configured receive-chunk capacity.
	ErrChunkTooLarge = newError(statuscode.BadTcpMessageTooLarge, "chunk exceeds max receive chunk size")
	// ErrMessageTooLargeInbound covers inbound reassembly overflow;
	// ErrMessageTooLargeOutbound covers outbound abort-chunk conditions.
	ErrMessageTooLargeInbound  = newError(statuscode.BadResponseTooLarge, "assembled message exceeds max receive message size")
	ErrMessageTooLargeOutbound = newError(statuscode.BadRequestTooLarge, "message exceeds max send message size")
	// ErrRequestIDMismatch is a fatal protocol error: a chunk with a
	// different request-id arrived while an assembly was open.
	ErrRequestIDMismatch = newError(statuscode.BadTcpMessageTypeInvalid, "request-id mismatch on open assembly")
	// ErrSequenceOutOfOrder covers a non-increasing sequence number.
	ErrSequenceOutOfOrder = newError(statuscode.BadSecurityChecksFailed, "sequence number not strictly increasing")
)
