package transport

import "errors"

// Socket-layer errors surfaced to the channel core, per the transport
// boundary's open/write/close contract.
var (
	ErrClosed            = errors.New("transport: closed")
	ErrNotConnected       = errors.New("transport: not connected")
	ErrAlreadyConnected   = errors.New("transport: already connected")
	ErrInvalidAddress     = errors.New("transport: invalid address")
	ErrNoHandler          = errors.New("transport: no event handler configured")
	ErrMessageTooLarge    = errors.New("transport: message exceeds max receive chunk size")
	ErrShortTransportHeader = errors.New("transport: short read on transport header")
)
