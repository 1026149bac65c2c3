package securechannel

import (
	"math"
	"time"

	"github.com/systerel/s2opc-go/pkg/chunk"
	"github.com/systerel/s2opc-go/pkg/crypto"
	"github.com/systerel/s2opc-go/pkg/statuscode"
	"github.com/systerel/s2opc-go/pkg/wire"
)

// sequenceWrapThreshold bounds both sides of the wraparound check: a
// successor is only accepted as a wrap if it lands at or below the
// threshold AND the predecessor was already within the threshold of
// math.MaxUint32. Without the second half, any small sequence number
// would be accepted as a "wrap" regardless of where the previous
// sequence actually was, defeating the replay check.
const sequenceWrapThreshold = 1024

// Send encodes body as one or more MSG chunks under the current token.
// It returns the chunks to write to the socket, in order, and records a
// pending entry so a later response or close can resolve handle.
func (c *SecureChannel) Send(body []byte, handle uint64, timeout time.Duration) ([][]byte, uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return nil, 0, ErrInvalidMessageForState
	}
	if c.current == nil {
		return nil, 0, ErrChannelClosed
	}

	reqID := c.allocateRequestIDLocked()
	req := chunk.OutboundRequest{
		MessageType:        wire.MessageTypeMessage,
		ChannelID:          c.peerChannelID,
		RequestID:          reqID,
		Body:               body,
		Mode:               c.mode,
		Capability:         c.capability,
		Direction:          c.outboundDirection(),
		TokenID:            c.current.TokenID,
		NextSequenceNumber: c.nextSeq(),
	}
	chunks, err := chunk.EncodeOutbound(req, c.negotiatedOrLocal())
	if err != nil {
		if sf, ok := err.(*chunk.SendFailure); ok {
			return sf.Chunks, reqID, sf
		}
		return nil, 0, err
	}

	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	c.pending[reqID] = PendingRequest{RequestID: reqID, Handle: handle, Deadline: deadline}
	return chunks, reqID, nil
}

func (c *SecureChannel) outboundDirection() crypto.Direction {
	if c.role == RoleClient {
		return crypto.DirectionClientToServer
	}
	return crypto.DirectionServerToClient
}

func (c *SecureChannel) inboundDirection() crypto.Direction {
	if c.role == RoleClient {
		return crypto.DirectionServerToClient
	}
	return crypto.DirectionClientToServer
}

// Delivery is produced by Receive for one inbound chunk: a completed
// message body, a send-failure for an aborted request, or neither
// (handshake/control chunk handled internally, nothing to deliver yet).
type Delivery struct {
	RequestID   uint32
	Body        []byte
	IsFinal     bool
	SendFailure bool
	FailureCode error
}

// Receive parses one raw chunk and advances channel state. For MSG
// chunks it accumulates/reassembles per spec.md §4.2 steps 4-7 and
// returns a Delivery once a full message (or an abort) is available.
// Channel-id matching happens one layer up, in the channel registry,
// before a chunk is ever routed to a specific channel's Receive.
func (c *SecureChannel) Receive(raw []byte) (*Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(raw) < wire.TransportHeaderSize {
		return nil, chunk.ErrDecoding
	}
	var mt wire.MessageType
	copy(mt[:], raw[:3])

	switch mt {
	case wire.MessageTypeClose:
		c.failAllPendingLocked()
		c.setStateLocked(StateClosed)
		return nil, nil
	case wire.MessageTypeError:
		c.failAllPendingLocked()
		c.setStateLocked(StateClosed)
		return nil, nil
	}

	if c.state != StateConnected {
		return nil, ErrInvalidMessageForState
	}

	dc, err := chunk.DecodeChunk(chunk.InboundRequest{
		Raw:        raw,
		Capability: c.capability,
		Direction:  c.inboundDirection(),
		Mode:       c.mode,
	}, c.negotiatedOrLocal())
	if err != nil {
		return nil, err
	}

	if c.current != nil && dc.TokenID != c.current.TokenID {
		if c.previous == nil || dc.TokenID != c.previous.TokenID {
			return nil, ErrUnknownToken
		}
	} else if c.current != nil && dc.TokenID == c.current.TokenID {
		c.previous = nil
	}

	if err := c.checkSequenceLocked(dc.Sequence.SequenceNumber); err != nil {
		return nil, err
	}

	switch dc.Header.IsFinal {
	case wire.IsFinalAbort:
		r := wire.NewReader(dc.Body)
		status, _ := r.ReadUInt32()
		c.deletePending(dc.Sequence.RequestID)
		c.assembly = nil
		return &Delivery{RequestID: dc.Sequence.RequestID, SendFailure: true, FailureCode: newError(statuscode.Code(status), "")}, nil
	case wire.IsFinalIntermediate:
		if c.assembly == nil {
			c.assembly = chunk.NewAssembly(dc.Sequence.RequestID)
		}
		if err := c.assembly.Append(dc.Sequence.RequestID, dc.Body, c.negotiatedOrLocal()); err != nil {
			return nil, err
		}
		return nil, nil
	case wire.IsFinalFinal:
		if c.assembly == nil {
			c.assembly = chunk.NewAssembly(dc.Sequence.RequestID)
		}
		full, err := c.assembly.Finish(dc.Sequence.RequestID, dc.Body, c.negotiatedOrLocal())
		if err != nil {
			return nil, err
		}
		c.assembly = nil
		c.deletePending(dc.Sequence.RequestID)
		return &Delivery{RequestID: dc.Sequence.RequestID, Body: full, IsFinal: true}, nil
	}
	return nil, chunk.ErrDecoding
}

func (c *SecureChannel) deletePending(requestID uint32) {
	delete(c.pending, requestID)
}

func (c *SecureChannel) checkSequenceLocked(seq uint32) error {
	if c.lastReceivedSeq != 0 && seq <= c.lastReceivedSeq {
		wrapped := seq <= sequenceWrapThreshold && c.lastReceivedSeq > math.MaxUint32-sequenceWrapThreshold
		if !wrapped {
			return ErrSecurityCheckFailed
		}
	}
	c.lastReceivedSeq = seq
	return nil
}
