package chunk

import (
	"github.com/systerel/s2opc-go/pkg/crypto"
	"github.com/systerel/s2opc-go/pkg/wire"
)

// MessageAssembly is an in-progress inbound message on one channel:
// the concatenated bodies of received intermediate chunks for one
// request-id, per spec.md §3.1.
type MessageAssembly struct {
	RequestID   uint32
	Body        []byte
	ChunkCount  uint32
}

// DecodedChunk is the parsed, unsealed content of one inbound chunk.
type DecodedChunk struct {
	Header         wire.TransportHeader
	TokenID        uint32
	Asymmetric     bool
	AsymmetricHdr  wire.AsymmetricSecurityHeader
	Sequence       wire.SequenceHeader
	Body           []byte
}

// InboundRequest carries the per-chunk context needed to unseal and
// validate one raw chunk buffer.
type InboundRequest struct {
	Raw        []byte
	Capability crypto.Capability
	Direction  crypto.Direction
	Mode       SecurityMode
}

// DecodeChunk implements the front half of spec.md §4.2's inbound path:
// parse the transport+security+sequence headers, then verify/decrypt
// the body per mode. Sequence-number and request-id/assembly checks are
// the caller's responsibility (they need cross-chunk state this
// function does not have).
func DecodeChunk(req InboundRequest, cfg Config) (DecodedChunk, error) {
	if cfg.MaxReceiveChunkSize != 0 && uint32(len(req.Raw)) > cfg.MaxReceiveChunkSize {
		return DecodedChunk{}, ErrChunkTooLarge
	}
	r := wire.NewReader(req.Raw)
	header, err := r.ReadTransportHeader()
	if err != nil {
		return DecodedChunk{}, ErrDecoding
	}
	if cfg.MaxReceiveChunkSize != 0 && header.MessageSize > cfg.MaxReceiveChunkSize {
		return DecodedChunk{}, ErrChunkTooLarge
	}

	asymmetric := header.MessageType == wire.MessageTypeOpen
	var dc DecodedChunk
	dc.Header = header
	dc.Asymmetric = asymmetric

	if asymmetric {
		asymHdr, err := r.ReadAsymmetricSecurityHeader()
		if err != nil {
			return DecodedChunk{}, ErrDecoding
		}
		dc.AsymmetricHdr = asymHdr
	} else if header.MessageType == wire.MessageTypeMessage || header.MessageType == wire.MessageTypeClose {
		symHdr, err := r.ReadSymmetricSecurityHeader()
		if err != nil {
			return DecodedChunk{}, ErrDecoding
		}
		dc.TokenID = symHdr.TokenID
	}

	// Remaining bytes are the sealed (sequence-header + body) payload.
	remaining := req.Raw[len(req.Raw)-r.Len():]

	if header.IsFinal == wire.IsFinalAbort {
		// Abort chunks carry StatusCode + Reason in cleartext, never sealed.
		ar := wire.NewReader(remaining)
		seq, err := ar.ReadSequenceHeader()
		if err != nil {
			return DecodedChunk{}, ErrDecoding
		}
		dc.Sequence = seq
		dc.Body = remaining[len(remaining)-ar.Len():]
		return dc, nil
	}

	// The sender signs the chunk prefix with MessageSize still zero.
	prefix := append([]byte{}, req.Raw[:len(req.Raw)-r.Len()]...)
	prefix[4], prefix[5], prefix[6], prefix[7] = 0, 0, 0, 0
	opened, err := unseal(req, asymmetric, prefix, remaining)
	if err != nil {
		return DecodedChunk{}, ErrSecurityCheckFailed
	}
	or := wire.NewReader(opened)
	seq, err := or.ReadSequenceHeader()
	if err != nil {
		return DecodedChunk{}, ErrDecoding
	}
	dc.Sequence = seq
	dc.Body = opened[len(opened)-or.Len():]
	return dc, nil
}

func unseal(req InboundRequest, asymmetric bool, prefix, sealed []byte) ([]byte, error) {
	switch req.Mode {
	case ModeNone:
		return sealed, nil
	case ModeSign:
		sigSize := req.Capability.SignatureSize()
		if len(sealed) < sigSize {
			return nil, ErrSecurityCheckFailed
		}
		data := sealed[:len(sealed)-sigSize]
		sig := sealed[len(sealed)-sigSize:]
		if err := verify(req, asymmetric, append(prefix, data...), sig); err != nil {
			return nil, err
		}
		return data, nil
	case ModeSignAndEncrypt:
		sigSize := req.Capability.SignatureSize()
		if len(sealed) < sigSize {
			return nil, ErrSecurityCheckFailed
		}
		ciphertext := sealed[:len(sealed)-sigSize]
		sig := sealed[len(sealed)-sigSize:]
		if err := verify(req, asymmetric, append(prefix, ciphertext...), sig); err != nil {
			return nil, err
		}
		plaintext, err := decryptBytes(req, asymmetric, ciphertext)
		if err != nil {
			return nil, err
		}
		return unpad(plaintext), nil
	default:
		return sealed, nil
	}
}

func verify(req InboundRequest, asymmetric bool, data, sig []byte) error {
	if asymmetric {
		return req.Capability.AsymmetricVerify(data, sig)
	}
	return req.Capability.Verify(req.Direction, data, sig)
}

func decryptBytes(req InboundRequest, asymmetric bool, data []byte) ([]byte, error) {
	if asymmetric {
		return req.Capability.AsymmetricDecrypt(data)
	}
	return req.Capability.Decrypt(req.Direction, data)
}

func unpad(data []byte) []byte {
	if len(data) == 0 {
		return data
	}
	padLen := int(data[len(data)-1])
	if padLen >= len(data) {
		return data
	}
	return data[:len(data)-padLen-1]
}

// Append adds a non-final ('C') chunk's body to the assembly, per
// spec.md §4.2 step 5: mismatched request-id or overflow are fatal.
func (a *MessageAssembly) Append(requestID uint32, body []byte, cfg Config) error {
	if a.RequestID != requestID {
		return ErrRequestIDMismatch
	}
	a.Body = append(a.Body, body...)
	a.ChunkCount++
	if cfg.MaxChunksPerMessage != 0 && a.ChunkCount > cfg.MaxChunksPerMessage {
		return ErrMessageTooLargeInbound
	}
	if cfg.MaxReceiveMessageSize != 0 && uint32(len(a.Body)) > cfg.MaxReceiveMessageSize {
		return ErrMessageTooLargeInbound
	}
	return nil
}

// Finish appends the final ('F') chunk's body and returns the complete
// message, per spec.md §4.2 step 6.
func (a *MessageAssembly) Finish(requestID uint32, body []byte, cfg Config) ([]byte, error) {
	if err := a.Append(requestID, body, cfg); err != nil {
		return nil, err
	}
	return a.Body, nil
}

// NewAssembly opens a new assembly for the first 'C' chunk of a
// request, per spec.md §3.1's lifecycle rule.
func NewAssembly(requestID uint32) *MessageAssembly {
	return &MessageAssembly{RequestID: requestID}
}
