package chunk

import (
	"github.com/systerel/s2opc-go/pkg/crypto"
	"github.com/systerel/s2opc-go/pkg/wire"
)

// OutboundRequest carries everything needed to split and seal one
// complete message into wire-ready chunks.
type OutboundRequest struct {
	MessageType     wire.MessageType
	ChannelID       uint32
	RequestID       uint32
	Body            []byte
	Mode            SecurityMode
	Capability      crypto.Capability
	Direction       crypto.Direction
	Asymmetric      bool
	AsymmetricHeader wire.AsymmetricSecurityHeader
	TokenID         uint32
	// NextSequenceNumber is invoked once per emitted chunk, in order.
	NextSequenceNumber func() uint32
}

// SendFailure is returned by EncodeOutbound when the message cannot be
// sent at all: it has already produced the wire bytes for a single
// abort chunk (Chunks) plus the upward-facing failure to report.
type SendFailure struct {
	Chunks [][]byte
	Err    error
}

func (f *SendFailure) Error() string { return f.Err.Error() }

// EncodeOutbound implements spec.md §4.2's outbound path: compute
// per-chunk capacity from the security mode's overhead, split the body
// into capacity-sized chunks (C...F), or emit a single abort chunk when
// the whole message exceeds maxSendMessageSize.
func EncodeOutbound(req OutboundRequest, cfg Config) ([][]byte, error) {
	overhead := securityOverhead(req.Mode, req.Capability)
	headerSize := wire.TransportHeaderSize + securityHeaderSize(req.Asymmetric, req.AsymmetricHeader) + 8 // sequence header

	if cfg.MaxSendMessageSize != 0 && uint32(len(req.Body)) > cfg.MaxSendMessageSize {
		abort, err := encodeAbortChunk(req, statusBadRequestTooLarge)
		if err != nil {
			return nil, err
		}
		return nil, &SendFailure{Chunks: [][]byte{abort}, Err: ErrMessageTooLargeOutbound}
	}

	capacity := int(cfg.SendBufferSize) - headerSize - overhead
	if capacity <= 0 {
		abort, err := encodeAbortChunk(req, statusBadRequestTooLarge)
		if err != nil {
			return nil, err
		}
		return nil, &SendFailure{Chunks: [][]byte{abort}, Err: ErrMessageTooLargeOutbound}
	}

	var chunks [][]byte
	offset := 0
	for {
		end := offset + capacity
		final := wire.IsFinalIntermediate
		if end >= len(req.Body) {
			end = len(req.Body)
			final = wire.IsFinalFinal
		}
		piece := req.Body[offset:end]
		chunkBytes, err := encodeChunk(req, piece, final)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunkBytes)
		offset = end
		if final == wire.IsFinalFinal {
			break
		}
	}
	if len(chunks) == 0 {
		// zero-length body still produces one final chunk.
		chunkBytes, err := encodeChunk(req, nil, wire.IsFinalFinal)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunkBytes)
	}
	return chunks, nil
}

// statusBadRequestTooLarge is the 32-bit value written into the abort
// chunk's body; it must match statuscode.BadRequestTooLarge but chunk
// intentionally doesn't import statuscode's full registry here since
// it already constructs CodedErrors with it — kept as a literal so the
// wire body always carries the OPC UA numeric value even if someone
// changes the registry string table.
const statusBadRequestTooLarge = uint32(0x80B80000)

func encodeAbortChunk(req OutboundRequest, status uint32) ([]byte, error) {
	w := wire.NewWriter()
	w.WriteTransportHeader(wire.TransportHeader{MessageType: req.MessageType, IsFinal: wire.IsFinalAbort})
	writeSecurityHeader(w, req)
	seq := req.NextSequenceNumber()
	w.WriteSequenceHeader(wire.SequenceHeader{SequenceNumber: seq, RequestID: req.RequestID})
	w.WriteUInt32(status)
	w.WriteString("")
	return finalize(w)
}

func encodeChunk(req OutboundRequest, body []byte, final wire.IsFinal) ([]byte, error) {
	w := wire.NewWriter()
	w.WriteTransportHeader(wire.TransportHeader{MessageType: req.MessageType, IsFinal: final})
	writeSecurityHeader(w, req)
	seq := req.NextSequenceNumber()
	seqHeader := wire.NewWriter()
	seqHeader.WriteSequenceHeader(wire.SequenceHeader{SequenceNumber: seq, RequestID: req.RequestID})

	plaintext := append(append([]byte{}, seqHeader.Bytes()...), body...)
	sealed, err := seal(req, w.Bytes(), plaintext)
	if err != nil {
		return nil, err
	}
	w.WriteRaw(sealed)
	return finalize(w)
}

func writeSecurityHeader(w *wire.Writer, req OutboundRequest) {
	if req.Asymmetric {
		w.WriteAsymmetricSecurityHeader(req.AsymmetricHeader)
	} else {
		w.WriteSymmetricSecurityHeader(wire.SymmetricSecurityHeader{TokenID: req.TokenID})
	}
}

func securityHeaderSize(asymmetric bool, h wire.AsymmetricSecurityHeader) int {
	if !asymmetric {
		return 4 // TokenId
	}
	return 4 + len(h.SecurityPolicyURI) + 4 + len(h.SenderCertificate) + 4 + len(h.ReceiverCertificateThumbprint)
}

func securityOverhead(mode SecurityMode, cap crypto.Capability) int {
	switch mode {
	case ModeNone:
		return 0
	case ModeSign:
		if cap == nil {
			return 0
		}
		return cap.SignatureSize()
	case ModeSignAndEncrypt:
		if cap == nil {
			return 0
		}
		return cap.SignatureSize() + cap.BlockSize()
	default:
		return 0
	}
}

// seal applies sign/encrypt to plaintext (sequence header + body),
// returning the bytes to append after the security/sequence headers
// already written to prefix. For ModeNone, plaintext is returned as-is.
func seal(req OutboundRequest, prefix, plaintext []byte) ([]byte, error) {
	switch req.Mode {
	case ModeNone:
		return plaintext, nil
	case ModeSign:
		signed, err := signSuffix(req, prefix, plaintext)
		if err != nil {
			return nil, err
		}
		return signed, nil
	case ModeSignAndEncrypt:
		padded := padToBlock(plaintext, blockSizeOf(req))
		ciphertext, err := encryptBytes(req, padded)
		if err != nil {
			return nil, err
		}
		return signSuffix(req, prefix, ciphertext)
	default:
		return plaintext, nil
	}
}

func blockSizeOf(req OutboundRequest) int {
	if req.Capability == nil {
		return 1
	}
	return req.Capability.BlockSize()
}

func padToBlock(data []byte, blockSize int) []byte {
	if blockSize <= 1 {
		return data
	}
	padLen := blockSize - (len(data)+1)%blockSize
	if padLen == blockSize {
		padLen = 0
	}
	out := make([]byte, len(data)+padLen+1)
	copy(out, data)
	for i := len(data); i < len(out)-1; i++ {
		out[i] = byte(padLen)
	}
	out[len(out)-1] = byte(padLen)
	return out
}

func encryptBytes(req OutboundRequest, data []byte) ([]byte, error) {
	if req.Asymmetric {
		return req.Capability.AsymmetricEncrypt(data)
	}
	return req.Capability.Encrypt(req.Direction, data)
}

func signSuffix(req OutboundRequest, prefix, data []byte) ([]byte, error) {
	if req.Capability == nil {
		return data, nil
	}
	toSign := append(append([]byte{}, prefix...), data...)
	var sig []byte
	var err error
	if req.Asymmetric {
		sig, err = req.Capability.AsymmetricSign(toSign)
	} else {
		sig, err = req.Capability.Sign(req.Direction, toSign)
	}
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, data...), sig...), nil
}

// finalize patches the MessageSize field (bytes 4:8 of the transport
// header, already written with a zero placeholder) with the chunk's
// true total length.
func finalize(w *wire.Writer) ([]byte, error) {
	buf := w.Bytes()
	total := uint32(len(buf))
	buf[4] = byte(total)
	buf[5] = byte(total >> 8)
	buf[6] = byte(total >> 16)
	buf[7] = byte(total >> 24)
	return buf, nil
}
