package chunk

import (
	"bytes"
	"testing"

	"github.com/systerel/s2opc-go/pkg/crypto"
	"github.com/systerel/s2opc-go/pkg/wire"
)

func seqCounter(start uint32) func() uint32 {
	n := start
	return func() uint32 {
		v := n
		n++
		return v
	}
}

func TestEncodeDecodeRoundTripModeNone(t *testing.T) {
	body := bytes.Repeat([]byte("abcdefab"), 4) // 32 bytes, matches scenario S2 shape
	cfg := Config{SendBufferSize: 65535, ReceiveBufferSize: 65535, MaxChunksPerMessage: 12}.WithDefaults()

	req := OutboundRequest{
		MessageType:        wire.MessageTypeMessage,
		ChannelID:           0xa2daa731,
		RequestID:           2,
		Body:                body,
		Mode:                ModeNone,
		Capability:          crypto.NewNoneCapability(),
		TokenID:             0x3fc1046a,
		NextSequenceNumber:  seqCounter(2),
	}

	chunks, err := EncodeOutbound(req, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk for a small body, got %d", len(chunks))
	}

	dc, err := DecodeChunk(InboundRequest{Raw: chunks[0], Capability: crypto.NewNoneCapability(), Mode: ModeNone}, cfg)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if !bytes.Equal(dc.Body, body) {
		t.Fatalf("got %q, want %q", dc.Body, body)
	}
	if dc.Sequence.RequestID != 2 {
		t.Fatalf("got request id %d, want 2", dc.Sequence.RequestID)
	}
}

func TestEncodeOutboundSplitsAcrossMultipleChunks(t *testing.T) {
	body := bytes.Repeat([]byte{0xAB}, 1000)
	cfg := Config{SendBufferSize: 300, ReceiveBufferSize: 300, MaxChunksPerMessage: 12}.WithDefaults()

	req := OutboundRequest{
		MessageType:        wire.MessageTypeMessage,
		RequestID:           5,
		Body:                body,
		Mode:                ModeNone,
		Capability:          crypto.NewNoneCapability(),
		NextSequenceNumber:  seqCounter(1),
	}

	chunks, err := EncodeOutbound(req, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	assembly := NewAssembly(5)
	var final []byte
	for i, c := range chunks {
		dc, err := DecodeChunk(InboundRequest{Raw: c, Capability: crypto.NewNoneCapability(), Mode: ModeNone}, cfg)
		if err != nil {
			t.Fatalf("decode chunk %d: %v", i, err)
		}
		if dc.Header.IsFinal == wire.IsFinalFinal {
			final, err = assembly.Finish(dc.Sequence.RequestID, dc.Body, cfg)
			if err != nil {
				t.Fatalf("finish: %v", err)
			}
		} else {
			if err := assembly.Append(dc.Sequence.RequestID, dc.Body, cfg); err != nil {
				t.Fatalf("append: %v", err)
			}
		}
	}
	if !bytes.Equal(final, body) {
		t.Fatalf("reassembled body mismatch: got %d bytes, want %d", len(final), len(body))
	}
}

func TestEncodeOutboundAbortsOversizeMessage(t *testing.T) {
	cfg := Config{SendBufferSize: 65535, MaxSendMessageSize: 100, MaxChunksPerMessage: 12}.WithDefaults()
	req := OutboundRequest{
		MessageType:        wire.MessageTypeMessage,
		RequestID:           9,
		Body:                bytes.Repeat([]byte{1}, 200),
		Mode:                ModeNone,
		Capability:          crypto.NewNoneCapability(),
		NextSequenceNumber:  seqCounter(1),
	}
	_, err := EncodeOutbound(req, cfg)
	sf, ok := err.(*SendFailure)
	if !ok {
		t.Fatalf("expected *SendFailure, got %T (%v)", err, err)
	}
	if len(sf.Chunks) != 1 {
		t.Fatalf("expected exactly one abort chunk, got %d", len(sf.Chunks))
	}
	r := wire.NewReader(sf.Chunks[0])
	hdr, err := r.ReadTransportHeader()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hdr.IsFinal != wire.IsFinalAbort {
		t.Fatalf("expected abort chunk, got IsFinal=%c", hdr.IsFinal)
	}
}

func TestAssemblyRejectsRequestIDMismatch(t *testing.T) {
	a := NewAssembly(1)
	cfg := Config{MaxChunksPerMessage: 12}
	if err := a.Append(2, []byte("x"), cfg); err != ErrRequestIDMismatch {
		t.Fatalf("expected ErrRequestIDMismatch, got %v", err)
	}
}
