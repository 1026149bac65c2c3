package securechannel

import (
	"bytes"
	"testing"
	"time"

	"github.com/systerel/s2opc-go/pkg/chunk"
	"github.com/systerel/s2opc-go/pkg/crypto"
)

func newTestPairWithBuffers(t *testing.T, bufCfg chunk.Config) (*SecureChannel, *SecureChannel) {
	t.Helper()
	client := New(Config{
		Role:              RoleClient,
		PolicyURI:         crypto.PolicyURINone,
		Mode:              chunk.ModeNone,
		Capability:        crypto.NewNoneCapability(),
		EndpointURL:       "opc.tcp://host:4841/ep",
		LocalBufferConfig: bufCfg,
		RequestedLifetime: time.Hour,
	})
	server := New(Config{
		Role:              RoleServer,
		PolicyURI:         crypto.PolicyURINone,
		Mode:              chunk.ModeNone,
		Capability:        crypto.NewNoneCapability(),
		LocalBufferConfig: bufCfg,
		RequestedLifetime: time.Hour,
	})
	return client, server
}

func newTestPair(t *testing.T) (*SecureChannel, *SecureChannel) {
	t.Helper()
	return newTestPairWithBuffers(t, chunk.Config{ReceiveBufferSize: 65535, SendBufferSize: 65535, MaxReceiveMessageSize: 4096, MaxSendMessageSize: 4096, MaxChunksPerMessage: 5})
}

func handshake(t *testing.T, client, server *SecureChannel) {
	t.Helper()
	hello, err := client.BuildHello()
	if err != nil {
		t.Fatalf("BuildHello: %v", err)
	}
	ack, err := server.HandleHello(hello)
	if err != nil {
		t.Fatalf("HandleHello: %v", err)
	}
	if err := client.HandleAck(ack); err != nil {
		t.Fatalf("HandleAck: %v", err)
	}

	opn, err := client.IssueOpenRequest([]byte("client-nonce"), []byte("client-cert"), nil)
	if err != nil {
		t.Fatalf("IssueOpenRequest: %v", err)
	}

	var nextChannelID uint32 = 0xa2daa731
	var nextTokenID uint32 = 0x3fc1046a
	resp, err := server.HandleOpenRequest(opn, func() uint32 { return nextChannelID }, func() uint32 { return nextTokenID }, []byte("server-nonce"), []byte("server-cert"))
	if err != nil {
		t.Fatalf("HandleOpenRequest: %v", err)
	}

	if err := client.HandleOpenResponse(resp, []byte("client-nonce")); err != nil {
		t.Fatalf("HandleOpenResponse: %v", err)
	}

	if client.State() != StateConnected {
		t.Fatalf("client state = %s, want Connected", client.State())
	}
	if server.State() != StateConnected {
		t.Fatalf("server state = %s, want Connected", server.State())
	}
	if server.LocalChannelID() != nextChannelID {
		t.Fatalf("server channel id = %#x, want %#x", server.LocalChannelID(), nextChannelID)
	}
}

// TestS1PlainHandshakeAndSingleRequest mirrors scenario S1: a plain
// handshake (policy None, mode None) followed by one request/response.
func TestS1PlainHandshakeAndSingleRequest(t *testing.T) {
	client, server := newTestPair(t)
	handshake(t, client, server)

	requestBody := []byte("GetEndpointsRequest:opc.tcp://host:4841/ep")
	chunks, reqID, err := client.Send(requestBody, 42, time.Second)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected a single chunk, got %d", len(chunks))
	}

	delivery, err := server.Receive(chunks[0])
	if err != nil {
		t.Fatalf("server Receive: %v", err)
	}
	if delivery == nil || !delivery.IsFinal {
		t.Fatalf("expected a final delivery, got %+v", delivery)
	}
	if !bytes.Equal(delivery.Body, requestBody) {
		t.Fatalf("got body %q, want %q", delivery.Body, requestBody)
	}
	if delivery.RequestID != reqID {
		t.Fatalf("got request id %d, want %d", delivery.RequestID, reqID)
	}
}

// TestS2MultiChunkReassembly mirrors scenario S2.
func TestS2MultiChunkReassembly(t *testing.T) {
	client, server := newTestPairWithBuffers(t, chunk.Config{ReceiveBufferSize: 120, SendBufferSize: 120, MaxSendMessageSize: 4096, MaxChunksPerMessage: 5})
	handshake(t, client, server)

	body := bytes.Repeat([]byte("abcdefab"), 32) // 256 bytes, forces a multi-chunk split at a 120-byte buffer

	chunks, reqID, err := client.Send(body, 1, time.Second)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected a multi-chunk split, got %d chunk(s)", len(chunks))
	}

	var final *Delivery
	for i, c := range chunks {
		d, err := server.Receive(c)
		if err != nil {
			t.Fatalf("server Receive chunk %d: %v", i, err)
		}
		if d != nil {
			final = d
		}
	}
	if final == nil || !final.IsFinal {
		t.Fatalf("expected a final delivery after reassembly, got %+v", final)
	}
	if !bytes.Equal(final.Body, body) {
		t.Fatalf("reassembled body mismatch: got %d bytes, want %d", len(final.Body), len(body))
	}
	if final.RequestID != reqID {
		t.Fatalf("got request id %d, want %d", final.RequestID, reqID)
	}
}

// TestS3AbortChunk mirrors scenario S3: an abort chunk fails only the
// enclosing request, leaving the channel Connected.
func TestS3AbortChunk(t *testing.T) {
	client, server := newTestPair(t)
	handshake(t, client, server)

	oversizedBody := bytes.Repeat([]byte{1}, int(client.negotiatedOrLocal().MaxSendMessageSize)+1)
	_, _, err := client.Send(oversizedBody, 7, time.Second)
	sf, ok := err.(*chunk.SendFailure)
	if !ok {
		t.Fatalf("expected *chunk.SendFailure, got %T (%v)", err, err)
	}

	delivery, err := server.Receive(sf.Chunks[0])
	if err != nil {
		t.Fatalf("server Receive: %v", err)
	}
	if delivery == nil || !delivery.SendFailure {
		t.Fatalf("expected a send-failure delivery, got %+v", delivery)
	}
	if server.State() != StateConnected {
		t.Fatalf("server state = %s, want Connected after abort", server.State())
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	client, server := newTestPair(t)
	handshake(t, client, server)

	if _, err := client.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if client.State() != StateClosed {
		t.Fatalf("state after close = %s, want Closed", client.State())
	}
	out, err := client.Close()
	if err != nil || out != nil {
		t.Fatalf("second Close should be a no-op, got (%v, %v)", out, err)
	}
}
