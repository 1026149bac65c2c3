package transport

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/systerel/s2opc-go/pkg/wire"
)

// eventRecorder collects events from a Handler invoked concurrently by
// the socket's internal goroutines.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func buildTestChunk(body []byte) []byte {
	w := wire.NewWriter()
	w.WriteTransportHeader(wire.TransportHeader{
		MessageType: wire.MessageTypeHello,
		IsFinal:     wire.IsFinalFinal,
		MessageSize: uint32(wire.TransportHeaderSize + len(body)),
	})
	return append(w.Bytes(), body...)
}

func TestTCPSocketRoundTrip(t *testing.T) {
	serverEvents := &eventRecorder{}
	serverDone := make(chan struct{}, 1)
	server, err := NewTCPSocket(TCPSocketConfig{
		Handler: func(e Event) {
			serverEvents.record(e)
			if e.Kind == EventBytes {
				serverDone <- struct{}{}
			}
		},
	})
	if err != nil {
		t.Fatalf("NewTCPSocket: %v", err)
	}
	defer server.Shutdown()

	addr, err := server.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	clientEvents := &eventRecorder{}
	client, err := NewTCPSocket(TCPSocketConfig{
		Handler: func(e Event) { clientEvents.record(e) },
	})
	if err != nil {
		t.Fatalf("NewTCPSocket: %v", err)
	}
	defer client.Shutdown()

	h, err := client.Open(addr.String())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	chunk := buildTestChunk([]byte("hello"))
	if err := client.Write(h, chunk); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case <-serverDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server to receive bytes")
	}

	found := false
	snap := serverEvents.snapshot()
	for _, e := range snap {
		if e.Kind == EventBytes {
			if !bytes.Equal(e.Bytes, chunk) {
				t.Fatalf("received chunk = %x, want %x", e.Bytes, chunk)
			}
			found = true
		}
	}
	if !found {
		t.Fatalf("server never delivered EventBytes, got %v", snap)
	}

	clientSnap := clientEvents.snapshot()
	if len(clientSnap) == 0 || clientSnap[0].Kind != EventConnected {
		t.Fatalf("client's first event = %v, want EventConnected", clientSnap)
	}
}

func TestTCPSocketWriteUnknownHandleFails(t *testing.T) {
	s, err := NewTCPSocket(TCPSocketConfig{Handler: func(Event) {}})
	if err != nil {
		t.Fatalf("NewTCPSocket: %v", err)
	}
	defer s.Shutdown()

	if err := s.Write(Handle(999), []byte("x")); err != ErrNotConnected {
		t.Fatalf("Write on unknown handle = %v, want ErrNotConnected", err)
	}
}

func TestTCPSocketCloseIsIdempotent(t *testing.T) {
	s, err := NewTCPSocket(TCPSocketConfig{Handler: func(Event) {}})
	if err != nil {
		t.Fatalf("NewTCPSocket: %v", err)
	}
	defer s.Shutdown()

	if err := s.Close(Handle(1)); err != nil {
		t.Fatalf("Close on unknown handle: %v", err)
	}
	if err := s.Close(Handle(1)); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
