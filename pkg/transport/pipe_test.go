package transport

import (
	"bytes"
	"testing"
	"time"
)

func TestPipeSocketRoundTrip(t *testing.T) {
	serverEvents := &eventRecorder{}
	clientEvents := &eventRecorder{}
	serverDone := make(chan struct{}, 1)

	server, client := NewPipeSocketPair(
		func(e Event) {
			serverEvents.record(e)
			if e.Kind == EventBytes {
				serverDone <- struct{}{}
			}
		},
		func(e Event) { clientEvents.record(e) },
		0,
	)
	defer server.Close(1)
	defer client.Close(1)

	h, err := client.Open("pipe")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	chunk := buildTestChunk([]byte("abcdef"))
	if err := client.Write(h, chunk); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case <-serverDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server to receive bytes")
	}

	snap := serverEvents.snapshot()
	if snap[0].Kind != EventConnected {
		t.Fatalf("server's first event = %v, want EventConnected", snap[0])
	}
	found := false
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
}

func TestPipeSocketDisconnectPropagates(t *testing.T) {
	serverEvents := &eventRecorder{}
	disconnected := make(chan struct{}, 1)

	server, client := NewPipeSocketPair(
		func(e Event) {
			serverEvents.record(e)
			if e.Kind == EventDisconnected {
				disconnected <- struct{}{}
			}
		},
		func(Event) {},
		0,
	)
	defer server.Close(1)

	if _, err := client.Open("pipe"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := client.Close(1); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server's EventDisconnected")
	}
}

func TestPipeSocketDoubleOpenFails(t *testing.T) {
	_, client := NewPipeSocketPair(func(Event) {}, func(Event) {}, 0)
	if _, err := client.Open("pipe"); err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if _, err := client.Open("pipe"); err != ErrAlreadyConnected {
		t.Fatalf("second Open = %v, want ErrAlreadyConnected", err)
	}
	client.Close(1)
}
