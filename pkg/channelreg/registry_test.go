package channelreg

import (
	"testing"

	"github.com/systerel/s2opc-go/pkg/chunk"
	"github.com/systerel/s2opc-go/pkg/crypto"
	"github.com/systerel/s2opc-go/pkg/securechannel"
)

func newChannel() *securechannel.SecureChannel {
	return securechannel.New(securechannel.Config{
		Role:       securechannel.RoleServer,
		PolicyURI:  crypto.PolicyURINone,
		Mode:       chunk.ModeNone,
		Capability: crypto.NewNoneCapability(),
	})
}

func TestAllocateIDReturnsDistinctIDsUntilFull(t *testing.T) {
	r := New(2)
	id1, err := r.AllocateID()
	if err != nil {
		t.Fatalf("AllocateID: %v", err)
	}
	if id1 != MinChannelID {
		t.Fatalf("got %d, want %d", id1, MinChannelID)
	}
	if err := r.Add(id1, newChannel()); err != nil {
		t.Fatalf("Add: %v", err)
	}

	id2, err := r.AllocateID()
	if err != nil {
		t.Fatalf("AllocateID: %v", err)
	}
	if id2 == id1 {
		t.Fatalf("expected a distinct id, got %d twice", id1)
	}
	if err := r.Add(id2, newChannel()); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if _, err := r.AllocateID(); err != ErrRegistryFull {
		t.Fatalf("expected ErrRegistryFull, got %v", err)
	}
}

func TestAddRejectsDuplicateAndZero(t *testing.T) {
	r := New(4)
	ch := newChannel()
	if err := r.Add(5, ch); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add(5, newChannel()); err != ErrDuplicateChannel {
		t.Fatalf("expected ErrDuplicateChannel, got %v", err)
	}
	if err := r.Add(0, ch); err != ErrInvalidChannelID {
		t.Fatalf("expected ErrInvalidChannelID, got %v", err)
	}
}

func TestFindAndRemove(t *testing.T) {
	r := New(4)
	ch := newChannel()
	if err := r.Add(9, ch); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got := r.Find(9); got != ch {
		t.Fatalf("Find returned %v, want %v", got, ch)
	}
	if got := r.Find(10); got != nil {
		t.Fatalf("Find(10) = %v, want nil (unknown channel-id, scenario S5)", got)
	}
	r.Remove(9)
	if got := r.Find(9); got != nil {
		t.Fatalf("Find after Remove = %v, want nil", got)
	}
	// Removing an absent id is a silent no-op.
	r.Remove(9)
}

func TestCountAndIsFull(t *testing.T) {
	r := New(1)
	if r.IsFull() {
		t.Fatalf("empty registry reported full")
	}
	if err := r.Add(1, newChannel()); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !r.IsFull() {
		t.Fatalf("registry at capacity not reported full")
	}
	if r.Count() != 1 {
		t.Fatalf("Count = %d, want 1", r.Count())
	}
}
