package dispatcher

import (
	"bytes"
	"testing"
	"time"

	"github.com/systerel/s2opc-go/pkg/channelreg"
	"github.com/systerel/s2opc-go/pkg/chunk"
	"github.com/systerel/s2opc-go/pkg/crypto"
	"github.com/systerel/s2opc-go/pkg/securechannel"
	"github.com/systerel/s2opc-go/pkg/session"
	"github.com/systerel/s2opc-go/pkg/transport"
)

func noneTemplate() securechannel.Config {
	return securechannel.Config{
		PolicyURI:  crypto.PolicyURINone,
		Mode:       chunk.ModeNone,
		Capability: crypto.NewNoneCapability(),
	}
}

func newTestServer(t *testing.T) (*Server, *channelreg.Registry, chan struct {
	channelID uint32
	reason    error
}) {
	t.Helper()
	closed := make(chan struct {
		channelID uint32
		reason    error
	}, 4)
	reg := channelreg.New(4)
	srv := NewServer(ServerConfig{
		ChannelTemplate: noneTemplate(),
		Registry:        reg,
		Sessions:        session.NewManager(session.ManagerConfig{}),
		ServerCert:      []byte("server-cert"),
		NewServerNonce:  func() []byte { return []byte("server-nonce") },
		OnChannelClosed: func(id uint32, reason error) {
			closed <- struct {
				channelID uint32
				reason    error
			}{id, reason}
		},
	})
	return srv, reg, closed
}

// TestS1HandshakeAndRoundTrip drives a full client/server handshake over
// an in-memory PipeSocket pair, then exchanges one application message
// in each direction.
func TestS1HandshakeAndRoundTrip(t *testing.T) {
	srv, _, _ := newTestServer(t)

	serverReceived := make(chan securechannel.Delivery, 1)
	srv.cfg.OnMessage = func(channelID uint32, d securechannel.Delivery) {
		serverReceived <- d
		reply := append([]byte("echo:"), d.Body...)
		if _, err := srv.Send(channelID, reply, 0, 0); err != nil {
			t.Errorf("server Send: %v", err)
		}
	}

	clientReceived := make(chan securechannel.Delivery, 1)
	cli := NewClient(ClientConfig{
		ChannelTemplate: noneTemplate(),
		ClientCert:      []byte("client-cert"),
		ClientNonce:     func() []byte { return []byte("client-nonce") },
		OnMessage: func(_ uint32, d securechannel.Delivery) {
			clientReceived <- d
		},
	})

	server, client := transport.NewPipeSocketPair(srv.HandleTransportEvent, cli.HandleTransportEvent, 0)
	srv.SetSocket(server)
	cli.SetSocket(client)

	if err := cli.Dial("pipe", 2*time.Second); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if cli.Channel().State() != securechannel.StateConnected {
		t.Fatalf("client state = %s, want Connected", cli.Channel().State())
	}

	if _, err := cli.Send([]byte("hello"), 1, 0); err != nil {
		t.Fatalf("client Send: %v", err)
	}

	select {
	case d := <-serverReceived:
		if !bytes.Equal(d.Body, []byte("hello")) {
			t.Fatalf("server received %q, want %q", d.Body, "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the request")
	}

	select {
	case d := <-clientReceived:
		if !bytes.Equal(d.Body, []byte("echo:hello")) {
			t.Fatalf("client received %q, want %q", d.Body, "echo:hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client never received the reply")
	}
}

// TestS5UnknownChannelIDTearsDownConnection covers spec.md scenario S5:
// a connection whose channel-id the registry no longer recognizes (here
// simulated by dropping the registration out from under an otherwise
// healthy connection, since this wire format carries no on-wire
// channel-id to forge directly) must be torn down with
// BadTcpSecureChannelUnknown and reported upward.
func TestS5UnknownChannelIDTearsDownConnection(t *testing.T) {
	srv, reg, closed := newTestServer(t)

	cli := NewClient(ClientConfig{
		ChannelTemplate: noneTemplate(),
		ClientCert:      []byte("client-cert"),
		ClientNonce:     func() []byte { return []byte("client-nonce") },
	})

	server, client := transport.NewPipeSocketPair(srv.HandleTransportEvent, cli.HandleTransportEvent, 0)
	srv.SetSocket(server)
	cli.SetSocket(client)

	if err := cli.Dial("pipe", 2*time.Second); err != nil {
		t.Fatalf("Dial: %v", err)
	}

	var boundID uint32
	reg.ForEach(func(id uint32, ch *securechannel.SecureChannel) bool {
		boundID = id
		return false
	})
	if boundID == 0 {
		t.Fatal("no channel registered after handshake")
	}

	reg.Remove(boundID)

	if _, err := cli.Send([]byte("orphaned"), 1, 0); err != nil {
		t.Fatalf("client Send: %v", err)
	}

	select {
	case ev := <-closed:
		if ev.channelID != boundID {
			t.Fatalf("closed channel-id = %d, want %d", ev.channelID, boundID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never reported the channel as closed")
	}
}
