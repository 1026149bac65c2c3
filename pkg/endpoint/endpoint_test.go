package endpoint

import (
	"bytes"
	"testing"
	"time"

	"github.com/systerel/s2opc-go/pkg/chunk"
	"github.com/systerel/s2opc-go/pkg/crypto"
	"github.com/systerel/s2opc-go/pkg/dispatcher"
	"github.com/systerel/s2opc-go/pkg/securechannel"
	"github.com/systerel/s2opc-go/pkg/services"
	"github.com/systerel/s2opc-go/pkg/transport"
)

// TestEndpointRoundTripOverTCP exercises the full stack — endpoint,
// dispatcher, securechannel, transport — over a real loopback TCP
// connection: scenario S1's plain handshake plus one request/response.
func TestEndpointRoundTripOverTCP(t *testing.T) {
	received := make(chan securechannel.Delivery, 1)
	ep := New(Config{
		ChannelTemplate: securechannel.Config{
			PolicyURI:  crypto.PolicyURINone,
			Mode:       chunk.ModeNone,
			Capability: crypto.NewNoneCapability(),
		},
		ServerCert:     []byte("server-cert"),
		NewServerNonce: func() []byte { return []byte("server-nonce") },
		OnMessage: func(channelID uint32, d securechannel.Delivery) {
			received <- d
			reply := append([]byte("echo:"), d.Body...)
			if _, err := ep.Send(channelID, reply, 0, 0); err != nil {
				t.Errorf("endpoint Send: %v", err)
			}
		},
	})
	addr, err := ep.Open("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ep.Close()

	clientReceived := make(chan securechannel.Delivery, 1)
	cli := dispatcher.NewClient(dispatcher.ClientConfig{
		ChannelTemplate: securechannel.Config{
			PolicyURI:  crypto.PolicyURINone,
			Mode:       chunk.ModeNone,
			Capability: crypto.NewNoneCapability(),
		},
		ClientCert:  []byte("client-cert"),
		ClientNonce: func() []byte { return []byte("client-nonce") },
		OnMessage: func(_ uint32, d securechannel.Delivery) {
			clientReceived <- d
		},
	})
	clientSocket, err := transport.NewTCPSocket(transport.TCPSocketConfig{Handler: cli.HandleTransportEvent})
	if err != nil {
		t.Fatalf("NewTCPSocket: %v", err)
	}
	defer clientSocket.Shutdown()
	cli.SetSocket(clientSocket)

	if err := cli.Dial(addr, 2*time.Second); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if cli.Channel().State() != securechannel.StateConnected {
		t.Fatalf("client state = %s, want Connected", cli.Channel().State())
	}

	if _, err := cli.Send([]byte("hello"), 1, 0); err != nil {
		t.Fatalf("client Send: %v", err)
	}

	select {
	case d := <-received:
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

// TestEndpointGetEndpoints exercises spec.md's scenario S1 narrative
// directly: a GetEndpointsRequest for "opc.tcp://host:4841/ep" carried
// as a MSG body, answered with a GetEndpointsResponse delivered back as
// a single final chunk.
func TestEndpointGetEndpoints(t *testing.T) {
	const endpointURL = "opc.tcp://host:4841/ep"
	svc := services.Server{Endpoints: []services.EndpointDescription{
		{EndpointURL: endpointURL, SecurityPolicyURI: "http://opcfoundation.org/UA/SecurityPolicy#None", SecurityMode: 1},
	}}

	ep := New(Config{
		ChannelTemplate: securechannel.Config{
			PolicyURI:  crypto.PolicyURINone,
			Mode:       chunk.ModeNone,
			Capability: crypto.NewNoneCapability(),
		},
		ServerCert:     []byte("server-cert"),
		NewServerNonce: func() []byte { return []byte("server-nonce") },
		OnMessage: func(channelID uint32, d securechannel.Delivery) {
			respBody, err := svc.Handle(d.Body)
			if err != nil {
				t.Errorf("services.Server.Handle: %v", err)
				return
			}
			if _, err := ep.Send(channelID, respBody, 0, 0); err != nil {
				t.Errorf("endpoint Send: %v", err)
			}
		},
	})
	addr, err := ep.Open("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ep.Close()

	clientReceived := make(chan securechannel.Delivery, 1)
	cli := dispatcher.NewClient(dispatcher.ClientConfig{
		ChannelTemplate: securechannel.Config{
			PolicyURI:  crypto.PolicyURINone,
			Mode:       chunk.ModeNone,
			Capability: crypto.NewNoneCapability(),
		},
		ClientCert:  []byte("client-cert"),
		ClientNonce: func() []byte { return []byte("client-nonce") },
		OnMessage: func(_ uint32, d securechannel.Delivery) {
			clientReceived <- d
		},
	})
	clientSocket, err := transport.NewTCPSocket(transport.TCPSocketConfig{Handler: cli.HandleTransportEvent})
	if err != nil {
		t.Fatalf("NewTCPSocket: %v", err)
	}
	defer clientSocket.Shutdown()
	cli.SetSocket(clientSocket)

	if err := cli.Dial(addr, 2*time.Second); err != nil {
		t.Fatalf("Dial: %v", err)
	}

	reqBody := services.GetEndpointsRequest{EndpointURL: endpointURL}.Encode()
	if _, err := cli.Send(reqBody, 1, 0); err != nil {
		t.Fatalf("client Send: %v", err)
	}

	select {
	case d := <-clientReceived:
		resp, err := services.DecodeGetEndpointsResponse(d.Body)
		if err != nil {
			t.Fatalf("DecodeGetEndpointsResponse: %v", err)
		}
		if len(resp.Endpoints) != 1 || resp.Endpoints[0].EndpointURL != endpointURL {
			t.Fatalf("GetEndpointsResponse = %+v, want one endpoint at %q", resp.Endpoints, endpointURL)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client never received the GetEndpointsResponse")
	}
}
