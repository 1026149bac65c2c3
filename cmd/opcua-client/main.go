// Command opcua-client dials a listening endpoint, completes the
// handshake, sends one GetEndpointsRequest, prints the response, and
// exits — a minimal smoke-test client for opcua-server.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/systerel/s2opc-go/pkg/chunk"
	"github.com/systerel/s2opc-go/pkg/crypto"
	"github.com/systerel/s2opc-go/pkg/dispatcher"
	"github.com/systerel/s2opc-go/pkg/securechannel"
	"github.com/systerel/s2opc-go/pkg/services"
	"github.com/systerel/s2opc-go/pkg/transport"
)

type options struct {
	dialAddr        string
	requestEndpoint string
	timeout         time.Duration
}

func defaultOptions() options {
	return options{
		dialAddr:        "127.0.0.1:4841",
		requestEndpoint: "opc.tcp://localhost:4841/ep",
		timeout:         5 * time.Second,
	}
}

func parseFlags() options {
	d := defaultOptions()
	o := options{}
	flag.StringVar(&o.dialAddr, "dial", d.dialAddr, "address to dial (host:port)")
	flag.StringVar(&o.requestEndpoint, "endpoint-url", d.requestEndpoint, "endpoint URL to request in GetEndpoints")
	flag.DurationVar(&o.timeout, "timeout", d.timeout, "handshake and request timeout")
	flag.Parse()
	return o
}

func main() {
	opts := parseFlags()

	responses := make(chan []byte, 1)
	cli := dispatcher.NewClient(dispatcher.ClientConfig{
		ChannelTemplate: securechannel.Config{
			PolicyURI:  crypto.PolicyURINone,
			Mode:       chunk.ModeNone,
			Capability: crypto.NewNoneCapability(),
		},
		ClientCert:  []byte("opcua-client-demo-cert"),
		ClientNonce: func() []byte { return []byte("opcua-client-demo-nonce") },
		OnMessage: func(_ uint32, d securechannel.Delivery) {
			responses <- d.Body
		},
		OnChannelClosed: func(_ uint32, reason error) {
			log.Printf("channel closed: %v", reason)
		},
	})

	socket, err := transport.NewTCPSocket(transport.TCPSocketConfig{Handler: cli.HandleTransportEvent})
	if err != nil {
		fmt.Fprintf(os.Stderr, "opcua-client: new socket: %v\n", err)
		os.Exit(1)
	}
	defer socket.Shutdown()
	cli.SetSocket(socket)

	if err := cli.Dial(opts.dialAddr, opts.timeout); err != nil {
		fmt.Fprintf(os.Stderr, "opcua-client: dial: %v\n", err)
		os.Exit(1)
	}
	defer cli.Close()

	reqBody := services.GetEndpointsRequest{EndpointURL: opts.requestEndpoint}.Encode()
	if _, err := cli.Send(reqBody, 1, 0); err != nil {
		fmt.Fprintf(os.Stderr, "opcua-client: send: %v\n", err)
		os.Exit(1)
	}

	select {
	case body := <-responses:
		resp, err := services.DecodeGetEndpointsResponse(body)
		if err != nil {
			fmt.Fprintf(os.Stderr, "opcua-client: decode response: %v\n", err)
			os.Exit(1)
		}
		for _, e := range resp.Endpoints {
			fmt.Printf("endpoint: %s  policy: %s  mode: %d\n", e.EndpointURL, e.SecurityPolicyURI, e.SecurityMode)
		}
	case <-time.After(opts.timeout):
		fmt.Fprintln(os.Stderr, "opcua-client: timed out waiting for GetEndpointsResponse")
		os.Exit(1)
	}
}
