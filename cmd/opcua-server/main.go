// Command opcua-server runs one listening endpoint answering
// GetEndpointsRequest traffic, in the style of the device examples this
// stack's scheduling model was learned from: parse flags, build, run
// until SIGINT/SIGTERM, shut down.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/systerel/s2opc-go/pkg/chunk"
	"github.com/systerel/s2opc-go/pkg/crypto"
	"github.com/systerel/s2opc-go/pkg/endpoint"
	"github.com/systerel/s2opc-go/pkg/securechannel"
	"github.com/systerel/s2opc-go/pkg/services"
)

// options holds the CLI flags for this server.
type options struct {
	listenAddr  string
	endpointURL string
	maxChannels int
}

func defaultOptions() options {
	return options{
		listenAddr:  "0.0.0.0:4841",
		endpointURL: "opc.tcp://localhost:4841/ep",
		maxChannels: 64,
	}
}

func parseFlags() options {
	d := defaultOptions()
	o := options{}
	flag.StringVar(&o.listenAddr, "listen", d.listenAddr, "address to listen on (host:port)")
	flag.StringVar(&o.endpointURL, "endpoint-url", d.endpointURL, "endpoint URL advertised by GetEndpoints")
	flag.IntVar(&o.maxChannels, "max-channels", d.maxChannels, "maximum concurrent secure channels")
	flag.Parse()
	return o
}

func main() {
	opts := parseFlags()

	svc := services.Server{Endpoints: []services.EndpointDescription{
		{
			EndpointURL:       opts.endpointURL,
			SecurityPolicyURI: crypto.PolicyURINone,
			SecurityMode:      1,
		},
	}}

	var ep *endpoint.Endpoint
	ep = endpoint.New(endpoint.Config{
		ChannelTemplate: securechannel.Config{
			PolicyURI:  crypto.PolicyURINone,
			Mode:       chunk.ModeNone,
			Capability: crypto.NewNoneCapability(),
		},
		MaxChannels:    opts.maxChannels,
		ServerCert:     []byte("opcua-server-demo-cert"),
		NewServerNonce: func() []byte { return []byte("opcua-server-demo-nonce") },
		OnMessage: func(channelID uint32, d securechannel.Delivery) {
			respBody, err := svc.Handle(d.Body)
			if err != nil {
				log.Printf("services.Server.Handle: %v", err)
				return
			}
			if _, err := ep.Send(channelID, respBody, 0, 0); err != nil {
				log.Printf("endpoint Send: %v", err)
			}
		},
		OnChannelClosed: func(channelID uint32, reason error) {
			log.Printf("channel %d closed: %v", channelID, reason)
		},
	})

	boundAddr, err := ep.Open(opts.listenAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opcua-server: listen: %v\n", err)
		os.Exit(1)
	}
	log.Printf("listening on %s, advertising endpoint %q", boundAddr, opts.endpointURL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Println("shutting down...")
	if err := ep.Close(); err != nil {
		log.Printf("close: %v", err)
	}
}
