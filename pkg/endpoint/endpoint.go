// Package endpoint wires a listening transport.TCPSocket, a single
// eventloop.Loop, and a dispatcher.Server together into one server-side
// OPC UA endpoint, per spec.md §4.5/§5's single-threaded scheduling
// model: every connection's handshake, chunking, and session traffic is
// serialized onto the one loop goroutine this type owns, regardless of
// how many TCP connections are open concurrently.
package endpoint

import (
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/systerel/s2opc-go/pkg/channelreg"
	"github.com/systerel/s2opc-go/pkg/dispatcher"
	"github.com/systerel/s2opc-go/pkg/eventloop"
	"github.com/systerel/s2opc-go/pkg/securechannel"
	"github.com/systerel/s2opc-go/pkg/session"
	"github.com/systerel/s2opc-go/pkg/transport"
)

// Config bundles the fixed configuration of one listening endpoint.
type Config struct {
	ChannelTemplate securechannel.Config
	MaxChannels     int
	ServerCert      []byte
	NewServerNonce  func() []byte

	SessionManager *session.Manager

	OnMessage       dispatcher.MessageHandler
	OnChannelClosed dispatcher.ChannelClosedHandler

	// SweepInterval paces the periodic check for expired security tokens
	// (spec.md §4.3/§4.6) and timed-out orphaned sessions (spec.md §4.4).
	// Defaults to 1s.
	SweepInterval time.Duration
	// ShutdownGracePeriod is spec.md §6.2's shutdown_grace_period: how
	// long Close waits for CLO exchanges to drain before force-closing
	// whatever connections remain. Defaults to 5s.
	ShutdownGracePeriod time.Duration

	Logger logging.LeveledLogger
}

// Endpoint owns one listening socket, one channel registry, one
// dispatcher.Server, and the single eventloop.Loop goroutine that
// drains every event the socket and its timers produce.
type Endpoint struct {
	cfg      Config
	registry *channelreg.Registry
	server   *dispatcher.Server
	loop     *eventloop.Loop
	socket   *transport.TCPSocket

	mu           sync.Mutex
	sweepTimerID uint64
	sweeping     bool
}

// New constructs an Endpoint. Call Open to start listening.
func New(cfg Config) *Endpoint {
	if cfg.MaxChannels <= 0 {
		cfg.MaxChannels = channelreg.DefaultMaxChannels
	}
	if cfg.SessionManager == nil {
		cfg.SessionManager = session.NewManager(session.ManagerConfig{})
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Second
	}
	if cfg.ShutdownGracePeriod <= 0 {
		cfg.ShutdownGracePeriod = 5 * time.Second
	}
	registry := channelreg.New(cfg.MaxChannels)
	server := dispatcher.NewServer(dispatcher.ServerConfig{
		ChannelTemplate: cfg.ChannelTemplate,
		Registry:        registry,
		Sessions:        cfg.SessionManager,
		ServerCert:      cfg.ServerCert,
		NewServerNonce:  cfg.NewServerNonce,
		OnMessage:       cfg.OnMessage,
		OnChannelClosed: cfg.OnChannelClosed,
		Logger:          cfg.Logger,
	})

	ep := &Endpoint{cfg: cfg, registry: registry, server: server}
	ep.loop = eventloop.New(eventloop.Config{Handler: ep.handleLoopEvent})
	return ep
}

func (ep *Endpoint) handleLoopEvent(e eventloop.Event) {
	switch e.Kind {
	case eventloop.KindSocket:
		ep.server.HandleTransportEvent(e.Socket)
	case eventloop.KindApp:
		if e.App != nil {
			e.App()
		}
	case eventloop.KindTimer:
		ep.mu.Lock()
		isSweep := ep.sweeping && e.TimerID == ep.sweepTimerID
		ep.mu.Unlock()
		if isSweep {
			ep.runSweep()
		}
	}
}

// runSweep applies spec.md §4.3/§4.6's periodic timer events — expired
// security tokens and timed-out orphaned sessions — then reschedules
// itself, mirroring AfterFunc's fire-once-then-repost contract.
func (ep *Endpoint) runSweep() {
	now := time.Now()
	ep.server.SweepExpiredTokens(now)
	ep.server.SweepSessionTimeouts(now)

	ep.mu.Lock()
	defer ep.mu.Unlock()
	if !ep.sweeping {
		return
	}
	ep.sweepTimerID = ep.loop.AfterFunc(ep.cfg.SweepInterval)
}

// Open starts the event loop and begins listening on addr (host:port, or
// host:0 to let the OS assign a port). Returns the bound address.
func (ep *Endpoint) Open(addr string) (string, error) {
	socket, err := transport.NewTCPSocket(transport.TCPSocketConfig{
		Handler: ep.loop.PostSocketEvent,
	})
	if err != nil {
		return "", err
	}
	ep.socket = socket

	boundAddr, err := socket.Listen(addr)
	if err != nil {
		return "", err
	}
	ep.server.SetSocket(socket)
	go ep.loop.Run()

	ep.mu.Lock()
	ep.sweeping = true
	ep.sweepTimerID = ep.loop.AfterFunc(ep.cfg.SweepInterval)
	ep.mu.Unlock()

	return boundAddr.String(), nil
}

// Registry exposes the channel registry, for an application layer that
// needs to call session.Manager's channelID/registry-taking methods
// directly.
func (ep *Endpoint) Registry() *channelreg.Registry { return ep.registry }

// Send routes to the dispatcher.Server bound to this endpoint.
func (ep *Endpoint) Send(channelID uint32, body []byte, handle uint64, timeout time.Duration) (uint32, error) {
	return ep.server.Send(channelID, body, handle, timeout)
}

// Close sends CLO to every connected channel and waits up to
// Config.ShutdownGracePeriod for the close handshakes to drain, per
// spec.md §5 and §6.2's shutdown_grace_period, then stops the event
// loop and shuts down the listening socket and any connection left
// over after the grace period.
func (ep *Endpoint) Close() error {
	ep.mu.Lock()
	ep.sweeping = false
	ep.mu.Unlock()

	ep.server.Shutdown(ep.cfg.ShutdownGracePeriod)

	ep.loop.RequestStop()
	ep.loop.Wait()
	if ep.socket != nil {
		return ep.socket.Shutdown()
	}
	return nil
}
