package dispatcher

import (
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/systerel/s2opc-go/pkg/securechannel"
	"github.com/systerel/s2opc-go/pkg/statuscode"
	"github.com/systerel/s2opc-go/pkg/transport"
)

// ClientConfig bundles a Client's fixed configuration. Unlike Server, a
// Client drives exactly one channel over one connection: there is no
// registry, since nothing ever needs to resolve a channel-id to a
// connection on this side.
type ClientConfig struct {
	ChannelTemplate securechannel.Config
	ClientCert      []byte
	ClientNonce     func() []byte

	OnMessage       MessageHandler
	OnChannelClosed ChannelClosedHandler

	Logger logging.LeveledLogger
}

// Client drives the client side of the handshake/message lifecycle over
// one transport connection.
type Client struct {
	cfg    ClientConfig
	log    logging.LeveledLogger
	ch     *securechannel.SecureChannel
	socket transport.Socket

	mu          sync.Mutex
	handle      transport.Handle
	opening     chan error
	acking      chan error
	lastNonce   []byte
	renewing    bool
	renewTimer  *time.Timer
}

// renewalCheckInterval paces DueForRenewal polling; spec.md §4.3's 25%
// threshold gives ample margin even against the shortest realistic
// token lifetimes, so a fixed, short interval is simpler than deriving
// one from RequestedLifetime and never misses the window.
const renewalCheckInterval = time.Second

// NewClient constructs a Client. SetSocket and Dial must both run before
// Open/handshake traffic is possible.
func NewClient(cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDefaultLoggerFactory().NewLogger("dispatcher")
	}
	if cfg.ClientNonce == nil {
		cfg.ClientNonce = func() []byte { return nil }
	}
	cfg.ChannelTemplate.Role = securechannel.RoleClient
	return &Client{
		cfg: cfg,
		log: logger,
		ch:  securechannel.New(cfg.ChannelTemplate),
	}
}

// SetSocket attaches the transport.Socket used to dial and write on.
func (c *Client) SetSocket(sock transport.Socket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.socket = sock
}

// Channel exposes the underlying state machine for callers that need to
// inspect state, tokens, or the pinned peer certificate thumbprint.
func (c *Client) Channel() *securechannel.SecureChannel { return c.ch }

// Dial opens the transport connection, then drives HELLO/ACK and the
// initial OpenSecureChannel issue to completion synchronously. It is
// meant to be called from outside the event-loop goroutine (e.g. an
// application's setup code), blocking until the channel is Connected or
// the handshake fails.
func (c *Client) Dial(url string, handshakeTimeout time.Duration) error {
	c.mu.Lock()
	c.acking = make(chan error, 1)
	c.mu.Unlock()

	h, err := c.socket.Open(url)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.handle = h
	c.mu.Unlock()

	hello, err := c.ch.BuildHello()
	if err != nil {
		return err
	}
	if err := c.socket.Write(h, hello); err != nil {
		return err
	}

	select {
	case err := <-c.acking:
		if err != nil {
			return err
		}
	case <-time.After(handshakeTimeout):
		return newError(statuscode.BadTimeout, "timed out waiting for ACK")
	}

	c.mu.Lock()
	c.opening = make(chan error, 1)
	c.mu.Unlock()

	nonce := c.cfg.ClientNonce()
	c.mu.Lock()
	c.lastNonce = nonce
	c.mu.Unlock()
	opn, err := c.ch.IssueOpenRequest(nonce, c.cfg.ClientCert, nil)
	if err != nil {
		return err
	}
	if err := c.socket.Write(h, opn); err != nil {
		return err
	}

	select {
	case err := <-c.opening:
		if err != nil {
			return err
		}
	case <-time.After(handshakeTimeout):
		return newError(statuscode.BadTimeout, "timed out waiting for OPN response")
	}

	c.startRenewalTimer()
	return nil
}

// startRenewalTimer begins polling DueForRenewal on a fixed interval,
// the client-side half of spec.md §4.3's "token lifetime ≤ 25%
// remaining -> emit asymmetric OPN (renew)" transition: a RoleServer
// channel never emits a renew itself (securechannel.DueForRenewal is
// RoleClient-only), so nothing drives this but the client that holds
// the token.
func (c *Client) startRenewalTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.renewing = true
	c.renewTimer = time.AfterFunc(renewalCheckInterval, c.checkRenewal)
}

func (c *Client) checkRenewal() {
	if c.ch.DueForRenewal(time.Now()) {
		nonce := c.cfg.ClientNonce()
		c.mu.Lock()
		c.lastNonce = nonce
		h := c.handle
		c.mu.Unlock()

		opn, err := c.ch.IssueOpenRequest(nonce, c.cfg.ClientCert, nil)
		if err != nil {
			c.log.Warnf("dispatcher/client: renewal IssueOpenRequest: %v", err)
		} else if writeErr := c.socket.Write(h, opn); writeErr != nil {
			c.log.Warnf("dispatcher/client: renewal write: %v", writeErr)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.renewing {
		return
	}
	c.renewTimer = time.AfterFunc(renewalCheckInterval, c.checkRenewal)
}

// stopRenewalTimer cancels the renewal poll, if running.
func (c *Client) stopRenewalTimer() {
	c.mu.Lock()
	c.renewing = false
	t := c.renewTimer
	c.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}

// HandleTransportEvent is the transport.Handler this client's socket
// should invoke.
func (c *Client) HandleTransportEvent(e transport.Event) {
	switch e.Kind {
	case transport.EventConnected:
		// Nothing to do: Dial already recorded the handle synchronously.
	case transport.EventBytes:
		c.onBytes(e.Bytes)
	case transport.EventDisconnected:
		// LocalChannelID is always 0 on the client side (only a server
		// role assigns one); a client owns exactly one channel, so its
		// callbacks don't need the id to disambiguate and it is passed
		// through only for MessageHandler/ChannelClosedHandler symmetry
		// with Server's multi-connection signatures.
		if c.cfg.OnChannelClosed != nil {
			c.cfg.OnChannelClosed(c.ch.LocalChannelID(), e.Status)
		}
	case transport.EventWriteCompleted:
	}
}

func (c *Client) onBytes(raw []byte) {
	switch c.ch.State() {
	case securechannel.StateNegotiating:
		err := c.ch.HandleAck(raw)
		c.mu.Lock()
		acking := c.acking
		c.mu.Unlock()
		if acking != nil {
			acking <- err
		}
		return
	case securechannel.StateScConnecting, securechannel.StateScRenewing:
		nonce := c.lastClientNonce()
		err := c.ch.HandleOpenResponse(raw, nonce)
		c.mu.Lock()
		opening := c.opening
		c.mu.Unlock()
		if opening != nil {
			// Dial already drained the first value; a later renewal's
			// response has no reader left, and opening's buffer is only
			// sized for one pending value, so send without blocking or a
			// second renewal within the same connection's lifetime would
			// hang this read path forever.
			select {
			case opening <- err:
			default:
			}
		}
		return
	}

	delivery, err := c.ch.Receive(raw)
	if err != nil {
		c.log.Warnf("dispatcher/client: Receive: %v", err)
		return
	}
	if delivery != nil && c.cfg.OnMessage != nil {
		c.cfg.OnMessage(c.ch.LocalChannelID(), *delivery)
	}
}

func (c *Client) lastClientNonce() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastNonce
}

// Send encodes body as MSG chunks and writes them on the client's
// single connection.
func (c *Client) Send(body []byte, handle uint64, timeout time.Duration) (uint32, error) {
	c.mu.Lock()
	h := c.handle
	c.mu.Unlock()

	chunks, reqID, err := c.ch.Send(body, handle, timeout)
	for _, chunk := range chunks {
		if writeErr := c.socket.Write(h, chunk); writeErr != nil {
			return reqID, writeErr
		}
	}
	return reqID, err
}

// Close sends CLO and closes the transport connection.
func (c *Client) Close() error {
	c.stopRenewalTimer()
	clo, err := c.ch.Close()
	if err != nil {
		return err
	}
	c.mu.Lock()
	h := c.handle
	c.mu.Unlock()
	if clo != nil {
		_ = c.socket.Write(h, clo)
	}
	return c.socket.Close(h)
}
