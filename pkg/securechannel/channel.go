package securechannel

import (
	"crypto/x509"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/systerel/s2opc-go/pkg/chunk"
	"github.com/systerel/s2opc-go/pkg/crypto"
	"github.com/systerel/s2opc-go/pkg/statuscode"
	"github.com/systerel/s2opc-go/pkg/wire"
)

// PendingRequest tracks one outbound request awaiting a response or a
// send-failure notification, per spec.md §5's ordering guarantees.
type PendingRequest struct {
	RequestID uint32
	Handle    uint64
	Deadline  time.Time
}

// Config bundles the construction-time parameters for a SecureChannel:
// the negotiated buffer config is filled in during HELLO/ACK, not here.
type Config struct {
	Role               Role
	PolicyURI          string
	Mode               chunk.SecurityMode
	Capability         crypto.Capability
	EndpointURL        string
	LocalBufferConfig  chunk.Config
	RequestedLifetime  time.Duration
	Logger             logging.LeveledLogger

	// TrustedRoots, when non-nil, makes HandleOpenRequest/HandleOpenResponse
	// chain-validate the peer's OPN certificate against it via
	// crypto.ValidateCertificate before completing the handshake. A nil
	// pool (the default, and what every None-policy channel leaves unset)
	// means trust-on-first-use: only the thumbprint is pinned, per
	// crypto.ValidateCertificate's own contract.
	TrustedRoots *x509.CertPool
}

// SecureChannel is the per-connection state machine described by
// spec.md §3.1/§4.3. All mutating methods are intended to be invoked
// from a single event-loop goroutine (pkg/eventloop); the embedded
// mutex exists so the type remains safe to exercise directly from
// tests without standing up the full loop.
type SecureChannel struct {
	mu sync.Mutex

	role       Role
	state      State
	policyURI  string
	mode       chunk.SecurityMode
	capability crypto.Capability
	endpointURL string

	localBufferConfig chunk.Config
	negotiated        chunk.Config

	localChannelID uint32
	peerChannelID  uint32

	current  *SecurityToken
	previous *SecurityToken

	requestedLifetime time.Duration

	lastSentSeq     uint32
	lastReceivedSeq uint32
	nextRequestID   uint32

	pending map[uint32]PendingRequest

	assembly *chunk.MessageAssembly

	peerCertificateThumbprint []byte
	trustedRoots              *x509.CertPool

	log logging.LeveledLogger

	createdAt time.Time
}

// New constructs a channel in Init for either role: a client leaves
// Init through BuildHello, a server through HandleHello.
func New(cfg Config) *SecureChannel {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDefaultLoggerFactory().NewLogger("securechannel")
	}
	state := StateInit
	c := &SecureChannel{
		role:              cfg.Role,
		state:             state,
		policyURI:         cfg.PolicyURI,
		mode:              cfg.Mode,
		capability:        cfg.Capability,
		endpointURL:       cfg.EndpointURL,
		localBufferConfig: cfg.LocalBufferConfig.WithDefaults(),
		requestedLifetime: cfg.RequestedLifetime,
		pending:           make(map[uint32]PendingRequest),
		trustedRoots:      cfg.TrustedRoots,
		log:               logger,
		createdAt:         time.Now(),
		nextRequestID:     1,
	}
	return c
}

func (c *SecureChannel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *SecureChannel) setStateLocked(s State) {
	c.log.Debugf("channel %d: %s -> %s", c.localChannelID, c.state, s)
	c.state = s
}

// LocalChannelID returns the server-allocated channel id (0 until
// assigned).
func (c *SecureChannel) LocalChannelID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localChannelID
}

// PeerCertificateThumbprint returns the thumbprint pinned at OPN time,
// used by the session layer's same-certificate reactivation rule
// (spec.md §3.1, scenario S6).
func (c *SecureChannel) PeerCertificateThumbprint() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerCertificateThumbprint
}

func (c *SecureChannel) nextSeq() func() uint32 {
	return func() uint32 {
		c.lastSentSeq++
		return c.lastSentSeq
	}
}

// --- Client-side outbound handshake steps ---

// BuildHello encodes the client's initial HELLO chunk and transitions
// Init -> Negotiating.
func (c *SecureChannel) BuildHello() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateInit {
		return nil, ErrInvalidMessageForState
	}
	body := wire.HelloBody{
		ProtocolVersion:   0,
		ReceiveBufferSize: c.localBufferConfig.ReceiveBufferSize,
		SendBufferSize:    c.localBufferConfig.SendBufferSize,
		MaxMessageSize:    c.localBufferConfig.MaxReceiveMessageSize,
		MaxChunkCount:     c.localBufferConfig.MaxChunksPerMessage,
		EndpointURL:       c.endpointURL,
	}
	w := wire.NewWriter()
	w.WriteHelloBody(body)

	out, err := c.encodeSingleChunk(wire.MessageTypeHello, w.Bytes())
	if err != nil {
		return nil, err
	}
	c.setStateLocked(StateNegotiating)
	return out, nil
}

// HandleAck processes the server's ACK response: Negotiating -> ScConnecting.
func (c *SecureChannel) HandleAck(raw []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateNegotiating {
		return ErrInvalidMessageForState
	}
	r := wire.NewReader(raw[wire.TransportHeaderSize:])
	body, err := r.ReadAcknowledgeBody()
	if err != nil {
		return err
	}
	c.negotiated = chunk.Negotiate(c.localBufferConfig, chunk.Config{
		ReceiveBufferSize:     body.SendBufferSize,
		SendBufferSize:        body.ReceiveBufferSize,
		MaxReceiveMessageSize: body.MaxMessageSize,
		MaxChunksPerMessage:   body.MaxChunkCount,
	})
	c.setStateLocked(StateScConnecting)
	return nil
}

// --- Server-side inbound handshake steps ---

// HandleHello processes a client's HELLO: Init -> ScInit, returns the
// ACK chunk to send.
func (c *SecureChannel) HandleHello(raw []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateInit {
		return nil, ErrInvalidMessageForState
	}
	r := wire.NewReader(raw[wire.TransportHeaderSize:])
	body, err := r.ReadHelloBody()
	if err != nil {
		return nil, err
	}
	c.negotiated = chunk.Negotiate(c.localBufferConfig, chunk.Config{
		ReceiveBufferSize:     body.SendBufferSize,
		SendBufferSize:        body.ReceiveBufferSize,
		MaxReceiveMessageSize: body.MaxMessageSize,
		MaxChunksPerMessage:   body.MaxChunkCount,
	})

	ack := wire.AcknowledgeBody{
		ProtocolVersion:   0,
		ReceiveBufferSize: c.negotiated.ReceiveBufferSize,
		SendBufferSize:    c.negotiated.SendBufferSize,
		MaxMessageSize:    c.negotiated.MaxReceiveMessageSize,
		MaxChunkCount:     c.negotiated.MaxChunksPerMessage,
	}
	w := wire.NewWriter()
	w.WriteAcknowledgeBody(ack)
	out, err := c.encodeSingleChunk(wire.MessageTypeAcknowledge, w.Bytes())
	if err != nil {
		return nil, err
	}
	c.setStateLocked(StateScInit)
	return out, nil
}

// IssueOpenRequest builds a client asymmetric OPN request (issue or
// renew), choosing the transition per spec.md §4.3: ScConnecting ->
// ScConnecting (awaiting response) for issue, Connected -> ScRenewing
// for renew.
func (c *SecureChannel) IssueOpenRequest(clientNonce []byte, senderCert, receiverThumbprint []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	renew := c.state == StateConnected
	if !renew && c.state != StateScConnecting {
		return nil, ErrOpenOutsideHandshake
	}

	body := wire.NewWriter()
	body.WriteByteString(clientNonce)
	body.WriteUInt32(uint32(c.requestedLifetime / time.Millisecond))

	req := chunk.OutboundRequest{
		MessageType:      wire.MessageTypeOpen,
		ChannelID:        c.peerChannelID,
		RequestID:        c.allocateRequestIDLocked(),
		Body:             body.Bytes(),
		Mode:             c.mode,
		Capability:       c.capability,
		Asymmetric:       true,
		AsymmetricHeader: wire.AsymmetricSecurityHeader{SecurityPolicyURI: c.policyURI, SenderCertificate: senderCert, ReceiverCertificateThumbprint: receiverThumbprint},
		NextSequenceNumber: c.nextSeq(),
	}
	chunks, err := chunk.EncodeOutbound(req, c.negotiatedOrLocal())
	if err != nil {
		return nil, err
	}
	if renew {
		c.setStateLocked(StateScRenewing)
	}
	return chunks[0], nil
}

// CompleteOpen installs the token carried in an OPN response (client)
// or issues a fresh token for an OPN request (server), moving the
// channel to Connected. serverNonce/clientNonce feed DeriveChannelKeys.
func (c *SecureChannel) CompleteOpen(tokenID uint32, lifetime time.Duration, clientNonce, serverNonce []byte, peerCertThumbprint []byte, channelID uint32) (*SecurityToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateScConnecting, StateScInit, StateScRenewing:
	case StateConnected:
		if c.role != RoleServer {
			return nil, ErrOpenOutsideHandshake
		}
	default:
		return nil, ErrOpenOutsideHandshake
	}

	var keys crypto.ChannelKeySet
	var err error
	if c.capability != nil {
		keys, err = c.capability.DeriveChannelKeys(clientNonce, serverNonce)
		if err != nil {
			return nil, err
		}
	}

	tok := &SecurityToken{TokenID: tokenID, CreatedAt: time.Now(), Lifetime: lifetime, Keys: keys}

	if c.current != nil {
		c.previous = c.current
	}
	c.current = tok
	if channelID != 0 {
		if c.role == RoleClient {
			c.peerChannelID = channelID
		} else {
			c.localChannelID = channelID
		}
	}
	if peerCertThumbprint != nil {
		c.peerCertificateThumbprint = peerCertThumbprint
	}
	c.setStateLocked(StateConnected)
	return tok, nil
}

// RetireOldToken drops the previous token once the first inbound chunk
// under the new token has been observed, per spec.md §3.1's invariant
// that at most two tokens ever coexist.
func (c *SecureChannel) RetireOldToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.previous = nil
}

// DueForRenewal reports whether the client-side current token's
// remaining lifetime has dropped to the renewal threshold.
func (c *SecureChannel) DueForRenewal(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected && c.role == RoleClient && c.current != nil && c.current.DueForRenewal(now)
}

// TokenExpired reports whether the current token's full lifetime has
// elapsed with no renewal having arrived. On the server side this is
// the only signal that a peer stopped renewing: the server never emits
// a renew itself (only a RoleClient channel does, per DueForRenewal),
// so a periodic sweep calling this is what actually enforces token
// lifetime against a misbehaving or dead peer (spec.md §4.3/§4.6).
func (c *SecureChannel) TokenExpired(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected && c.current != nil && c.current.Expired(now)
}

// --- Close / Error ---

// Close builds a CLO chunk (if the channel is not already closed) and
// transitions to Closed. Idempotent per spec.md §8.2: a second call is
// a no-op returning nil, nil.
func (c *SecureChannel) Close() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return nil, nil
	}
	var out []byte
	if c.current != nil {
		req := chunk.OutboundRequest{
			MessageType:        wire.MessageTypeClose,
			ChannelID:          c.peerChannelID,
			RequestID:          c.allocateRequestIDLocked(),
			Mode:               c.mode,
			Capability:         c.capability,
			TokenID:            c.current.TokenID,
			NextSequenceNumber: c.nextSeq(),
		}
		chunks, err := chunk.EncodeOutbound(req, c.negotiatedOrLocal())
		if err == nil && len(chunks) > 0 {
			out = chunks[0]
		}
	}
	c.failAllPendingLocked()
	c.setStateLocked(StateClosed)
	return out, nil
}

// BuildError encodes an ERR chunk reporting code/reason and transitions
// the channel to Closed, per spec.md §4.1's rule that ERR always ends
// the connection. Used by the layer above (the dispatcher) when it
// detects a protocol violation the channel itself never saw, such as a
// chunk addressed to a channel-id it does not recognize.
func (c *SecureChannel) BuildError(code statuscode.Code, reason string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := wire.NewWriter()
	w.WriteErrorBody(wire.ErrorBody{Error: uint32(code), Reason: reason})
	out, err := c.encodeSingleChunk(wire.MessageTypeError, w.Bytes())
	if err != nil {
		return nil, err
	}
	c.failAllPendingLocked()
	c.setStateLocked(StateClosed)
	return out, nil
}

// failAllPendingLocked drains the pending map and returns every entry
// that was outstanding, for the caller to fail upward with
// BadSecureChannelClosed (spec.md §8.1 invariant 5).
func (c *SecureChannel) failAllPendingLocked() []PendingRequest {
	failed := make([]PendingRequest, 0, len(c.pending))
	for _, p := range c.pending {
		failed = append(failed, p)
	}
	c.pending = make(map[uint32]PendingRequest)
	return failed
}

// PendingCount returns the number of outstanding requests, used by
// tests asserting spec.md §8.1 invariant 5 (empty pending map post-close).
func (c *SecureChannel) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *SecureChannel) allocateRequestIDLocked() uint32 {
	id := c.nextRequestID
	c.nextRequestID++
	return id
}

func (c *SecureChannel) negotiatedOrLocal() chunk.Config {
	if c.negotiated.SendBufferSize != 0 {
		return c.negotiated
	}
	return c.localBufferConfig
}

// encodeSingleChunk builds a HEL/ACK/ERR/RHE chunk: these never carry a
// sequence header or security header, unlike the MSG/OPN/CLO path in
// pkg/chunk, so the transport header is written directly here.
func (c *SecureChannel) encodeSingleChunk(mt wire.MessageType, body []byte) ([]byte, error) {
	w := wire.NewWriter()
	w.WriteTransportHeader(wire.TransportHeader{MessageType: mt, IsFinal: wire.IsFinalFinal})
	w.WriteRaw(body)
	out := w.Bytes()
	total := uint32(len(out))
	out[4] = byte(total)
	out[5] = byte(total >> 8)
	out[6] = byte(total >> 16)
	out[7] = byte(total >> 24)
	return out, nil
}
