// Package dispatcher routes framed chunks between the transport layer
// and one secure channel per connection, and resolves which channel an
// inbound MSG/CLO chunk belongs to, per spec.md §4.4's channel-id
// registry responsibilities generalized to a multi-connection server.
//
// spec.md §6.1's wire format carries only TokenId on a symmetric
// security header: there is no on-wire SecureChannelId field, unlike
// the informal "unknown channel-id" framing of scenario S5 might
// suggest. Channel-id resolution therefore happens one layer above the
// chunk codec, exactly where securechannel.Receive's doc comment says
// it must: a connection is bound to exactly one channel-id once its
// OPN handshake completes, and any MSG/CLO chunk arriving on a
// connection whose channel-id is unassigned or no longer registered
// (channelreg.Registry.Find returns nil) is scenario S5's unknown
// channel-id, regardless of what triggered the mismatch.
package dispatcher

import (
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/systerel/s2opc-go/pkg/channelreg"
	"github.com/systerel/s2opc-go/pkg/securechannel"
	"github.com/systerel/s2opc-go/pkg/session"
	"github.com/systerel/s2opc-go/pkg/statuscode"
	"github.com/systerel/s2opc-go/pkg/transport"
	"github.com/systerel/s2opc-go/pkg/wire"
)

// MessageHandler is invoked once per fully reassembled inbound MSG body
// (or an aborted one), on the dispatcher's own event-delivery path.
type MessageHandler func(channelID uint32, delivery securechannel.Delivery)

// ChannelClosedHandler is invoked once a connection's channel is torn
// down, for any reason: peer CLO, peer ERR, transport disconnect, or a
// locally detected protocol violation such as S5's unknown channel-id.
type ChannelClosedHandler func(channelID uint32, reason error)

// ServerConfig bundles a Server's fixed, per-endpoint configuration.
type ServerConfig struct {
	// ChannelTemplate supplies every SecureChannel field except Role,
	// which the server always forces to RoleServer.
	ChannelTemplate securechannel.Config
	Registry        *channelreg.Registry
	Sessions        *session.Manager
	ServerCert      []byte
	// NewServerNonce produces a fresh nonce for each OPN response; tests
	// may supply a deterministic stub.
	NewServerNonce func() []byte

	OnMessage       MessageHandler
	OnChannelClosed ChannelClosedHandler

	Logger logging.LeveledLogger
}

type connState struct {
	ch        *securechannel.SecureChannel
	channelID uint32
}

// Server multiplexes one transport.Socket across many connections, each
// backed by its own securechannel.SecureChannel, and keeps the
// channel-id <-> transport.Handle binding the registry-level checks
// need.
type Server struct {
	cfg    ServerConfig
	log    logging.LeveledLogger
	socket transport.Socket

	mu            sync.Mutex
	conns         map[transport.Handle]*connState
	channelHandle map[uint32]transport.Handle
	nextTokenID   uint32
}

// NewServer constructs a Server. Call SetSocket once the transport.Socket
// that will deliver events to HandleTransportEvent exists (the two are
// constructed in either order: HandleTransportEvent is a stable method
// value usable as a transport.Handler before SetSocket runs).
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDefaultLoggerFactory().NewLogger("dispatcher")
	}
	if cfg.NewServerNonce == nil {
		cfg.NewServerNonce = func() []byte { return nil }
	}
	return &Server{
		cfg:           cfg,
		log:           logger,
		conns:         make(map[transport.Handle]*connState),
		channelHandle: make(map[uint32]transport.Handle),
		nextTokenID:   1,
	}
}

// SetSocket attaches the transport.Socket this server writes responses
// and teardown chunks to.
func (s *Server) SetSocket(sock transport.Socket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.socket = sock
}

func (s *Server) allocateTokenID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextTokenID
	s.nextTokenID++
	if s.nextTokenID == 0 {
		s.nextTokenID = 1
	}
	return id
}

// HandleTransportEvent is the transport.Handler a Socket should invoke
// for this server's listening side. It must not block, per spec.md §5's
// single-threaded scheduling model: callers typically post it through an
// eventloop.Loop rather than call it directly from a socket's own
// goroutine.
func (s *Server) HandleTransportEvent(e transport.Event) {
	switch e.Kind {
	case transport.EventConnected:
		s.onConnected(e.Handle)
	case transport.EventBytes:
		s.onBytes(e.Handle, e.Bytes)
	case transport.EventDisconnected:
		s.onDisconnected(e.Handle, e.Status)
	case transport.EventWriteCompleted:
		// Nothing to do: Send already recorded the pending request
		// before writing, per securechannel.Send's contract.
	}
}

func (s *Server) onConnected(h transport.Handle) {
	ch := securechannel.New(withRole(s.cfg.ChannelTemplate, securechannel.RoleServer))
	s.mu.Lock()
	s.conns[h] = &connState{ch: ch}
	s.mu.Unlock()
}

func withRole(cfg securechannel.Config, role securechannel.Role) securechannel.Config {
	cfg.Role = role
	return cfg
}

func (s *Server) onBytes(h transport.Handle, raw []byte) {
	s.mu.Lock()
	conn := s.conns[h]
	s.mu.Unlock()
	if conn == nil {
		s.log.Warnf("dispatcher: bytes on unknown handle %d", h)
		return
	}

	if len(raw) < wire.TransportHeaderSize {
		s.teardown(h, conn, newError(statuscode.BadTcpMessageTypeInvalid, "chunk shorter than transport header"))
		return
	}
	var mt wire.MessageType
	copy(mt[:], raw[:3])

	switch mt {
	case wire.MessageTypeHello:
		s.handleHello(h, conn, raw)
	case wire.MessageTypeOpen:
		s.handleOpen(h, conn, raw)
	case wire.MessageTypeMessage, wire.MessageTypeClose:
		s.handleBoundTraffic(h, conn, raw)
	case wire.MessageTypeError:
		s.teardown(h, conn, newError(statuscode.BadTcpInternalError, "peer reported ERR"))
	default:
		s.teardown(h, conn, newError(statuscode.BadTcpMessageTypeInvalid, "unexpected message type "+mt.String()))
	}
}

func (s *Server) handleHello(h transport.Handle, conn *connState, raw []byte) {
	ack, err := conn.ch.HandleHello(raw)
	if err != nil {
		s.teardown(h, conn, err)
		return
	}
	s.write(h, ack)
}

func (s *Server) handleOpen(h transport.Handle, conn *connState, raw []byte) {
	firstIssue := conn.channelID == 0
	allocateChannelID := func() uint32 {
		id, err := s.cfg.Registry.AllocateID()
		if err != nil {
			return 0
		}
		return id
	}
	resp, err := conn.ch.HandleOpenRequest(raw, allocateChannelID, s.allocateTokenID, s.cfg.NewServerNonce(), s.cfg.ServerCert)
	if err != nil {
		s.teardown(h, conn, err)
		return
	}
	if firstIssue {
		channelID := conn.ch.LocalChannelID()
		if channelID == 0 {
			s.teardown(h, conn, channelreg.ErrIDExhausted)
			return
		}
		if err := s.cfg.Registry.Add(channelID, conn.ch); err != nil {
			s.teardown(h, conn, err)
			return
		}
		s.mu.Lock()
		conn.channelID = channelID
		s.channelHandle[channelID] = h
		s.mu.Unlock()
	}
	s.write(h, resp)
}

// handleBoundTraffic implements the S5 unknown-channel-id check before
// ever routing a MSG/CLO chunk into the channel's Receive: the
// connection must already be bound to a channel-id the registry still
// recognizes.
func (s *Server) handleBoundTraffic(h transport.Handle, conn *connState, raw []byte) {
	if conn.channelID == 0 || s.cfg.Registry.Find(conn.channelID) == nil {
		s.teardown(h, conn, ErrUnboundChannel)
		return
	}

	delivery, err := conn.ch.Receive(raw)
	if err != nil {
		s.teardown(h, conn, err)
		return
	}
	if conn.ch.State() == securechannel.StateClosed {
		// Peer-initiated CLO: Receive already cleared pending and
		// closed the channel; just tear down our side of the bookkeeping,
		// no ERR chunk needed since the peer is the one who closed.
		s.removeConn(h, conn, nil)
		return
	}
	if delivery == nil {
		return
	}
	if s.cfg.OnMessage != nil {
		s.cfg.OnMessage(conn.channelID, *delivery)
	}
}

func (s *Server) onDisconnected(h transport.Handle, status error) {
	s.mu.Lock()
	conn := s.conns[h]
	s.mu.Unlock()
	if conn == nil {
		return
	}
	s.removeConn(h, conn, status)
}

// teardown handles a locally detected protocol violation: emit an ERR
// chunk naming the failure, close the socket, and report upward exactly
// as a transport-initiated disconnect would.
func (s *Server) teardown(h transport.Handle, conn *connState, reason error) {
	code := statuscode.BadTcpInternalError
	if coded, ok := reason.(interface{ StatusCode() statuscode.Code }); ok {
		code = coded.StatusCode()
	}
	if errChunk, err := conn.ch.BuildError(code, reason.Error()); err == nil {
		s.write(h, errChunk)
	}
	s.closeSocket(h)
	s.removeConn(h, conn, reason)
}

func (s *Server) removeConn(h transport.Handle, conn *connState, reason error) {
	s.mu.Lock()
	delete(s.conns, h)
	if conn.channelID != 0 {
		delete(s.channelHandle, conn.channelID)
	}
	s.mu.Unlock()

	if conn.channelID != 0 {
		s.cfg.Registry.Remove(conn.channelID)
		s.cfg.Sessions.OnChannelDisconnected(conn.channelID, time.Now())
		if s.cfg.OnChannelClosed != nil {
			s.cfg.OnChannelClosed(conn.channelID, reason)
		}
	}
}

// Send encodes body as MSG chunks on the channel bound to channelID and
// writes them to its connection.
func (s *Server) Send(channelID uint32, body []byte, handle uint64, timeout time.Duration) (uint32, error) {
	s.mu.Lock()
	conn := s.channelOf(channelID)
	h, ok := s.channelHandle[channelID]
	s.mu.Unlock()
	if conn == nil || !ok {
		return 0, ErrNoSuchChannel
	}

	chunks, reqID, err := conn.Send(body, handle, timeout)
	// Even on a SendFailure (body too large to fit under
	// MaxSendMessageSize or the negotiated buffer), chunks already
	// holds the single abort chunk to write: chunk.EncodeOutbound's
	// contract is that SendFailure carries its own wire bytes.
	for _, c := range chunks {
		s.write(h, c)
	}
	return reqID, err
}

func (s *Server) channelOf(channelID uint32) *securechannel.SecureChannel {
	return s.cfg.Registry.Find(channelID)
}

// SweepExpiredTokens tears down every connection whose current token has
// fully expired with no renewal having arrived. The server never emits a
// renew itself (only a RoleClient channel does), so this periodic sweep
// is what actually enforces spec.md §4.3's token-lifetime rule against a
// peer that stops renewing: without it, an expired token would simply
// keep being accepted forever.
func (s *Server) SweepExpiredTokens(now time.Time) {
	type expired struct {
		handle transport.Handle
		conn   *connState
	}
	var victims []expired
	s.mu.Lock()
	for h, conn := range s.conns {
		if conn.channelID != 0 && conn.ch.TokenExpired(now) {
			victims = append(victims, expired{handle: h, conn: conn})
		}
	}
	s.mu.Unlock()
	for _, v := range victims {
		s.teardown(v.handle, v.conn, ErrTokenExpired)
	}
}

// SweepSessionTimeouts applies the session manager's own timeout sweep,
// per spec.md §4.6's per-session timeout timer event.
func (s *Server) SweepSessionTimeouts(now time.Time) {
	s.cfg.Sessions.SweepTimeouts(now)
}

// Shutdown sends CLO to every currently connected channel and waits up
// to gracePeriod for each connection to drain — removeConn deletes a
// connection from conns once the transport reports disconnected or
// Receive observes the peer's own CLO — then force-closes whatever
// sockets remain, per spec.md §5's "stopping the runtime sends CLO to
// every connected channel, waits for socket-close confirmations up to a
// bounded grace period, then tears everything down." Callers must keep
// routing transport events to HandleTransportEvent while this runs, or
// no connection will ever drain and every one will hit the force-close
// path.
func (s *Server) Shutdown(gracePeriod time.Duration) {
	type target struct {
		handle transport.Handle
		conn   *connState
	}
	s.mu.Lock()
	targets := make([]target, 0, len(s.conns))
	for h, conn := range s.conns {
		targets = append(targets, target{h, conn})
	}
	s.mu.Unlock()

	for _, t := range targets {
		if clo, err := t.conn.ch.Close(); err == nil && clo != nil {
			s.write(t.handle, clo)
		}
	}

	deadline := time.Now().Add(gracePeriod)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		remaining := len(s.conns)
		s.mu.Unlock()
		if remaining == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.mu.Lock()
	leftover := make([]transport.Handle, 0, len(s.conns))
	for h := range s.conns {
		leftover = append(leftover, h)
	}
	s.mu.Unlock()
	for _, h := range leftover {
		s.closeSocket(h)
	}
}

func (s *Server) write(h transport.Handle, buf []byte) {
	s.mu.Lock()
	sock := s.socket
	s.mu.Unlock()
	if sock == nil {
		return
	}
	if err := sock.Write(h, buf); err != nil {
		s.log.Warnf("dispatcher: write to handle %d failed: %v", h, err)
	}
}

func (s *Server) closeSocket(h transport.Handle) {
	s.mu.Lock()
	sock := s.socket
	s.mu.Unlock()
	if sock == nil {
		return
	}
	_ = sock.Close(h)
}
