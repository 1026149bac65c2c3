package session

import (
	"bytes"
	"time"

	"github.com/google/uuid"

	"github.com/systerel/s2opc-go/pkg/channelreg"
	"github.com/systerel/s2opc-go/pkg/crypto"
	"github.com/systerel/s2opc-go/pkg/securechannel"
)

// DefaultMinSessionTimeout / DefaultMaxSessionTimeout bound the revised
// session timeout create_session clamps the client's request into, per
// spec.md §4.4.
const (
	DefaultMinSessionTimeout = 10 * time.Second
	DefaultMaxSessionTimeout = 2 * time.Hour
)

// ManagerConfig configures the session manager.
type ManagerConfig struct {
	MaxSessions int
	MinTimeout  time.Duration
	MaxTimeout  time.Duration
	// Validator authorizes a structurally-valid UserIdentityToken at
	// activate_session time; nil accepts everything (see acceptAll).
	Validator Validator
}

// Manager implements spec.md §4.4's six session operations on top of a
// channel registry it never owns (per spec.md §3.2, only the event loop
// mutates the registry; Manager only reads it via Find/State calls).
type Manager struct {
	sessions  *table
	minTO     time.Duration
	maxTO     time.Duration
	validator Validator
}

// NewManager constructs a session manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.MinTimeout <= 0 {
		cfg.MinTimeout = DefaultMinSessionTimeout
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = DefaultMaxSessionTimeout
	}
	if cfg.Validator == nil {
		cfg.Validator = acceptAll
	}
	return &Manager{
		sessions:  newTable(cfg.MaxSessions),
		minTO:     cfg.MinTimeout,
		maxTO:     cfg.MaxTimeout,
		validator: cfg.Validator,
	}
}

func (m *Manager) clampTimeout(requested time.Duration) time.Duration {
	if requested < m.minTO {
		return m.minTO
	}
	if requested > m.maxTO {
		return m.maxTO
	}
	return requested
}

// CreateSessionRequest carries the inputs of spec.md §4.4's create_session.
type CreateSessionRequest struct {
	ClientNonce      []byte
	ClientCertificate []byte
	RequestedTimeout time.Duration
	ServerCertificate []byte
}

// CreateSessionResponse mirrors the response fields spec.md names; it
// carries no endpoint descriptions, since producing them is the
// application façade's job, not this core's.
type CreateSessionResponse struct {
	SessionID            uint32
	AuthenticationToken  []byte
	ServerNonce          []byte
	ServerCertificate    []byte
	RevisedSessionTimeout time.Duration
}

// CreateSession validates the channel is Connected, allocates a
// session-id and authentication-token, computes a server nonce, and
// returns the response. The session starts in Created.
func (m *Manager) CreateSession(channelID uint32, registry *channelreg.Registry, req CreateSessionRequest) (*Session, *CreateSessionResponse, error) {
	ch := registry.Find(channelID)
	if ch == nil {
		return nil, nil, ErrSecureChannelIDInvalid
	}
	if ch.State() != securechannel.StateConnected {
		return nil, nil, ErrChannelNotConnected
	}

	id, err := m.sessions.allocateID()
	if err != nil {
		return nil, nil, err
	}

	serverNonce, err := crypto.GenerateNonce(32)
	if err != nil {
		return nil, nil, err
	}
	authToken, err := uuid.New().MarshalBinary()
	if err != nil {
		return nil, nil, err
	}

	revisedTimeout := m.clampTimeout(req.RequestedTimeout)
	s := New(Config{
		SessionID:                     id,
		AuthenticationToken:           authToken,
		ChannelID:                     channelID,
		ServerNonce:                   serverNonce,
		ClientNonce:                   req.ClientNonce,
		ServerCertificate:             req.ServerCertificate,
		ExpectedCertificateThumbprint: ch.PeerCertificateThumbprint(),
		Timeout:                       revisedTimeout,
	})
	s.mu.Lock()
	s.setStateLocked(StateCreated)
	s.mu.Unlock()

	if err := m.sessions.add(s); err != nil {
		return nil, nil, err
	}

	return s, &CreateSessionResponse{
		SessionID:            id,
		AuthenticationToken:  authToken,
		ServerNonce:          serverNonce,
		ServerCertificate:    req.ServerCertificate,
		RevisedSessionTimeout: revisedTimeout,
	}, nil
}

// ActivateSessionRequest carries the inputs of spec.md §4.4's
// activate_session.
type ActivateSessionRequest struct {
	AuthenticationToken []byte
	ClientSignature     []byte
	Capability          crypto.Capability
	Identity            UserIdentityToken
}

// ActivateSession resolves the session by authentication-token, verifies
// the client's signature over (server cert || server nonce), validates
// the identity token, enforces the same-certificate rule on a channel
// change, and transitions to Activated.
func (m *Manager) ActivateSession(channelID uint32, registry *channelreg.Registry, req ActivateSessionRequest) (*Session, error) {
	s := m.sessions.findByAuthToken(req.AuthenticationToken)
	if s == nil {
		return nil, ErrSessionIDInvalid
	}

	ch := registry.Find(channelID)
	if ch == nil {
		return nil, ErrSecureChannelIDInvalid
	}
	if ch.State() != securechannel.StateConnected {
		return nil, ErrChannelNotConnected
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	orphaned := false
	switch s.state {
	case StateCreated, StateActivated:
	case StateOrphaned:
		if time.Now().After(s.timeoutDeadline) {
			return nil, ErrSessionIDInvalid
		}
		orphaned = true
	default:
		return nil, ErrSessionNotActivated
	}

	if req.Capability != nil {
		toSign := append(append([]byte{}, s.serverCertificate...), s.serverNonce...)
		if err := req.Capability.AsymmetricVerify(toSign, req.ClientSignature); err != nil {
			return nil, ErrUserAccessDenied
		}
	}

	if err := req.Identity.validateStructure(); err != nil {
		return nil, err
	}
	if err := m.validator(req.Identity); err != nil {
		return nil, ErrUserAccessDenied
	}

	if s.channelID != channelID || orphaned {
		if !bytes.Equal(s.expectedCertificateThumbprint, ch.PeerCertificateThumbprint()) {
			return nil, ErrSecureChannelIDInvalid
		}
		s.channelID = channelID
	}

	s.identity = req.Identity
	s.setStateLocked(StateActivated)
	s.refreshDeadlineLocked(time.Now())
	return s, nil
}

// CloseSession transitions a session to Closing then removes it from the
// table. delete_subscriptions is accepted for call-shape fidelity with
// spec.md but subscriptions are out of this core's scope (Non-goal:
// "does not implement application services themselves").
func (m *Manager) CloseSession(channelID uint32, authenticationToken []byte, deleteSubscriptions bool) error {
	s := m.sessions.findByAuthToken(authenticationToken)
	if s == nil {
		return ErrSessionIDInvalid
	}
	s.mu.Lock()
	if s.channelID != channelID {
		s.mu.Unlock()
		return ErrSecureChannelIDInvalid
	}
	s.setStateLocked(StateClosing)
	id := s.sessionID
	s.mu.Unlock()

	m.sessions.remove(id)
	s.mu.Lock()
	s.setStateLocked(StateClosed)
	s.mu.Unlock()
	return nil
}

// RouteRequest verifies the session is Activated and bound to channelID
// before the caller dispatches to the application façade; it performs no
// dispatch itself (spec.md's Non-goal on application services).
func (m *Manager) RouteRequest(channelID uint32, authenticationToken []byte) (*Session, error) {
	s := m.sessions.findByAuthToken(authenticationToken)
	if s == nil {
		return nil, ErrSessionIDInvalid
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateActivated {
		return nil, ErrSessionNotActivated
	}
	if s.channelID != channelID {
		return nil, ErrSecureChannelIDInvalid
	}
	return s, nil
}

// OnChannelDisconnected transitions every session bound to channelID to
// Orphaned with a fresh timeout deadline, per spec.md §4.4.
func (m *Manager) OnChannelDisconnected(channelID uint32, now time.Time) {
	m.sessions.forEach(func(s *Session) bool {
		s.mu.Lock()
		if s.channelID == channelID && s.state == StateActivated {
			s.setStateLocked(StateOrphaned)
			s.refreshDeadlineLocked(now)
		}
		s.mu.Unlock()
		return true
	})
}

// OnSessionTimeout transitions a timed-out session to Closed and
// releases it from the table.
func (m *Manager) OnSessionTimeout(sessionID uint32, now time.Time) {
	s := m.sessions.find(sessionID)
	if s == nil {
		return
	}
	s.mu.Lock()
	expired := now.After(s.timeoutDeadline)
	if expired {
		s.setStateLocked(StateClosed)
	}
	s.mu.Unlock()
	if expired {
		m.sessions.remove(sessionID)
	}
}

// SweepTimeouts applies OnSessionTimeout to every Orphaned session past
// its deadline. Meant to be called periodically (spec.md §4.6's
// per-session timeout timer event) rather than per-session, since
// nothing else in this package ever iterates the whole table looking
// for timed-out sessions on its own.
func (m *Manager) SweepTimeouts(now time.Time) {
	var timedOut []uint32
	m.sessions.forEach(func(s *Session) bool {
		s.mu.RLock()
		if s.state == StateOrphaned && now.After(s.timeoutDeadline) {
			timedOut = append(timedOut, s.sessionID)
		}
		s.mu.RUnlock()
		return true
	})
	for _, id := range timedOut {
		m.OnSessionTimeout(id, now)
	}
}

// Find looks up a session by session-id, or nil if unknown.
func (m *Manager) Find(sessionID uint32) *Session {
	return m.sessions.find(sessionID)
}

// Count returns the number of tracked sessions.
func (m *Manager) Count() int {
	return m.sessions.count()
}
