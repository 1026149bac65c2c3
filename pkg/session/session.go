package session

import (
	"sync"
	"time"
)

// Session is the per-client logical context described by spec.md §3.1:
// bound to at most one channel at a time, carrying identity and the
// request-dispatch state the application façade needs.
type Session struct {
	mu sync.RWMutex

	sessionID          uint32
	authenticationToken []byte
	channelID          uint32
	state              State

	serverNonce []byte
	clientNonce []byte

	serverCertificate []byte
	expectedCertificateThumbprint []byte // pinned at Created, enforced on re-activation

	identity UserIdentityToken

	timeout        time.Duration
	timeoutDeadline time.Time

	createdAt time.Time
}

// Config bundles the fields fixed at CreateSession time.
type Config struct {
	SessionID           uint32
	AuthenticationToken  []byte
	ChannelID            uint32
	ServerNonce          []byte
	ClientNonce          []byte
	ServerCertificate    []byte
	ExpectedCertificateThumbprint []byte
	Timeout              time.Duration
}

// New constructs a session in state Creating, immediately moved to
// Created by the manager once the response is built.
func New(cfg Config) *Session {
	return &Session{
		sessionID:           cfg.SessionID,
		authenticationToken: cfg.AuthenticationToken,
		channelID:           cfg.ChannelID,
		state:               StateCreating,
		serverNonce:         cfg.ServerNonce,
		clientNonce:         cfg.ClientNonce,
		serverCertificate:   cfg.ServerCertificate,
		expectedCertificateThumbprint: cfg.ExpectedCertificateThumbprint,
		timeout:             cfg.Timeout,
		timeoutDeadline:     time.Now().Add(cfg.Timeout),
		createdAt:           time.Now(),
	}
}

func (s *Session) SessionID() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

func (s *Session) AuthenticationToken() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticationToken
}

func (s *Session) ChannelID() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channelID
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) Identity() UserIdentityToken {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

func (s *Session) TimeoutDeadline() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timeoutDeadline
}

// Expired reports whether now is past the session's timeout deadline;
// meaningful only while Orphaned or Created (spec.md §4.4's
// on_session_timeout trigger).
func (s *Session) Expired(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return now.After(s.timeoutDeadline)
}

func (s *Session) setStateLocked(st State) { s.state = st }

func (s *Session) refreshDeadlineLocked(now time.Time) {
	s.timeoutDeadline = now.Add(s.timeout)
}
