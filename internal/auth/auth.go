package auth

import "sync"

// Identity is an authenticated user.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Provider yields the current identity and notifies about session changes.
type Provider interface {
	// CurrentUser returns the authenticated identity, or nil when signed out.
	CurrentUser() *Identity
	// Changes returns a channel receiving the new identity on every session
	// change. A nil identity is sent on sign-out. The channel is closed when
	// the session is discarded.
	Changes() <-chan *Identity
}

const sessionChangeBuffer = 4

// Session is a Provider whose identity can be switched at runtime.
type Session struct {
	mu      sync.RWMutex
	ident   *Identity
	changes chan *Identity
	closed  bool
}

// NewSession creates a session, optionally already signed in.
func NewSession(ident *Identity) *Session {
	return &Session{
		ident:   ident,
		changes: make(chan *Identity, sessionChangeBuffer),
	}
}

// CurrentUser returns the signed-in identity, or nil.
func (s *Session) CurrentUser() *Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ident
}

// Changes returns the session change channel.
func (s *Session) Changes() <-chan *Identity {
	return s.changes
}

// SignIn switches the session to the given identity and notifies listeners.
func (s *Session) SignIn(ident *Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.ident = ident
	s.notify(ident)
}

// SignOut clears the identity and notifies listeners with nil.
func (s *Session) SignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.ident = nil
	s.notify(nil)
}

// Close discards the session. No further notifications are delivered.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.changes)
}

// notify delivers without blocking the signer. A listener that has fallen
// behind by the full buffer misses intermediate states only.
func (s *Session) notify(ident *Identity) {
	select {
	case s.changes <- ident:
	default:
	}
}
