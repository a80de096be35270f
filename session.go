package beacon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ============================================================================
// Session Identity
// ============================================================================

// SessionIdentity is the authentication state the session reacts to.
type SessionIdentity struct {
	UserID        string
	Authenticated bool
}

// TokenIdentity derives a session identity from a JWT session token without
// verifying its signature; verification is the server's job, the client only
// needs the subject and expiry claims to know who it is bound to.
func TokenIdentity(token string) (SessionIdentity, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return SessionIdentity{}, fmt.Errorf("parse token: %w", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return SessionIdentity{}, fmt.Errorf("unexpected claims type")
	}

	userID, _ := claims["sub"].(string)
	if userID == "" {
		userID, _ = claims["userId"].(string)
	}
	if userID == "" {
		return SessionIdentity{}, fmt.Errorf("token has no subject claim")
	}

	authenticated := true
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		authenticated = time.Now().Before(exp.Time)
	}
	return SessionIdentity{UserID: userID, Authenticated: authenticated}, nil
}

// ============================================================================
// Socket abstraction
// ============================================================================

// Socket is the bidirectional push channel a session manages. *WSSocket is
// the production implementation.
type Socket interface {
	Connect(ctx context.Context) error
	Disconnect() error
	UserID() string
	OnEvent(func(PushEvent))
}

// SocketFactory creates a socket bound to a user identity.
type SocketFactory func(userID string) Socket

// ============================================================================
// Session
// ============================================================================

// SessionConfig configures a Session.
type SessionConfig struct {
	// SocketConfig is passed to sockets created by the default factory.
	SocketConfig *SocketConfig
	// Factory overrides socket creation, mainly for tests.
	Factory SocketFactory
}

// Session owns the one live socket of the client and keeps it bound to the
// current identity. Rebinding to a different user tears the old socket down
// first, with all its event subscriptions, so a stale identity can never
// receive another user's events after an account switch. Bind and Unbind are
// idempotent.
type Session struct {
	client  *Client
	factory SocketFactory

	mu      sync.Mutex
	socket  Socket
	store   *Store
	engine  *SyncEngine
	tracker *ReadTracker
}

// NewSession creates an unbound session for the client. config may be nil.
func NewSession(client *Client, config *SessionConfig) *Session {
	s := &Session{client: client}
	if config != nil && config.Factory != nil {
		s.factory = config.Factory
	} else {
		var sockCfg *SocketConfig
		if config != nil {
			sockCfg = config.SocketConfig
		}
		s.factory = func(userID string) Socket {
			return client.Realtime.Socket(userID, sockCfg)
		}
	}
	return s
}

// Bind connects the socket for userID. Binding the current identity again is
// a no-op; binding a different one replaces the socket and the cache. Under
// concurrent binds the most recent one wins and every superseded socket is
// disconnected. A dial failure is returned but is not fatal: the session
// stays bound and the cache keeps serving last-known state.
func (s *Session) Bind(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("bind: empty user id")
	}

	s.mu.Lock()
	if s.socket != nil && s.socket.UserID() == userID {
		s.mu.Unlock()
		return nil
	}

	store := NewStore()
	engine := NewSyncEngine(s.client, store, userID)
	tracker := NewReadTracker(store, s.client.Conversations)

	sock := s.factory(userID)
	sock.OnEvent(func(ev PushEvent) {
		engine.Apply(context.Background(), ev)
	})

	// The new socket becomes current before any teardown happens, so a
	// concurrent Bind always sees exactly one owner and whoever loses the
	// race tears its own socket down below.
	old := s.socket
	s.socket = sock
	s.store = store
	s.engine = engine
	s.tracker = tracker
	s.mu.Unlock()

	if old != nil {
		old.Disconnect()
	}

	err := sock.Connect(ctx)

	// A Bind or Unbind that overtook us while the old socket was draining or
	// the dial was in flight has replaced the current socket; ours must not
	// stay live.
	s.mu.Lock()
	current := s.socket == sock
	s.mu.Unlock()
	if !current {
		sock.Disconnect()
		return nil
	}
	return err
}

// Unbind disconnects and discards the socket. The cache is kept so the UI can
// keep rendering last-known state; the next Bind replaces it.
func (s *Session) Unbind() {
	s.mu.Lock()
	sock := s.socket
	s.socket = nil
	s.mu.Unlock()

	if sock != nil {
		sock.Disconnect()
	}
}

// Apply maps an identity transition to Bind or Unbind.
func (s *Session) Apply(ctx context.Context, identity SessionIdentity) error {
	if !identity.Authenticated || identity.UserID == "" {
		s.Unbind()
		return nil
	}
	return s.Bind(ctx, identity.UserID)
}

// Bound reports whether a socket is currently held, and for which user.
func (s *Session) Bound() (userID string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.socket == nil {
		return "", false
	}
	return s.socket.UserID(), true
}

// Store returns the cache of the current (or last) binding, nil before the
// first Bind.
func (s *Session) Store() *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store
}

// Engine returns the sync engine of the current (or last) binding.
func (s *Session) Engine() *SyncEngine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

// Tracker returns the read-state tracker of the current (or last) binding.
func (s *Session) Tracker() *ReadTracker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker
}
