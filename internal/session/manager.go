package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/imprisonedmind/olarmd/internal/cloud"
)

// defaultExpiryMargin is how close to expiry a token may be before
// EnsureValid refreshes it. Connections opened with a token inside the
// margin risk being rejected mid-handshake.
const defaultExpiryMargin = 5 * time.Minute

// flightKey is the singleflight key for the refresh/login critical
// section. There is one credential set, so one key.
const flightKey = "session"

// Logger defines the logging interface used by the Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// API is the subset of the vendor client the Manager needs.
// Satisfied by *cloud.Client; narrowed for testing.
type API interface {
	Login(ctx context.Context, emailPhone, password string) (cloud.TokenTriple, error)
	Refresh(ctx context.Context, refreshToken string) (cloud.TokenTriple, error)
	FederatedLink(ctx context.Context, accessToken string) (userIndex int, userID string, err error)
}

// Credentials are the account credentials used for full logins.
type Credentials struct {
	EmailPhone string
	Password   string
}

// Manager owns the session lifecycle: login, refresh, validity checking,
// and persistence.
//
// Concurrent EnsureValid callers during an in-flight refresh or login are
// coalesced: exactly one network sequence executes, and every caller
// receives its result. The refresh/login critical section is globally
// exclusive; nothing else mutates the session.
//
// Thread Safety: all methods are safe for concurrent use.
type Manager struct {
	api   API
	store Store
	creds Credentials

	margin time.Duration

	// cur is the cached session. loaded guards the lazy initial read
	// from the store.
	cur    Session
	loaded bool
	mu     sync.Mutex

	group singleflight.Group

	logger Logger
}

// NewManager creates a session manager.
// The stored session, if any, is loaded lazily on first use.
func NewManager(api API, store Store, creds Credentials) *Manager {
	return &Manager{
		api:    api,
		store:  store,
		creds:  creds,
		margin: defaultExpiryMargin,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Current returns the cached session without triggering any network work.
// May be zero if EnsureValid has never succeeded.
func (m *Manager) Current() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}

// Invalidate marks the cached access token as expired so the next
// EnsureValid call refreshes it. Used when the transport rejects a token
// that has not reached its nominal expiry (revocation, clock skew).
// The stored record is left untouched; the refresh token may still be good.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.cur.ExpiresAt = time.Time{}
	m.mu.Unlock()
}

// EnsureValid returns a session whose access token is valid for at least
// the expiry margin, performing a refresh or full login if needed.
//
// Idempotent: a cached, still-fresh session is returned unchanged with no
// network traffic. Concurrent callers share a single in-flight
// refresh/login attempt and all receive its result. Cancellation of the
// caller's context abandons the wait promptly; the shared attempt itself
// continues for any remaining waiters.
//
// Returns:
//   - Session: A valid session
//   - error: cloud.ErrAuthFailed if credentials are rejected,
//     cloud.ErrRequestFailed on transient network failure
func (m *Manager) EnsureValid(ctx context.Context) (Session, error) {
	if sess, ok := m.cached(ctx); ok {
		return sess, nil
	}

	ch := m.group.DoChan(flightKey, func() (any, error) {
		// The flight outlives any individual caller; do not bind it to
		// the first caller's context.
		return m.refreshOrLogin(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return Session{}, fmt.Errorf("waiting for session: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return Session{}, res.Err
		}
		sess, ok := res.Val.(Session)
		if !ok {
			return Session{}, fmt.Errorf("unexpected singleflight result %T", res.Val)
		}
		return sess, nil
	}
}

// cached returns the current session if it is still fresh, loading the
// persisted record on first call.
func (m *Manager) cached(ctx context.Context) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.loaded {
		stored, err := m.store.Load(ctx)
		if err != nil {
			m.logger.Warn("loading stored session", "error", err)
		} else {
			m.cur = stored
		}
		m.loaded = true
	}

	if m.cur.ValidFor(m.margin, time.Now()) {
		return m.cur, true
	}
	return Session{}, false
}

// refreshOrLogin is the single-flight critical section.
//
// If a refresh token exists it is tried first. A rejected refresh token
// clears and persists the session, then falls through to one full login
// attempt; a transient refresh failure surfaces without touching stored
// state. With no refresh token, a full login runs directly.
func (m *Manager) refreshOrLogin(ctx context.Context) (Session, error) {
	// Re-check under the flight: a previous flight may have refreshed
	// while this caller was queueing.
	if sess, ok := m.cached(ctx); ok {
		return sess, nil
	}

	m.mu.Lock()
	cur := m.cur
	m.mu.Unlock()

	if cur.RefreshToken != "" {
		sess, err := m.refresh(ctx, cur)
		switch {
		case err == nil:
			return sess, nil
		case errors.Is(err, cloud.ErrAuthFailed):
			// Refresh token is dead. Clear wholesale, persist the cleared
			// record, then attempt one full login.
			m.logger.Warn("refresh token rejected, clearing session")
			m.setAndPersist(ctx, Session{})
		default:
			// Transient; leave stored session untouched.
			return Session{}, err
		}
	}

	return m.login(ctx)
}

// login performs a full credential exchange and resolves user identifiers.
func (m *Manager) login(ctx context.Context) (Session, error) {
	triple, err := m.api.Login(ctx, m.creds.EmailPhone, m.creds.Password)
	if err != nil {
		return Session{}, fmt.Errorf("logging in: %w", err)
	}

	userIndex, userID, err := m.api.FederatedLink(ctx, triple.AccessToken)
	if err != nil {
		return Session{}, fmt.Errorf("resolving user link: %w", err)
	}

	sess := Session{
		AccessToken:  triple.AccessToken,
		RefreshToken: triple.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(triple.ExpirySeconds) * time.Second),
		UserIndex:    userIndex,
		UserID:       userID,
	}
	m.setAndPersist(ctx, sess)

	m.logger.Info("logged in", "user_index", userIndex, "expires_at", sess.ExpiresAt)
	return sess, nil
}

// refresh exchanges the refresh token for a new token pair, keeping the
// resolved user identifiers.
func (m *Manager) refresh(ctx context.Context, cur Session) (Session, error) {
	triple, err := m.api.Refresh(ctx, cur.RefreshToken)
	if err != nil {
		return Session{}, fmt.Errorf("refreshing session: %w", err)
	}

	sess := Session{
		AccessToken:  triple.AccessToken,
		RefreshToken: triple.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(triple.ExpirySeconds) * time.Second),
		UserIndex:    cur.UserIndex,
		UserID:       cur.UserID,
	}
	m.setAndPersist(ctx, sess)

	m.logger.Info("session refreshed", "expires_at", sess.ExpiresAt)
	return sess, nil
}

// setAndPersist updates the cached session and writes it to the store.
// Persistence failure is logged, not surfaced: the in-memory session is
// still valid, the process just loses it on restart.
func (m *Manager) setAndPersist(ctx context.Context, sess Session) {
	m.mu.Lock()
	m.cur = sess
	m.loaded = true
	m.mu.Unlock()

	if err := m.store.Save(ctx, sess); err != nil {
		m.logger.Error("persisting session", "error", err)
	}
}
