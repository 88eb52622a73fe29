// Package session issues short-lived browser sessions after a captcha check. A
// session lets anonymous traffic use the metered endpoints without an API key and
// expires after a fixed idle window.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gas_oracle/internal/apperr"
	"gas_oracle/internal/auth"
	"gas_oracle/internal/logging"
)

// ErrSessionNotFound is returned for unknown or expired sessions.
var ErrSessionNotFound = errors.New("session not found")

// Session is a live browser session.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store keeps sessions alive for an idle window.
type Store interface {
	// Create starts a new session.
	Create(ctx context.Context) (*Session, error)

	// Touch extends the idle expiry. Missing or expired sessions yield ErrSessionNotFound.
	Touch(ctx context.Context, id string) (*Session, error)

	Delete(ctx context.Context, id string) error

	// Sweep drops expired sessions and reports how many were removed.
	Sweep(ctx context.Context) (int, error)
}

// Issued is what the client receives from POST /session.
type Issued struct {
	Token     string    `json:"session"`
	ExpiresAt time.Time `json:"expires"`
}

// Manager wraps a Store with signed tokens, so only ids minted here are looked up.
type Manager struct {
	store  Store
	secret []byte
	maxAge time.Duration
	logger *logging.Logger
}

// NewManager creates a manager. maxAge bounds the token lifetime regardless of
// activity; the idle window is enforced by the store.
func NewManager(store Store, secret []byte, maxAge time.Duration, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Manager{store: store, secret: secret, maxAge: maxAge, logger: logger}
}

// Issue creates a session and returns its token.
func (m *Manager) Issue(ctx context.Context) (*Issued, error) {
	s, err := m.store.Create(ctx)
	if err != nil {
		return nil, apperr.Internal("Error while trying to create a session.", err)
	}

	token, _, err := auth.GenerateJWT(s.ID, m.secret, m.maxAge)
	if err != nil {
		_ = m.store.Delete(ctx, s.ID)
		return nil, apperr.Internal("Error while trying to create a session.", err)
	}

	m.logger.Debug("session issued", "session_id", s.ID)
	return &Issued{Token: token, ExpiresAt: s.ExpiresAt}, nil
}

// Check validates token and refreshes its idle expiry.
func (m *Manager) Check(ctx context.Context, token string) error {
	id, err := auth.DecodeJWT(token, m.secret)
	if err != nil {
		return apperr.New(apperr.KindUnauthorized, "Invalid or expired session.", err)
	}

	if _, err := m.store.Touch(ctx, id); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return apperr.New(apperr.KindUnauthorized, "Invalid or expired session.", err)
		}
		return apperr.Internal("Error while trying to validate the session.", err)
	}
	return nil
}

// Revoke ends the session behind token.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	id, err := auth.DecodeJWT(token, m.secret)
	if err != nil {
		return apperr.New(apperr.KindUnauthorized, "Invalid or expired session.", err)
	}
	if err := m.store.Delete(ctx, id); err != nil {
		return apperr.Internal("Error while trying to end the session.", err)
	}
	return nil
}

// Sweep removes expired sessions. It is run by the scheduler.
func (m *Manager) Sweep(ctx context.Context) error {
	n, err := m.store.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep sessions: %w", err)
	}
	if n > 0 {
		m.logger.Debug("expired sessions removed", "count", n)
	}
	return nil
}
