// Package session manages the single authenticated broker session and
// the bridge-issued token that guards the tool surface.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"shoonya-bridge/internal/broker"
	apierrors "shoonya-bridge/internal/errors"
	"shoonya-bridge/internal/models"
	"shoonya-bridge/internal/security"
)

// Manager owns the broker session lifecycle. The bridge issues its own
// session token on connect; the broker's susertoken never leaves the
// broker client. At most one session is active at a time, and a repeat
// connect replaces the previous session.
type Manager struct {
	broker broker.Broker
	logger *security.SafeLogger

	mu     sync.RWMutex
	status models.SessionStatus
	token  string
	info   models.SessionInfo
}

// NewManager creates a session manager over the given broker. All of
// the manager's logging goes through the masking wrapper, since session
// events carry tokens and upstream errors can echo credentials.
func NewManager(b broker.Broker, logger zerolog.Logger) *Manager {
	return &Manager{
		broker: b,
		logger: security.NewSafeLogger(logger.With().Str("component", "session").Logger()),
		status: models.SessionDisconnected,
	}
}

// Connect authenticates with the broker and issues a fresh bridge token.
// Any previously issued token is invalidated, whether the login succeeds
// or fails.
func (m *Manager) Connect(ctx context.Context, creds models.Credentials) (string, *models.SessionInfo, error) {
	m.mu.Lock()
	m.status = models.SessionConnecting
	m.token = ""
	m.mu.Unlock()

	result, err := m.broker.Login(ctx, creds)
	if err != nil {
		m.mu.Lock()
		m.status = models.SessionFailed
		m.mu.Unlock()
		m.logger.Error().Err(err).Msg("Broker login failed")
		return "", nil, err
	}

	token := uuid.New().String()
	info := models.SessionInfo{
		UserID:        result.UserID,
		Username:      result.Username,
		EstablishedAt: time.Now(),
	}

	m.mu.Lock()
	m.status = models.SessionActive
	m.token = token
	m.info = info
	m.mu.Unlock()

	m.logger.Info().
		Str("user_id", result.UserID).
		Str("session_token", token).
		Msg("Session established")
	return token, &info, nil
}

// Disconnect logs out upstream and clears the local session. Logout
// failures still tear the local session down.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	active := m.status == models.SessionActive
	m.status = models.SessionDisconnected
	m.token = ""
	m.mu.Unlock()

	if !active {
		return nil
	}
	if err := m.broker.Logout(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("Upstream logout failed")
		return err
	}
	m.logger.Info().Msg("Session disconnected")
	return nil
}

// Require validates a caller-supplied token against the active session.
func (m *Manager) Require(token string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch m.status {
	case models.SessionActive:
		if token == "" || token != m.token {
			return apierrors.ErrNotAuthenticated
		}
		return nil
	case models.SessionExpired:
		return apierrors.ErrSessionExpired
	default:
		return apierrors.ErrNotAuthenticated
	}
}

// RequireActive reports whether any session is active, regardless of
// token. Internal components use this before upstream calls.
func (m *Manager) RequireActive() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch m.status {
	case models.SessionActive:
		return nil
	case models.SessionExpired:
		return apierrors.ErrSessionExpired
	default:
		return apierrors.ErrNotAuthenticated
	}
}

// MarkExpired flags the session as expired after an upstream auth
// rejection. The token stops validating until the next Connect.
func (m *Manager) MarkExpired() {
	m.mu.Lock()
	changed := m.status == models.SessionActive
	if changed {
		m.status = models.SessionExpired
	}
	m.mu.Unlock()
	if changed {
		m.logger.Warn().Msg("Session marked expired after upstream rejection")
	}
}

// Status returns the current session status and info. Info is only
// meaningful while a session is or was established.
func (m *Manager) Status() (models.SessionStatus, models.SessionInfo) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, m.info
}
