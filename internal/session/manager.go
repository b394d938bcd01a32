package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/librimoms/club-bot/internal/api"
	apperrors "github.com/librimoms/club-bot/internal/errors"
)

// Backend is the part of the API client the session needs.
type Backend interface {
	AuthTelegram(ctx context.Context, req api.TelegramAuthRequest) (*api.TokenResponse, error)
	Me(ctx context.Context, token string) (*api.Me, error)
	CheckSubscription(ctx context.Context, token string) (*api.SubscriptionStatus, error)
}

// Manager owns the session lifecycle: anonymous -> authenticating -> authenticated -> expired.
type Manager struct {
	store   Store
	backend Backend
	signer  *Signer
	ttl     time.Duration
	log     *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	inflight map[int64]*call
}

type call struct {
	done chan struct{}
	sess *Session
	err  error
}

func NewManager(store Store, backend Backend, signer *Signer, ttl time.Duration, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}

	return &Manager{
		store:    store,
		backend:  backend,
		signer:   signer,
		ttl:      ttl,
		log:      log,
		now:      time.Now,
		inflight: make(map[int64]*call),
	}
}

// Current returns the stored session without contacting the backend.
func (m *Manager) Current(ctx context.Context, telegramID int64) (*Session, error) {
	m.mu.Lock()
	_, authenticating := m.inflight[telegramID]
	m.mu.Unlock()
	if authenticating {
		return &Session{TelegramID: telegramID, Status: StatusAuthenticating}, nil
	}

	token, err := m.store.Token(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}
	if token == "" {
		return &Session{TelegramID: telegramID, Status: StatusAnonymous}, nil
	}

	expiresAt := tokenExpiry(token)
	if !expiresAt.IsZero() && !m.now().Before(expiresAt) {
		if err := m.store.Delete(ctx, telegramID); err != nil {
			m.log.Warn("failed to drop expired session", slog.Int64("telegram_id", telegramID), slog.Any("error", err))
		}
		return &Session{TelegramID: telegramID, Status: StatusExpired, ExpiresAt: expiresAt}, nil
	}

	profile, err := m.store.Profile(ctx, telegramID)
	if err != nil {
		m.log.Warn("cached profile unreadable", slog.Int64("telegram_id", telegramID), slog.Any("error", err))
	}

	return &Session{
		TelegramID: telegramID,
		Status:     StatusAuthenticated,
		Token:      token,
		Profile:    profile,
		ExpiresAt:  expiresAt,
	}, nil
}

// Ensure returns an authenticated session, logging the user in when needed.
func (m *Manager) Ensure(ctx context.Context, u TelegramUser) (*Session, error) {
	sess, err := m.Current(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if sess.Authenticated() && sess.Profile == nil {
		// A rejected token leaves the session expired and falls through to a fresh login.
		sess.Profile, _ = m.Refresh(ctx, sess)
	}
	if sess.Authenticated() {
		return sess, nil
	}
	return m.Authenticate(ctx, u)
}

// Authenticate logs u in. Concurrent calls for the same user share one backend exchange.
func (m *Manager) Authenticate(ctx context.Context, u TelegramUser) (*Session, error) {
	m.mu.Lock()
	if c, ok := m.inflight[u.ID]; ok {
		m.mu.Unlock()
		select {
		case <-c.done:
			return c.sess, c.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c := &call{done: make(chan struct{})}
	m.inflight[u.ID] = c
	m.mu.Unlock()

	c.sess, c.err = m.authenticate(ctx, u)

	m.mu.Lock()
	delete(m.inflight, u.ID)
	m.mu.Unlock()
	close(c.done)

	return c.sess, c.err
}

func (m *Manager) authenticate(ctx context.Context, u TelegramUser) (*Session, error) {
	resp, err := m.backend.AuthTelegram(ctx, m.signer.Sign(u, m.now()))
	if err != nil {
		m.log.Warn("telegram login rejected", slog.Int64("telegram_id", u.ID), slog.Any("error", err))
		return nil, err
	}

	expiresAt := tokenExpiry(resp.AccessToken)
	if err := m.store.SaveToken(ctx, u.ID, resp.AccessToken, m.tokenTTL(expiresAt)); err != nil {
		return nil, apperrors.NewDatabaseError(fmt.Errorf("save token: %w", err))
	}

	sess := &Session{
		TelegramID: u.ID,
		Status:     StatusAuthenticated,
		Token:      resp.AccessToken,
		ExpiresAt:  expiresAt,
	}

	profile, err := m.Refresh(ctx, sess)
	if err != nil && resp.User != nil {
		profile = buildProfile(resp.User, nil)
	}
	sess.Profile = profile

	m.log.Info("user authenticated", slog.Int64("telegram_id", u.ID))
	return sess, nil
}

// Refresh reloads the profile from /auth/me and /auth/check-subscription.
// A rejected token invalidates the session; other failures fall back to the cached profile.
func (m *Manager) Refresh(ctx context.Context, sess *Session) (*Profile, error) {
	if !sess.Authenticated() {
		return nil, apperrors.NewAuthError(nil)
	}

	me, err := m.backend.Me(ctx, sess.Token)
	if err == nil {
		var sub *api.SubscriptionStatus
		sub, err = m.backend.CheckSubscription(ctx, sess.Token)
		if err == nil {
			profile := buildProfile(me, sub)
			if saveErr := m.store.SaveProfile(ctx, sess.TelegramID, profile, m.tokenTTL(sess.ExpiresAt)); saveErr != nil {
				m.log.Warn("failed to cache profile", slog.Int64("telegram_id", sess.TelegramID), slog.Any("error", saveErr))
			}
			sess.Profile = profile
			return profile, nil
		}
	}

	if api.IsUnauthorized(err) {
		m.Invalidate(ctx, sess.TelegramID)
		sess.Status = StatusExpired
		sess.Token = ""
		return nil, err
	}

	cached, cacheErr := m.store.Profile(ctx, sess.TelegramID)
	if cacheErr == nil && cached != nil {
		m.log.Warn("profile refresh failed, using cached profile", slog.Int64("telegram_id", sess.TelegramID), slog.Any("error", err))
		sess.Profile = cached
		return cached, nil
	}

	return nil, err
}

// Invalidate forgets the token and the cached profile.
func (m *Manager) Invalidate(ctx context.Context, telegramID int64) {
	if err := m.store.Delete(ctx, telegramID); err != nil {
		m.log.Error("failed to delete session", slog.Int64("telegram_id", telegramID), slog.Any("error", err))
	}
}

func (m *Manager) tokenTTL(expiresAt time.Time) time.Duration {
	if expiresAt.IsZero() {
		return m.ttl
	}
	if left := expiresAt.Sub(m.now()); left < m.ttl {
		if left <= 0 {
			return time.Second
		}
		return left
	}
	return m.ttl
}

// tokenExpiry reads the exp claim without verifying the signature; the backend verifies it.
// Opaque tokens return the zero time.
func tokenExpiry(token string) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
