package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/librimoms/club-bot/internal/api"
	apperrors "github.com/librimoms/club-bot/internal/errors"
	"github.com/librimoms/club-bot/pkg/redis"
)

type fakeBackend struct {
	token    string
	authN    atomic.Int32
	meErr    error
	subErr   error
	rejected string
	authWait chan struct{}
}

func (f *fakeBackend) AuthTelegram(ctx context.Context, req api.TelegramAuthRequest) (*api.TokenResponse, error) {
	f.authN.Add(1)
	if f.authWait != nil {
		<-f.authWait
	}
	return &api.TokenResponse{AccessToken: f.token}, nil
}

func (f *fakeBackend) Me(ctx context.Context, token string) (*api.Me, error) {
	if f.meErr != nil {
		return nil, f.meErr
	}
	if token == f.rejected {
		return nil, apperrors.NewAuthError(nil)
	}
	return &api.Me{TelegramID: 42, FirstName: "Anna", FavoritesCount: 3}, nil
}

func (f *fakeBackend) CheckSubscription(ctx context.Context, token string) (*api.SubscriptionStatus, error) {
	if f.subErr != nil {
		return nil, f.subErr
	}
	return &api.SubscriptionStatus{IsActive: true, DaysLeft: 12}, nil
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "42",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("backend-secret"))
	require.NoError(t, err)
	return tok
}

func newTestManager(t *testing.T, backend Backend) (*Manager, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(redis.NewMetricsClient(redis.Wrap(client)))
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(store, backend, NewSigner("123:bot"), time.Hour, log), mr
}

func TestManager_AnonymousWithoutToken(t *testing.T) {
	m, _ := newTestManager(t, &fakeBackend{})

	sess, err := m.Current(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, StatusAnonymous, sess.Status)
	assert.False(t, sess.Authenticated())
}

func TestManager_AuthenticateStoresTokenAndProfile(t *testing.T) {
	backend := &fakeBackend{token: signedToken(t, time.Now().Add(2*time.Hour))}
	m, mr := newTestManager(t, backend)
	ctx := context.Background()

	sess, err := m.Authenticate(ctx, TelegramUser{ID: 42, FirstName: "Anna"})
	require.NoError(t, err)
	assert.True(t, sess.Authenticated())
	require.NotNil(t, sess.Profile)
	assert.Equal(t, 12, sess.Profile.SubscriptionDaysLeft)
	assert.True(t, sess.HasSubscription())

	stored, err := mr.Get("session:42:access_token")
	require.NoError(t, err)
	assert.Equal(t, backend.token, stored)
	assert.True(t, mr.Exists("session:42:user"))
	// Token lifetime is capped by the store TTL.
	assert.Equal(t, time.Hour, mr.TTL("session:42:access_token"))

	current, err := m.Current(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, StatusAuthenticated, current.Status)
	assert.Equal(t, "Anna", current.Profile.FirstName)
}

func TestManager_ExpiredToken(t *testing.T) {
	m, mr := newTestManager(t, &fakeBackend{})
	require.NoError(t, mr.Set("session:42:access_token", signedToken(t, time.Now().Add(-time.Minute))))

	sess, err := m.Current(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, sess.Status)
	assert.False(t, mr.Exists("session:42:access_token"))
}

func TestManager_RefreshFallsBackToCachedProfile(t *testing.T) {
	backend := &fakeBackend{token: "opaque"}
	m, _ := newTestManager(t, backend)
	ctx := context.Background()

	sess, err := m.Authenticate(ctx, TelegramUser{ID: 42})
	require.NoError(t, err)

	backend.meErr = apperrors.NewExternalAPIError("club_api", errors.New("timeout"))
	profile, err := m.Refresh(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, "Anna", profile.FirstName)
}

func TestManager_RefreshUnauthorizedInvalidates(t *testing.T) {
	backend := &fakeBackend{token: "opaque"}
	m, mr := newTestManager(t, backend)
	ctx := context.Background()

	sess, err := m.Authenticate(ctx, TelegramUser{ID: 42})
	require.NoError(t, err)

	backend.meErr = apperrors.NewAuthError(nil)
	_, err = m.Refresh(ctx, sess)
	require.Error(t, err)
	assert.Equal(t, StatusExpired, sess.Status)
	assert.False(t, mr.Exists("session:42:access_token"))
	assert.False(t, mr.Exists("session:42:user"))
}

func TestManager_EnsureLogsInAgainAfterRejectedToken(t *testing.T) {
	backend := &fakeBackend{token: "fresh", rejected: "revoked"}
	m, mr := newTestManager(t, backend)
	// A stored token without a cached profile, revoked on the backend.
	require.NoError(t, mr.Set("session:42:access_token", "revoked"))

	sess, err := m.Ensure(context.Background(), TelegramUser{ID: 42, FirstName: "Anna"})
	require.NoError(t, err)
	assert.True(t, sess.Authenticated())
	assert.Equal(t, "fresh", sess.Token)
	require.NotNil(t, sess.Profile)
	assert.Equal(t, int32(1), backend.authN.Load())

	stored, err := mr.Get("session:42:access_token")
	require.NoError(t, err)
	assert.Equal(t, "fresh", stored)
}

func TestManager_ConcurrentAuthenticateSharesExchange(t *testing.T) {
	backend := &fakeBackend{token: "opaque", authWait: make(chan struct{})}
	m, _ := newTestManager(t, backend)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Authenticate(context.Background(), TelegramUser{ID: 42})
		}()
	}

	require.Eventually(t, func() bool {
		sess, err := m.Current(context.Background(), 42)
		return err == nil && sess.Status == StatusAuthenticating
	}, time.Second, 5*time.Millisecond)
	// Let the other callers reach the wait on the shared call.
	time.Sleep(50 * time.Millisecond)

	close(backend.authWait)
	wg.Wait()
	assert.Equal(t, int32(1), backend.authN.Load())
}

func TestSigner_SignVerify(t *testing.T) {
	s := NewSigner("123:bot")
	req := s.Sign(TelegramUser{ID: 7, FirstName: "Olga", Username: "olga"}, time.Unix(1700000000, 0))

	assert.True(t, s.Verify(req))
	assert.Len(t, req.Hash, 64)

	req.Username = "mallory"
	assert.False(t, s.Verify(req))
	assert.False(t, NewSigner("other").Verify(s.Sign(TelegramUser{ID: 7}, time.Now())))
}
