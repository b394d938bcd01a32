package handlers

import (
	"io"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/librimoms/club-bot/internal/bot/keyboard"
	"github.com/librimoms/club-bot/internal/session"
	"github.com/librimoms/club-bot/internal/state"
	"github.com/librimoms/club-bot/internal/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func newFSM(t *testing.T) state.StateMachine {
	t.Helper()

	client := newRedis(t)
	return state.NewStateMachine(state.NewRedisStorage(client, testLogger(), time.Hour), testLogger(), client)
}

func newKeyboard() *keyboard.Builder {
	return keyboard.NewBuilder(testLogger())
}

// loggedIn marks the fake update as coming from an authenticated member.
func loggedIn(c *testutil.FakeContext, admin bool) *testutil.FakeContext {
	SetSession(c, &session.Session{
		TelegramID: c.User.ID,
		Status:     session.StatusAuthenticated,
		Token:      "token-" + c.User.Username,
	}, nil)
	SetAdmin(c, admin)
	return c
}
