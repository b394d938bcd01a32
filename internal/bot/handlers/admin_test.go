package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/librimoms/club-bot/internal/presence"
	"github.com/librimoms/club-bot/internal/testutil"
)

type chatRecorder struct {
	mu    sync.Mutex
	texts []string
}

func (r *chatRecorder) Notify(ctx context.Context, chatID int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return nil
}

func (r *chatRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.texts)
}

// adminPresenceServer sends one admin_action to every admin page connection.
func adminPresenceServer(t *testing.T) string {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if r.URL.Query().Get("page") == string(presence.PageAdmin) {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"admin_action","data":{"admin_name":"Olga","action":"publish"}}`))
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDashboard_LiveFeedSurvivesLibraryVisit(t *testing.T) {
	mgr := presence.NewManager(presence.ManagerOptions{
		URL:            adminPresenceServer(t),
		ReconnectDelay: 50 * time.Millisecond,
		TokenFor: func(ctx context.Context, telegramID int64) (string, error) {
			return "tok", nil
		},
		Log: testLogger(),
	})
	t.Cleanup(func() { _ = mgr.Shutdown(context.Background()) })

	chat := &chatRecorder{}
	h := NewDashboard(nil, mgr, chat, 20, 50, newKeyboard(), testLogger())
	ctx := context.Background()
	c := loggedIn(testutil.NewTextContext(adminID, "/activity"), true)

	first := h.start(ctx, c, adminID)
	require.Eventually(t, func() bool { return chat.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	mgr.Attach(ctx, adminID, presence.PageLibrary, nil)

	again := h.start(ctx, c, adminID)
	assert.Same(t, first, again)
	require.Eventually(t, func() bool { return chat.count() == 2 }, 2*time.Second, 10*time.Millisecond)

	cur, ok := mgr.Get(adminID)
	require.True(t, ok)
	assert.Equal(t, presence.PageAdmin, cur.Page())
	assert.Equal(t, 2, first.tracker.AdminActions.Len())
}

func TestDashboard_StartKeepsRunningClient(t *testing.T) {
	mgr := presence.NewManager(presence.ManagerOptions{
		URL: adminPresenceServer(t),
		TokenFor: func(ctx context.Context, telegramID int64) (string, error) {
			return "tok", nil
		},
		Log: testLogger(),
	})
	t.Cleanup(func() { _ = mgr.Shutdown(context.Background()) })

	chat := &chatRecorder{}
	h := NewDashboard(nil, mgr, chat, 20, 50, newKeyboard(), testLogger())
	c := loggedIn(testutil.NewTextContext(adminID, "/activity"), true)

	feed := h.start(context.Background(), c, adminID)
	bound := feed.client
	require.Eventually(t, func() bool { return chat.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	h.start(context.Background(), c, adminID)
	assert.Same(t, bound, feed.client)

	// A second subscription would relay the next event twice.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, chat.count())
}
