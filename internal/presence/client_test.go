package presence

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsServer struct {
	url   string
	conns atomic.Int32
}

// newWSServer runs handle for every connection. n is the 1-based connection number.
func newWSServer(t *testing.T, handle func(n int, conn *websocket.Conn, r *http.Request)) *wsServer {
	t.Helper()

	s := &wsServer{}
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(int(s.conns.Add(1)), conn, r)
	}))
	t.Cleanup(srv.Close)

	s.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return s
}

func staticToken(token string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return token, nil }
}

func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestClient_DispatchesEventsAndRoster(t *testing.T) {
	srv := newWSServer(t, func(n int, conn *websocket.Conn, r *http.Request) {
		assert.Equal(t, "/ws/presence", r.URL.Path)
		assert.Equal(t, "tok", r.URL.Query().Get("token"))
		assert.Equal(t, "admin", r.URL.Query().Get("page"))

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"online_users","data":[{"telegram_id":1},{"telegram_id":2}]}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"new_activity","data":{"type":"view","material_title":"Sleep"}}`))
		drain(conn)
	})

	c := NewClient(Options{URL: srv.url, Token: staticToken("tok"), Page: PageAdmin, Log: quietLog()})

	got := make(chan Event, 1)
	c.Subscribe(EventNewActivity, func(ev Event) { got <- ev })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	select {
	case ev := <-got:
		var data struct {
			MaterialTitle string `json:"material_title"`
		}
		require.NoError(t, ev.Decode(&data))
		assert.Equal(t, "Sleep", data.MaterialTitle)
	case <-time.After(2 * time.Second):
		t.Fatal("new_activity not delivered")
	}

	assert.Len(t, c.Online(), 2)
}

func TestClient_RosterReplacedNotMerged(t *testing.T) {
	srv := newWSServer(t, func(n int, conn *websocket.Conn, r *http.Request) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"online_users","data":{"users":[{"telegram_id":1},{"telegram_id":2},{"telegram_id":3}]}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"online_users","data":[{"telegram_id":9}]}`))
		drain(conn)
	})

	c := NewClient(Options{URL: srv.url, Token: staticToken("tok"), Log: quietLog()})
	var rosters atomic.Int32
	c.Subscribe(EventOnlineUsers, func(Event) { rosters.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	require.Eventually(t, func() bool { return rosters.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	online := c.Online()
	require.Len(t, online, 1)
	assert.Equal(t, int64(9), online[0].TelegramID)
}

func TestClient_SendsTextPingAndIgnoresPong(t *testing.T) {
	pings := make(chan string, 4)
	srv := newWSServer(t, func(n int, conn *websocket.Conn, r *http.Request) {
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.TextMessage {
				pings <- string(msg)
				_ = conn.WriteMessage(websocket.TextMessage, []byte("pong"))
			}
		}
	})

	c := NewClient(Options{URL: srv.url, Token: staticToken("tok"), PingInterval: 20 * time.Millisecond, Log: quietLog()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case msg := <-pings:
			assert.Equal(t, "ping", msg)
		case <-time.After(2 * time.Second):
			t.Fatal("no ping received")
		}
	}
}

func TestClient_ReconnectsAfterAbnormalClose(t *testing.T) {
	srv := newWSServer(t, func(n int, conn *websocket.Conn, r *http.Request) {
		if n == 1 {
			msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "restart")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}
		drain(conn)
	})

	c := NewClient(Options{URL: srv.url, Token: staticToken("tok"), ReconnectDelay: 10 * time.Millisecond, Log: quietLog()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	require.Eventually(t, func() bool { return srv.conns.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestClient_StopsAfterNormalClose(t *testing.T) {
	srv := newWSServer(t, func(n int, conn *websocket.Conn, r *http.Request) {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		drain(conn)
	})

	c := NewClient(Options{URL: srv.url, Token: staticToken("tok"), ReconnectDelay: 10 * time.Millisecond, Log: quietLog()})

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after normal close")
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), srv.conns.Load())
}

func TestClient_CloseSendsNormalClosure(t *testing.T) {
	codes := make(chan int, 1)
	srv := newWSServer(t, func(n int, conn *websocket.Conn, r *http.Request) {
		_, _, err := conn.ReadMessage()
		if ce, ok := err.(*websocket.CloseError); ok {
			codes <- ce.Code
		}
	})

	c := NewClient(Options{URL: srv.url, Token: staticToken("tok"), Log: quietLog()})
	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	require.Eventually(t, c.Connected, 2*time.Second, 5*time.Millisecond)
	_ = c.Close()

	select {
	case code := <-codes:
		assert.Equal(t, websocket.CloseNormalClosure, code)
	case <-time.After(2 * time.Second):
		t.Fatal("server saw no close frame")
	}
	assert.NoError(t, <-done)
}

func TestClient_NoTokenNoConnection(t *testing.T) {
	srv := newWSServer(t, func(n int, conn *websocket.Conn, r *http.Request) {})

	c := NewClient(Options{URL: srv.url, Token: staticToken(""), Log: quietLog()})
	err := c.Run(context.Background())

	assert.ErrorIs(t, err, ErrNoToken)
	assert.Equal(t, int32(0), srv.conns.Load())
}

func TestClient_RetriesFailedTokenLookup(t *testing.T) {
	srv := newWSServer(t, func(n int, conn *websocket.Conn, r *http.Request) {
		assert.Equal(t, "tok", r.URL.Query().Get("token"))
		drain(conn)
	})

	var calls atomic.Int32
	token := func(context.Context) (string, error) {
		if calls.Add(1) == 1 {
			return "", errors.New("redis: connection refused")
		}
		return "tok", nil
	}

	c := NewClient(Options{URL: srv.url, Token: token, ReconnectDelay: 10 * time.Millisecond, Log: quietLog()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return c.Connected() && srv.conns.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestClient_StartupDelayHonoursCancel(t *testing.T) {
	srv := newWSServer(t, func(n int, conn *websocket.Conn, r *http.Request) {})
	c := NewClient(Options{URL: srv.url, Token: staticToken("tok"), StartupDelay: time.Hour, Log: quietLog()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, c.Run(ctx))
	assert.Equal(t, int32(0), srv.conns.Load())
}

func TestClient_UnsubscribeStopsDelivery(t *testing.T) {
	c := NewClient(Options{Log: quietLog()})

	var mu sync.Mutex
	var calls int
	unsubscribe := c.Subscribe(EventAdminAction, func(Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	c.dispatch(Event{Type: EventAdminAction})
	unsubscribe()
	unsubscribe()
	c.dispatch(Event{Type: EventAdminAction})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestManager_SwitchingPageReplacesClient(t *testing.T) {
	pages := make(chan string, 4)
	srv := newWSServer(t, func(n int, conn *websocket.Conn, r *http.Request) {
		pages <- r.URL.Query().Get("page")
		drain(conn)
	})

	m := NewManager(ManagerOptions{
		URL:      srv.url,
		TokenFor: func(context.Context, int64) (string, error) { return "tok", nil },
		Log:      quietLog(),
	})
	ctx := context.Background()

	lib := m.Attach(ctx, 7, PageLibrary, nil)
	assert.Same(t, lib, m.Attach(ctx, 7, PageLibrary, nil))
	assert.Equal(t, "library", <-pages)

	admin := m.Attach(ctx, 7, PageAdmin, nil)
	assert.NotSame(t, lib, admin)
	assert.Equal(t, "admin", <-pages)

	got, ok := m.Get(7)
	require.True(t, ok)
	assert.Same(t, admin, got)

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(shutdownCtx))
	assert.Equal(t, 0, m.Count())
}
