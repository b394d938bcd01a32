package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/librimoms/club-bot/pkg/metrics"
)

const writeWait = 5 * time.Second

// ErrNoToken means the client stopped because no auth token is available.
var ErrNoToken = errors.New("presence: no auth token")

// Options configure a Client.
type Options struct {
	// URL is the WebSocket base, e.g. wss://club.example.com. /ws/presence is appended.
	URL string
	// Token is asked before every connect attempt.
	Token          func(ctx context.Context) (string, error)
	Page           Page
	StartupDelay   time.Duration
	PingInterval   time.Duration
	ReconnectDelay time.Duration
	Dialer         *websocket.Dialer
	Log            *slog.Logger
}

// Client is one long-lived presence connection bound to a page.
// Handlers are looked up when an event arrives, so subscriptions made while connected take effect at once.
type Client struct {
	opts Options
	log  *slog.Logger

	mu       sync.RWMutex
	handlers map[string]map[uint64]Handler
	nextID   uint64
	online   []OnlineUser

	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	closed    chan struct{}
	closeOnce sync.Once
}

func NewClient(opts Options) *Client {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 3 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Page == "" {
		opts.Page = PageLibrary
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		opts:     opts,
		log:      log.With(slog.String("component", "presence"), slog.String("page", string(opts.Page))),
		handlers: make(map[string]map[uint64]Handler),
		closed:   make(chan struct{}),
	}
}

// Page returns the page the client reports.
func (c *Client) Page() Page {
	return c.opts.Page
}

// Subscribe registers h for eventType and returns a function that removes it.
func (c *Client) Subscribe(eventType string, h Handler) func() {
	if h == nil {
		return func() {}
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	if c.handlers[eventType] == nil {
		c.handlers[eventType] = make(map[uint64]Handler)
	}
	c.handlers[eventType][id] = h
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.handlers[eventType], id)
			c.mu.Unlock()
		})
	}
}

// Online returns a copy of the last roster received.
func (c *Client) Online() []OnlineUser {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]OnlineUser, len(c.online))
	copy(out, c.online)
	return out
}

// Connected reports whether a socket is currently open.
func (c *Client) Connected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn != nil
}

// Run connects after the startup delay and keeps the connection alive until ctx ends,
// Close is called, the server closes normally or the user has no token. Any other close,
// and any failed token lookup, retries after ReconnectDelay.
func (c *Client) Run(ctx context.Context) error {
	if !c.wait(ctx, c.opts.StartupDelay) {
		return nil
	}

	for {
		token, err := c.token(ctx)
		if errors.Is(err, ErrNoToken) {
			c.log.Info("presence not started", slog.Any("error", err))
			return err
		}
		if err != nil {
			// The token store may be briefly unreachable; the user is still logged in.
			c.log.Warn("presence token lookup failed, retrying",
				slog.Any("error", err),
				slog.Duration("delay", c.opts.ReconnectDelay))
			if !c.wait(ctx, c.opts.ReconnectDelay) {
				return nil
			}
			continue
		}

		code, err := c.session(ctx, token)
		if c.stopped(ctx) {
			return nil
		}
		if code == websocket.CloseNormalClosure {
			c.log.Info("presence closed normally")
			return nil
		}

		c.log.Warn("presence disconnected, reconnecting",
			slog.Int("close_code", code),
			slog.Any("error", err),
			slog.Duration("delay", c.opts.ReconnectDelay))
		metrics.RecordPresenceReconnect(string(c.opts.Page))

		if !c.wait(ctx, c.opts.ReconnectDelay) {
			return nil
		}
	}
}

// Close sends a normal closure frame and stops Run.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn == nil {
			return
		}

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.writeMu.Lock()
		err = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		c.writeMu.Unlock()
		// The read loop ends when the server echoes the close or when the socket is torn down.
		_ = conn.Close()
	})
	return err
}

func (c *Client) token(ctx context.Context) (string, error) {
	if c.opts.Token == nil {
		return "", ErrNoToken
	}
	token, err := c.opts.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("presence token: %w", err)
	}
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// session runs one connection and returns its close code, or -1 when there was no close frame.
func (c *Client) session(ctx context.Context, token string) (int, error) {
	endpoint, err := c.endpoint(token)
	if err != nil {
		return -1, err
	}

	conn, _, err := c.opts.Dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return -1, fmt.Errorf("dial presence: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	if c.stopped(ctx) {
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		_ = conn.Close()
		return websocket.CloseNormalClosure, nil
	}
	c.log.Debug("presence connected")

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.keepAlive(ctx, conn, done)
	}()

	code, readErr := c.readLoop(conn)

	close(done)
	wg.Wait()

	c.connMu.Lock()
	c.conn = nil
	c.connMu.Unlock()
	_ = conn.Close()

	return code, readErr
}

func (c *Client) readLoop(conn *websocket.Conn) (int, error) {
	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return closeErr.Code, err
			}
			return -1, err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if strings.TrimSpace(string(payload)) == pongFrame {
			continue
		}

		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			c.log.Warn("presence message not understood", slog.Any("error", err))
			continue
		}
		c.dispatch(ev)
	}
}

// keepAlive sends a text "ping" every PingInterval and tears the socket down when ctx ends.
func (c *Client) keepAlive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = conn.Close()
			return
		case <-ticker.C:
			c.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.TextMessage, []byte(pingFrame))
			c.writeMu.Unlock()
			if err != nil {
				c.log.Warn("presence ping failed", slog.Any("error", err))
			}
		}
	}
}

func (c *Client) dispatch(ev Event) {
	metrics.RecordPresenceEvent(ev.Type)

	if ev.Type == EventOnlineUsers {
		users, err := decodeRoster(ev.Data)
		if err != nil {
			c.log.Warn("online roster not understood", slog.Any("error", err))
		} else {
			c.mu.Lock()
			c.online = users
			c.mu.Unlock()
			metrics.SetPresenceOnline(string(c.opts.Page), len(users))
		}
	}

	c.mu.RLock()
	handlers := make([]Handler, 0, len(c.handlers[ev.Type]))
	for _, h := range c.handlers[ev.Type] {
		handlers = append(handlers, h)
	}
	c.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

func (c *Client) endpoint(token string) (string, error) {
	u, err := url.Parse(strings.TrimRight(c.opts.URL, "/") + "/ws/presence")
	if err != nil {
		return "", fmt.Errorf("parse presence url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	q := u.Query()
	q.Set("token", token)
	q.Set("page", string(c.opts.Page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) stopped(ctx context.Context) bool {
	select {
	case <-c.closed:
		return true
	default:
		return ctx.Err() != nil
	}
}

func (c *Client) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return !c.stopped(ctx)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-c.closed:
		return false
	case <-timer.C:
		return true
	}
}
