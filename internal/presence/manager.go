package presence

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ManagerOptions are shared by every client the manager starts.
type ManagerOptions struct {
	URL            string
	StartupDelay   time.Duration
	PingInterval   time.Duration
	ReconnectDelay time.Duration
	Dialer         *websocket.Dialer
	// TokenFor returns the current access token of a Telegram user.
	TokenFor func(ctx context.Context, telegramID int64) (string, error)
	Log      *slog.Logger
}

// Manager keeps at most one presence client per Telegram user.
type Manager struct {
	opts ManagerOptions
	log  *slog.Logger

	mu      sync.Mutex
	clients map[int64]*managed
	wg      sync.WaitGroup
}

type managed struct {
	client *Client
	cancel context.CancelFunc
}

func NewManager(opts ManagerOptions) *Manager {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		opts:    opts,
		log:     log,
		clients: make(map[int64]*managed),
	}
}

// Attach returns the user's client for page, replacing a client bound to another page.
// setup runs before the new client connects and is the place to Subscribe.
func (m *Manager) Attach(ctx context.Context, telegramID int64, page Page, setup func(*Client)) *Client {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.clients[telegramID]; ok {
		if cur.client.Page() == page {
			return cur.client
		}
		m.stopLocked(telegramID, cur)
	}

	client := NewClient(Options{
		URL: m.opts.URL,
		Token: func(ctx context.Context) (string, error) {
			if m.opts.TokenFor == nil {
				return "", ErrNoToken
			}
			return m.opts.TokenFor(ctx, telegramID)
		},
		Page:           page,
		StartupDelay:   m.opts.StartupDelay,
		PingInterval:   m.opts.PingInterval,
		ReconnectDelay: m.opts.ReconnectDelay,
		Dialer:         m.opts.Dialer,
		Log:            m.log.With(slog.Int64("telegram_id", telegramID)),
	})
	if setup != nil {
		setup(client)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	entry := &managed{client: client, cancel: cancel}
	m.clients[telegramID] = entry

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		err := client.Run(runCtx)
		if err != nil && !errors.Is(err, ErrNoToken) {
			m.log.Warn("presence client stopped", slog.Int64("telegram_id", telegramID), slog.Any("error", err))
		}

		m.mu.Lock()
		if m.clients[telegramID] == entry {
			delete(m.clients, telegramID)
		}
		m.mu.Unlock()
	}()

	return client
}

// Get returns the running client of a user, if any.
func (m *Manager) Get(telegramID int64) (*Client, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.clients[telegramID]
	if !ok {
		return nil, false
	}
	return cur.client, true
}

// Detach closes the user's client.
func (m *Manager) Detach(telegramID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.clients[telegramID]; ok {
		m.stopLocked(telegramID, cur)
	}
}

// Count returns the number of running clients.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// Shutdown closes every client and waits for their loops to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	for id, cur := range m.clients {
		m.stopLocked(id, cur)
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) stopLocked(telegramID int64, cur *managed) {
	delete(m.clients, telegramID)
	if err := cur.client.Close(); err != nil {
		m.log.Debug("presence close frame not sent", slog.Int64("telegram_id", telegramID), slog.Any("error", err))
	}
	cur.cancel()
}
