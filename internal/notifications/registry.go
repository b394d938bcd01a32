package notifications

import "sync"

// Registry hands out one Inbox per Telegram user.
type Registry struct {
	limit int

	mu      sync.Mutex
	inboxes map[int64]*Inbox
}

func NewRegistry(limit int) *Registry {
	return &Registry{limit: limit, inboxes: make(map[int64]*Inbox)}
}

func (r *Registry) For(telegramID int64) *Inbox {
	r.mu.Lock()
	defer r.mu.Unlock()

	in, ok := r.inboxes[telegramID]
	if !ok {
		in = NewInbox(r.limit)
		r.inboxes[telegramID] = in
	}
	return in
}

func (r *Registry) Forget(telegramID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inboxes, telegramID)
}
