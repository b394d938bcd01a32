// Package notifications keeps each user's bounded notification inbox and unread badge.
package notifications

import (
	"context"
	"sync"

	"github.com/librimoms/club-bot/internal/api"
)

// DefaultLimit bounds the inbox.
const DefaultLimit = 50

// Backend persists read marks.
type Backend interface {
	Notifications(ctx context.Context, token string) (*api.NotificationList, error)
	MarkNotificationRead(ctx context.Context, token string, id int64) error
	MarkAllNotificationsRead(ctx context.Context, token string) error
}

// Inbox is newest first and holds at most limit items.
type Inbox struct {
	mu     sync.Mutex
	limit  int
	items  []api.Notification
	unread int
}

func NewInbox(limit int) *Inbox {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Inbox{limit: limit}
}

// Replace loads a server snapshot. The unread count comes from the server.
func (in *Inbox) Replace(list *api.NotificationList) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if list == nil {
		in.items, in.unread = nil, 0
		return
	}
	n := len(list.Notifications)
	if n > in.limit {
		n = in.limit
	}
	in.items = append([]api.Notification(nil), list.Notifications[:n]...)
	in.unread = list.UnreadCount
}

// Add prepends a new notification. Items already present by id are ignored.
func (in *Inbox) Add(n api.Notification) bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	for _, existing := range in.items {
		if existing.ID == n.ID {
			return false
		}
	}

	in.items = append([]api.Notification{n}, in.items...)
	if len(in.items) > in.limit {
		in.items = in.items[:in.limit]
	}
	if !n.IsRead {
		in.unread++
	}
	return true
}

func (in *Inbox) Items() []api.Notification {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]api.Notification(nil), in.items...)
}

func (in *Inbox) Unread() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.unread
}

// Unseen returns unread items in the inbox, newest first.
func (in *Inbox) Unseen() []api.Notification {
	in.mu.Lock()
	defer in.mu.Unlock()

	var out []api.Notification
	for _, n := range in.items {
		if !n.IsRead {
			out = append(out, n)
		}
	}
	return out
}

// markRead flips one item and returns a function restoring it.
func (in *Inbox) markRead(id int64) (changed bool, undo func()) {
	in.mu.Lock()
	defer in.mu.Unlock()

	for i := range in.items {
		if in.items[i].ID != id {
			continue
		}
		if in.items[i].IsRead {
			return false, func() {}
		}
		in.items[i].IsRead = true
		decremented := in.unread > 0
		if decremented {
			in.unread--
		}
		return true, func() {
			in.mu.Lock()
			defer in.mu.Unlock()
			for j := range in.items {
				if in.items[j].ID == id {
					in.items[j].IsRead = false
					if decremented {
						in.unread++
					}
					return
				}
			}
		}
	}
	return false, func() {}
}

// MarkRead marks one notification read: the unread badge drops by exactly one and no other item changes.
// The local change is undone when the backend call fails.
func (in *Inbox) MarkRead(ctx context.Context, backend Backend, token string, id int64) error {
	changed, undo := in.markRead(id)
	if !changed {
		return nil
	}
	if err := backend.MarkNotificationRead(ctx, token, id); err != nil {
		undo()
		return err
	}
	return nil
}

// MarkAllRead sets every item read and the badge to zero once the backend agrees.
func (in *Inbox) MarkAllRead(ctx context.Context, backend Backend, token string) error {
	if err := backend.MarkAllNotificationsRead(ctx, token); err != nil {
		return err
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	for i := range in.items {
		in.items[i].IsRead = true
	}
	in.unread = 0
	return nil
}

// Refresh replaces the inbox from the backend. On failure the inbox is kept as is.
func (in *Inbox) Refresh(ctx context.Context, backend Backend, token string) error {
	list, err := backend.Notifications(ctx, token)
	if err != nil {
		return err
	}
	in.Replace(list)
	return nil
}
