package notifications

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/librimoms/club-bot/internal/api"
)

type fakeBackend struct {
	list    *api.NotificationList
	readErr error
	allErr  error
	readIDs []int64
}

func (f *fakeBackend) Notifications(ctx context.Context, token string) (*api.NotificationList, error) {
	return f.list, nil
}

func (f *fakeBackend) MarkNotificationRead(ctx context.Context, token string, id int64) error {
	f.readIDs = append(f.readIDs, id)
	return f.readErr
}

func (f *fakeBackend) MarkAllNotificationsRead(ctx context.Context, token string) error {
	return f.allErr
}

func seeded() *Inbox {
	in := NewInbox(50)
	in.Replace(&api.NotificationList{
		Notifications: []api.Notification{{ID: 3}, {ID: 2}, {ID: 1, IsRead: true}},
		UnreadCount:   2,
	})
	return in
}

func TestMarkRead_DecrementsByExactlyOne(t *testing.T) {
	in := seeded()
	backend := &fakeBackend{}

	require.NoError(t, in.MarkRead(context.Background(), backend, "tok", 2))

	assert.Equal(t, 1, in.Unread())
	items := in.Items()
	assert.False(t, items[0].IsRead)
	assert.True(t, items[1].IsRead)
	assert.True(t, items[2].IsRead)
	assert.Equal(t, []int64{2}, backend.readIDs)
}

func TestMarkRead_AlreadyReadIsNoop(t *testing.T) {
	in := seeded()
	backend := &fakeBackend{}

	require.NoError(t, in.MarkRead(context.Background(), backend, "tok", 1))
	assert.Equal(t, 2, in.Unread())
	assert.Empty(t, backend.readIDs)
}

func TestMarkRead_RevertsOnFailure(t *testing.T) {
	in := seeded()

	err := in.MarkRead(context.Background(), &fakeBackend{readErr: errors.New("down")}, "tok", 3)
	require.Error(t, err)
	assert.Equal(t, 2, in.Unread())
	assert.False(t, in.Items()[0].IsRead)
}

func TestMarkRead_FailureWithZeroBadgeStaysZero(t *testing.T) {
	in := NewInbox(50)
	// The server snapshot can report zero unread while an item is still unread locally.
	in.Replace(&api.NotificationList{
		Notifications: []api.Notification{{ID: 9}},
		UnreadCount:   0,
	})

	err := in.MarkRead(context.Background(), &fakeBackend{readErr: errors.New("down")}, "tok", 9)
	require.Error(t, err)
	assert.Zero(t, in.Unread())
	assert.False(t, in.Items()[0].IsRead)
}

func TestMarkAllRead(t *testing.T) {
	in := seeded()

	require.NoError(t, in.MarkAllRead(context.Background(), &fakeBackend{}, "tok"))
	assert.Zero(t, in.Unread())
	for _, n := range in.Items() {
		assert.True(t, n.IsRead)
	}
}

func TestMarkAllRead_FailureKeepsState(t *testing.T) {
	in := seeded()

	require.Error(t, in.MarkAllRead(context.Background(), &fakeBackend{allErr: errors.New("down")}, "tok"))
	assert.Equal(t, 2, in.Unread())
}

func TestAdd_BoundedAndDeduplicated(t *testing.T) {
	in := NewInbox(2)
	assert.True(t, in.Add(api.Notification{ID: 1}))
	assert.True(t, in.Add(api.Notification{ID: 2}))
	assert.False(t, in.Add(api.Notification{ID: 2}))
	assert.True(t, in.Add(api.Notification{ID: 3}))

	items := in.Items()
	require.Len(t, items, 2)
	assert.Equal(t, int64(3), items[0].ID)
	assert.Equal(t, 3, in.Unread())
	assert.Len(t, in.Unseen(), 2)
}

func TestRegistry_OneInboxPerUser(t *testing.T) {
	r := NewRegistry(10)
	assert.Same(t, r.For(1), r.For(1))
	assert.NotSame(t, r.For(1), r.For(2))
}
