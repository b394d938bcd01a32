package activity

import (
	"context"
	"log/slog"

	"github.com/librimoms/club-bot/internal/api"
	"github.com/librimoms/club-bot/internal/presence"
)

// Source loads the recent history when a tracker starts.
type Source interface {
	RecentActivity(ctx context.Context, token string, limit int) ([]api.Activity, error)
	AdminHistory(ctx context.Context, token string, limit int) ([]api.AdminAction, error)
}

// Tracker holds the activity and admin-action feeds of one admin and keeps them fed from presence.
type Tracker struct {
	Activity     *Feed[api.Activity]
	AdminActions *Feed[api.AdminAction]

	log *slog.Logger
	// OnActivity and OnAdminAction are called after an event is recorded.
	OnActivity    func(api.Activity)
	OnAdminAction func(api.AdminAction)
}

func NewTracker(activityLimit, adminActionLimit int, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{
		Activity:     NewFeed[api.Activity](activityLimit),
		AdminActions: NewFeed[api.AdminAction](adminActionLimit),
		log:          log,
	}
}

// Load fills both feeds from REST. Each feed falls back to empty on its own failure.
func (t *Tracker) Load(ctx context.Context, src Source, token string) {
	if items, err := src.RecentActivity(ctx, token, t.Activity.Limit()); err != nil {
		t.log.Warn("recent activity unavailable", slog.Any("error", err))
		t.Activity.Replace(nil)
	} else {
		t.Activity.Replace(items)
	}

	if items, err := src.AdminHistory(ctx, token, t.AdminActions.Limit()); err != nil {
		t.log.Warn("admin history unavailable", slog.Any("error", err))
		t.AdminActions.Replace(nil)
	} else {
		t.AdminActions.Replace(items)
	}
}

// Attach subscribes the tracker to c and returns a function that detaches it.
func (t *Tracker) Attach(c *presence.Client) func() {
	offActivity := c.Subscribe(presence.EventNewActivity, t.handleActivity)
	offAdmin := c.Subscribe(presence.EventAdminAction, t.handleAdminAction)
	return func() {
		offActivity()
		offAdmin()
	}
}

func (t *Tracker) handleActivity(ev presence.Event) {
	var item api.Activity
	if err := ev.Decode(&item); err != nil {
		t.log.Warn("new_activity payload not understood", slog.Any("error", err))
		return
	}
	t.Activity.Push(item)
	if t.OnActivity != nil {
		t.OnActivity(item)
	}
}

func (t *Tracker) handleAdminAction(ev presence.Event) {
	var item api.AdminAction
	if err := ev.Decode(&item); err != nil {
		t.log.Warn("admin_action payload not understood", slog.Any("error", err))
		return
	}
	t.AdminActions.Push(item)
	if t.OnAdminAction != nil {
		t.OnAdminAction(item)
	}
}
