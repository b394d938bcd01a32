// Package session tracks who each Telegram user is on the club backend.
package session

import (
	"time"

	"github.com/librimoms/club-bot/internal/api"
)

// Status is a step of the session lifecycle.
type Status string

const (
	StatusAnonymous      Status = "anonymous"
	StatusAuthenticating Status = "authenticating"
	StatusAuthenticated  Status = "authenticated"
	StatusExpired        Status = "expired"
)

// Profile is the merged client view of /auth/me and /auth/check-subscription.
type Profile struct {
	TelegramID           int64      `json:"telegram_id"`
	FirstName            string     `json:"first_name"`
	Username             string     `json:"username"`
	PhotoURL             string     `json:"photo_url"`
	IsAdmin              bool       `json:"is_admin"`
	SubscriptionActive   bool       `json:"subscription_active"`
	SubscriptionDaysLeft int        `json:"subscription_days_left"`
	SubscriptionPlan     string     `json:"subscription_plan"`
	SubscriptionExpires  *time.Time `json:"subscription_expires"`
	AutoRenewal          bool       `json:"auto_renewal"`
	LoyaltyLevel         string     `json:"loyalty_level"`
	Favorites            int        `json:"favorites"`
	MaterialsViewed      int        `json:"materials_viewed"`
}

// Session is the state of one Telegram user.
type Session struct {
	TelegramID int64
	Status     Status
	Token      string
	Profile    *Profile
	ExpiresAt  time.Time
}

// Authenticated reports whether Token can be used for API calls.
func (s *Session) Authenticated() bool {
	return s != nil && s.Status == StatusAuthenticated && s.Token != ""
}

// HasSubscription reports an active subscription on the cached profile.
func (s *Session) HasSubscription() bool {
	return s != nil && s.Profile != nil && s.Profile.SubscriptionActive
}

func buildProfile(me *api.Me, sub *api.SubscriptionStatus) *Profile {
	p := &Profile{
		TelegramID:      me.TelegramID,
		FirstName:       me.FirstName,
		Username:        me.Username,
		PhotoURL:        me.PhotoURL,
		IsAdmin:         me.IsAdmin,
		LoyaltyLevel:    me.LoyaltyLevel,
		Favorites:       me.FavoritesCount,
		MaterialsViewed: me.MaterialsViewed,
	}
	if sub != nil {
		p.SubscriptionActive = sub.IsActive
		p.SubscriptionDaysLeft = sub.DaysLeft
		p.SubscriptionPlan = sub.Plan
		p.SubscriptionExpires = sub.ExpiresAt
		p.AutoRenewal = sub.AutoRenewal
	}
	return p
}
