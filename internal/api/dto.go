package api

import "time"

// Material is a library item.
type Material struct {
	ID             int64      `json:"id" validate:"required"`
	Title          string     `json:"title" validate:"required"`
	Description    string     `json:"description"`
	ExternalURL    string     `json:"external_url"`
	Content        string     `json:"content"`
	CategoryIDs    []int64    `json:"category_ids"`
	Categories     []Category `json:"categories" validate:"dive"`
	CoverImage     string     `json:"cover_image"`
	CoverURL       string     `json:"cover_url"`
	Format         string     `json:"format"`
	IsPublished    bool       `json:"is_published"`
	IsFeatured     bool       `json:"is_featured"`
	Views          int        `json:"views" validate:"gte=0"`
	FavoritesCount int        `json:"favorites_count" validate:"gte=0"`
	IsFavorite     bool       `json:"is_favorite"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Cover returns whichever cover reference the backend filled.
func (m Material) Cover() string {
	if m.CoverURL != "" {
		return m.CoverURL
	}
	return m.CoverImage
}

// CategoryNames returns the names of embedded categories.
func (m Material) CategoryNames() []string {
	names := make([]string, 0, len(m.Categories))
	for _, c := range m.Categories {
		names = append(names, c.Name)
	}
	return names
}

type Category struct {
	ID             int64  `json:"id" validate:"required"`
	Name           string `json:"name" validate:"required"`
	Slug           string `json:"slug"`
	Icon           string `json:"icon"`
	Description    string `json:"description"`
	MaterialsCount int    `json:"materials_count"`
}

// MaterialPage is one page of /materials.
type MaterialPage struct {
	Items    []Material `json:"items" validate:"dive"`
	Total    int        `json:"total" validate:"gte=0"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
}

// MaterialQuery filters /materials.
type MaterialQuery struct {
	Page       int
	PageSize   int
	CategoryID int64
	Search     string
	Featured   bool
}

type HistoryEntry struct {
	Material Material  `json:"material"`
	ViewedAt time.Time `json:"viewed_at"`
}

type FavoriteResult struct {
	IsFavorite     bool `json:"is_favorite"`
	FavoritesCount int  `json:"favorites_count" validate:"gte=0"`
}

type UserStats struct {
	MaterialsViewed int `json:"materials_viewed" validate:"gte=0"`
	FavoritesCount  int `json:"favorites_count" validate:"gte=0"`
	DaysInClub      int `json:"days_in_club"`
	Streak          int `json:"streak"`
}

// MaterialInput is the create/update payload. Its tags are checked before submission.
type MaterialInput struct {
	Title       string  `json:"title" validate:"required"`
	Description string  `json:"description"`
	ExternalURL string  `json:"external_url" validate:"required,startswith=http"`
	Content     string  `json:"content"`
	CategoryIDs []int64 `json:"category_ids" validate:"min=1"`
	CoverImage  string  `json:"cover_image" validate:"required"`
	Format      string  `json:"format"`
	IsPublished bool    `json:"is_published"`
	IsFeatured  bool    `json:"is_featured"`
}

type CategoryInput struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Icon        string `json:"icon,omitempty"`
	Description string `json:"description,omitempty"`
}

// Me is the authenticated user as returned by /auth/me.
type Me struct {
	ID              int64     `json:"id"`
	TelegramID      int64     `json:"telegram_id" validate:"required"`
	FirstName       string    `json:"first_name"`
	LastName        string    `json:"last_name"`
	Username        string    `json:"username"`
	PhotoURL        string    `json:"photo_url"`
	IsAdmin         bool      `json:"is_admin"`
	LoyaltyLevel    string    `json:"loyalty_level"`
	FavoritesCount  int       `json:"favorites_count"`
	MaterialsViewed int       `json:"materials_viewed"`
	CreatedAt       time.Time `json:"created_at"`
}

type SubscriptionStatus struct {
	IsActive    bool       `json:"is_active"`
	Plan        string     `json:"plan"`
	ExpiresAt   *time.Time `json:"expires_at"`
	DaysLeft    int        `json:"days_left" validate:"gte=0"`
	AutoRenewal bool       `json:"auto_renewal"`
}

// TelegramAuthRequest mirrors the Telegram login widget payload.
type TelegramAuthRequest struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
	PhotoURL  string `json:"photo_url,omitempty"`
	AuthDate  int64  `json:"auth_date"`
	Hash      string `json:"hash"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token" validate:"required"`
	TokenType   string `json:"token_type"`
	User        *Me    `json:"user"`
}

type Loyalty struct {
	Level     string   `json:"level"`
	Points    int      `json:"points" validate:"gte=0"`
	NextLevel string   `json:"next_level"`
	Progress  int      `json:"progress" validate:"gte=0,lte=100"`
	Benefits  []string `json:"benefits"`
}

type Referral struct {
	Code         string  `json:"code"`
	Link         string  `json:"link"`
	InvitedCount int     `json:"invited_count"`
	Earned       float64 `json:"earned"`
	Balance      float64 `json:"balance"`
}

type Payment struct {
	ID          string    `json:"id" validate:"required"`
	Amount      float64   `json:"amount"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

type Settings struct {
	NotificationsEnabled bool   `json:"notifications_enabled"`
	Language             string `json:"language"`
}

type CreatePaymentRequest struct {
	Plan        string `json:"plan"`
	AutoRenewal bool   `json:"auto_renewal"`
	ReturnURL   string `json:"return_url,omitempty"`
}

// CreatePaymentResponse carries the YooKassa confirmation page.
type CreatePaymentResponse struct {
	PaymentID       string `json:"payment_id"`
	ConfirmationURL string `json:"confirmation_url" validate:"required,url"`
}

type Notification struct {
	ID         int64     `json:"id" validate:"required"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	Type       string    `json:"type"`
	IsRead     bool      `json:"is_read"`
	MaterialID *int64    `json:"material_id"`
	CreatedAt  time.Time `json:"created_at"`
}

type NotificationList struct {
	Notifications []Notification `json:"notifications" validate:"dive"`
	UnreadCount   int            `json:"unread_count" validate:"gte=0"`
}

// Activity is a user-side event such as a view or a new favorite.
type Activity struct {
	ID            int64     `json:"id"`
	Type          string    `json:"type" validate:"required"`
	UserID        int64     `json:"user_id"`
	UserName      string    `json:"user_name"`
	MaterialID    int64     `json:"material_id"`
	MaterialTitle string    `json:"material_title"`
	Message       string    `json:"message"`
	CreatedAt     time.Time `json:"created_at"`
}

type AdminAction struct {
	ID         int64     `json:"id"`
	AdminID    int64     `json:"admin_id"`
	AdminName  string    `json:"admin_name"`
	Action     string    `json:"action" validate:"required"`
	TargetType string    `json:"target_type"`
	TargetID   int64     `json:"target_id"`
	Details    string    `json:"details"`
	CreatedAt  time.Time `json:"created_at"`
}

type AdminStats struct {
	TotalUsers          int     `json:"total_users"`
	ActiveSubscriptions int     `json:"active_subscriptions"`
	TotalMaterials      int     `json:"total_materials"`
	NewUsersToday       int     `json:"new_users_today"`
	RevenueMonth        float64 `json:"revenue_month"`
}

type BotStats struct {
	TotalUsers    int `json:"total_users"`
	ActiveToday   int `json:"active_today"`
	ActiveWeek    int `json:"active_week"`
	BlockedBot    int `json:"blocked_bot"`
	MessagesToday int `json:"messages_today"`
}

type AdminSubscription struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"user_id"`
	TelegramID  int64      `json:"telegram_id"`
	Username    string     `json:"username"`
	Plan        string     `json:"plan"`
	Status      string     `json:"status"`
	ExpiresAt   *time.Time `json:"expires_at"`
	AutoRenewal bool       `json:"auto_renewal"`
}

type Withdrawal struct {
	ID         int64     `json:"id" validate:"required"`
	UserID     int64     `json:"user_id"`
	TelegramID int64     `json:"telegram_id"`
	Username   string    `json:"username"`
	Amount     float64   `json:"amount" validate:"gte=0"`
	Method     string    `json:"method"`
	Details    string    `json:"details"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

type RejectWithdrawalRequest struct {
	Reason string `json:"reason"`
}

type UserSummary struct {
	ID              int64  `json:"id"`
	TelegramID      int64  `json:"telegram_id" validate:"required"`
	FirstName       string `json:"first_name"`
	Username        string `json:"username"`
	HasSubscription bool   `json:"has_subscription"`
	PushSubscribed  bool   `json:"push_subscribed"`
}

// PushKeys are the browser-generated subscription keys, base64url encoded.
type PushKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

type PushSubscription struct {
	Endpoint       string   `json:"endpoint"`
	ExpirationTime *int64   `json:"expirationTime"`
	Keys           PushKeys `json:"keys"`
}

type PushUnsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

type PushSubscribers struct {
	Total int           `json:"total" validate:"gte=0"`
	Users []UserSummary `json:"users" validate:"dive"`
}

type PushUsersStats struct {
	TotalUsers   int `json:"total_users"`
	Subscribed   int `json:"subscribed"`
	Unsubscribed int `json:"unsubscribed"`
}

type PushAnalytics struct {
	Sent      int `json:"sent"`
	Delivered int `json:"delivered"`
	Clicked   int `json:"clicked"`
	Failed    int `json:"failed"`
}

type BroadcastRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
}

type SendToUserRequest struct {
	TelegramID int64  `json:"telegram_id"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	URL        string `json:"url,omitempty"`
}

type PushResult struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

type UserDetails struct {
	User          UserSummary         `json:"user"`
	Subscription  *SubscriptionStatus `json:"subscription"`
	Subscriptions []PushSubscription  `json:"push_subscriptions"`
	LastActiveAt  *time.Time          `json:"last_active_at"`
}
