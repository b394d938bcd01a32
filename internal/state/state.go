package state

import "time"

// State represents a conversation step of the bot.
type State string

const (
	// StateIdle means no multi-step flow is in progress.
	StateIdle State = "idle"

	// StateMaterialEditing means an admin has the material form open.
	StateMaterialEditing State = "material_editing"
	// StateMaterialField means the bot waits for the value of one form field, named by ContextField.
	StateMaterialField State = "material_field"
	// StateMaterialConfirmDiscard means the admin asked to close a dirty form and must confirm.
	StateMaterialConfirmDiscard State = "material_confirm_discard"

	StatePushTitle   State = "push_title"
	StatePushBody    State = "push_body"
	StatePushURL     State = "push_url"
	StatePushTarget  State = "push_target"
	StatePushConfirm State = "push_confirm"

	// StateCategoryName waits for a category name, for creation or rename.
	StateCategoryName State = "category_name"
	// StateUserSearch waits for a free-text user query.
	StateUserSearch State = "user_search"
	// StateWithdrawalReject waits for the rejection reason of a withdrawal.
	StateWithdrawalReject State = "withdrawal_reject"

	// StateError indicates that the flow broke and the user must start over.
	StateError State = "error"
)

// Context keys shared by handlers.
const (
	ContextField        = "field"
	ContextMaterialID   = "material_id"
	ContextCategoryID   = "category_id"
	ContextWithdrawalID = "withdrawal_id"
	ContextPushTitle    = "push_title"
	ContextPushBody     = "push_body"
	ContextPushURL      = "push_url"
	ContextPushTarget   = "push_target"
)

// UserState captures the current conversation state for a Telegram user.
type UserState struct {
	UserID       int64                  `json:"user_id"`
	CurrentState State                  `json:"current_state"`
	Context      map[string]interface{} `json:"context"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// String returns a context value as a string, or "" when missing.
func (s *UserState) String(key string) string {
	if s == nil || s.Context == nil {
		return ""
	}
	v, _ := s.Context[key].(string)
	return v
}

// Int64 returns a numeric context value. JSON round-trips turn numbers into float64.
func (s *UserState) Int64(key string) int64 {
	if s == nil || s.Context == nil {
		return 0
	}
	switch v := s.Context[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}
