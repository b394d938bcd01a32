// Package presence maintains the WebSocket presence channel to the club backend.
package presence

import (
	"encoding/json"
	"time"
)

// Page is the surface a connection reports presence for.
type Page string

const (
	PageLibrary Page = "library"
	PageAdmin   Page = "admin"
)

// Event types sent by the server.
const (
	EventOnlineUsers = "online_users"
	EventNewActivity = "new_activity"
	EventAdminAction = "admin_action"
)

const (
	pingFrame = "ping"
	pongFrame = "pong"
)

// Event is the {type, data} envelope of every server message.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Decode unmarshals Data into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

type OnlineUser struct {
	UserID      int64     `json:"user_id"`
	TelegramID  int64     `json:"telegram_id"`
	FirstName   string    `json:"first_name"`
	Username    string    `json:"username"`
	Page        string    `json:"page"`
	ConnectedAt time.Time `json:"connected_at"`
}

// decodeRoster accepts both a bare array and {"users": [...]}.
func decodeRoster(data json.RawMessage) ([]OnlineUser, error) {
	var users []OnlineUser
	if err := json.Unmarshal(data, &users); err == nil {
		return users, nil
	}

	var wrapped struct {
		Users []OnlineUser `json:"users"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Users, nil
}

// Handler receives events of one type.
type Handler func(Event)
