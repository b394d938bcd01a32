package push

import (
	"encoding/json"
	"fmt"
)

// Message is the JSON payload the backend pushes.
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Icon  string `json:"icon,omitempty"`
}

func ParseMessage(plain []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(plain, &m); err != nil {
		// Some senders push plain text.
		if len(plain) > 0 && plain[0] != '{' {
			return &Message{Body: string(plain)}, nil
		}
		return nil, fmt.Errorf("decode push message: %w", err)
	}
	return &m, nil
}
