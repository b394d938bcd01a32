package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/librimoms/club-bot/internal/api"
)

// TelegramUser is the part of a Telegram sender the backend needs.
type TelegramUser struct {
	ID        int64
	FirstName string
	LastName  string
	Username  string
	PhotoURL  string
}

// Signer produces login payloads that the backend verifies exactly like Telegram login widget data.
type Signer struct {
	secret []byte
}

// NewSigner derives the widget secret from the bot token.
func NewSigner(botToken string) *Signer {
	sum := sha256.Sum256([]byte(botToken))
	return &Signer{secret: sum[:]}
}

// Sign builds a TelegramAuthRequest dated at authDate.
func (s *Signer) Sign(u TelegramUser, authDate time.Time) api.TelegramAuthRequest {
	req := api.TelegramAuthRequest{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Username:  u.Username,
		PhotoURL:  u.PhotoURL,
		AuthDate:  authDate.Unix(),
	}
	req.Hash = s.hash(fields(req))
	return req
}

// Verify checks a payload signed with the same bot token.
func (s *Signer) Verify(req api.TelegramAuthRequest) bool {
	want := s.hash(fields(req))
	return hmac.Equal([]byte(want), []byte(req.Hash))
}

func (s *Signer) hash(kv map[string]string) string {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+kv[k])
	}

	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(mac.Sum(nil))
}

// fields lists the data-check pairs. Empty optional fields are omitted, as the widget does.
func fields(req api.TelegramAuthRequest) map[string]string {
	kv := map[string]string{
		"id":         strconv.FormatInt(req.ID, 10),
		"auth_date":  strconv.FormatInt(req.AuthDate, 10),
		"first_name": req.FirstName,
	}
	if req.LastName != "" {
		kv["last_name"] = req.LastName
	}
	if req.Username != "" {
		kv["username"] = req.Username
	}
	if req.PhotoURL != "" {
		kv["photo_url"] = req.PhotoURL
	}
	return kv
}
