package testutil

import (
	"strings"
	"sync"

	telebot "gopkg.in/telebot.v3"
)

// Sent is one outgoing call recorded by FakeContext.
type Sent struct {
	What any
	Opts []any
}

// Text returns the message text when What is a string.
func (s Sent) Text() string {
	text, _ := s.What.(string)
	return text
}

// Markup returns the first reply markup among the options.
func (s Sent) Markup() *telebot.ReplyMarkup {
	for _, opt := range s.Opts {
		if m, ok := opt.(*telebot.ReplyMarkup); ok {
			return m
		}
	}
	return nil
}

// FakeContext implements the parts of telebot.Context the handlers use.
// Calling any other method panics through the nil embedded interface.
type FakeContext struct {
	telebot.Context

	User     *telebot.User
	ChatInfo *telebot.Chat
	Msg      *telebot.Message
	Cb       *telebot.Callback
	UpdateID int

	mu        sync.Mutex
	store     map[string]any
	Sends     []Sent
	Edits     []Sent
	Responses []*telebot.CallbackResponse
	SendErr   error
	out       []Sent
}

// NewTextContext builds a context for a private text message.
func NewTextContext(userID int64, text string) *FakeContext {
	user := &telebot.User{ID: userID, FirstName: "Anna", LanguageCode: "ru"}
	chat := &telebot.Chat{ID: userID, Type: telebot.ChatPrivate}
	return &FakeContext{
		User:     user,
		ChatInfo: chat,
		Msg:      &telebot.Message{ID: 1, Sender: user, Chat: chat, Text: text},
	}
}

// NewCallbackContext builds a context for an inline button press.
func NewCallbackContext(userID int64, data string) *FakeContext {
	c := NewTextContext(userID, "")
	c.Cb = &telebot.Callback{ID: "cb-1", Sender: c.User, Message: c.Msg, Data: data}
	return c
}

func (f *FakeContext) Sender() *telebot.User { return f.User }

func (f *FakeContext) Chat() *telebot.Chat { return f.ChatInfo }

func (f *FakeContext) Callback() *telebot.Callback { return f.Cb }

func (f *FakeContext) Message() *telebot.Message {
	if f.Cb != nil && f.Cb.Message != nil {
		return f.Cb.Message
	}
	return f.Msg
}

func (f *FakeContext) Update() telebot.Update {
	return telebot.Update{ID: f.UpdateID, Message: f.Msg, Callback: f.Cb}
}

func (f *FakeContext) Text() string {
	if f.Msg == nil {
		return ""
	}
	if f.Msg.Caption != "" {
		return f.Msg.Caption
	}
	return f.Msg.Text
}

func (f *FakeContext) Data() string {
	if f.Cb != nil {
		return f.Cb.Data
	}
	return ""
}

func (f *FakeContext) Args() []string {
	return strings.Fields(f.Data())
}

func (f *FakeContext) Send(what any, opts ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sends = append(f.Sends, Sent{What: what, Opts: opts})
	f.out = append(f.out, Sent{What: what, Opts: opts})
	return f.SendErr
}

func (f *FakeContext) Edit(what any, opts ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Edits = append(f.Edits, Sent{What: what, Opts: opts})
	f.out = append(f.out, Sent{What: what, Opts: opts})
	return nil
}

func (f *FakeContext) EditOrSend(what any, opts ...any) error {
	if f.Cb != nil {
		return f.Edit(what, opts...)
	}
	return f.Send(what, opts...)
}

func (f *FakeContext) Respond(resp ...*telebot.CallbackResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(resp) == 0 {
		resp = []*telebot.CallbackResponse{{}}
	}
	f.Responses = append(f.Responses, resp...)
	return nil
}

func (f *FakeContext) Get(key string) any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.store[key]
}

func (f *FakeContext) Set(key string, val any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.store == nil {
		f.store = make(map[string]any)
	}
	f.store[key] = val
}

// LastSent returns the most recent Send or Edit.
func (f *FakeContext) LastSent() Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.out) == 0 {
		return Sent{}
	}
	return f.out[len(f.out)-1]
}
