package handlers

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/hibiken/asynq"
	telebot "gopkg.in/telebot.v3"

	"github.com/librimoms/club-bot/internal/admin"
	"github.com/librimoms/club-bot/internal/api"
	"github.com/librimoms/club-bot/internal/bot/keyboard"
	apperrors "github.com/librimoms/club-bot/internal/errors"
	"github.com/librimoms/club-bot/internal/jobs"
	"github.com/librimoms/club-bot/internal/ratelimit"
	"github.com/librimoms/club-bot/internal/state"
)

// skipInput leaves an optional wizard step empty.
const skipInput = "-"

// TaskQueue is implemented by jobs.Manager.
type TaskQueue interface {
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// PushSender delivers right away when no queue is configured. *admin.Broadcaster implements it.
type PushSender interface {
	Send(ctx context.Context, token string, msg admin.PushMessage) (*api.PushResult, error)
}

// PushWizard collects title, body, link and target of a push, then queues the delivery.
type PushWizard struct {
	fsm    state.StateMachine
	queue  TaskQueue
	sender PushSender
	limits ActionLimiter
	kb     *keyboard.Builder
	log    *slog.Logger
}

func NewPushWizard(fsm state.StateMachine, queue TaskQueue, sender PushSender, limits ActionLimiter, kb *keyboard.Builder, log *slog.Logger) *PushWizard {
	if log == nil {
		log = slog.Default()
	}
	return &PushWizard{fsm: fsm, queue: queue, sender: sender, limits: limits, kb: kb, log: log}
}

// Start begins a new push. It also restarts the wizard from the preview.
func (h *PushWizard) Start(c telebot.Context) error {
	if err := h.fsm.SetState(Context(c), senderID(c), state.StatePushTitle, nil); err != nil {
		return err
	}
	tr := Translator(c)
	return show(c, tr.T("admin.push.prompt_title"), h.kb.Cancel(tr))
}

// Input handles the text sent at each wizard step.
func (h *PushWizard) Input(c telebot.Context) error {
	ctx := Context(c)
	id := senderID(c)
	tr := Translator(c)
	text := strings.TrimSpace(c.Text())

	st, err := h.fsm.Current(ctx, id)
	if err != nil {
		return err
	}

	switch st.CurrentState {
	case state.StatePushTitle:
		if text == "" {
			return apperrors.NewFieldsError(map[string]string{"title": tr.T("admin.push.title_required")})
		}
		if err := h.fsm.TransitionTo(ctx, id, state.StatePushBody, map[string]interface{}{state.ContextPushTitle: text}); err != nil {
			return err
		}
		return send(c, tr.T("admin.push.prompt_body"), h.kb.Cancel(tr))

	case state.StatePushBody:
		if text == "" {
			return apperrors.NewFieldsError(map[string]string{"body": tr.T("admin.push.body_required")})
		}
		if err := h.fsm.TransitionTo(ctx, id, state.StatePushURL, map[string]interface{}{state.ContextPushBody: text}); err != nil {
			return err
		}
		return send(c, tr.T("admin.push.prompt_url"), h.kb.Cancel(tr))

	case state.StatePushURL:
		if text == skipInput {
			text = ""
		}
		msg := admin.PushMessage{Title: st.String(state.ContextPushTitle), Body: st.String(state.ContextPushBody), URL: text}
		if err := msg.Validate(); err != nil {
			return err
		}
		if err := h.fsm.TransitionTo(ctx, id, state.StatePushTarget, map[string]interface{}{state.ContextPushURL: text}); err != nil {
			return err
		}
		kb := keyboard.NewInlineKeyboard().
			AddRow(keyboard.Button(tr.T("admin.push.target_all"), UniquePushTarget, "0")).
			AddRow(keyboard.CancelButton(tr))
		return send(c, tr.T("admin.push.prompt_target"), h.kb.Markup(kb))

	case state.StatePushTarget:
		return h.target(c, text)
	}

	return apperrors.NewStateError("unexpected push wizard state " + string(st.CurrentState))
}

// Target handles the "everyone" button of the target step.
func (h *PushWizard) Target(c telebot.Context) error {
	return h.target(c, Payload(c))
}

func (h *PushWizard) target(c telebot.Context, raw string) error {
	ctx := Context(c)
	id := senderID(c)
	tr := Translator(c)

	target, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(raw), "@"), 10, 64)
	if err != nil || target < 0 {
		return apperrors.NewFieldsError(map[string]string{"target": tr.T("admin.push.target_invalid")})
	}
	if err := h.fsm.TransitionTo(ctx, id, state.StatePushConfirm, map[string]interface{}{state.ContextPushTarget: target}); err != nil {
		return err
	}

	st, err := h.fsm.Current(ctx, id)
	if err != nil {
		return err
	}
	msg := pushMessage(st)

	var b strings.Builder
	b.WriteString("<b>" + tr.T("admin.push.preview") + "</b>\n\n")
	b.WriteString("<b>" + esc(msg.Title) + "</b>\n" + esc(msg.Body))
	if msg.URL != "" {
		b.WriteString("\n" + esc(msg.URL))
	}
	if msg.Broadcast() {
		b.WriteString("\n\n" + tr.T("admin.push.to_all"))
	} else {
		b.WriteString("\n\n" + tr.Tf("admin.push.to_user", msg.TargetTelegramID))
	}

	kb := keyboard.NewInlineKeyboard().
		AddRow(
			keyboard.Button(tr.T("admin.push.send"), UniquePushSend, ""),
			keyboard.Button(tr.T("admin.push.restart"), UniquePushStart, ""),
		).
		AddRow(keyboard.CancelButton(tr))
	return show(c, b.String(), h.kb.Markup(kb))
}

// Send queues the confirmed push. Without a queue it is delivered in the update.
func (h *PushWizard) Send(c telebot.Context) error {
	tok, err := token(c)
	if err != nil {
		return err
	}
	ctx := Context(c)
	id := senderID(c)
	tr := Translator(c)

	st, err := h.fsm.Current(ctx, id)
	if err != nil {
		return err
	}
	if st.CurrentState != state.StatePushConfirm {
		return apperrors.NewStateError("push is not ready to send")
	}
	msg := pushMessage(st)
	if err := msg.Validate(); err != nil {
		return err
	}
	if h.limits != nil {
		if err := h.limits.AllowAction(ctx, id, ratelimit.ActionBroadcast); err != nil {
			return err
		}
	}

	if h.queue != nil {
		chatID := id
		if chat := c.Chat(); chat != nil {
			chatID = chat.ID
		}
		task, err := jobs.NewBroadcastTask(jobs.BroadcastPayload{
			AdminTelegramID:  id,
			AdminChatID:      chatID,
			Lang:             tr.Lang(),
			Title:            msg.Title,
			Body:             msg.Body,
			URL:              msg.URL,
			TargetTelegramID: msg.TargetTelegramID,
		})
		if err != nil {
			return err
		}
		if _, err := h.queue.Enqueue(ctx, task); err != nil {
			return apperrors.NewExternalAPIError("queue", err)
		}
		if err := h.fsm.ClearState(ctx, id); err != nil {
			h.log.Warn("push state not cleared", slog.Int64("telegram_id", id), slog.Any("error", err))
		}
		return show(c, tr.T("admin.push.queued"), nil)
	}

	res, err := h.sender.Send(ctx, tok, msg)
	if err != nil {
		return err
	}
	if err := h.fsm.ClearState(ctx, id); err != nil {
		h.log.Warn("push state not cleared", slog.Int64("telegram_id", id), slog.Any("error", err))
	}
	return show(c, tr.Tf("push.sent", res.Sent, res.Failed), nil)
}

func pushMessage(st *state.UserState) admin.PushMessage {
	return admin.PushMessage{
		Title:            st.String(state.ContextPushTitle),
		Body:             st.String(state.ContextPushBody),
		URL:              st.String(state.ContextPushURL),
		TargetTelegramID: st.Int64(state.ContextPushTarget),
	}
}
