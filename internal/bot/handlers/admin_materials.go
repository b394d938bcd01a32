package handlers

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"

	telebot "gopkg.in/telebot.v3"

	"github.com/librimoms/club-bot/internal/admin"
	"github.com/librimoms/club-bot/internal/bot/keyboard"
	apperrors "github.com/librimoms/club-bot/internal/errors"
	"github.com/librimoms/club-bot/internal/i18n"
	"github.com/librimoms/club-bot/internal/imaging"
	"github.com/librimoms/club-bot/internal/state"
)

// FileFetcher downloads Telegram files. *telebot.Bot implements it.
type FileFetcher interface {
	File(file *telebot.File) (io.ReadCloser, error)
}

// editableFields is the order of the field buttons on the form.
var editableFields = []string{
	admin.FieldTitle,
	admin.FieldDescription,
	admin.FieldExternalURL,
	admin.FieldCoverImage,
	admin.FieldFormat,
	admin.FieldContent,
}

// MaterialEditor runs the create and edit form. Drafts live in memory, one per admin.
type MaterialEditor struct {
	fsm        state.StateMachine
	materials  *admin.Materials
	categories *admin.Categories
	files      FileFetcher
	kb         *keyboard.Builder
	log        *slog.Logger

	mu    sync.Mutex
	forms map[int64]*admin.MaterialForm
}

func NewMaterialEditor(fsm state.StateMachine, materials *admin.Materials, categories *admin.Categories, files FileFetcher, kb *keyboard.Builder, log *slog.Logger) *MaterialEditor {
	if log == nil {
		log = slog.Default()
	}
	return &MaterialEditor{
		fsm:        fsm,
		materials:  materials,
		categories: categories,
		files:      files,
		kb:         kb,
		log:        log,
		forms:      make(map[int64]*admin.MaterialForm),
	}
}

func (h *MaterialEditor) form(telegramID int64) *admin.MaterialForm {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.forms[telegramID]
}

func (h *MaterialEditor) open(telegramID int64, f *admin.MaterialForm) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.forms[telegramID] = f
}

// Reset forgets the draft of an admin.
func (h *MaterialEditor) Reset(telegramID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.forms, telegramID)
}

// Dirty reports unsaved changes in the admin's open form.
func (h *MaterialEditor) Dirty(telegramID int64) bool {
	f := h.form(telegramID)
	return f != nil && f.State() != admin.FormClean
}

// New opens an empty form.
func (h *MaterialEditor) New(c telebot.Context) error {
	if _, err := token(c); err != nil {
		return err
	}
	id := senderID(c)

	if err := h.fsm.SetState(Context(c), id, state.StateMaterialEditing, map[string]interface{}{state.ContextMaterialID: int64(0)}); err != nil {
		return err
	}
	h.open(id, admin.NewMaterialForm())
	return h.render(c, false)
}

// Edit loads an existing material into the form. The id comes from /edit <id> or the button payload.
func (h *MaterialEditor) Edit(c telebot.Context) error {
	tok, err := token(c)
	if err != nil {
		return err
	}
	materialID, err := payloadID(c)
	if err != nil {
		return err
	}
	id := senderID(c)

	f, err := h.materials.Edit(Context(c), tok, materialID)
	if err != nil {
		return err
	}
	if err := h.fsm.SetState(Context(c), id, state.StateMaterialEditing, map[string]interface{}{state.ContextMaterialID: materialID}); err != nil {
		return err
	}
	h.open(id, f)
	return h.render(c, false)
}

// Field asks for the value of one field.
func (h *MaterialEditor) Field(c telebot.Context) error {
	id := senderID(c)
	if h.form(id) == nil {
		return apperrors.NewStateError("no open material form")
	}
	field := Payload(c)
	if !slices.Contains(editableFields, field) {
		return apperrors.NewValidationError("field " + field)
	}

	if err := h.fsm.TransitionTo(Context(c), id, state.StateMaterialField, map[string]interface{}{state.ContextField: field}); err != nil {
		return err
	}
	tr := Translator(c)
	return show(c, tr.T("admin.material.prompt."+field), h.kb.Cancel(tr))
}

// Input receives the value for the field being edited. Covers may arrive as a photo or a link.
func (h *MaterialEditor) Input(c telebot.Context) error {
	ctx := Context(c)
	id := senderID(c)
	f := h.form(id)
	if f == nil {
		_ = h.fsm.ClearState(ctx, id)
		return apperrors.NewStateError("no open material form")
	}

	st, err := h.fsm.Current(ctx, id)
	if err != nil {
		return err
	}
	field := st.String(state.ContextField)

	switch {
	case field == admin.FieldCoverImage && c.Message() != nil && c.Message().Photo != nil:
		if err := h.attachPhoto(c, f, c.Message().Photo); err != nil {
			return err
		}
	case field == admin.FieldCoverImage:
		if err := h.materials.AttachCoverURL(f, strings.TrimSpace(c.Text())); err != nil {
			return err
		}
	default:
		text := strings.TrimSpace(c.Text())
		if text == "" {
			return apperrors.NewValidationError(Translator(c).T("admin.material.text_expected"))
		}
		if text == "-" {
			text = ""
		}
		if err := f.Set(field, text); err != nil {
			return apperrors.NewValidationError(err.Error())
		}
	}

	if err := h.fsm.TransitionTo(ctx, id, state.StateMaterialEditing, nil); err != nil {
		return err
	}
	return h.render(c, true)
}

func (h *MaterialEditor) attachPhoto(c telebot.Context, f *admin.MaterialForm, photo *telebot.Photo) error {
	if h.files == nil {
		return apperrors.NewExternalAPIError("telegram", fmt.Errorf("file download is not configured"))
	}
	rc, err := h.files.File(&photo.File)
	if err != nil {
		return apperrors.NewExternalAPIError("telegram", err)
	}
	defer rc.Close()

	return h.materials.AttachCover(Context(c), f, rc)
}

// ToggleCategory flips one category of the draft.
func (h *MaterialEditor) ToggleCategory(c telebot.Context) error {
	f := h.form(senderID(c))
	if f == nil {
		return apperrors.NewStateError("no open material form")
	}
	categoryID, err := payloadID(c)
	if err != nil {
		return err
	}
	f.ToggleCategory(categoryID)
	return h.render(c, false)
}

func (h *MaterialEditor) TogglePublished(c telebot.Context) error {
	f := h.form(senderID(c))
	if f == nil {
		return apperrors.NewStateError("no open material form")
	}
	f.TogglePublished()
	return h.render(c, false)
}

func (h *MaterialEditor) ToggleFeatured(c telebot.Context) error {
	f := h.form(senderID(c))
	if f == nil {
		return apperrors.NewStateError("no open material form")
	}
	f.ToggleFeatured()
	return h.render(c, false)
}

// Save validates and submits the draft. Field errors are reported and the form stays open.
func (h *MaterialEditor) Save(c telebot.Context) error {
	tok, err := token(c)
	if err != nil {
		return err
	}
	id := senderID(c)
	f := h.form(id)
	if f == nil {
		return apperrors.NewStateError("no open material form")
	}

	saved, err := h.materials.Submit(Context(c), tok, f)
	if err != nil {
		return err
	}
	if err := h.fsm.SetState(Context(c), id, state.StateMaterialEditing, map[string]interface{}{state.ContextMaterialID: saved.ID}); err != nil {
		h.log.Warn("material state not updated", slog.Int64("telegram_id", id), slog.Any("error", err))
	}

	_ = ack(c, Translator(c).Tf("admin.material.saved", saved.Title))
	return h.render(c, false)
}

// Close leaves the form. A dirty form asks for confirmation first.
func (h *MaterialEditor) Close(c telebot.Context) error {
	ctx := Context(c)
	id := senderID(c)
	tr := Translator(c)

	f := h.form(id)
	if f == nil || f.RequestClose() {
		h.Reset(id)
		if err := h.fsm.ClearState(ctx, id); err != nil {
			return err
		}
		return show(c, tr.T("admin.material.closed"), nil)
	}

	st, err := h.fsm.Current(ctx, id)
	if err != nil {
		return err
	}
	// SetState: the form may be closed from the field prompt, where a direct transition is not allowed.
	if err := h.fsm.SetState(ctx, id, state.StateMaterialConfirmDiscard, map[string]interface{}{state.ContextMaterialID: st.Int64(state.ContextMaterialID)}); err != nil {
		return err
	}

	kb := keyboard.NewInlineKeyboard().AddRow(
		keyboard.Button(tr.T("admin.material.discard"), UniqueMaterialDiscard, ""),
		keyboard.Button(tr.T("admin.material.keep"), UniqueMaterialKeep, ""),
	)
	return show(c, tr.T("admin.material.confirm_discard"), h.kb.Markup(kb))
}

// Discard drops the changes and closes the form.
func (h *MaterialEditor) Discard(c telebot.Context) error {
	id := senderID(c)
	if f := h.form(id); f != nil && !f.ConfirmDiscard() {
		return apperrors.NewStateError("discard was not requested")
	}
	h.Reset(id)
	if err := h.fsm.ClearState(Context(c), id); err != nil {
		return err
	}
	tr := Translator(c)
	return show(c, tr.T("admin.material.discarded"), nil)
}

// Keep returns to the form with the changes intact.
func (h *MaterialEditor) Keep(c telebot.Context) error {
	id := senderID(c)
	f := h.form(id)
	if f == nil {
		return apperrors.NewStateError("no open material form")
	}
	f.CancelDiscard()
	if err := h.fsm.TransitionTo(Context(c), id, state.StateMaterialEditing, nil); err != nil {
		return err
	}
	return h.render(c, false)
}

// Delete asks for confirmation, then deletes. The confirming press carries "<id>:yes".
func (h *MaterialEditor) Delete(c telebot.Context) error {
	tok, err := token(c)
	if err != nil {
		return err
	}
	materialID, confirmed, err := confirmPayload(Payload(c))
	if err != nil {
		return err
	}
	tr := Translator(c)

	if !confirmed {
		yes := keyboard.Button(tr.T("admin.material.delete_yes"), UniqueMaterialDelete, strconv.FormatInt(materialID, 10)+":yes")
		return show(c, tr.T("admin.material.confirm_delete"), h.kb.Confirm(tr, yes))
	}

	if err := h.materials.Delete(Context(c), tok, materialID); err != nil {
		return err
	}
	id := senderID(c)
	if f := h.form(id); f != nil && f.MaterialID() == materialID {
		h.Reset(id)
		_ = h.fsm.ClearState(Context(c), id)
	}
	return show(c, tr.T("admin.material.deleted"), nil)
}

// render draws the form. Text input gets a fresh message, button presses edit in place.
func (h *MaterialEditor) render(c telebot.Context, fresh bool) error {
	tr := Translator(c)
	f := h.form(senderID(c))
	if f == nil {
		return apperrors.NewStateError("no open material form")
	}

	if len(h.categories.Items()) == 0 {
		if tok, err := token(c); err == nil {
			if _, err := h.categories.Load(Context(c), tok); err != nil {
				h.log.Warn("categories unavailable for form", slog.Any("error", err))
			}
		}
	}

	text := formText(tr, f)
	markup := h.kb.Markup(h.formKeyboard(tr, f))
	if fresh || c.Callback() == nil {
		return send(c, text, markup, telebot.ModeHTML)
	}
	return show(c, text, markup)
}

func formText(tr i18n.Translator, f *admin.MaterialForm) string {
	in := f.Input()

	var b strings.Builder
	if f.MaterialID() == 0 {
		b.WriteString("<b>" + tr.T("admin.material.new_title") + "</b>")
	} else {
		b.WriteString("<b>" + tr.Tf("admin.material.edit_title", f.MaterialID()) + "</b>")
	}
	if f.State() != admin.FormClean {
		b.WriteString(" <i>" + tr.T("admin.material.unsaved") + "</i>")
	}
	b.WriteString("\n")

	values := map[string]string{
		admin.FieldTitle:       in.Title,
		admin.FieldDescription: in.Description,
		admin.FieldExternalURL: in.ExternalURL,
		admin.FieldFormat:      in.Format,
		admin.FieldContent:     in.Content,
	}
	switch {
	case in.CoverImage == "":
	case imaging.IsDataURL(in.CoverImage):
		values[admin.FieldCoverImage] = tr.T("admin.material.cover_uploaded")
	default:
		values[admin.FieldCoverImage] = in.CoverImage
	}

	for _, field := range editableFields {
		v := values[field]
		if v == "" {
			v = "-"
		}
		fmt.Fprintf(&b, "\n<b>%s:</b> %s", tr.T("admin.material.field."+field), esc(shorten(v, 120)))
	}
	fmt.Fprintf(&b, "\n\n%s · %s",
		tr.T(boolLabel(in.IsPublished, "admin.material.published", "admin.material.draft")),
		tr.T(boolLabel(in.IsFeatured, "admin.material.featured", "admin.material.regular")),
	)
	return b.String()
}

func (h *MaterialEditor) formKeyboard(tr i18n.Translator, f *admin.MaterialForm) *keyboard.InlineKeyboardBuilder {
	in := f.Input()
	kb := keyboard.NewInlineKeyboard()

	var fields []keyboard.InlineButton
	for _, field := range editableFields {
		fields = append(fields, keyboard.Button(tr.T("admin.material.field."+field), UniqueMaterialField, field))
	}
	for i := 0; i < len(fields); i += 2 {
		kb.AddRow(fields[i:min(i+2, len(fields))]...)
	}

	for _, cat := range h.categories.Items() {
		mark := "☐ "
		if slices.Contains(in.CategoryIDs, cat.ID) {
			mark = "☑ "
		}
		kb.AddRow(keyboard.IDButton(mark+cat.Name, UniqueMaterialCategory, cat.ID))
	}

	kb.AddRow(
		keyboard.Button(tr.T(boolLabel(in.IsPublished, "admin.material.unpublish", "admin.material.publish")), UniqueMaterialPublish, ""),
		keyboard.Button(tr.T(boolLabel(in.IsFeatured, "admin.material.unfeature", "admin.material.feature")), UniqueMaterialFeature, ""),
	)
	kb.AddRow(
		keyboard.Button(tr.T("admin.material.save"), UniqueMaterialSave, ""),
		keyboard.Button(tr.T("admin.material.close"), UniqueMaterialClose, ""),
	)
	if id := f.MaterialID(); id != 0 {
		kb.AddRow(keyboard.IDButton(tr.T("admin.material.delete"), UniqueMaterialDelete, id))
	}
	return kb
}

// confirmPayload parses "<id>" and "<id>:yes".
func confirmPayload(payload string) (int64, bool, error) {
	raw, suffix, _ := strings.Cut(strings.TrimSpace(payload), ":")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false, apperrors.NewValidationError(fmt.Sprintf("id %q", raw))
	}
	return id, suffix == "yes", nil
}
