// Package admin implements the club administration workflows behind the admin commands.
package admin

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/librimoms/club-bot/internal/api"
)

// FormState tracks unsaved changes of a material form.
type FormState int

const (
	FormClean FormState = iota
	FormDirty
	// FormConfirmDiscard waits for the admin to confirm losing changes.
	FormConfirmDiscard
)

func (s FormState) String() string {
	switch s {
	case FormClean:
		return "clean"
	case FormDirty:
		return "dirty"
	case FormConfirmDiscard:
		return "confirm_discard"
	default:
		return "unknown"
	}
}

// Form fields editable through the bot.
const (
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldExternalURL = "external_url"
	FieldContent     = "content"
	FieldCoverImage  = "cover_image"
	FieldCategoryIDs = "category_ids"
	FieldFormat      = "format"
)

// MaterialForm is one admin's draft of a new or existing material.
type MaterialForm struct {
	mu sync.Mutex

	materialID int64
	saved      api.MaterialInput
	draft      api.MaterialInput
	state      FormState
}

// NewMaterialForm starts an empty form for a new material.
func NewMaterialForm() *MaterialForm {
	return &MaterialForm{}
}

// EditMaterialForm starts a form prefilled from an existing material.
func EditMaterialForm(m api.Material) *MaterialForm {
	in := api.MaterialInput{
		Title:       m.Title,
		Description: m.Description,
		ExternalURL: m.ExternalURL,
		Content:     m.Content,
		CategoryIDs: slices.Clone(m.CategoryIDs),
		CoverImage:  m.Cover(),
		Format:      m.Format,
		IsPublished: m.IsPublished,
		IsFeatured:  m.IsFeatured,
	}
	if len(in.CategoryIDs) == 0 {
		for _, c := range m.Categories {
			in.CategoryIDs = append(in.CategoryIDs, c.ID)
		}
	}

	return &MaterialForm{materialID: m.ID, saved: cloneInput(in), draft: in}
}

func cloneInput(in api.MaterialInput) api.MaterialInput {
	in.CategoryIDs = slices.Clone(in.CategoryIDs)
	return in
}

func (f *MaterialForm) MaterialID() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.materialID
}

func (f *MaterialForm) State() FormState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Input returns a copy of the current draft.
func (f *MaterialForm) Input() api.MaterialInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneInput(f.draft)
}

// Set changes a text field. Any change while clean makes the form dirty.
func (f *MaterialForm) Set(field, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	value = strings.TrimSpace(value)
	switch field {
	case FieldTitle:
		f.draft.Title = value
	case FieldDescription:
		f.draft.Description = value
	case FieldExternalURL:
		f.draft.ExternalURL = value
	case FieldContent:
		f.draft.Content = value
	case FieldCoverImage:
		f.draft.CoverImage = value
	case FieldFormat:
		f.draft.Format = value
	default:
		return fmt.Errorf("unknown form field %q", field)
	}
	f.touchLocked()
	return nil
}

// ToggleCategory adds or removes a category and reports whether it is now selected.
func (f *MaterialForm) ToggleCategory(id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	defer f.touchLocked()
	if i := slices.Index(f.draft.CategoryIDs, id); i >= 0 {
		f.draft.CategoryIDs = slices.Delete(f.draft.CategoryIDs, i, i+1)
		return false
	}
	f.draft.CategoryIDs = append(f.draft.CategoryIDs, id)
	return true
}

func (f *MaterialForm) TogglePublished() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.draft.IsPublished = !f.draft.IsPublished
	f.touchLocked()
	return f.draft.IsPublished
}

func (f *MaterialForm) ToggleFeatured() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.draft.IsFeatured = !f.draft.IsFeatured
	f.touchLocked()
	return f.draft.IsFeatured
}

func (f *MaterialForm) touchLocked() {
	if f.state == FormClean {
		f.state = FormDirty
	}
}

// RequestClose reports whether the form may close right away.
// A dirty form moves to FormConfirmDiscard instead.
func (f *MaterialForm) RequestClose() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.state {
	case FormClean:
		return true
	default:
		f.state = FormConfirmDiscard
		return false
	}
}

// ConfirmDiscard drops unsaved changes. It only works after RequestClose asked for confirmation.
func (f *MaterialForm) ConfirmDiscard() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != FormConfirmDiscard {
		return false
	}
	f.draft = cloneInput(f.saved)
	f.state = FormClean
	return true
}

// CancelDiscard returns to editing with the changes intact.
func (f *MaterialForm) CancelDiscard() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == FormConfirmDiscard {
		f.state = FormDirty
	}
}

// MarkSaved records a successful submission of in. The saved material id is kept for later edits.
// Edits made while the submission was in flight keep the form dirty.
func (f *MaterialForm) MarkSaved(id int64, in api.MaterialInput) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.materialID = id
	f.saved = cloneInput(in)
	if sameInput(f.draft, in) {
		f.state = FormClean
	}
}

func sameInput(a, b api.MaterialInput) bool {
	return a.Title == b.Title &&
		a.Description == b.Description &&
		a.ExternalURL == b.ExternalURL &&
		a.Content == b.Content &&
		a.CoverImage == b.CoverImage &&
		a.Format == b.Format &&
		a.IsPublished == b.IsPublished &&
		a.IsFeatured == b.IsFeatured &&
		slices.Equal(a.CategoryIDs, b.CategoryIDs)
}
