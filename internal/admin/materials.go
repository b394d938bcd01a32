package admin

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/librimoms/club-bot/internal/api"
	apperrors "github.com/librimoms/club-bot/internal/errors"
	"github.com/librimoms/club-bot/internal/imaging"
	"github.com/librimoms/club-bot/internal/storage"
)

// MaterialBackend persists materials.
type MaterialBackend interface {
	Material(ctx context.Context, token string, id int64) (*api.Material, error)
	CreateMaterial(ctx context.Context, token string, in api.MaterialInput) (*api.Material, error)
	UpdateMaterial(ctx context.Context, token string, id int64, in api.MaterialInput) (*api.Material, error)
	DeleteMaterial(ctx context.Context, token string, id int64) error
}

// Materials runs the create, edit and delete flows.
type Materials struct {
	backend MaterialBackend
	covers  storage.CoverStore
	log     *slog.Logger
}

func NewMaterials(backend MaterialBackend, covers storage.CoverStore, log *slog.Logger) *Materials {
	if log == nil {
		log = slog.Default()
	}
	if covers == nil {
		covers = storage.Inline{}
	}
	return &Materials{backend: backend, covers: covers, log: log}
}

// Edit loads a material into a fresh form.
func (m *Materials) Edit(ctx context.Context, token string, id int64) (*MaterialForm, error) {
	mat, err := m.backend.Material(ctx, token, id)
	if err != nil {
		return nil, err
	}
	return EditMaterialForm(*mat), nil
}

// AttachCover compresses an uploaded image and stores it as the form's cover.
func (m *Materials) AttachCover(ctx context.Context, form *MaterialForm, r io.Reader) error {
	cover, err := imaging.CompressCover(r)
	if err != nil {
		return apperrors.NewValidationError("Не удалось прочитать изображение")
	}

	ref, err := m.covers.Store(ctx, cover)
	if err != nil {
		return fmt.Errorf("store cover: %w", err)
	}
	return form.Set(FieldCoverImage, ref)
}

// AttachCoverURL accepts a pasted external cover link as is.
func (m *Materials) AttachCoverURL(form *MaterialForm, url string) error {
	if !imaging.IsExternalURL(url) {
		return apperrors.NewFieldsError(map[string]string{FieldCoverImage: fieldMessages[FieldCoverImage]})
	}
	return form.Set(FieldCoverImage, url)
}

// Submit validates the form and creates or updates the material.
// Nothing is sent when validation fails.
func (m *Materials) Submit(ctx context.Context, token string, form *MaterialForm) (*api.Material, error) {
	in := form.Input()
	if err := Validate(in); err != nil {
		return nil, err
	}

	var (
		saved *api.Material
		err   error
	)
	if id := form.MaterialID(); id != 0 {
		saved, err = m.backend.UpdateMaterial(ctx, token, id, in)
	} else {
		saved, err = m.backend.CreateMaterial(ctx, token, in)
	}
	if err != nil {
		return nil, err
	}

	form.MarkSaved(saved.ID, in)
	m.log.Info("material saved", slog.Int64("material_id", saved.ID), slog.String("title", saved.Title))
	return saved, nil
}

func (m *Materials) Delete(ctx context.Context, token string, id int64) error {
	if err := m.backend.DeleteMaterial(ctx, token, id); err != nil {
		return err
	}
	m.log.Info("material deleted", slog.Int64("material_id", id))
	return nil
}
