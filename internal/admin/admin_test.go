package admin

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/librimoms/club-bot/internal/api"
	apperrors "github.com/librimoms/club-bot/internal/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMaterials struct {
	created []api.MaterialInput
	updated map[int64]api.MaterialInput
	stored  *api.Material
	err     error
}

func (f *fakeMaterials) Material(ctx context.Context, token string, id int64) (*api.Material, error) {
	return f.stored, f.err
}

func (f *fakeMaterials) CreateMaterial(ctx context.Context, token string, in api.MaterialInput) (*api.Material, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, in)
	return &api.Material{ID: 100, Title: in.Title}, nil
}

func (f *fakeMaterials) UpdateMaterial(ctx context.Context, token string, id int64, in api.MaterialInput) (*api.Material, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.updated == nil {
		f.updated = map[int64]api.MaterialInput{}
	}
	f.updated[id] = in
	return &api.Material{ID: id, Title: in.Title}, nil
}

func (f *fakeMaterials) DeleteMaterial(ctx context.Context, token string, id int64) error {
	return f.err
}

func completeForm(t *testing.T) *MaterialForm {
	t.Helper()

	f := NewMaterialForm()
	require.NoError(t, f.Set(FieldTitle, "Сказки на ночь"))
	require.NoError(t, f.Set(FieldExternalURL, "https://example.com/book"))
	require.NoError(t, f.Set(FieldCoverImage, "https://example.com/cover.jpg"))
	f.ToggleCategory(3)
	return f
}

func TestValidate_TitleAndCoverMissing(t *testing.T) {
	in := api.MaterialInput{
		ExternalURL: "https://example.com",
		CategoryIDs: []int64{1},
	}

	err := Validate(in)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	fields := FieldErrors(err)
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"cover_image", "title"}, names)
}

func TestValidate_Rules(t *testing.T) {
	cases := []struct {
		name  string
		edit  func(*api.MaterialInput)
		field string
	}{
		{"blank title", func(in *api.MaterialInput) { in.Title = "   " }, "title"},
		{"url without scheme", func(in *api.MaterialInput) { in.ExternalURL = "example.com" }, "external_url"},
		{"no categories", func(in *api.MaterialInput) { in.CategoryIDs = nil }, "category_ids"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			in := api.MaterialInput{
				Title:       "ok",
				ExternalURL: "https://example.com",
				CoverImage:  "data:image/jpeg;base64,AA",
				CategoryIDs: []int64{1},
			}
			tc.edit(&in)

			fields := FieldErrors(Validate(in))
			require.Len(t, fields, 1)
			assert.Contains(t, fields, tc.field)
		})
	}
}

func TestMaterials_SubmitInvalidSendsNothing(t *testing.T) {
	backend := &fakeMaterials{}
	m := NewMaterials(backend, nil, testLogger())

	form := NewMaterialForm()
	require.NoError(t, form.Set(FieldExternalURL, "https://example.com"))
	form.ToggleCategory(1)

	_, err := m.Submit(context.Background(), "tok", form)
	require.Error(t, err)
	assert.Empty(t, backend.created)
	assert.Equal(t, FormDirty, form.State())
}

func TestMaterials_SubmitCreatesThenUpdates(t *testing.T) {
	backend := &fakeMaterials{}
	m := NewMaterials(backend, nil, testLogger())
	form := completeForm(t)

	saved, err := m.Submit(context.Background(), "tok", form)
	require.NoError(t, err)
	assert.Equal(t, int64(100), saved.ID)
	assert.Equal(t, FormClean, form.State())
	require.Len(t, backend.created, 1)

	require.NoError(t, form.Set(FieldTitle, "Новые сказки"))
	_, err = m.Submit(context.Background(), "tok", form)
	require.NoError(t, err)
	assert.Equal(t, "Новые сказки", backend.updated[100].Title)
	assert.Len(t, backend.created, 1)
}

func TestMaterials_SubmitFailureKeepsDirty(t *testing.T) {
	m := NewMaterials(&fakeMaterials{err: errors.New("boom")}, nil, testLogger())
	form := completeForm(t)

	_, err := m.Submit(context.Background(), "tok", form)
	require.Error(t, err)
	assert.Equal(t, FormDirty, form.State())
}

// editingBackend lets the admin change the draft while the save request is in flight.
type editingBackend struct {
	fakeMaterials
	during func()
}

func (f *editingBackend) CreateMaterial(ctx context.Context, token string, in api.MaterialInput) (*api.Material, error) {
	f.during()
	return f.fakeMaterials.CreateMaterial(ctx, token, in)
}

func TestMaterials_SubmitKeepsEditsMadeDuringSave(t *testing.T) {
	form := completeForm(t)
	backend := &editingBackend{during: func() {
		require.NoError(t, form.Set(FieldTitle, "Сказки на ночь, том 2"))
	}}
	m := NewMaterials(backend, nil, testLogger())

	saved, err := m.Submit(context.Background(), "tok", form)
	require.NoError(t, err)
	require.Len(t, backend.created, 1)
	assert.Equal(t, "Сказки на ночь", backend.created[0].Title)
	assert.Equal(t, saved.ID, form.MaterialID())

	assert.Equal(t, FormDirty, form.State())
	assert.False(t, form.RequestClose())
	require.True(t, form.ConfirmDiscard())
	// Discarding returns to what the backend stored.
	assert.Equal(t, "Сказки на ночь", form.Input().Title)
}

func TestMaterials_AttachCoverInlinesJPEG(t *testing.T) {
	m := NewMaterials(&fakeMaterials{}, nil, testLogger())
	form := NewMaterialForm()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 1200, 600))))

	require.NoError(t, m.AttachCover(context.Background(), form, &buf))
	assert.True(t, strings.HasPrefix(form.Input().CoverImage, "data:image/jpeg;base64,"))
}

func TestMaterials_AttachCoverURL(t *testing.T) {
	m := NewMaterials(&fakeMaterials{}, nil, testLogger())
	form := NewMaterialForm()

	require.Error(t, m.AttachCoverURL(form, "not-a-link"))
	require.NoError(t, m.AttachCoverURL(form, "https://cdn.example.com/c.jpg"))
	assert.Equal(t, "https://cdn.example.com/c.jpg", form.Input().CoverImage)
}

func TestMaterialForm_DiscardFlow(t *testing.T) {
	form := EditMaterialForm(api.Material{ID: 5, Title: "Было", Categories: []api.Category{{ID: 2, Name: "A"}}})
	assert.Equal(t, FormClean, form.State())
	assert.Equal(t, []int64{2}, form.Input().CategoryIDs)
	assert.True(t, form.RequestClose())

	require.NoError(t, form.Set(FieldTitle, "Стало"))
	assert.Equal(t, FormDirty, form.State())

	assert.False(t, form.RequestClose())
	assert.Equal(t, FormConfirmDiscard, form.State())

	form.CancelDiscard()
	assert.Equal(t, FormDirty, form.State())
	assert.Equal(t, "Стало", form.Input().Title)

	assert.False(t, form.ConfirmDiscard())
	assert.False(t, form.RequestClose())
	assert.True(t, form.ConfirmDiscard())
	assert.Equal(t, FormClean, form.State())
	assert.Equal(t, "Было", form.Input().Title)
}

func TestMaterialForm_UnknownField(t *testing.T) {
	require.Error(t, NewMaterialForm().Set("price", "1"))
}

func TestMaterialForm_ToggleCategory(t *testing.T) {
	form := NewMaterialForm()
	assert.True(t, form.ToggleCategory(1))
	assert.True(t, form.ToggleCategory(2))
	assert.False(t, form.ToggleCategory(1))
	assert.Equal(t, []int64{2}, form.Input().CategoryIDs)
}

type mockPush struct {
	mock.Mock
}

func (m *mockPush) SendBroadcast(ctx context.Context, token string, in api.BroadcastRequest) (*api.PushResult, error) {
	args := m.Called(ctx, token, in)
	res, _ := args.Get(0).(*api.PushResult)
	return res, args.Error(1)
}

func (m *mockPush) SendToUser(ctx context.Context, token string, in api.SendToUserRequest) (*api.PushResult, error) {
	args := m.Called(ctx, token, in)
	res, _ := args.Get(0).(*api.PushResult)
	return res, args.Error(1)
}

func TestBroadcaster_RoutesByTarget(t *testing.T) {
	ctx := context.Background()
	backend := new(mockPush)
	backend.On("SendBroadcast", ctx, "tok", api.BroadcastRequest{Title: "T", Body: "B", URL: "/library"}).
		Return(&api.PushResult{Sent: 10}, nil).Once()
	backend.On("SendToUser", ctx, "tok", api.SendToUserRequest{TelegramID: 777, Title: "T", Body: "B"}).
		Return(&api.PushResult{Sent: 1}, nil).Once()

	b := NewBroadcaster(backend, testLogger())

	res, err := b.Send(ctx, "tok", PushMessage{Title: "T", Body: "B", URL: "/library"})
	require.NoError(t, err)
	assert.Equal(t, 10, res.Sent)

	res, err = b.Send(ctx, "tok", PushMessage{Title: "T", Body: "B", TargetTelegramID: 777})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)

	backend.AssertExpectations(t)
}

func TestBroadcaster_RejectsEmptyMessage(t *testing.T) {
	backend := new(mockPush)
	_, err := NewBroadcaster(backend, testLogger()).Send(context.Background(), "tok", PushMessage{URL: "ftp://x"})

	require.Error(t, err)
	assert.Len(t, FieldErrors(err), 3)
	backend.AssertNotCalled(t, "SendBroadcast", mock.Anything, mock.Anything, mock.Anything)
}
