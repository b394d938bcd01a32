package admin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/librimoms/club-bot/internal/api"
)

type fakeCategories struct {
	items []api.Category
	input api.CategoryInput
	err   error
}

func (f *fakeCategories) Categories(ctx context.Context, token string) ([]api.Category, error) {
	return f.items, f.err
}

func (f *fakeCategories) CreateCategory(ctx context.Context, token string, in api.CategoryInput) (*api.Category, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = in
	return &api.Category{ID: 9, Name: in.Name, Slug: in.Slug}, nil
}

func (f *fakeCategories) UpdateCategory(ctx context.Context, token string, id int64, in api.CategoryInput) (*api.Category, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = in
	return &api.Category{ID: id, Name: in.Name, Slug: in.Slug}, nil
}

func (f *fakeCategories) DeleteCategory(ctx context.Context, token string, id int64) error {
	return f.err
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Детская психология": "detskaya-psihologiya",
		"Hello, World!":      "hello-world",
		"  Ёжик  в тумане ":  "ezhik-v-tumane",
		"Объявления":         "obyavleniya",
		"!!!":                "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slugify(in), in)
	}
}

func TestCategories_LocalListFollowsBackend(t *testing.T) {
	ctx := context.Background()
	backend := &fakeCategories{items: []api.Category{{ID: 1, Name: "Сказки"}}}
	c := NewCategories(backend)

	_, err := c.Load(ctx, "tok")
	require.NoError(t, err)

	created, err := c.Create(ctx, "tok", "Детская психология")
	require.NoError(t, err)
	assert.Equal(t, "detskaya-psihologiya", backend.input.Slug)
	assert.Len(t, c.Items(), 2)

	_, err = c.Rename(ctx, "tok", 1, "Сказки на ночь")
	require.NoError(t, err)
	assert.Equal(t, "Сказки на ночь", c.Items()[0].Name)

	require.NoError(t, c.Delete(ctx, "tok", created.ID))
	assert.Len(t, c.Items(), 1)
}

func TestCategories_FailureLeavesListUntouched(t *testing.T) {
	ctx := context.Background()
	backend := &fakeCategories{items: []api.Category{{ID: 1, Name: "Сказки"}}}
	c := NewCategories(backend)
	_, err := c.Load(ctx, "tok")
	require.NoError(t, err)

	backend.err = errors.New("down")
	_, err = c.Create(ctx, "tok", "Новая")
	require.Error(t, err)
	require.Error(t, c.Delete(ctx, "tok", 1))
	assert.Len(t, c.Items(), 1)
}

func TestCategories_EmptyNameRejected(t *testing.T) {
	_, err := NewCategories(&fakeCategories{}).Create(context.Background(), "tok", "  ")
	require.Error(t, err)
	assert.Contains(t, FieldErrors(err), "name")
}
