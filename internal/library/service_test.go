package library

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/librimoms/club-bot/internal/api"
)

type fakeBackend struct {
	fakeFavoriteStore
	queries   []api.MaterialQuery
	favorites []api.Material
	viewErr   error
	views     []int64
}

func (f *fakeBackend) Materials(ctx context.Context, token string, q api.MaterialQuery) (*api.MaterialPage, error) {
	f.queries = append(f.queries, q)
	return &api.MaterialPage{Items: []api.Material{{ID: 1, Title: "a", FavoritesCount: 4, IsFavorite: true}}, Total: 1}, nil
}

func (f *fakeBackend) Material(ctx context.Context, token string, id int64) (*api.Material, error) {
	return &api.Material{ID: id, Title: "opened"}, nil
}

func (f *fakeBackend) RecordView(ctx context.Context, token string, id int64) error {
	f.views = append(f.views, id)
	return f.viewErr
}

func (f *fakeBackend) Favorites(ctx context.Context, token string) ([]api.Material, error) {
	return f.favorites, nil
}

func (f *fakeBackend) History(ctx context.Context, token string) ([]api.HistoryEntry, error) {
	return nil, nil
}

func (f *fakeBackend) Recommendations(ctx context.Context, token string) ([]api.Material, error) {
	return nil, nil
}

func (f *fakeBackend) MyStats(ctx context.Context, token string) (*api.UserStats, error) {
	return &api.UserStats{}, nil
}

func (f *fakeBackend) Categories(ctx context.Context, token string) ([]api.Category, error) {
	return nil, nil
}

func TestService_FeedPassesFilterAndObservesFavorites(t *testing.T) {
	backend := &fakeBackend{}
	s := NewService(backend, 30, nil)

	pager, err := s.Feed(context.Background(), "tok", 42, 7, "sleep")
	require.NoError(t, err)
	assert.Len(t, pager.Items(), 1)

	require.Len(t, backend.queries, 1)
	assert.Equal(t, api.MaterialQuery{Page: 1, PageSize: 30, CategoryID: 7, Search: "sleep"}, backend.queries[0])
	assert.True(t, s.FavoriteSet(42).Has(1))
	assert.Equal(t, 4, s.FavoriteSet(42).Count(1))
}

func TestService_OpenRecordsViewAndToleratesFailure(t *testing.T) {
	backend := &fakeBackend{viewErr: errors.New("down")}
	s := NewService(backend, 30, nil)

	m, err := s.Open(context.Background(), "tok", 42, 9)
	require.NoError(t, err)
	assert.Equal(t, "opened", m.Title)
	assert.Equal(t, []int64{9}, backend.views)
}

func TestService_FavoritesReseedsMembership(t *testing.T) {
	backend := &fakeBackend{favorites: []api.Material{{ID: 5, Title: "x"}}}
	s := NewService(backend, 30, nil)
	_, _ = s.Feed(context.Background(), "tok", 42, 0, "")

	_, err := s.Favorites(context.Background(), "tok", 42)
	require.NoError(t, err)

	set := s.FavoriteSet(42)
	assert.True(t, set.Has(5))
	assert.False(t, set.Has(1))
}
