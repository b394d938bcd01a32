package library

import (
	"context"
	"log/slog"
	"sync"

	"github.com/librimoms/club-bot/internal/api"
)

// Backend is what the library views need from the API client.
type Backend interface {
	FavoriteStore
	Materials(ctx context.Context, token string, q api.MaterialQuery) (*api.MaterialPage, error)
	Material(ctx context.Context, token string, id int64) (*api.Material, error)
	RecordView(ctx context.Context, token string, id int64) error
	Favorites(ctx context.Context, token string) ([]api.Material, error)
	History(ctx context.Context, token string) ([]api.HistoryEntry, error)
	Recommendations(ctx context.Context, token string) ([]api.Material, error)
	MyStats(ctx context.Context, token string) (*api.UserStats, error)
	Categories(ctx context.Context, token string) ([]api.Category, error)
}

// Service keeps one library view per Telegram user.
type Service struct {
	backend  Backend
	pageSize int
	log      *slog.Logger

	mu    sync.Mutex
	users map[int64]*userView
}

type userView struct {
	pager      *Pager
	favorites  *Favorites
	categoryID int64
	search     string
}

func NewService(backend Backend, pageSize int, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		backend:  backend,
		pageSize: pageSize,
		log:      log,
		users:    make(map[int64]*userView),
	}
}

func (s *Service) view(userID int64) *userView {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.users[userID]
	if !ok {
		v = &userView{pager: NewPager(s.pageSize), favorites: NewFavorites()}
		s.users[userID] = v
	}
	return v
}

// Forget drops the user's cached view, e.g. on logout.
func (s *Service) Forget(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, userID)
}

func (s *Service) fetcher(token string, v *userView) Fetcher {
	categoryID, search := v.categoryID, v.search
	return func(ctx context.Context, page, pageSize int) (*api.MaterialPage, error) {
		resp, err := s.backend.Materials(ctx, token, api.MaterialQuery{
			Page:       page,
			PageSize:   pageSize,
			CategoryID: categoryID,
			Search:     search,
		})
		if err != nil {
			return nil, err
		}
		for _, m := range resp.Items {
			v.favorites.Observe(m)
		}
		return resp, nil
	}
}

// Feed reloads the first page for the given filter.
func (s *Service) Feed(ctx context.Context, token string, userID, categoryID int64, search string) (*Pager, error) {
	v := s.view(userID)
	v.categoryID, v.search = categoryID, search

	if err := v.pager.Reset(ctx, s.fetcher(token, v)); err != nil {
		s.log.Warn("library feed unavailable", slog.Int64("telegram_id", userID), slog.Any("error", err))
		return v.pager, err
	}
	return v.pager, nil
}

// More appends the next page of the current feed.
func (s *Service) More(ctx context.Context, token string, userID int64) (*Pager, int, error) {
	v := s.view(userID)
	added, err := v.pager.LoadMore(ctx, s.fetcher(token, v))
	return v.pager, added, err
}

// Pager returns the user's current feed without loading anything.
func (s *Service) Pager(userID int64) *Pager {
	return s.view(userID).pager
}

// FavoriteSet returns the user's favorites mirror.
func (s *Service) FavoriteSet(userID int64) *Favorites {
	return s.view(userID).favorites
}

// ToggleFavorite flips a favorite optimistically and reverts exactly on failure.
func (s *Service) ToggleFavorite(ctx context.Context, token string, userID, materialID int64) (bool, int, error) {
	cmd := s.view(userID).favorites.NewToggle(materialID)
	isFavorite, count, err := cmd.Execute(ctx, s.backend, token)
	if err != nil {
		s.log.Warn("favorite toggle reverted",
			slog.Int64("telegram_id", userID),
			slog.Int64("material_id", materialID),
			slog.Any("error", err))
	}
	return isFavorite, count, err
}

// Favorites loads the favorites list and resyncs the membership set.
func (s *Service) Favorites(ctx context.Context, token string, userID int64) ([]api.Material, error) {
	items, err := s.backend.Favorites(ctx, token)
	if err != nil {
		return nil, err
	}

	fav := s.view(userID).favorites
	ids := make([]int64, 0, len(items))
	for _, m := range items {
		m.IsFavorite = true
		fav.Observe(m)
		ids = append(ids, m.ID)
	}
	fav.Seed(ids)
	return items, nil
}

// Open fetches a material and records the view. A failed view record is only logged.
func (s *Service) Open(ctx context.Context, token string, userID, materialID int64) (*api.Material, error) {
	m, err := s.backend.Material(ctx, token, materialID)
	if err != nil {
		return nil, err
	}
	s.view(userID).favorites.Observe(*m)

	if err := s.backend.RecordView(ctx, token, materialID); err != nil {
		s.log.Warn("material view not recorded", slog.Int64("material_id", materialID), slog.Any("error", err))
	}
	return m, nil
}

func (s *Service) History(ctx context.Context, token string) ([]api.HistoryEntry, error) {
	return s.backend.History(ctx, token)
}

func (s *Service) Recommendations(ctx context.Context, token string, userID int64) ([]api.Material, error) {
	items, err := s.backend.Recommendations(ctx, token)
	if err != nil {
		return nil, err
	}
	fav := s.view(userID).favorites
	for _, m := range items {
		fav.Observe(m)
	}
	return items, nil
}

func (s *Service) Stats(ctx context.Context, token string) (*api.UserStats, error) {
	return s.backend.MyStats(ctx, token)
}

func (s *Service) Categories(ctx context.Context, token string) ([]api.Category, error) {
	return s.backend.Categories(ctx, token)
}
