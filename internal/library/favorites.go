package library

import (
	"context"
	"sync"

	"github.com/librimoms/club-bot/internal/api"
)

// FavoriteStore persists favorite membership on the backend.
type FavoriteStore interface {
	AddFavorite(ctx context.Context, token string, materialID int64) (*api.FavoriteResult, error)
	RemoveFavorite(ctx context.Context, token string, materialID int64) (*api.FavoriteResult, error)
}

// Favorites mirrors the user's favorite ids and the known favorite counts of materials.
type Favorites struct {
	mu     sync.Mutex
	ids    map[int64]struct{}
	counts map[int64]int
}

func NewFavorites() *Favorites {
	return &Favorites{
		ids:    make(map[int64]struct{}),
		counts: make(map[int64]int),
	}
}

// Observe records what the backend reported for a material.
func (f *Favorites) Observe(m api.Material) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.counts[m.ID] = m.FavoritesCount
	if m.IsFavorite {
		f.ids[m.ID] = struct{}{}
	}
}

// Seed replaces the membership set with ids.
func (f *Favorites) Seed(ids []int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ids = make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		f.ids[id] = struct{}{}
	}
}

func (f *Favorites) Has(id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.ids[id]
	return ok
}

// Count returns the known favorites count of a material.
func (f *Favorites) Count(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[id]
}

func (f *Favorites) IDs() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]int64, 0, len(f.ids))
	for id := range f.ids {
		out = append(out, id)
	}
	return out
}

// ToggleCommand is one optimistic favorite toggle. Apply changes local state,
// then exactly one of Confirm or Revert settles it.
type ToggleCommand struct {
	favorites  *Favorites
	materialID int64

	applied     bool
	wasFavorite bool
	countDelta  int
}

func (f *Favorites) NewToggle(materialID int64) *ToggleCommand {
	return &ToggleCommand{favorites: f, materialID: materialID}
}

// Apply flips membership and adjusts the count, remembering both for Revert.
func (c *ToggleCommand) Apply() (nowFavorite bool) {
	f := c.favorites
	f.mu.Lock()
	defer f.mu.Unlock()

	_, c.wasFavorite = f.ids[c.materialID]
	if c.wasFavorite {
		delete(f.ids, c.materialID)
		c.countDelta = -1
		if f.counts[c.materialID] == 0 {
			// Never show a negative count.
			c.countDelta = 0
		}
	} else {
		f.ids[c.materialID] = struct{}{}
		c.countDelta = 1
	}
	f.counts[c.materialID] += c.countDelta
	c.applied = true

	return !c.wasFavorite
}

// Confirm adopts the backend's result when present.
func (c *ToggleCommand) Confirm(res *api.FavoriteResult) {
	if res == nil {
		return
	}

	f := c.favorites
	f.mu.Lock()
	defer f.mu.Unlock()

	if res.IsFavorite {
		f.ids[c.materialID] = struct{}{}
	} else {
		delete(f.ids, c.materialID)
	}
	f.counts[c.materialID] = res.FavoritesCount
}

// Revert restores the membership seen by Apply and undoes exactly its count delta.
func (c *ToggleCommand) Revert() {
	if !c.applied {
		return
	}

	f := c.favorites
	f.mu.Lock()
	defer f.mu.Unlock()

	if c.wasFavorite {
		f.ids[c.materialID] = struct{}{}
	} else {
		delete(f.ids, c.materialID)
	}
	f.counts[c.materialID] -= c.countDelta
	c.applied = false
}

// Execute applies the toggle, persists it and settles it. The returned state is what the user should see.
func (c *ToggleCommand) Execute(ctx context.Context, store FavoriteStore, token string) (bool, int, error) {
	nowFavorite := c.Apply()

	var (
		res *api.FavoriteResult
		err error
	)
	if nowFavorite {
		res, err = store.AddFavorite(ctx, token, c.materialID)
	} else {
		res, err = store.RemoveFavorite(ctx, token, c.materialID)
	}
	if err != nil {
		c.Revert()
		return c.wasFavorite, c.favorites.Count(c.materialID), err
	}

	c.Confirm(res)
	return c.favorites.Has(c.materialID), c.favorites.Count(c.materialID), nil
}
