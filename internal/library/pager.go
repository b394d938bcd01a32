// Package library holds the per-user library views: the paged feed, favorites and history.
package library

import (
	"context"
	"sync"

	"github.com/librimoms/club-bot/internal/api"
)

// DefaultPageSize is the feed page size.
const DefaultPageSize = 30

// Fetcher loads page (1-based) of pageSize materials.
type Fetcher func(ctx context.Context, page, pageSize int) (*api.MaterialPage, error)

// Pager accumulates feed pages. Items are appended as delivered, without de-duplication.
type Pager struct {
	mu       sync.Mutex
	pageSize int
	page     int
	items    []api.Material
	total    int
	hasMore  bool
}

func NewPager(pageSize int) *Pager {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Pager{pageSize: pageSize}
}

// Reset loads the first page. On failure the pager is left empty and the error is returned.
func (p *Pager) Reset(ctx context.Context, fetch Fetcher) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.page, p.items, p.total, p.hasMore = 0, nil, 0, false

	resp, err := fetch(ctx, 1, p.pageSize)
	if err != nil {
		return err
	}
	p.apply(1, resp)
	return nil
}

// LoadMore appends the next page. It is a no-op when there is nothing more to load.
// On failure the accumulated items are kept.
func (p *Pager) LoadMore(ctx context.Context, fetch Fetcher) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.hasMore {
		return 0, nil
	}

	next := p.page + 1
	resp, err := fetch(ctx, next, p.pageSize)
	if err != nil {
		return 0, err
	}
	before := len(p.items)
	p.apply(next, resp)
	return len(p.items) - before, nil
}

func (p *Pager) apply(page int, resp *api.MaterialPage) {
	p.page = page
	p.items = append(p.items, resp.Items...)
	p.total = resp.Total
	p.hasMore = len(resp.Items) == p.pageSize && len(p.items) < p.total
}

// Items returns a copy of everything loaded so far.
func (p *Pager) Items() []api.Material {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]api.Material, len(p.items))
	copy(out, p.items)
	return out
}

// Find returns a loaded material by id.
func (p *Pager) Find(id int64) (api.Material, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, m := range p.items {
		if m.ID == id {
			return m, true
		}
	}
	return api.Material{}, false
}

func (p *Pager) Total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

func (p *Pager) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasMore
}

func (p *Pager) Page() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.page
}

func (p *Pager) PageSize() int {
	return p.pageSize
}
