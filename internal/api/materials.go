package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// Materials returns one page of the library.
func (c *Client) Materials(ctx context.Context, token string, q MaterialQuery) (*MaterialPage, error) {
	query := url.Values{}
	if q.Page > 0 {
		query.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		query.Set("page_size", strconv.Itoa(q.PageSize))
	}
	if q.CategoryID > 0 {
		query.Set("category_id", strconv.FormatInt(q.CategoryID, 10))
	}
	if q.Search != "" {
		query.Set("search", q.Search)
	}
	if q.Featured {
		query.Set("is_featured", "true")
	}

	var out MaterialPage
	if err := c.get(ctx, token, "/materials", "/materials", query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Material(ctx context.Context, token string, id int64) (*Material, error) {
	var out Material
	if err := c.get(ctx, token, "/materials/{id}", pathID("/materials", id, ""), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RecordView tells the backend the user opened a material.
func (c *Client) RecordView(ctx context.Context, token string, id int64) error {
	return c.send(ctx, http.MethodPost, token, "/materials/{id}/view", pathID("/materials", id, "/view"), nil, nil)
}

// AddFavorite and RemoveFavorite set membership explicitly so a retried call cannot flip it twice.
func (c *Client) AddFavorite(ctx context.Context, token string, id int64) (*FavoriteResult, error) {
	var out FavoriteResult
	if err := c.send(ctx, http.MethodPost, token, "/materials/{id}/favorite", pathID("/materials", id, "/favorite"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RemoveFavorite(ctx context.Context, token string, id int64) (*FavoriteResult, error) {
	var out FavoriteResult
	if err := c.send(ctx, http.MethodDelete, token, "/materials/{id}/favorite", pathID("/materials", id, "/favorite"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Favorites(ctx context.Context, token string) ([]Material, error) {
	var out []Material
	if err := c.get(ctx, token, "/materials/favorites/my", "/materials/favorites/my", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) History(ctx context.Context, token string) ([]HistoryEntry, error) {
	var out []HistoryEntry
	if err := c.get(ctx, token, "/materials/history/my", "/materials/history/my", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) MyStats(ctx context.Context, token string) (*UserStats, error) {
	var out UserStats
	if err := c.get(ctx, token, "/materials/stats/my", "/materials/stats/my", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Recommendations(ctx context.Context, token string) ([]Material, error) {
	var out []Material
	if err := c.get(ctx, token, "/materials/feed/recommendations", "/materials/feed/recommendations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Notifications(ctx context.Context, token string) (*NotificationList, error) {
	var out NotificationList
	if err := c.get(ctx, token, "/materials/notifications/my", "/materials/notifications/my", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) MarkNotificationRead(ctx context.Context, token string, id int64) error {
	return c.send(ctx, http.MethodPost, token, "/materials/notifications/{id}/read", pathID("/materials/notifications", id, "/read"), nil, nil)
}

func (c *Client) MarkAllNotificationsRead(ctx context.Context, token string) error {
	return c.send(ctx, http.MethodPost, token, "/materials/notifications/read-all", "/materials/notifications/read-all", nil, nil)
}

func (c *Client) CreateMaterial(ctx context.Context, token string, in MaterialInput) (*Material, error) {
	var out Material
	if err := c.send(ctx, http.MethodPost, token, "/materials", "/materials", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateMaterial(ctx context.Context, token string, id int64, in MaterialInput) (*Material, error) {
	var out Material
	if err := c.send(ctx, http.MethodPut, token, "/materials/{id}", pathID("/materials", id, ""), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteMaterial(ctx context.Context, token string, id int64) error {
	return c.send(ctx, http.MethodDelete, token, "/materials/{id}", pathID("/materials", id, ""), nil, nil)
}
