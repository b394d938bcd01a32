package api

import (
	"context"
	"net/url"
	"strconv"
)

func (c *Client) RecentActivity(ctx context.Context, token string, limit int) ([]Activity, error) {
	var out []Activity
	if err := c.get(ctx, token, "/activity/recent", "/activity/recent", limitQuery(limit), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) AdminHistory(ctx context.Context, token string, limit int) ([]AdminAction, error) {
	var out []AdminAction
	if err := c.get(ctx, token, "/activity/admin-history", "/activity/admin-history", limitQuery(limit), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func limitQuery(limit int) url.Values {
	if limit <= 0 {
		return nil
	}
	return url.Values{"limit": {strconv.Itoa(limit)}}
}
