package api

import (
	"context"
	"net/http"
	"net/url"
)

func (c *Client) AdminStats(ctx context.Context, token string) (*AdminStats, error) {
	var out AdminStats
	if err := c.get(ctx, token, "/admin/stats", "/admin/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) BotStats(ctx context.Context, token string) (*BotStats, error) {
	var out BotStats
	if err := c.get(ctx, token, "/admin/bot-stats", "/admin/bot-stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Subscriptions lists subscriptions, optionally filtered by status (active, expired).
func (c *Client) Subscriptions(ctx context.Context, token, status string) ([]AdminSubscription, error) {
	query := url.Values{}
	if status != "" {
		query.Set("status", status)
	}

	var out []AdminSubscription
	if err := c.get(ctx, token, "/admin/subscriptions", "/admin/subscriptions", query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Withdrawals(ctx context.Context, token, status string) ([]Withdrawal, error) {
	query := url.Values{}
	if status != "" {
		query.Set("status", status)
	}

	var out []Withdrawal
	if err := c.get(ctx, token, "/admin/withdrawals", "/admin/withdrawals", query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ApproveWithdrawal(ctx context.Context, token string, id int64) error {
	return c.send(ctx, http.MethodPost, token, "/admin/withdrawals/{id}/approve", pathID("/admin/withdrawals", id, "/approve"), nil, nil)
}

func (c *Client) RejectWithdrawal(ctx context.Context, token string, id int64, reason string) error {
	return c.send(ctx, http.MethodPost, token, "/admin/withdrawals/{id}/reject", pathID("/admin/withdrawals", id, "/reject"), RejectWithdrawalRequest{Reason: reason}, nil)
}

func (c *Client) SearchUsers(ctx context.Context, token, q string) ([]UserSummary, error) {
	var out []UserSummary
	if err := c.get(ctx, token, "/admin/users/search", "/admin/users/search", url.Values{"q": {q}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}
