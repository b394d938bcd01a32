package api

import (
	"context"
	"net/http"
)

func (c *Client) PushSubscribe(ctx context.Context, token string, sub PushSubscription) error {
	return c.send(ctx, http.MethodPost, token, "/push/subscribe", "/push/subscribe", sub, nil)
}

func (c *Client) PushUnsubscribe(ctx context.Context, token, endpoint string) error {
	return c.send(ctx, http.MethodPost, token, "/push/unsubscribe", "/push/unsubscribe", PushUnsubscribeRequest{Endpoint: endpoint}, nil)
}

func (c *Client) PushSubscribers(ctx context.Context, token string) (*PushSubscribers, error) {
	var out PushSubscribers
	if err := c.get(ctx, token, "/push/subscribers", "/push/subscribers", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PushUsersStats(ctx context.Context, token string) (*PushUsersStats, error) {
	var out PushUsersStats
	if err := c.get(ctx, token, "/push/users-stats", "/push/users-stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PushAnalytics(ctx context.Context, token string) (*PushAnalytics, error) {
	var out PushAnalytics
	if err := c.get(ctx, token, "/push/analytics", "/push/analytics", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SendBroadcast(ctx context.Context, token string, in BroadcastRequest) (*PushResult, error) {
	var out PushResult
	if err := c.send(ctx, http.MethodPost, token, "/push/send-broadcast", "/push/send-broadcast", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SendToUser(ctx context.Context, token string, in SendToUserRequest) (*PushResult, error) {
	var out PushResult
	if err := c.send(ctx, http.MethodPost, token, "/push/send-to-user", "/push/send-to-user", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UserDetails(ctx context.Context, token string, telegramID int64) (*UserDetails, error) {
	var out UserDetails
	if err := c.get(ctx, token, "/push/user-details/{id}", pathID("/push/user-details", telegramID, ""), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
