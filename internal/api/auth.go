package api

import (
	"context"
	"net/http"
)

// AuthTelegram exchanges a signed Telegram login payload for a backend token.
func (c *Client) AuthTelegram(ctx context.Context, req TelegramAuthRequest) (*TokenResponse, error) {
	var out TokenResponse
	if err := c.send(ctx, http.MethodPost, "", "/auth/telegram", "/auth/telegram", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Me(ctx context.Context, token string) (*Me, error) {
	var out Me
	if err := c.get(ctx, token, "/auth/me", "/auth/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CheckSubscription(ctx context.Context, token string) (*SubscriptionStatus, error) {
	var out SubscriptionStatus
	if err := c.get(ctx, token, "/auth/check-subscription", "/auth/check-subscription", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Loyalty(ctx context.Context, token string) (*Loyalty, error) {
	var out Loyalty
	if err := c.get(ctx, token, "/auth/loyalty", "/auth/loyalty", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Referral(ctx context.Context, token string) (*Referral, error) {
	var out Referral
	if err := c.get(ctx, token, "/auth/referral", "/auth/referral", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Payments(ctx context.Context, token string) ([]Payment, error) {
	var out []Payment
	if err := c.get(ctx, token, "/auth/payments", "/auth/payments", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Settings(ctx context.Context, token string) (*Settings, error) {
	var out Settings
	if err := c.get(ctx, token, "/auth/settings", "/auth/settings", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateSettings(ctx context.Context, token string, in Settings) (*Settings, error) {
	var out Settings
	if err := c.send(ctx, http.MethodPut, token, "/auth/settings", "/auth/settings", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreatePayment starts a YooKassa payment. The user completes it at ConfirmationURL.
func (c *Client) CreatePayment(ctx context.Context, token string, in CreatePaymentRequest) (*CreatePaymentResponse, error) {
	var out CreatePaymentResponse
	if err := c.send(ctx, http.MethodPost, token, "/auth/create-payment", "/auth/create-payment", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CancelAutorenewal(ctx context.Context, token string) error {
	return c.send(ctx, http.MethodPost, token, "/auth/cancel-autorenewal", "/auth/cancel-autorenewal", nil, nil)
}

func (c *Client) EnableAutorenewal(ctx context.Context, token string) error {
	return c.send(ctx, http.MethodPost, token, "/auth/enable-autorenewal", "/auth/enable-autorenewal", nil, nil)
}
