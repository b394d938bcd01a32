package api

import (
	"context"
	"net/http"
)

func (c *Client) Categories(ctx context.Context, token string) ([]Category, error) {
	var out []Category
	if err := c.get(ctx, token, "/categories", "/categories", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateCategory(ctx context.Context, token string, in CategoryInput) (*Category, error) {
	var out Category
	if err := c.send(ctx, http.MethodPost, token, "/categories", "/categories", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateCategory(ctx context.Context, token string, id int64, in CategoryInput) (*Category, error) {
	var out Category
	if err := c.send(ctx, http.MethodPut, token, "/categories/{id}", pathID("/categories", id, ""), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteCategory(ctx context.Context, token string, id int64) error {
	return c.send(ctx, http.MethodDelete, token, "/categories/{id}", pathID("/categories", id, ""), nil, nil)
}
