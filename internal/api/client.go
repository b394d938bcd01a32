// Package api is a typed client for the LibriMomsClub REST backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"

	apperrors "github.com/librimoms/club-bot/internal/errors"
	"github.com/librimoms/club-bot/pkg/metrics"
)

const (
	apiName         = "club_api"
	maxErrorBody    = 4 << 10
	defaultTimeout  = 15 * time.Second
	contentTypeJSON = "application/json"
)

// Client talks to the club backend. It is safe for concurrent use; the bearer token is passed per call.
type Client struct {
	baseURL  *url.URL
	http     *http.Client
	breaker  *apperrors.CircuitBreaker
	validate *validator.Validate
	log      *slog.Logger
}

// Option customises a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithBreaker(cb *apperrors.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// New builds a client for baseURL, e.g. https://club.example.com/api.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api base url must be http(s), got %q", baseURL)
	}

	c := &Client{
		baseURL:  u,
		http:     &http.Client{Timeout: defaultTimeout},
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Error is a non-2xx response from the backend.
type Error struct {
	Status   int
	Detail   string
	Endpoint string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: http %d", e.Endpoint, e.Status)
	}
	return fmt.Sprintf("%s: http %d: %s", e.Endpoint, e.Status, e.Detail)
}

// IsUnauthorized reports whether err means the token was rejected.
func IsUnauthorized(err error) bool {
	if apperrors.HasCode(err, apperrors.CodeAuth) {
		return true
	}
	var apiErr *Error
	return apperrors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// IsNotFound reports a 404 from the backend.
func IsNotFound(err error) bool {
	var apiErr *Error
	return apperrors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

type request struct {
	method string
	// endpoint is the route template used as metric label, e.g. /materials/{id}.
	endpoint string
	path     string
	token    string
	query    url.Values
	body     any
}

func (c *Client) get(ctx context.Context, token, endpoint, path string, query url.Values, out any) error {
	return c.do(ctx, request{method: http.MethodGet, endpoint: endpoint, path: path, token: token, query: query}, out)
}

func (c *Client) send(ctx context.Context, method, token, endpoint, path string, body, out any) error {
	return c.do(ctx, request{method: method, endpoint: endpoint, path: path, token: token, body: body}, out)
}

func (c *Client) do(ctx context.Context, r request, out any) error {
	if c.breaker == nil {
		return c.roundTrip(ctx, r, out)
	}

	err := c.breaker.Call(func() error { return c.roundTrip(ctx, r, out) }, countsForBreaker)
	if apperrors.Is(err, apperrors.ErrCircuitOpen) {
		return apperrors.NewExternalAPIError(apiName, err)
	}
	return err
}

// countsForBreaker ignores client-side failures: a 4xx says nothing about backend health.
func countsForBreaker(err error) bool {
	var apiErr *Error
	if apperrors.As(err, &apiErr) {
		return apiErr.Status >= http.StatusInternalServerError
	}
	return !apperrors.Is(err, context.Canceled)
}

func (c *Client) roundTrip(ctx context.Context, r request, out any) error {
	req, err := c.newRequest(ctx, r)
	if err != nil {
		return err
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordAPIRequest(r.endpoint, "error", time.Since(started))
		return apperrors.NewExternalAPIError(apiName, fmt.Errorf("%s %s: %w", r.method, r.endpoint, err))
	}
	defer resp.Body.Close()

	metrics.RecordAPIRequest(r.endpoint, strconv.Itoa(resp.StatusCode), time.Since(started))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classify(&Error{
			Status:   resp.StatusCode,
			Detail:   readDetail(resp.Body),
			Endpoint: r.method + " " + r.endpoint,
		})
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.NewExternalAPIError(apiName, fmt.Errorf("decode %s: %w", r.endpoint, err))
	}

	if err := c.validateResponse(out); err != nil {
		c.log.Warn("api response failed validation", slog.String("endpoint", r.endpoint), slog.Any("error", err))
		return apperrors.NewExternalAPIError(apiName, fmt.Errorf("invalid %s response: %w", r.endpoint, err))
	}

	return nil
}

func (c *Client) newRequest(ctx context.Context, r request) (*http.Request, error) {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + r.path
	if len(r.query) > 0 {
		u.RawQuery = r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		payload, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", r.endpoint, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", r.endpoint, err)
	}

	req.Header.Set("Accept", contentTypeJSON)
	if body != nil {
		req.Header.Set("Content-Type", contentTypeJSON)
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	return req, nil
}

// validateResponse checks struct tags on the decoded value. Slices are checked element by element.
func (c *Client) validateResponse(out any) error {
	v := reflect.ValueOf(out)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Struct:
		return c.validate.Struct(v.Interface())
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			el := v.Index(i)
			for el.Kind() == reflect.Pointer {
				if el.IsNil() {
					break
				}
				el = el.Elem()
			}
			if el.Kind() != reflect.Struct {
				continue
			}
			if err := c.validate.Struct(el.Interface()); err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
		}
	}

	return nil
}

func classify(apiErr *Error) error {
	switch {
	case apiErr.Status == http.StatusUnauthorized:
		return apperrors.NewAuthError(apiErr)
	case apiErr.Status == http.StatusPaymentRequired:
		return wrapAppError(apperrors.NewSubscriptionError(), apiErr)
	case apiErr.Status >= http.StatusInternalServerError:
		return apperrors.NewExternalAPIError(apiName, apiErr)
	case apiErr.Status == http.StatusNotFound:
		return wrapAppError(apperrors.NewNotFoundError(apiErr.Endpoint), apiErr)
	default:
		appErr := apperrors.NewValidationError(apiErr.Detail)
		return wrapAppError(appErr, apiErr)
	}
}

type wrappedAppError struct {
	*apperrors.AppError
	apiErr *Error
}

func (w *wrappedAppError) Unwrap() []error { return []error{w.AppError, w.apiErr} }

func wrapAppError(appErr *apperrors.AppError, apiErr *Error) error {
	return &wrappedAppError{AppError: appErr, apiErr: apiErr}
}

// readDetail extracts the backend's {"detail": ...} message, falling back to the raw body.
func readDetail(body io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if len(raw) == 0 {
		return ""
	}

	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || len(envelope.Detail) == 0 {
		return strings.TrimSpace(string(raw))
	}

	var text string
	if err := json.Unmarshal(envelope.Detail, &text); err == nil {
		return text
	}

	var items []struct {
		Loc []any  `json:"loc"`
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(envelope.Detail, &items); err == nil && len(items) > 0 {
		parts := make([]string, 0, len(items))
		for _, it := range items {
			parts = append(parts, it.Msg)
		}
		return strings.Join(parts, "; ")
	}

	return string(envelope.Detail)
}

func pathID(prefix string, id int64, suffix string) string {
	return prefix + "/" + strconv.FormatInt(id, 10) + suffix
}
