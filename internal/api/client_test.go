package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/librimoms/club-bot/internal/errors"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL+"/api", opts...)
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNew_RejectsNonHTTPBase(t *testing.T) {
	_, err := New("ftp://club.example.com")
	require.Error(t, err)
}

func TestMaterials_SendsBearerAndQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/materials", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "30", r.URL.Query().Get("page_size"))
		assert.Equal(t, "7", r.URL.Query().Get("category_id"))

		writeJSON(w, http.StatusOK, map[string]any{
			"items": []map[string]any{{"id": 1, "title": "Sleep tips", "favorites_count": 3}},
			"total": 45,
			"page":  2,
		})
	})

	page, err := c.Materials(context.Background(), "tok", MaterialQuery{Page: 2, PageSize: 30, CategoryID: 7})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, 45, page.Total)
	assert.Equal(t, 3, page.Items[0].FavoritesCount)
}

func TestDo_UnauthorizedMapsToAuthError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Could not validate credentials"})
	})

	_, err := c.Me(context.Background(), "expired")
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeAuth))

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Could not validate credentials", apiErr.Detail)
}

func TestDo_NotFoundKeepsAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Material not found"})
	})

	_, err := c.Material(context.Background(), "tok", 99)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

func TestDo_ValidationDetailList(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": []map[string]any{{"loc": []any{"body", "title"}, "msg": "field required"}},
		})
	})

	_, err := c.CreateMaterial(context.Background(), "tok", MaterialInput{})
	require.Error(t, err)

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "field required", apiErr.Detail)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

func TestDo_RejectsMalformedResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{{"id": 1, "title": ""}})
	})

	_, err := c.Favorites(context.Background(), "tok")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeExternalAPI))
}

func TestDo_ServerErrorIsRetryable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.AdminStats(context.Background(), "tok")
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
}

func TestDo_BreakerOpensOnServerErrors(t *testing.T) {
	calls := 0
	cb := apperrors.NewCircuitBreaker(0.5, time.Minute)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}, WithBreaker(cb))

	for i := 0; i < apperrors.MinRequests; i++ {
		_, _ = c.Categories(context.Background(), "tok")
	}
	require.Equal(t, apperrors.StateOpen, cb.State())

	_, err := c.Categories(context.Background(), "tok")
	assert.ErrorIs(t, err, apperrors.ErrCircuitOpen)
	assert.Equal(t, apperrors.MinRequests, calls)
}

func TestAddFavorite(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/materials/5/favorite", r.URL.Path)
		writeJSON(w, http.StatusOK, FavoriteResult{IsFavorite: true, FavoritesCount: 11})
	})

	res, err := c.AddFavorite(context.Background(), "tok", 5)
	require.NoError(t, err)
	assert.True(t, res.IsFavorite)
	assert.Equal(t, 11, res.FavoritesCount)
}

func TestSendToUser_PostsTelegramID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/push/send-to-user", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(555), body["telegram_id"])
		assert.Equal(t, "Hello", body["title"])
		writeJSON(w, http.StatusOK, PushResult{Sent: 1})
	})

	res, err := c.SendToUser(context.Background(), "tok", SendToUserRequest{TelegramID: 555, Title: "Hello", Body: "b"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
}

func TestRejectWithdrawal_NoContent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/admin/withdrawals/3/reject", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.RejectWithdrawal(context.Background(), "tok", 3, "duplicate"))
}

func TestRecentActivity_Limit(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		writeJSON(w, http.StatusOK, []Activity{{ID: 1, Type: "view"}})
	})

	items, err := c.RecentActivity(context.Background(), "tok", 20)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}
