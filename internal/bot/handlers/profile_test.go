package handlers

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/librimoms/club-bot/internal/api"
	apperrors "github.com/librimoms/club-bot/internal/errors"
	"github.com/librimoms/club-bot/internal/idempotency"
	"github.com/librimoms/club-bot/internal/testutil"
)

type fakeAccount struct {
	AccountBackend
	created  atomic.Int32
	requests []api.CreatePaymentRequest
}

func (f *fakeAccount) CreatePayment(ctx context.Context, token string, in api.CreatePaymentRequest) (*api.CreatePaymentResponse, error) {
	n := f.created.Add(1)
	f.requests = append(f.requests, in)
	return &api.CreatePaymentResponse{
		PaymentID:       fmt.Sprintf("pay-%d", n),
		ConfirmationURL: "https://yookassa.example/confirm/1",
	}, nil
}

func newProfile(t *testing.T, backend AccountBackend) *Profile {
	t.Helper()
	payments := idempotency.NewManager(idempotency.NewRedisStore(newRedis(t), testLogger()), testLogger())
	return NewProfile(backend, nil, payments, nil, []string{"month", "year"}, "https://t.me/librimoms_bot", newKeyboard(), testLogger())
}

func pressPay(t *testing.T, h *Profile, plan string) (*testutil.FakeContext, error) {
	t.Helper()
	c := loggedIn(testutil.NewCallbackContext(21, UniquePay+":"+plan), false)
	SetPayload(c, plan)
	return c, h.Pay(c)
}

func TestProfilePay_ReusesPaymentWithinWindow(t *testing.T) {
	backend := &fakeAccount{}
	h := newProfile(t, backend)

	first, err := pressPay(t, h, "month")
	require.NoError(t, err)
	second, err := pressPay(t, h, "month")
	require.NoError(t, err)

	assert.EqualValues(t, 1, backend.created.Load())
	require.Len(t, backend.requests, 1)
	assert.Equal(t, "month", backend.requests[0].Plan)
	assert.True(t, backend.requests[0].AutoRenewal)
	assert.Equal(t, "https://t.me/librimoms_bot", backend.requests[0].ReturnURL)

	for _, c := range []*testutil.FakeContext{first, second} {
		markup := c.LastSent().Markup()
		require.NotNil(t, markup)
		require.NotEmpty(t, markup.InlineKeyboard)
		assert.Equal(t, "https://yookassa.example/confirm/1", markup.InlineKeyboard[0][0].URL)
	}
}

func TestProfilePay_PlansAreSeparate(t *testing.T) {
	backend := &fakeAccount{}
	h := newProfile(t, backend)

	_, err := pressPay(t, h, "month")
	require.NoError(t, err)
	_, err = pressPay(t, h, "year")
	require.NoError(t, err)

	assert.EqualValues(t, 2, backend.created.Load())
}

func TestProfilePay_UnknownPlan(t *testing.T) {
	backend := &fakeAccount{}
	h := newProfile(t, backend)

	_, err := pressPay(t, h, "quarter")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
	assert.Zero(t, backend.created.Load())
}

func TestProfilePay_RequiresLogin(t *testing.T) {
	h := newProfile(t, &fakeAccount{})

	c := testutil.NewCallbackContext(21, UniquePay+":month")
	SetPayload(c, "month")
	err := h.Pay(c)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeAuth))
}
