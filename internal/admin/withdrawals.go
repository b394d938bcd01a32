package admin

import (
	"context"
	"strings"

	"github.com/librimoms/club-bot/internal/api"
	apperrors "github.com/librimoms/club-bot/internal/errors"
)

const WithdrawalPending = "pending"

type WithdrawalBackend interface {
	Withdrawals(ctx context.Context, token, status string) ([]api.Withdrawal, error)
	ApproveWithdrawal(ctx context.Context, token string, id int64) error
	RejectWithdrawal(ctx context.Context, token string, id int64, reason string) error
}

type Withdrawals struct {
	backend WithdrawalBackend
}

func NewWithdrawals(backend WithdrawalBackend) *Withdrawals {
	return &Withdrawals{backend: backend}
}

func (w *Withdrawals) Pending(ctx context.Context, token string) ([]api.Withdrawal, error) {
	return w.backend.Withdrawals(ctx, token, WithdrawalPending)
}

func (w *Withdrawals) Approve(ctx context.Context, token string, id int64) error {
	return w.backend.ApproveWithdrawal(ctx, token, id)
}

// Reject requires a reason, which is shown to the user.
func (w *Withdrawals) Reject(ctx context.Context, token string, id int64, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return apperrors.NewFieldsError(map[string]string{"reason": "Укажите причину отказа"})
	}
	return w.backend.RejectWithdrawal(ctx, token, id, reason)
}
