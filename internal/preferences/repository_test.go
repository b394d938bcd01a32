package preferences

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/librimoms/club-bot/internal/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMockRepo(t *testing.T) (Repository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewRepository(db, testLogger()), mock
}

var prefColumns = []string{
	"telegram_id", "chat_id", "lang", "digest", "push_promo_dismissed", "pwa_prompt_dismissed",
	"pwa_prompt_shown_at", "last_notified_id", "blocked_at", "last_active_at", "created_at",
}

func TestRepository_Find(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM bot_users WHERE telegram_id = $1")).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows(prefColumns).
			AddRow(int64(42), int64(4200), "ru", true, false, true, now, int64(7), nil, now, now))

	p, err := repo.Find(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(4200), p.ChatID)
	assert.True(t, p.Digest)
	assert.True(t, p.PWAPromptDismissed)
	require.NotNil(t, p.PWAPromptShownAt)
	assert.Nil(t, p.BlockedAt)
	assert.Equal(t, int64(7), p.LastNotifiedID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_FindMissing(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("FROM bot_users").WithArgs(int64(1)).WillReturnError(sql.ErrNoRows)

	_, err := repo.Find(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepository_FindFailureIsDatabaseError(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("FROM bot_users").WithArgs(int64(1)).WillReturnError(sql.ErrConnDone)

	_, err := repo.Find(context.Background(), 1)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeDatabase))
}

func TestRepository_CreateIgnoresDuplicate(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("INSERT INTO bot_users").WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), &Preferences{TelegramID: 1, ChatID: 1, Lang: "ru"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_UpdateMissingRow(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("UPDATE bot_users").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), &Preferences{TelegramID: 1})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepository_DigestRecipients(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE digest AND blocked_at IS NULL AND telegram_id > $1")).
		WithArgs(int64(0), 100).
		WillReturnRows(sqlmock.NewRows([]string{"telegram_id", "chat_id", "lang", "last_notified_id"}).
			AddRow(int64(1), int64(10), "ru", int64(5)).
			AddRow(int64(2), int64(20), "en", int64(0)))

	rcpts, err := repo.DigestRecipients(context.Background(), 0, 100)
	require.NoError(t, err)
	assert.Equal(t, []Recipient{{1, 10, "ru", 5}, {2, 20, "en", 0}}, rcpts)
}

func TestRepository_DigestRecipientsContinuesAfterCursor(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY telegram_id")).
		WithArgs(int64(2), 2).
		WillReturnRows(sqlmock.NewRows([]string{"telegram_id", "chat_id", "lang", "last_notified_id"}).
			AddRow(int64(7), int64(70), "ru", int64(0)))

	rcpts, err := repo.DigestRecipients(context.Background(), 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []Recipient{{7, 70, "ru", 0}}, rcpts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_MarkBlockedUsesArray(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("WHERE telegram_id = ANY($1)")).
		WithArgs(pq.Array([]int64{1, 2}), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, repo.MarkBlocked(context.Background(), []int64{1, 2}))
	require.NoError(t, repo.MarkBlocked(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}
