package preferences

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	apperrors "github.com/librimoms/club-bot/internal/errors"
)

// ErrNotFound is returned when a user has no row yet.
var ErrNotFound = errors.New("preferences not found")

// Repository defines persistence operations for preferences.
type Repository interface {
	Find(ctx context.Context, telegramID int64) (*Preferences, error)
	Create(ctx context.Context, p *Preferences) error
	Update(ctx context.Context, p *Preferences) error
	Touch(ctx context.Context, telegramID int64) error
	// DigestRecipients pages opted-in users by telegram_id; pass the last id seen, 0 for the first page.
	DigestRecipients(ctx context.Context, afterID int64, limit int) ([]Recipient, error)
	SetLastNotified(ctx context.Context, telegramID, notificationID int64) error
	MarkBlocked(ctx context.Context, telegramIDs []int64) error
}

type postgresRepository struct {
	db  *sql.DB
	log *slog.Logger
}

// NewRepository creates a Postgres-backed repository.
func NewRepository(db *sql.DB, log *slog.Logger) Repository {
	if log == nil {
		log = slog.Default()
	}
	return &postgresRepository{db: db, log: log}
}

const selectColumns = `telegram_id, chat_id, lang, digest, push_promo_dismissed, pwa_prompt_dismissed,
		pwa_prompt_shown_at, last_notified_id, blocked_at, last_active_at, created_at`

func (r *postgresRepository) Find(ctx context.Context, telegramID int64) (*Preferences, error) {
	query := `SELECT ` + selectColumns + ` FROM bot_users WHERE telegram_id = $1`

	var (
		p       Preferences
		shownAt sql.NullTime
		blocked sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, telegramID).Scan(
		&p.TelegramID,
		&p.ChatID,
		&p.Lang,
		&p.Digest,
		&p.PushPromoDismissed,
		&p.PWAPromptDismissed,
		&shownAt,
		&p.LastNotifiedID,
		&blocked,
		&p.LastActiveAt,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.log.Error("failed to fetch preferences", slog.Int64("telegram_id", telegramID), slog.Any("error", err))
		return nil, apperrors.NewDatabaseError(fmt.Errorf("select preferences: %w", err))
	}

	if shownAt.Valid {
		p.PWAPromptShownAt = &shownAt.Time
	}
	if blocked.Valid {
		p.BlockedAt = &blocked.Time
	}
	return &p, nil
}

// Create inserts a row. A concurrent insert of the same user is not an error.
func (r *postgresRepository) Create(ctx context.Context, p *Preferences) error {
	const query = `
		INSERT INTO bot_users (telegram_id, chat_id, lang, digest, last_active_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query, p.TelegramID, p.ChatID, p.Lang, p.Digest, p.LastActiveAt, p.CreatedAt)
	if isUniqueViolation(err) {
		return nil
	}
	if err != nil {
		r.log.Error("failed to create preferences", slog.Int64("telegram_id", p.TelegramID), slog.Any("error", err))
		return apperrors.NewDatabaseError(fmt.Errorf("insert preferences: %w", err))
	}
	return nil
}

func (r *postgresRepository) Update(ctx context.Context, p *Preferences) error {
	const query = `
		UPDATE bot_users
		SET chat_id = $2, lang = $3, digest = $4, push_promo_dismissed = $5,
		    pwa_prompt_dismissed = $6, pwa_prompt_shown_at = $7
		WHERE telegram_id = $1
	`

	res, err := r.db.ExecContext(ctx, query,
		p.TelegramID,
		p.ChatID,
		p.Lang,
		p.Digest,
		p.PushPromoDismissed,
		p.PWAPromptDismissed,
		p.PWAPromptShownAt,
	)
	if err != nil {
		r.log.Error("failed to update preferences", slog.Int64("telegram_id", p.TelegramID), slog.Any("error", err))
		return apperrors.NewDatabaseError(fmt.Errorf("update preferences: %w", err))
	}
	return expectRow(res)
}

// Touch records activity and clears a previous block.
func (r *postgresRepository) Touch(ctx context.Context, telegramID int64) error {
	const query = `UPDATE bot_users SET last_active_at = $2, blocked_at = NULL WHERE telegram_id = $1`

	if _, err := r.db.ExecContext(ctx, query, telegramID, time.Now().UTC()); err != nil {
		return apperrors.NewDatabaseError(fmt.Errorf("touch preferences: %w", err))
	}
	return nil
}

func (r *postgresRepository) DigestRecipients(ctx context.Context, afterID int64, limit int) ([]Recipient, error) {
	const query = `
		SELECT telegram_id, chat_id, lang, last_notified_id
		FROM bot_users
		WHERE digest AND blocked_at IS NULL AND telegram_id > $1
		ORDER BY telegram_id
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, afterID, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError(fmt.Errorf("select digest recipients: %w", err))
	}
	defer rows.Close()

	var out []Recipient
	for rows.Next() {
		var rcpt Recipient
		if err := rows.Scan(&rcpt.TelegramID, &rcpt.ChatID, &rcpt.Lang, &rcpt.LastNotifiedID); err != nil {
			return nil, apperrors.NewDatabaseError(fmt.Errorf("scan digest recipient: %w", err))
		}
		out = append(out, rcpt)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}
	return out, nil
}

// SetLastNotified only moves the marker forward.
func (r *postgresRepository) SetLastNotified(ctx context.Context, telegramID, notificationID int64) error {
	const query = `
		UPDATE bot_users SET last_notified_id = $2
		WHERE telegram_id = $1 AND last_notified_id < $2
	`

	if _, err := r.db.ExecContext(ctx, query, telegramID, notificationID); err != nil {
		return apperrors.NewDatabaseError(fmt.Errorf("update last notified: %w", err))
	}
	return nil
}

// MarkBlocked flags users that blocked the bot so the digest skips them.
func (r *postgresRepository) MarkBlocked(ctx context.Context, telegramIDs []int64) error {
	if len(telegramIDs) == 0 {
		return nil
	}

	const query = `UPDATE bot_users SET blocked_at = $2 WHERE telegram_id = ANY($1)`
	if _, err := r.db.ExecContext(ctx, query, pq.Array(telegramIDs), time.Now().UTC()); err != nil {
		return apperrors.NewDatabaseError(fmt.Errorf("mark blocked: %w", err))
	}
	return nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.NewDatabaseError(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
