// Package idempotency makes repeated Telegram taps and redelivered updates harmless.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var ErrRequestInProgress = errors.New("request with this key is already in progress")

const (
	lockTTL      = 5 * time.Minute
	pollInterval = 100 * time.Millisecond
)

// Key builds a deterministic key using all provided parts.
func Key(parts ...any) string {
	h := sha256.New()
	for _, part := range parts {
		fmt.Fprintf(h, "%v:", part)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Manager runs an operation at most once per key while its record lives.
type Manager struct {
	store Store
	log   *slog.Logger
}

func NewManager(store Store, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{store: store, log: log}
}

// Do returns the cached result for key or runs fn and caches its result for ttl.
// cached reports whether fn was skipped. Failed runs are not cached.
func Do[T any](ctx context.Context, m *Manager, key string, ttl time.Duration, fn func(ctx context.Context) (T, error)) (result T, cached bool, err error) {
	for {
		done, err := cachedResult(ctx, m.store, key, &result)
		if err != nil || done {
			return result, done, err
		}

		locked, err := m.store.Lock(ctx, key, lockTTL)
		if err != nil {
			return result, false, err
		}
		if locked {
			break
		}

		// Lock held but nothing recorded yet: wait for the holder.
		select {
		case <-ctx.Done():
			return result, false, ctx.Err()
		case <-time.After(pollInterval):
		}
	}

	// The previous holder may have finished between the check and the lock.
	if done, err := cachedResult(ctx, m.store, key, &result); err != nil || done {
		m.release(key)
		return result, done, err
	}

	if err := m.store.Set(ctx, key, &Record{Status: StatusProcessing}, lockTTL); err != nil {
		m.release(key)
		return result, false, err
	}

	result, err = fn(ctx)
	if err != nil {
		if delErr := m.store.Delete(ctx, key); delErr != nil {
			m.log.Warn("failed to drop idempotency record", slog.String("key", key), slog.Any("error", delErr))
		}
		m.release(key)
		return result, false, err
	}

	raw, err := json.Marshal(result)
	if err != nil {
		m.release(key)
		return result, false, fmt.Errorf("encode result: %w", err)
	}
	if err := m.store.Set(ctx, key, &Record{Status: StatusCompleted, Response: raw}, ttl); err != nil {
		m.log.Warn("failed to cache idempotent result", slog.String("key", key), slog.Any("error", err))
	}
	m.release(key)
	return result, false, nil
}

// cachedResult decodes a completed record into out and reports whether there was one.
func cachedResult(ctx context.Context, store Store, key string, out any) (bool, error) {
	record, err := store.Get(ctx, key)
	if err != nil || record == nil {
		return false, err
	}

	switch record.Status {
	case StatusCompleted:
		if err := json.Unmarshal(record.Response, out); err != nil {
			return false, fmt.Errorf("decode cached result: %w", err)
		}
		return true, nil
	case StatusProcessing:
		return false, ErrRequestInProgress
	default:
		return false, nil
	}
}

// release uses a fresh context so a cancelled request still frees the lock.
func (m *Manager) release(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.store.ReleaseLock(ctx, key); err != nil {
		m.log.Warn("failed to release idempotency lock", slog.String("key", key), slog.Any("error", err))
	}
}
