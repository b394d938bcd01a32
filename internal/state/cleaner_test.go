package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleaner_ClearsErrorAndStaleStates(t *testing.T) {
	storage := newInMemoryStorage(0)
	ctx := context.Background()
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	storage.states[1] = &UserState{UserID: 1, CurrentState: StateError, UpdatedAt: now}
	storage.states[2] = &UserState{UserID: 2, CurrentState: StatePushBody, UpdatedAt: now.Add(-2 * time.Hour)}
	storage.states[3] = &UserState{UserID: 3, CurrentState: StatePushBody, UpdatedAt: now.Add(-time.Minute)}

	c := NewCleaner(storage, testLogger(), time.Hour, time.Minute)
	c.now = func() time.Time { return now }

	assert.Equal(t, 2, c.cleanup(ctx))

	_, err := storage.GetState(ctx, 3)
	require.NoError(t, err)
	_, err = storage.GetState(ctx, 1)
	assert.ErrorIs(t, err, ErrStateNotFound)
}
