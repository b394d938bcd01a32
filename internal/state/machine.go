package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	userLockKeyPattern = "bot:state:lock:%d"
	lockTTL            = 5 * time.Second
)

var (
	// ErrInvalidTransition indicates that a requested FSM transition is not allowed.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrStateNotFound indicates that a user state record does not exist.
	ErrStateNotFound = errors.New("user state not found")
	// ErrStateLocked indicates that a concurrent operation already holds the lock.
	ErrStateLocked = errors.New("state is locked, try again later")
)

var transitionRecorder = func(from, to string) {}

// RegisterTransitionRecorder allows external packages to observe FSM transitions.
func RegisterTransitionRecorder(recorder func(from, to string)) {
	if recorder == nil {
		transitionRecorder = func(string, string) {}
		return
	}

	transitionRecorder = recorder
}

// StateMachine describes the operations supported by the FSM controller.
type StateMachine interface {
	GetState(ctx context.Context, userID int64) (*UserState, error)
	// Current is GetState that reports a missing record as idle.
	Current(ctx context.Context, userID int64) (*UserState, error)
	SetState(ctx context.Context, userID int64, state State, contextData map[string]interface{}) error
	// TransitionTo moves to newState when allowed. The stored context is kept and updates are merged into it.
	TransitionTo(ctx context.Context, userID int64, newState State, updates map[string]interface{}) error
	ClearState(ctx context.Context, userID int64) error
	GetAllStates(ctx context.Context) ([]*UserState, error)
}

type machine struct {
	storage     Storage
	log         *slog.Logger
	redisClient *redis.Client
}

// NewStateMachine creates a FSM controller using the provided storage backend and redis client for locking.
// A nil redis client disables locking.
func NewStateMachine(storage Storage, log *slog.Logger, redisClient *redis.Client) StateMachine {
	if log == nil {
		log = slog.Default()
	}

	return &machine{
		storage:     storage,
		log:         log,
		redisClient: redisClient,
	}
}

func (m *machine) GetState(ctx context.Context, userID int64) (*UserState, error) {
	return m.storage.GetState(ctx, userID)
}

func (m *machine) Current(ctx context.Context, userID int64) (*UserState, error) {
	st, err := m.storage.GetState(ctx, userID)
	if errors.Is(err, ErrStateNotFound) || (err == nil && st == nil) {
		return &UserState{UserID: userID, CurrentState: StateIdle, Context: map[string]interface{}{}}, nil
	}
	if err != nil {
		return nil, err
	}
	if st.Context == nil {
		st.Context = map[string]interface{}{}
	}
	return st, nil
}

func (m *machine) GetAllStates(ctx context.Context) ([]*UserState, error) {
	return m.storage.GetAllStates(ctx)
}

func (m *machine) SetState(ctx context.Context, userID int64, state State, contextData map[string]interface{}) error {
	if err := m.lock(ctx, userID); err != nil {
		return err
	}
	defer m.unlock(ctx, userID)

	return m.saveState(ctx, userID, state, contextData)
}

func (m *machine) TransitionTo(ctx context.Context, userID int64, newState State, updates map[string]interface{}) error {
	if err := m.lock(ctx, userID); err != nil {
		return err
	}
	defer m.unlock(ctx, userID)

	current := StateIdle
	contextData := map[string]interface{}{}

	storedState, err := m.storage.GetState(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrStateNotFound) {
			return err
		}
	} else if storedState != nil {
		current = storedState.CurrentState
		for k, v := range storedState.Context {
			contextData[k] = v
		}
	}

	if !IsTransitionAllowed(current, newState) {
		m.log.Warn("invalid state transition", slog.Int64("user_id", userID), slog.String("from", string(current)), slog.String("to", string(newState)))
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, newState)
	}

	for k, v := range updates {
		contextData[k] = v
	}
	if newState == StateIdle {
		contextData = nil
	}

	transitionRecorder(string(current), string(newState))

	return m.saveState(ctx, userID, newState, contextData)
}

func (m *machine) ClearState(ctx context.Context, userID int64) error {
	if err := m.lock(ctx, userID); err != nil {
		return err
	}
	defer m.unlock(ctx, userID)

	return m.storage.ClearState(ctx, userID)
}

func (m *machine) saveState(ctx context.Context, userID int64, state State, contextData map[string]interface{}) error {
	userState := &UserState{
		UserID:       userID,
		CurrentState: state,
		Context:      contextData,
	}

	return m.storage.SetState(ctx, userID, userState)
}

func (m *machine) lock(ctx context.Context, userID int64) error {
	if m.redisClient == nil {
		return nil
	}

	key := fmt.Sprintf(userLockKeyPattern, userID)
	acquired, err := m.redisClient.SetNX(ctx, key, 1, lockTTL).Result()
	if err != nil {
		m.log.Error("failed to acquire user state lock", slog.Int64("user_id", userID), slog.Any("error", err))
		return err
	}

	if !acquired {
		m.log.Warn("user state lock already held", slog.Int64("user_id", userID))
		return ErrStateLocked
	}

	return nil
}

func (m *machine) unlock(ctx context.Context, userID int64) {
	if m.redisClient == nil {
		return
	}

	key := fmt.Sprintf(userLockKeyPattern, userID)
	if err := m.redisClient.Del(ctx, key).Err(); err != nil {
		m.log.Error("failed to release user state lock", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}
