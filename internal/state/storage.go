// Package state keeps the per-user conversation FSM of the bot.
package state

import "context"

// Storage defines the persistence contract for user FSM state.
type Storage interface {
	GetState(ctx context.Context, userID int64) (*UserState, error)
	SetState(ctx context.Context, userID int64, state *UserState) error
	ClearState(ctx context.Context, userID int64) error
	// GetAllStates returns every stored state. Used by metrics only.
	GetAllStates(ctx context.Context) ([]*UserState, error)
}
