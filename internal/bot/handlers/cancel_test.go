package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	telebot "gopkg.in/telebot.v3"

	"github.com/librimoms/club-bot/internal/state"
	"github.com/librimoms/club-bot/internal/testutil"
)

type resetRecorder struct {
	reset []int64
}

func (r *resetRecorder) Reset(telegramID int64) { r.reset = append(r.reset, telegramID) }

type dirtyGuard struct {
	dirty  bool
	closed int
}

func (g *dirtyGuard) Dirty(int64) bool { return g.dirty }

func (g *dirtyGuard) Close(c telebot.Context) error {
	g.closed++
	return nil
}

func TestCancel_ClearsStateAndDrafts(t *testing.T) {
	fsm := newFSM(t)
	ctx := context.Background()
	require.NoError(t, fsm.SetState(ctx, 5, state.StateUserSearch, nil))

	resets := &resetRecorder{}
	h := NewCancelHandler(fsm, []FlowResetter{resets}, &dirtyGuard{}, testLogger())

	c := testutil.NewTextContext(5, "/cancel")
	require.NoError(t, h(c))

	st, err := fsm.Current(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, state.StateIdle, st.CurrentState)
	assert.Equal(t, []int64{5}, resets.reset)
	assert.Equal(t, "common.cancelled", c.LastSent().Text())
	assert.NotNil(t, c.LastSent().Markup())
}

func TestCancel_DirtyFormAsksFirst(t *testing.T) {
	fsm := newFSM(t)
	ctx := context.Background()
	require.NoError(t, fsm.SetState(ctx, 5, state.StateMaterialField, map[string]interface{}{state.ContextField: "title"}))

	resets := &resetRecorder{}
	guard := &dirtyGuard{dirty: true}
	h := NewCancelHandler(fsm, []FlowResetter{resets}, guard, testLogger())

	require.NoError(t, h(testutil.NewCallbackContext(5, "cancel")))

	assert.Equal(t, 1, guard.closed)
	assert.Empty(t, resets.reset)
	st, err := fsm.Current(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, state.StateMaterialField, st.CurrentState)
}

func TestAdminOnly(t *testing.T) {
	var calls int
	h := AdminOnly(func(c telebot.Context) error {
		calls++
		return nil
	})

	member := testutil.NewTextContext(9, "/admin")
	require.NoError(t, h(member))
	assert.Zero(t, calls)
	assert.Equal(t, "admin.forbidden", member.LastSent().Text())

	press := testutil.NewCallbackContext(9, "adm")
	require.NoError(t, h(press))
	assert.Zero(t, calls)
	require.Len(t, press.Responses, 1)
	assert.True(t, press.Responses[0].ShowAlert)

	admin := testutil.NewTextContext(1, "/admin")
	SetAdmin(admin, true)
	require.NoError(t, h(admin))
	assert.Equal(t, 1, calls)
}
