package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/librimoms/club-bot/pkg/config"
)

func TestNew_PingsServer(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := New(context.Background(), config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
}

func TestNew_FailsWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := New(context.Background(), config.RedisConfig{Addr: addr})
	require.Error(t, err)
}

func TestMetricsClient_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = client.Close() })

	kv := NewMetricsClient(client)
	ctx := context.Background()

	require.NoError(t, kv.SetValue(ctx, "k", "v", time.Minute))
	got, err := kv.GetString(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	require.NoError(t, kv.Delete(ctx, "k"))
	_, err = kv.GetString(ctx, "k")
	assert.True(t, IsNil(err))
}
