package cache

import (
	"context"
	"testing"
	"time"

	"example.com/backstage/waterweb/config"

	"github.com/stretchr/testify/require"
)

func TestNewRedisClientDisabledReturnsNoop(t *testing.T) {
	client, err := NewRedisClient(config.RedisConfig{Enabled: false})
	require.NoError(t, err)
	require.IsType(t, NoopClient{}, client)

	ctx := context.Background()
	require.NoError(t, client.Set(ctx, "device:dev1", "{}", time.Minute))
	_, err = client.Get(ctx, "device:dev1")
	require.True(t, IsMiss(err))
	require.NoError(t, client.Delete(ctx, "device:dev1"))
	require.NoError(t, client.Close())
}

func TestNewRedisClientUnreachable(t *testing.T) {
	_, err := NewRedisClient(config.RedisConfig{Enabled: true, Host: "127.0.0.1", Port: 1})
	require.Error(t, err)
}
