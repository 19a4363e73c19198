package redis

import (
	"context"
	"testing"
	"time"

	"wisefido-vitals/common/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := Connect(context.Background(), &config.RedisConfig{Addr: mr.Addr(), PoolSize: 15})
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, 15, client.Options().PoolSize)
	assert.NoError(t, Ping(context.Background(), client))
}

func TestConnect_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	client, err := Connect(context.Background(), &config.RedisConfig{Addr: addr, PingTimeout: 200 * time.Millisecond})

	assert.Nil(t, client)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to ping redis "+addr)
}

func TestPing(t *testing.T) {
	client := setupMiniredis(t)

	assert.NoError(t, Ping(context.Background(), client))
	assert.NoError(t, Close(client))
	assert.NoError(t, Close(nil))
}
