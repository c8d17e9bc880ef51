//go:build integration

package storage

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/ruteri/soulkeeper/interfaces"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func TestRedisIndex(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	addr, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(addr)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	prefixes := 0
	runAgentIndexTests(t, func(t *testing.T) interfaces.AgentIndex {
		// Each subtest gets its own key namespace on the shared server
		prefixes++
		return NewRedisIndex(client, WithKeyPrefix(string(rune('a'+prefixes))+":"))
	})

	idx, err := OpenIndex(ctx, addr+"?prefix=open:")
	require.NoError(t, err)
	require.NoError(t, idx.Record(ctx, interfaces.IndexEntry{AgentID: "x", ObjectID: "y"}))
	ids, err := idx.Latest(ctx, "x", 1)
	require.NoError(t, err)
	require.Equal(t, []interfaces.ObjectID{"y"}, ids)
	require.NoError(t, idx.Close())
}
