package redis

import (
	"context"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	options "github.com/kart-io/sentinel-rag/pkg/options/redis"
)

func TestNew_RejectsInvalidOptions(t *testing.T) {
	_, err := New(context.Background(), nil)
	assert.Error(t, err)

	opts := options.NewOptions()
	opts.Host = ""
	opts.Port = 0
	_, err = New(context.Background(), opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis.host")
	assert.Contains(t, err.Error(), "redis.port")
}

func TestNew_UnreachableServer(t *testing.T) {
	opts := options.NewOptions()
	opts.Port = 1
	opts.MaxRetries = 0
	_, err := New(context.Background(), opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "127.0.0.1:1")
}

func TestClient_LiveHealth(t *testing.T) {
	opts := options.NewOptions()
	if addr := os.Getenv("RAG_TEST_REDIS_PORT"); addr != "" {
		opts.Port, _ = strconv.Atoi(addr)
	}
	opts.Database = 15

	c, err := New(context.Background(), opts)
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	defer func() { _ = c.Close(context.Background()) }()

	assert.Equal(t, "redis", c.Name())
	stats := c.HealthWithStats(context.Background())
	assert.True(t, stats.Healthy)
	assert.NotNil(t, stats.PoolStats)
}
