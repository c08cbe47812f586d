// Package redis creates the Redis client backing the shared query cache and
// the embedding cache.
package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/kart-io/sentinel-rag/pkg/component/storage"
	options "github.com/kart-io/sentinel-rag/pkg/options/redis"
)

// sdkLogger 把 go-redis 内部日志（重连、连接池告警）转到统一日志。
type sdkLogger struct{}

func (sdkLogger) Printf(ctx context.Context, format string, v ...any) {
	logger.Global().WithCtx(ctx).Warnw(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "redis")
}

var installLogger sync.Once

// Client wraps a go-redis client and implements storage.Client.
type Client struct {
	client goredis.UniversalClient
	opts   *options.Options
}

var _ storage.Client = (*Client)(nil)

// New validates opts, connects and verifies connectivity with a ping.
func New(ctx context.Context, opts *options.Options) (*Client, error) {
	if opts == nil {
		return nil, fmt.Errorf("redis options cannot be nil")
	}
	if err := utilerrors.NewAggregate(opts.Validate()); err != nil {
		return nil, fmt.Errorf("invalid redis options: %w", err)
	}

	installLogger.Do(func() { goredis.SetLogger(sdkLogger{}) })

	rdb := goredis.NewClient(&goredis.Options{
		Addr:         opts.Addr(),
		Password:     opts.Password,
		DB:           opts.Database,
		MaxRetries:   opts.MaxRetries,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		PoolTimeout:  opts.PoolTimeout,
	})

	pctx, cancel := context.WithTimeout(ctx, opts.DialTimeout+time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", opts.Addr(), err)
	}

	return &Client{client: rdb, opts: opts}, nil
}

// Name implements storage.Client.
func (c *Client) Name() string {
	return "redis"
}

// Ping implements storage.Client.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close implements storage.Client.
func (c *Client) Close(context.Context) error {
	return c.client.Close()
}

// Client returns the underlying go-redis client.
func (c *Client) Client() goredis.UniversalClient {
	return c.client
}

// Options returns the Redis options used by this client.
func (c *Client) Options() *options.Options {
	return c.opts
}
