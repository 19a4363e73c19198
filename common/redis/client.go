package redis

import (
	"context"
	"fmt"
	"time"

	"wisefido-vitals/common/config"

	"github.com/go-redis/redis/v8"
)

const defaultPingTimeout = 5 * time.Second

// Client Redis客户端类型别名
type Client = redis.Client

// NewRedisClient 创建Redis客户端
// 实时缓存与报警流写入共用连接池，Streams 阻塞读取会长期占用一个连接
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// Connect 创建客户端并在 PingTimeout 内确认连通；失败时关闭客户端
func Connect(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := NewRedisClient(cfg)

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := Ping(ctx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// Ping 测试Redis连接
func Ping(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}

// Close 关闭Redis连接
func Close(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
