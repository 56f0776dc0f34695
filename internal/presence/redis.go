package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	clientsKey    = "presence:clients"
	activeKey     = "presence:active"
	signalChannel = "presence:signals"

	// Entries expire so a server that dies without deregistering cannot
	// pin presence forever. The server refreshes the TTL while alive.
	registryTTL = 2 * time.Minute
)

// redisCommander is the slice of the go-redis client the registry
// issues; tests supply an in-memory implementation.
type redisCommander interface {
	SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...any) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Close() error
}

// RedisRegistry shares presence state between the API server and the
// detached worker: a set of connected client handles plus the active
// flag, with connect/disconnect signals published on a channel.
type RedisRegistry struct {
	client redisCommander
}

var _ Registry = (*RedisRegistry)(nil)

func NewRedisRegistry(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{client: client}
}

// ConnectRegistry dials Redis from a URL and verifies the connection.
func ConnectRegistry(ctx context.Context, url string) (*RedisRegistry, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("presence: parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("presence: ping redis: %w", err)
	}
	return &RedisRegistry{client: client}, nil
}

func (r *RedisRegistry) Close() error {
	return r.client.Close()
}

func (r *RedisRegistry) ClientConnected(ctx context.Context, clientID string) error {
	if err := r.client.SAdd(ctx, clientsKey, clientID).Err(); err != nil {
		return err
	}
	if err := r.client.Expire(ctx, clientsKey, registryTTL).Err(); err != nil {
		return err
	}
	return r.publish(ctx, SignalConnected)
}

func (r *RedisRegistry) ClientDisconnected(ctx context.Context, clientID string) error {
	if err := r.client.SRem(ctx, clientsKey, clientID).Err(); err != nil {
		return err
	}
	return r.publish(ctx, SignalDisconnected)
}

func (r *RedisRegistry) SetActive(ctx context.Context, active bool) error {
	value := "0"
	if active {
		value = "1"
	}
	return r.client.Set(ctx, activeKey, value, registryTTL).Err()
}

func (r *RedisRegistry) Clients(ctx context.Context) ([]string, error) {
	return r.client.SMembers(ctx, clientsKey).Result()
}

func (r *RedisRegistry) AnyVisible(ctx context.Context) (bool, error) {
	value, err := r.client.Get(ctx, activeKey).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return value == "1", nil
}

// Clear resets the registry; the worker calls it on start so stale
// handles from a previous run do not leak in.
func (r *RedisRegistry) Clear(ctx context.Context) error {
	return r.client.Del(ctx, clientsKey, activeKey).Err()
}

func (r *RedisRegistry) publish(ctx context.Context, signalType string) error {
	payload, err := json.Marshal(Signal{Type: signalType, Timestamp: time.Now().UTC()})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, signalChannel, payload).Err()
}
