package agents

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
)

// MemoryIDCache is a process-local IDCache. Create one per process and share it
// between providers.
type MemoryIDCache struct {
	mu  sync.RWMutex
	ids map[string]string
}

func NewMemoryIDCache() *MemoryIDCache {
	return &MemoryIDCache{ids: map[string]string{}}
}

func (c *MemoryIDCache) Get(_ context.Context, name string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.ids[name]
	return id, ok, nil
}

func (c *MemoryIDCache) Set(_ context.Context, name, id string) error {
	c.mu.Lock()
	c.ids[name] = id
	c.mu.Unlock()
	return nil
}

func (c *MemoryIDCache) Delete(_ context.Context, name string) error {
	c.mu.Lock()
	delete(c.ids, name)
	c.mu.Unlock()
	return nil
}

const redisKeyPrefix = "querypilot:agent-id:"

// RedisIDCache shares agent ids between instances and across restarts.
type RedisIDCache struct {
	client *redis.Client
	prefix string
}

func NewRedisIDCache(client *redis.Client, namespace string) *RedisIDCache {
	prefix := redisKeyPrefix
	if namespace != "" {
		prefix += namespace + ":"
	}
	return &RedisIDCache{client: client, prefix: prefix}
}

func (c *RedisIDCache) Get(ctx context.Context, name string) (string, bool, error) {
	id, err := c.client.Get(ctx, c.prefix+name).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get agent id: %w", err)
	}
	return id, true, nil
}

func (c *RedisIDCache) Set(ctx context.Context, name, id string) error {
	if err := c.client.Set(ctx, c.prefix+name, id, 0).Err(); err != nil {
		return fmt.Errorf("redis set agent id: %w", err)
	}
	return nil
}

func (c *RedisIDCache) Delete(ctx context.Context, name string) error {
	if err := c.client.Del(ctx, c.prefix+name).Err(); err != nil {
		return fmt.Errorf("redis delete agent id: %w", err)
	}
	return nil
}
