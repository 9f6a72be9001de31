package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/99minutos/account-service/internal/core/domain"
)

const defaultRoleTTL = 10 * time.Minute

// RoleCache remembers role ids by role name. Entries are scoped by namespace
// so stores sharing one Redis database never see each other's ids.
// Key format: <namespace>:role:<name>
type RoleCache struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
}

// NewRoleCache creates a RoleCache wrapping the given Redis client.
func NewRoleCache(client *redis.Client, namespace string, ttl time.Duration) *RoleCache {
	if ttl <= 0 {
		ttl = defaultRoleTTL
	}
	return &RoleCache{client: client, namespace: namespace, ttl: ttl}
}

// Lookup returns the cached id for name. ok is false on a cache miss.
func (c *RoleCache) Lookup(ctx context.Context, name string) (string, bool, error) {
	id, err := c.client.Get(ctx, c.key(name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("role cache get: %w", err)
	}
	return id, true, nil
}

// Store caches role for the configured TTL.
func (c *RoleCache) Store(ctx context.Context, role *domain.Role) error {
	if err := c.client.Set(ctx, c.key(role.Name), role.ID, c.ttl).Err(); err != nil {
		return fmt.Errorf("role cache set: %w", err)
	}
	return nil
}

// Invalidate drops the entry for name.
func (c *RoleCache) Invalidate(ctx context.Context, name string) error {
	if err := c.client.Del(ctx, c.key(name)).Err(); err != nil {
		return fmt.Errorf("role cache del: %w", err)
	}
	return nil
}

func (c *RoleCache) key(name string) string {
	if c.namespace == "" {
		return "role:" + name
	}
	return c.namespace + ":role:" + name
}
