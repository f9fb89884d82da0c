// Package rediscache decorates repositories with Redis read-through
// caching. The gateway resolves message authors on every send; caching the
// profile keeps that hot path off Postgres.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/crewdeck/crewdeck/internal/models"
	"github.com/crewdeck/crewdeck/internal/repository"
)

const userTTL = 5 * time.Minute

// UserCache wraps a UserRepository with a per-user Redis entry. Cache
// failures degrade to the underlying store — a Redis outage slows reads
// down, it never fails them.
type UserCache struct {
	inner  repository.UserRepository
	client *redis.Client
	logger *zap.Logger
}

var _ repository.UserRepository = (*UserCache)(nil)

func NewUserCache(inner repository.UserRepository, client *redis.Client, logger *zap.Logger) *UserCache {
	return &UserCache{inner: inner, client: client, logger: logger}
}

func userKey(userID uuid.UUID) string {
	return "user:" + userID.String()
}

func (c *UserCache) GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	key := userKey(userID)

	raw, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var u models.User
		if err := json.Unmarshal(raw, &u); err == nil {
			return &u, nil
		}
		// Unreadable entry: drop it and fall through to the store.
		c.client.Del(ctx, key)
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("user cache read failed", zap.Error(err))
	}

	u, err := c.inner.GetByID(ctx, userID)
	if err != nil || u == nil {
		return u, err
	}

	if raw, err := json.Marshal(u); err == nil {
		if err := c.client.Set(ctx, key, raw, userTTL).Err(); err != nil {
			c.logger.Warn("user cache write failed", zap.Error(err))
		}
	}
	return u, nil
}

// Create writes through to the store and primes the cache.
func (c *UserCache) Create(ctx context.Context, username, email, firstName, lastName, passwordHash string) (*models.User, error) {
	u, err := c.inner.Create(ctx, username, email, firstName, lastName, passwordHash)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(u); err == nil {
		if err := c.client.Set(ctx, userKey(u.ID), raw, userTTL).Err(); err != nil {
			c.logger.Warn("user cache write failed", zap.Error(err))
		}
	}
	return u, nil
}

// GetByEmail is login-path only; it is not cached. Caching credentials
// keyed by email would double the invalidation surface for a cold path.
func (c *UserCache) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := c.inner.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}
