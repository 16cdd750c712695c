// Package cache mirrors live conversation state in Redis so dashboards can
// read it without touching the session that owns it.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"intake-chatbot/pkg"
)

// ErrMiss is returned by Get when nothing is cached for the session.
var ErrMiss = errors.New("cache: state not found")

const keyPrefix = "intake:state:"

// StateCache stores one ConversationState per session with a TTL that is
// refreshed on every write.
type StateCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New wraps client.
func New(client *redis.Client, ttl time.Duration) *StateCache {
	return &StateCache{client: client, ttl: ttl}
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cache: parse url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: ping: %w", err)
	}
	return client, nil
}

func (c *StateCache) Put(ctx context.Context, sessionID string, st pkg.ConversationState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, keyPrefix+sessionID, data, c.ttl).Err()
}

func (c *StateCache) Get(ctx context.Context, sessionID string) (*pkg.ConversationState, error) {
	data, err := c.client.Get(ctx, keyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	var st pkg.ConversationState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("cache: decode state: %w", err)
	}
	return &st, nil
}

func (c *StateCache) Delete(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, keyPrefix+sessionID).Err()
}
