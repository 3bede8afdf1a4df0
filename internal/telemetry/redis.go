package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisWriter is the part of a redis client the mirror uses.
type RedisWriter interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisMirror copies every snapshot to a key and a pub/sub channel.
type RedisMirror struct {
	client  RedisWriter
	key     string
	channel string
	ttl     time.Duration
}

// NewRedisMirror wraps client.
func NewRedisMirror(client RedisWriter, key, channel string) *RedisMirror {
	return &RedisMirror{client: client, key: key, channel: channel, ttl: 10 * time.Second}
}

// DialRedis connects to addr and checks it answers.
func DialRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

// Mirror writes one snapshot.
func (m *RedisMirror) Mirror(ctx context.Context, s Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := m.client.Set(ctx, m.key, data, m.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", m.key, err)
	}
	if err := m.client.Publish(ctx, m.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", m.channel, err)
	}
	return nil
}

// Run mirrors snapshots from hub until ctx is done. Write failures are
// logged once per outage.
func (m *RedisMirror) Run(ctx context.Context, hub *Hub) error {
	id, snapshots := hub.Subscribe(4)
	defer hub.Unsubscribe(id)

	failing := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-snapshots:
			if !ok {
				return nil
			}
			err := m.Mirror(ctx, s)
			switch {
			case err != nil && !failing:
				opsf("redis mirror failing: %v", err)
				failing = true
			case err == nil && failing:
				opsf("redis mirror recovered")
				failing = false
			}
		}
	}
}
