package resultstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"litqa/internal/model"
)

// RedisMirror is an optional durable read-through cache for Task state,
// storing each Task as JSON under a per-key TTL.
type RedisMirror struct {
	client *redis.Client
	prefix string
}

// NewRedisMirror connects to addr and pings it to validate the connection.
func NewRedisMirror(addr, prefix string) (*RedisMirror, error) {
	c := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	if prefix == "" {
		prefix = "litqa:task:"
	}
	return &RedisMirror{client: c, prefix: prefix}, nil
}

func (m *RedisMirror) key(taskID string) string {
	return m.prefix + taskID
}

// Set stores task's JSON encoding under its ID with the given TTL.
func (m *RedisMirror) Set(ctx context.Context, task *model.Task, ttl time.Duration) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return m.client.Set(ctx, m.key(task.ID), data, ttl).Err()
}

// Get returns the mirrored Task for id, or found=false if absent.
func (m *RedisMirror) Get(ctx context.Context, id string) (*model.Task, bool, error) {
	data, err := m.client.Get(ctx, m.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var task model.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, false, err
	}
	return &task, true, nil
}

// Close releases the underlying Redis client.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}
