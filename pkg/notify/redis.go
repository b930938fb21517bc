package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultList is the Redis list the messaging service consumes.
const DefaultList = "loanledger:notifications"

// RedisNotifier pushes JSON events onto a Redis list.
type RedisNotifier struct {
	client *redis.Client
	list   string
}

// NewRedis wraps an existing client. An empty list means DefaultList.
func NewRedis(client *redis.Client, list string) *RedisNotifier {
	if list == "" {
		list = DefaultList
	}
	return &RedisNotifier{client: client, list: list}
}

// DialRedis connects to url and checks the connection. It returns nil, nil
// when url is empty so callers can treat Redis as optional.
func DialRedis(ctx context.Context, url, list string) (*RedisNotifier, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedis(client, list), nil
}

func (n *RedisNotifier) Notify(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := n.client.RPush(ctx, n.list, payload).Err(); err != nil {
		return fmt.Errorf("push notification to %s: %w", n.list, err)
	}
	return nil
}

// Close closes the Redis connection.
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
