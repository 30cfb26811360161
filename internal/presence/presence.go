// Package presence tracks typing signals and online status in Redis. TTLs
// implement the recency windows: a signal that has expired simply reads as
// absent, so stale state never needs explicit cleanup.
package presence

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/iwasamnot/campuschat/internal/models"
)

const (
	typingPrefix   = "typing:"
	presencePrefix = "presence:"

	typingTTL   = models.TypingRecencyWindow
	presenceTTL = 5 * time.Minute
)

// Client wraps a Redis connection for typing and presence signals.
type Client struct {
	rdb *goredis.Client
}

// NewClient creates a Redis client from a URL and verifies the connection.
func NewClient(redisURL string) (*Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	rdb := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// SetTyping records that a user is typing. The key expires after the
// recency window, which is what makes old signals stale.
func (c *Client) SetTyping(ctx context.Context, userID string) error {
	return c.rdb.Set(ctx, typingPrefix+userID, time.Now().UnixMilli(), typingTTL).Err()
}

// ClearTyping removes a user's typing signal before it expires.
func (c *Client) ClearTyping(ctx context.Context, userID string) error {
	return c.rdb.Del(ctx, typingPrefix+userID).Err()
}

// TypingUsers returns the ids of users with a live typing signal.
func (c *Client) TypingUsers(ctx context.Context) ([]string, error) {
	keys, err := c.rdb.Keys(ctx, typingPrefix+"*").Result()
	if err != nil {
		return nil, fmt.Errorf("listing typing signals: %w", err)
	}
	users := make([]string, 0, len(keys))
	for _, k := range keys {
		users = append(users, strings.TrimPrefix(k, typingPrefix))
	}
	return users, nil
}

// SetOnline marks a user online with a TTL refresh.
func (c *Client) SetOnline(ctx context.Context, userID string) error {
	return c.rdb.Set(ctx, presencePrefix+userID, "online", presenceTTL).Err()
}

// SetOffline clears a user's presence.
func (c *Client) SetOffline(ctx context.Context, userID string) error {
	return c.rdb.Del(ctx, presencePrefix+userID).Err()
}

// IsOnline reports whether a user has a live presence key.
func (c *Client) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, presencePrefix+userID).Result()
	if err != nil {
		return false, fmt.Errorf("checking presence: %w", err)
	}
	return n > 0, nil
}
