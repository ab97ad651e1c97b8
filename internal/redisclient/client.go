package redisclient

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"branch-ops-service/internal/models"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/save_if_newer.lua
var saveIfNewerScript string

// ErrCacheMiss is returned when a key is absent
var ErrCacheMiss = errors.New("cache miss")

type Client struct {
	rdb          *redis.Client
	snapshotSave *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewClientFromRedis(rdb), nil
}

// NewClientFromRedis wraps an existing go-redis client
func NewClientFromRedis(rdb *redis.Client) *Client {
	return &Client{
		rdb:          rdb,
		snapshotSave: redis.NewScript(saveIfNewerScript),
	}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks Redis is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func snapshotKey(branchID string) string { return fmt.Sprintf("branch:metrics:%s", branchID) }

// SaveSnapshot stores a branch snapshot unless a newer one is already stored.
// Returns false when the stored snapshot was newer.
func (c *Client) SaveSnapshot(ctx context.Context, branchID string, updatedAt time.Time, body []byte, ttl time.Duration) (bool, error) {
	result, err := c.snapshotSave.Run(ctx, c.rdb, []string{snapshotKey(branchID)},
		updatedAt.UnixMilli(), string(body), int64(ttl.Seconds())).Result()
	if err != nil {
		return false, fmt.Errorf("save snapshot script failed: %w", err)
	}

	saved, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}
	return saved == 1, nil
}

// GetSnapshot returns the stored JSON snapshot of a branch
func (c *Client) GetSnapshot(ctx context.Context, branchID string) ([]byte, error) {
	body, err := c.rdb.HGet(ctx, snapshotKey(branchID), "body").Bytes()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	return body, err
}

// SetBranchSettings caches branch configuration
func (c *Client) SetBranchSettings(ctx context.Context, settings *models.BranchSettings, ttl time.Duration) error {
	body, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, fmt.Sprintf("branch:settings:%s", settings.BranchID), body, ttl).Err()
}

// GetBranchSettings returns cached branch configuration
func (c *Client) GetBranchSettings(ctx context.Context, branchID string) (*models.BranchSettings, error) {
	body, err := c.rdb.Get(ctx, fmt.Sprintf("branch:settings:%s", branchID)).Bytes()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}

	var settings models.BranchSettings
	if err := json.Unmarshal(body, &settings); err != nil {
		return nil, fmt.Errorf("failed to decode cached branch settings: %w", err)
	}
	return &settings, nil
}

// GetSession resolves a bearer token stored as the hash session:<token>
func (c *Client) GetSession(ctx context.Context, token string) (*models.Session, error) {
	fields, err := c.rdb.HGetAll(ctx, fmt.Sprintf("session:%s", token)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 || fields["user_id"] == "" {
		return nil, ErrCacheMiss
	}

	return &models.Session{
		Token:    token,
		TenantID: fields["tenant_id"],
		UserID:   fields["user_id"],
		BranchID: fields["branch_id"],
	}, nil
}

// ClaimEvent marks an event id as processed. Returns false when it was already claimed.
func (c *Client) ClaimEvent(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("event:processed:%s", eventID), "1", ttl).Result()
}

// ReleaseEvent drops a claim so the event can be redelivered
func (c *Client) ReleaseEvent(ctx context.Context, eventID string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("event:processed:%s", eventID)).Err()
}
