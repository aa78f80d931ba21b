package responder

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"dminbox/internal/models"
	"dminbox/internal/redis"
)

const historyKeyPrefix = "responder:history:"

// CacheClient is the slice of the redis client the history cache needs.
type CacheClient interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// historyCache keeps recent conversation history in redis so consecutive
// replies in a busy conversation skip the message query.
type historyCache struct {
	client CacheClient
	ttl    time.Duration
}

func newHistoryCache(client CacheClient, ttl time.Duration) *historyCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &historyCache{client: client, ttl: ttl}
}

func (c *historyCache) get(ctx context.Context, conversationID string) ([]*models.Message, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, historyKeyPrefix+conversationID)
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			debugLog("[responder] history cache get %s: %v", conversationID, err)
		}
		return nil, false
	}
	var history []*models.Message
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		debugLog("[responder] history cache decode %s: %v", conversationID, err)
		return nil, false
	}
	return history, true
}

func (c *historyCache) put(ctx context.Context, conversationID string, history []*models.Message) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(history)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, historyKeyPrefix+conversationID, raw, c.ttl); err != nil {
		debugLog("[responder] history cache set %s: %v", conversationID, err)
	}
}

func (c *historyCache) invalidate(ctx context.Context, conversationID string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, historyKeyPrefix+conversationID); err != nil {
		debugLog("[responder] history cache del %s: %v", conversationID, err)
	}
}
