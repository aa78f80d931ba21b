package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"dminbox/internal/redis"
)

// ErrInvalidKey marks an API key that resolves to no account.
var ErrInvalidKey = errors.New("invalid api key")

const keyCacheTTL = 5 * time.Minute

// Service resolves caller API keys to account ids. Accounts are provisioned
// out of band; this layer only consumes them.
type Service struct {
	db         *sql.DB
	cache      *redis.Client
	headerName string
}

// NewService constructs an auth service. The cache client may be nil, in which
// case every lookup hits the database.
func NewService(db *sql.DB, cache *redis.Client) *Service {
	return &Service{
		db:         db,
		cache:      cache,
		headerName: "Authorization",
	}
}

// ResolveKey maps an API key to the owning account id.
func (s *Service) ResolveKey(ctx context.Context, apiKey string) (string, error) {
	if apiKey == "" {
		return "", ErrInvalidKey
	}

	cacheKey := keyCacheName(apiKey)
	if s.cache != nil {
		if accountID, err := s.cache.Get(ctx, cacheKey); err == nil && accountID != "" {
			return accountID, nil
		}
	}

	var accountID string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM accounts WHERE api_key = ?`, apiKey,
	).Scan(&accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrInvalidKey
		}
		return "", fmt.Errorf("lookup api key: %w", err)
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, cacheKey, accountID, keyCacheTTL)
	}
	return accountID, nil
}

// AccountByPageID resolves the channel page id carried by webhook events to
// the owning account.
func (s *Service) AccountByPageID(ctx context.Context, pageID string) (string, error) {
	if pageID == "" {
		return "", sql.ErrNoRows
	}
	var accountID string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM accounts WHERE external_page_id = ?`, pageID,
	).Scan(&accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", err
		}
		return "", fmt.Errorf("lookup page id: %w", err)
	}
	return accountID, nil
}

// Raw keys never land in redis; cache entries are keyed by their digest.
func keyCacheName(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return "auth:key:" + hex.EncodeToString(sum[:])
}
