package signedcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aegisgate/aegisgate/internal/shared"
)

const (
	tokenKeyPrefix = "token:"
	userKeyPrefix  = "user-tokens:"
)

// Store persists signed entries in Redis keyed by token. The gateway is the
// only writer; a per-user index set supports bulk invalidation when the
// permission graph changes.
type Store struct {
	client *redis.Client
}

// NewStore constructs a Store on the given Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Get fetches the entry for token. Returns shared.ErrNotFound on a miss.
func (s *Store) Get(ctx context.Context, token string) (*Entry, error) {
	data, err := s.client.Get(ctx, tokenKeyPrefix+token).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("signedcache: get: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("signedcache: decode: %w", err)
	}
	return &entry, nil
}

// Set stores the entry under its token with the remaining entry lifetime as
// Redis TTL and records the token in the owner's index set. Writes are
// idempotent; concurrent misses for the same token overwrite each other
// with equivalent entries.
func (s *Store) Set(ctx context.Context, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("signedcache: encode: %w", err)
	}
	ttl := entry.TTL(time.Now().UTC())
	if ttl <= 0 {
		return fmt.Errorf("signedcache: refusing to store expired entry for %q", entry.Username)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, tokenKeyPrefix+entry.Token, data, ttl)
	pipe.SAdd(ctx, userKeyPrefix+entry.Username, entry.Token)
	pipe.Expire(ctx, userKeyPrefix+entry.Username, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("signedcache: set: %w", err)
	}
	return nil
}

// Delete removes the entry for token.
func (s *Store) Delete(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, tokenKeyPrefix+token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("signedcache: delete: %w", err)
	}
	return nil
}

// DeleteForUser removes every cached entry belonging to username. Called on
// any permission-graph mutation affecting the user so stale authorization
// snapshots cannot outlive the change.
func (s *Store) DeleteForUser(ctx context.Context, username string) (int64, error) {
	indexKey := userKeyPrefix + username
	tokens, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("signedcache: list user tokens: %w", err)
	}
	keys := make([]string, 0, len(tokens)+1)
	for _, token := range tokens {
		keys = append(keys, tokenKeyPrefix+token)
	}
	keys = append(keys, indexKey)
	deleted, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("signedcache: delete user tokens: %w", err)
	}
	if deleted > 0 {
		// The index key itself counts toward deleted.
		deleted--
	}
	return deleted, nil
}

// DeleteAll removes every cached entry and index. Used for global policy
// changes where a per-user sweep is not enough.
func (s *Store) DeleteAll(ctx context.Context) (int64, error) {
	var total int64
	for _, pattern := range []string{tokenKeyPrefix + "*", userKeyPrefix + "*"} {
		var cursor uint64
		for {
			keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
			if err != nil {
				return total, fmt.Errorf("signedcache: scan: %w", err)
			}
			if len(keys) > 0 {
				deleted, err := s.client.Del(ctx, keys...).Result()
				if err != nil {
					return total, fmt.Errorf("signedcache: delete: %w", err)
				}
				total += deleted
			}
			cursor = next
			if cursor == 0 {
				break
			}
		}
	}
	return total, nil
}

// SweepUserIndexes drops index members whose token entry already expired.
// Run periodically by the worker; correctness does not depend on it, it
// just keeps the index sets small.
func (s *Store) SweepUserIndexes(ctx context.Context) (int64, error) {
	var removed int64
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, userKeyPrefix+"*", 100).Result()
		if err != nil {
			return removed, fmt.Errorf("signedcache: scan indexes: %w", err)
		}
		for _, indexKey := range keys {
			tokens, err := s.client.SMembers(ctx, indexKey).Result()
			if err != nil {
				continue
			}
			for _, token := range tokens {
				exists, err := s.client.Exists(ctx, tokenKeyPrefix+token).Result()
				if err != nil || exists > 0 {
					continue
				}
				if err := s.client.SRem(ctx, indexKey, token).Err(); err == nil {
					removed++
				}
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return removed, nil
}
