package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BatmanBruc/bat-bot-merger/types"
)

// RedisQueueStore keeps each user's queue as one JSON document. Updates are
// WATCH/MULTI transactions on that single key, so users never contend with
// each other.
type RedisQueueStore struct {
	client *RedisClient
	ttl    time.Duration
}

var _ types.QueueStore = (*RedisQueueStore)(nil)

func NewRedisQueueStore(redisClient *RedisClient, ttlHours int) *RedisQueueStore {
	ttl := time.Duration(ttlHours) * time.Hour
	if ttlHours <= 0 {
		ttl = 24 * time.Hour
	}

	return &RedisQueueStore{
		client: redisClient,
		ttl:    ttl,
	}
}

func (s *RedisQueueStore) key(userID int64) string {
	return s.client.generateKey("merge_queue", fmt.Sprintf("%d", userID))
}

func (s *RedisQueueStore) Get(userID int64) (*types.UserQueue, error) {
	var queue types.UserQueue
	if err := s.client.Get(s.key(userID), &queue); err != nil {
		if errors.Is(err, errKeyNotFound) {
			return nil, types.ErrQueueNotFound
		}
		return nil, err
	}
	return &queue, nil
}

func (s *RedisQueueStore) Update(userID int64, fn types.UpdateFunc) (*types.UserQueue, error) {
	key := s.key(userID)

	var result *types.UserQueue
	err := s.client.UpdateJSON(key, s.ttl, func(raw []byte) (interface{}, error) {
		var current *types.UserQueue
		if raw != nil {
			current = &types.UserQueue{}
			if err := json.Unmarshal(raw, current); err != nil {
				return nil, fmt.Errorf("decode queue %s: %w", key, err)
			}
		}

		next, err := fn(current)
		if err != nil {
			return nil, err
		}
		result = next
		if next == nil {
			return nil, nil
		}
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	return result.Clone(), nil
}

func (s *RedisQueueStore) Delete(userID int64) error {
	return s.client.Del(s.key(userID))
}
