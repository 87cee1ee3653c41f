package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BatmanBruc/bat-bot-merger/types"
)

// RedisUserStore keeps user settings in Redis for deployments without
// Postgres. Records never expire.
type RedisUserStore struct {
	client *RedisClient
}

var _ types.UserStore = (*RedisUserStore)(nil)

func NewRedisUserStore(redisClient *RedisClient) *RedisUserStore {
	return &RedisUserStore{client: redisClient}
}

func (s *RedisUserStore) key(userID int64) string {
	return s.client.generateKey("user", fmt.Sprintf("%d", userID))
}

func (s *RedisUserStore) GetUser(userID int64) (*types.User, error) {
	var u types.User
	if err := s.client.Get(s.key(userID), &u); err != nil {
		if errors.Is(err, errKeyNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// update applies fn to the stored record, creating it when missing.
func (s *RedisUserStore) update(userID int64, fn func(u *types.User)) error {
	return s.client.UpdateJSON(s.key(userID), 0, func(raw []byte) (interface{}, error) {
		u := types.User{UserID: userID, MergeMode: types.MergeVideo, CreatedAt: time.Now().UTC()}
		if raw != nil {
			if err := json.Unmarshal(raw, &u); err != nil {
				return nil, err
			}
		}
		fn(&u)
		u.UpdatedAt = time.Now().UTC()
		return u, nil
	})
}

func (s *RedisUserStore) UpsertUser(user types.User) error {
	return s.update(user.UserID, func(u *types.User) {
		u.ChatID = user.ChatID
		u.Username = strings.TrimSpace(user.Username)
		u.FirstName = strings.TrimSpace(user.FirstName)
	})
}

func (s *RedisUserStore) IsAllowed(userID int64) (bool, error) {
	u, err := s.GetUser(userID)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.Allowed && !u.Banned, nil
}

func (s *RedisUserStore) IsBanned(userID int64) (bool, error) {
	u, err := s.GetUser(userID)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.Banned, nil
}

func (s *RedisUserStore) SetAllowed(userID int64, allowed bool) error {
	return s.update(userID, func(u *types.User) { u.Allowed = allowed })
}

func (s *RedisUserStore) SetBanned(userID int64, banned bool) error {
	return s.update(userID, func(u *types.User) { u.Banned = banned })
}

func (s *RedisUserStore) GetMergeMode(userID int64) (types.MergeMode, error) {
	u, err := s.GetUser(userID)
	if errors.Is(err, ErrUserNotFound) {
		return types.MergeVideo, nil
	}
	if err != nil {
		return types.MergeVideo, err
	}
	if !u.MergeMode.Valid() {
		return types.MergeVideo, nil
	}
	return u.MergeMode, nil
}

func (s *RedisUserStore) SetMergeMode(userID int64, mode types.MergeMode) error {
	if !mode.Valid() {
		return fmt.Errorf("invalid merge mode %d", mode)
	}
	return s.update(userID, func(u *types.User) { u.MergeMode = mode })
}
