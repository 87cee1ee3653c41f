package store

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BatmanBruc/bat-bot-merger/types"
)

var ErrUserNotFound = errors.New("user not found")

type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[int64]types.User
}

var _ types.UserStore = (*MemoryUserStore)(nil)

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[int64]types.User)}
}

func (s *MemoryUserStore) update(userID int64, fn func(u *types.User)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	u, ok := s.users[userID]
	if !ok {
		u = types.User{UserID: userID, MergeMode: types.MergeVideo, CreatedAt: now}
	}
	fn(&u)
	u.UpdatedAt = now
	s.users[userID] = u
}

func (s *MemoryUserStore) UpsertUser(user types.User) error {
	s.update(user.UserID, func(u *types.User) {
		u.ChatID = user.ChatID
		u.Username = strings.TrimSpace(user.Username)
		u.FirstName = strings.TrimSpace(user.FirstName)
	})
	return nil
}

func (s *MemoryUserStore) GetUser(userID int64) (*types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (s *MemoryUserStore) IsAllowed(userID int64) (bool, error) {
	u, err := s.GetUser(userID)
	if err != nil {
		return false, nil
	}
	return u.Allowed && !u.Banned, nil
}

func (s *MemoryUserStore) IsBanned(userID int64) (bool, error) {
	u, err := s.GetUser(userID)
	if err != nil {
		return false, nil
	}
	return u.Banned, nil
}

func (s *MemoryUserStore) SetAllowed(userID int64, allowed bool) error {
	s.update(userID, func(u *types.User) { u.Allowed = allowed })
	return nil
}

func (s *MemoryUserStore) SetBanned(userID int64, banned bool) error {
	s.update(userID, func(u *types.User) { u.Banned = banned })
	return nil
}

func (s *MemoryUserStore) GetMergeMode(userID int64) (types.MergeMode, error) {
	u, err := s.GetUser(userID)
	if err != nil || !u.MergeMode.Valid() {
		return types.MergeVideo, nil
	}
	return u.MergeMode, nil
}

func (s *MemoryUserStore) SetMergeMode(userID int64, mode types.MergeMode) error {
	if !mode.Valid() {
		return fmt.Errorf("invalid merge mode %d", mode)
	}
	s.update(userID, func(u *types.User) { u.MergeMode = mode })
	return nil
}
