package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/BatmanBruc/bat-bot-merger/types"
)

// Manager owns every mutation of the queue store. It never talks to the chat;
// callers present its results.
type Manager struct {
	store   types.QueueStore
	maxSize int
	now     func() time.Time
}

func NewManager(store types.QueueStore, maxSize int) *Manager {
	return &Manager{store: store, maxSize: maxSize, now: time.Now}
}

func (m *Manager) MaxSize() int {
	return m.maxSize
}

func (m *Manager) newQueue(userID int64, mode types.MergeMode) *types.UserQueue {
	return &types.UserQueue{
		UserID:    userID,
		Status:    types.StatusWaiting,
		Mode:      mode,
		CreatedAt: m.now(),
	}
}

// Enqueue appends entry to the user's queue and returns the new size. mode is
// only used when the queue is created; later files follow the pinned mode.
func (m *Manager) Enqueue(userID int64, entry types.JobEntry, mode types.MergeMode) (int, error) {
	q, err := m.store.Update(userID, func(cur *types.UserQueue) (*types.UserQueue, error) {
		if cur == nil {
			cur = m.newQueue(userID, mode)
		}
		switch {
		case cur.Status == types.StatusProcessing:
			return nil, types.ErrAlreadyRunning
		case cur.Status.Terminal():
			// left behind by a finished run
			cur = m.newQueue(userID, mode)
		case cur.Status == types.StatusIdle:
			cur.Status = types.StatusWaiting
		}
		if !cur.Mode.Valid() {
			return nil, fmt.Errorf("%w: merge mode %d", types.ErrUnsupportedType, cur.Mode)
		}
		if len(cur.Items) >= m.maxSize {
			return nil, types.ErrQueueFull
		}
		if err := accepts(cur, entry); err != nil {
			return nil, err
		}
		if cur.Mode == types.MergeVideo && len(cur.Items) == 0 {
			cur.Format = entry.Ext()
		}
		cur.Items = append(cur.Items, entry)
		return cur, nil
	})
	if err != nil {
		return m.CurrentSize(userID), err
	}
	return len(q.Items), nil
}

func accepts(q *types.UserQueue, entry types.JobEntry) error {
	ext := entry.Ext()
	first := len(q.Items) == 0

	switch q.Mode {
	case types.MergeVideo:
		if !entry.Kind.IsVideo() || !types.IsVideoExt(ext) {
			return fmt.Errorf("%w: %q is not a %v video", types.ErrUnsupportedType, entry.DisplayName, types.VideoExtensions)
		}
		if !first && q.Format != "" && ext != q.Format {
			return fmt.Errorf("%w: expected .%s, got .%s", types.ErrUnsupportedType, q.Format, ext)
		}
	case types.MergeAudio:
		if first {
			if !entry.Kind.IsVideo() {
				return fmt.Errorf("%w: send the video first", types.ErrUnsupportedType)
			}
		} else if entry.Kind != types.KindAudio {
			return fmt.Errorf("%w: %q is not an audio track", types.ErrUnsupportedType, entry.DisplayName)
		}
	case types.MergeSubtitle:
		if first {
			if !entry.Kind.IsVideo() {
				return fmt.Errorf("%w: send the video first", types.ErrUnsupportedType)
			}
		} else if entry.Kind != types.KindSubtitle {
			return fmt.Errorf("%w: %q is not a subtitle file", types.ErrUnsupportedType, entry.DisplayName)
		}
	default:
		return fmt.Errorf("%w: merge mode %d", types.ErrUnsupportedType, q.Mode)
	}
	return nil
}

func (m *Manager) Get(userID int64) (*types.UserQueue, error) {
	return m.store.Get(userID)
}

func (m *Manager) CurrentSize(userID int64) int {
	q, err := m.store.Get(userID)
	if err != nil {
		return 0
	}
	return len(q.Items)
}

func (m *Manager) Items(userID int64) []types.JobEntry {
	q, err := m.store.Get(userID)
	if err != nil {
		return nil
	}
	return q.Items
}

// Clear removes the queue whatever its status.
func (m *Manager) Clear(userID int64) error {
	return m.store.Delete(userID)
}

// SetPrompt records ref as the latest prompt and returns the one it replaces.
// A queue that is being merged keeps its prompt.
func (m *Manager) SetPrompt(userID int64, ref types.MessageRef) (*types.MessageRef, error) {
	var previous *types.MessageRef
	_, err := m.store.Update(userID, func(cur *types.UserQueue) (*types.UserQueue, error) {
		if cur == nil {
			return nil, types.ErrQueueNotFound
		}
		if cur.Status == types.StatusProcessing {
			return nil, types.ErrAlreadyRunning
		}
		previous = cur.LastPrompt
		r := ref
		cur.LastPrompt = &r
		return cur, nil
	})
	if err != nil {
		return nil, err
	}
	return previous, nil
}

// Acquire moves a waiting queue to Processing. A queue with fewer than
// minItems files is left as it is.
func (m *Manager) Acquire(userID int64, minItems int) (*types.UserQueue, error) {
	return m.store.Update(userID, func(cur *types.UserQueue) (*types.UserQueue, error) {
		if cur == nil {
			return nil, types.ErrInsufficientItems
		}
		if cur.Status == types.StatusProcessing {
			return nil, types.ErrAlreadyRunning
		}
		if len(cur.Items) < minItems {
			return nil, fmt.Errorf("%w: have %d, need %d", types.ErrInsufficientItems, len(cur.Items), minItems)
		}
		now := m.now()
		cur.Status = types.StatusProcessing
		cur.StartedAt = &now
		return cur, nil
	})
}

// Release puts a Processing queue back to Waiting. It reports whether the
// queue was Processing.
func (m *Manager) Release(userID int64) (bool, error) {
	released := false
	_, err := m.store.Update(userID, func(cur *types.UserQueue) (*types.UserQueue, error) {
		released = false
		if cur == nil {
			return nil, nil
		}
		if cur.Status == types.StatusProcessing {
			cur.Status = types.StatusWaiting
			cur.StartedAt = nil
			released = true
		}
		return cur, nil
	})
	return released, err
}

// Finish removes a Processing queue once its run reached status. The check
// and the removal are one store update, so a file queued after the run
// ended starts a new queue instead of being dropped. A queue that is no
// longer Processing belongs to someone else and is kept.
func (m *Manager) Finish(userID int64, status types.QueueStatus) error {
	if !status.Terminal() {
		return fmt.Errorf("finish with non-terminal status %q", status)
	}
	_, err := m.store.Update(userID, func(cur *types.UserQueue) (*types.UserQueue, error) {
		if cur == nil {
			return nil, nil
		}
		if cur.Status != types.StatusProcessing {
			return cur, nil
		}
		return nil, nil
	})
	if errors.Is(err, types.ErrQueueNotFound) {
		return nil
	}
	return err
}
