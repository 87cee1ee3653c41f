package store

import (
	"sync"

	"github.com/BatmanBruc/bat-bot-merger/types"
)

// MemoryQueueStore keeps queues in process memory. Each user has its own
// slot and lock, so operations for different users never wait on each other.
// Nothing survives a restart.
type MemoryQueueStore struct {
	slots sync.Map
}

type queueSlot struct {
	mu    sync.Mutex
	queue *types.UserQueue
	dead  bool
}

var _ types.QueueStore = (*MemoryQueueStore)(nil)

func NewMemoryQueueStore() *MemoryQueueStore {
	return &MemoryQueueStore{}
}

// lockSlot returns the live slot for userID with its mutex held.
func (s *MemoryQueueStore) lockSlot(userID int64) *queueSlot {
	for {
		v, _ := s.slots.LoadOrStore(userID, &queueSlot{})
		slot := v.(*queueSlot)
		slot.mu.Lock()
		if !slot.dead {
			return slot
		}
		slot.mu.Unlock()
	}
}

func (s *MemoryQueueStore) retireLocked(userID int64, slot *queueSlot) {
	slot.queue = nil
	slot.dead = true
	s.slots.CompareAndDelete(userID, slot)
}

func (s *MemoryQueueStore) Get(userID int64) (*types.UserQueue, error) {
	v, ok := s.slots.Load(userID)
	if !ok {
		return nil, types.ErrQueueNotFound
	}
	slot := v.(*queueSlot)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.dead || slot.queue == nil {
		return nil, types.ErrQueueNotFound
	}
	return slot.queue.Clone(), nil
}

func (s *MemoryQueueStore) Update(userID int64, fn types.UpdateFunc) (*types.UserQueue, error) {
	slot := s.lockSlot(userID)
	defer slot.mu.Unlock()

	next, err := fn(slot.queue.Clone())
	if err != nil {
		if slot.queue == nil {
			s.retireLocked(userID, slot)
		}
		return nil, err
	}
	if next == nil {
		s.retireLocked(userID, slot)
		return nil, nil
	}
	slot.queue = next.Clone()
	return next.Clone(), nil
}

func (s *MemoryQueueStore) Delete(userID int64) error {
	v, ok := s.slots.Load(userID)
	if !ok {
		return nil
	}
	slot := v.(*queueSlot)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if !slot.dead {
		s.retireLocked(userID, slot)
	}
	return nil
}

func (s *MemoryQueueStore) Len() int {
	n := 0
	s.slots.Range(func(_, v any) bool {
		slot := v.(*queueSlot)
		slot.mu.Lock()
		if !slot.dead && slot.queue != nil {
			n++
		}
		slot.mu.Unlock()
		return true
	})
	return n
}
