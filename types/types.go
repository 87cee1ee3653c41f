package types

import "time"

// JobEntry is one queued source file. It references the file by its
// Telegram file id and is never copied into memory.
type JobEntry struct {
	SourceRef   string      `json:"source_ref"`
	DisplayName string      `json:"display_name"`
	SizeBytes   int64       `json:"size_bytes"`
	Kind        ContentKind `json:"kind"`
}

func (e JobEntry) Ext() string {
	return Extension(e.DisplayName)
}

type MessageRef struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int   `json:"message_id"`
}

func (r MessageRef) IsZero() bool {
	return r.ChatID == 0 || r.MessageID == 0
}

type UserQueue struct {
	UserID     int64       `json:"user_id"`
	Items      []JobEntry  `json:"items"`
	Status     QueueStatus `json:"status"`
	Mode       MergeMode   `json:"mode"`
	Format     string      `json:"format,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
	LastPrompt *MessageRef `json:"last_prompt,omitempty"`
}

func (q *UserQueue) Clone() *UserQueue {
	if q == nil {
		return nil
	}
	c := *q
	c.Items = append([]JobEntry(nil), q.Items...)
	if q.StartedAt != nil {
		t := *q.StartedAt
		c.StartedAt = &t
	}
	if q.LastPrompt != nil {
		p := *q.LastPrompt
		c.LastPrompt = &p
	}
	return &c
}

// UpdateFunc receives the current queue (nil when absent) and returns the
// queue to store. Returning nil deletes the entry; returning an error leaves
// the stored value untouched. Stores may call it more than once when a
// concurrent writer wins, so it must not have side effects.
type UpdateFunc func(current *UserQueue) (*UserQueue, error)

type QueueStore interface {
	Get(userID int64) (*UserQueue, error)
	Update(userID int64, fn UpdateFunc) (*UserQueue, error)
	Delete(userID int64) error
}
