package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/BatmanBruc/bat-bot-merger/types"
)

type State string

const (
	StateQueued      State = "queued"
	StateAcquired    State = "acquired"
	StateDownloading State = "downloading"
	StateMerging     State = "merging"
	StateUploading   State = "uploading"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// Run is one merge job for one user, from acquisition to cleanup.
type Run struct {
	ID        string
	UserID    int64
	ChatID    int64
	CreatedAt time.Time

	queue  *types.UserQueue
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// statusMu orders edits of the status message made while the run waits
	// for a worker against the run picking up.
	statusMu sync.Mutex
	status   types.MessageRef

	mu       sync.Mutex
	state    State
	position int
	err      error
}

type RunInfo struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	State     State     `json:"state"`
	Position  int       `json:"position"`
	Files     int       `json:"files"`
	Mode      string    `json:"mode"`
	CreatedAt time.Time `json:"created_at"`
	StartedAt time.Time `json:"started_at"`
}

func (r *Run) Done() <-chan struct{} {
	return r.done
}

func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Run) Position() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.position
}

func (r *Run) StatusMessage() types.MessageRef {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	return r.status
}

// Info reports false until the run has acquired its queue.
func (r *Run) Info() (RunInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queue == nil {
		return RunInfo{}, false
	}
	info := RunInfo{
		ID:        r.ID,
		UserID:    r.UserID,
		State:     r.state,
		Position:  r.position,
		Files:     len(r.queue.Items),
		Mode:      r.queue.Mode.String(),
		CreatedAt: r.CreatedAt,
	}
	if r.queue.StartedAt != nil {
		info.StartedAt = *r.queue.StartedAt
	}
	return info, true
}

func (r *Run) startedAt() time.Time {
	if r.queue.StartedAt != nil {
		return *r.queue.StartedAt
	}
	return r.CreatedAt
}

func (r *Run) setQueue(q *types.UserQueue) {
	r.mu.Lock()
	r.queue = q
	r.mu.Unlock()
}

func (r *Run) setState(state State) {
	r.mu.Lock()
	r.state = state
	r.mu.Unlock()
}

// begin marks the run as picked up by a worker. Waiting-line edits stop here.
func (r *Run) begin() {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	r.mu.Lock()
	r.state = StateAcquired
	r.position = 0
	r.mu.Unlock()
}

func (r *Run) end(err error) {
	r.mu.Lock()
	if err != nil {
		r.state = StateFailed
	} else {
		r.state = StateDone
	}
	r.err = err
	r.mu.Unlock()
	r.cancel()
	close(r.done)
}

// editQueued runs edit only while the run is still waiting for a worker.
func (r *Run) editQueued(edit func(ref types.MessageRef)) {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	if r.State() != StateQueued || r.status.IsZero() {
		return
	}
	edit(r.status)
}

func (r *Run) setStatus(ref types.MessageRef) {
	r.statusMu.Lock()
	r.status = ref
	r.statusMu.Unlock()
}
