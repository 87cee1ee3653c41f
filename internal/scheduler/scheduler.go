package scheduler

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/BatmanBruc/bat-bot-merger/internal/merger"
	"github.com/BatmanBruc/bat-bot-merger/internal/messages"
	"github.com/BatmanBruc/bat-bot-merger/internal/queue"
	"github.com/BatmanBruc/bat-bot-merger/types"
)

// Archiver stores results that are too large to send through the chat and
// returns a link to them.
type Archiver interface {
	Store(ctx context.Context, key string, r io.Reader, size int64) (string, error)
}

type Config struct {
	Workers          int
	MinMergeItems    int
	DownloadDir      string
	StrictDownloads  bool
	DownloadTimeout  time.Duration
	MergeTimeout     time.Duration
	UploadTimeout    time.Duration
	ProgressInterval time.Duration
	UploadLimit      int64
	UploadAsDocument bool
}

type Scheduler struct {
	queue    *queue.Manager
	gateway  types.Gateway
	merger   merger.Merger
	archiver Archiver
	cfg      Config

	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	mu      sync.Mutex
	running bool

	taskQueue  chan *Run
	inFlight   map[int64]*Run
	inFlightMu sync.RWMutex
}

func NewScheduler(queue *queue.Manager, gateway types.Gateway, merger merger.Merger, archiver Archiver, cfg Config) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if cfg.MinMergeItems < 2 {
		cfg.MinMergeItems = 2
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 10 * time.Minute
	}
	if cfg.MergeTimeout <= 0 {
		cfg.MergeTimeout = 30 * time.Minute
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 30 * time.Minute
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = "downloads"
	}

	ctx, cancel := context.WithCancel(context.Background())

	queueSize := cfg.Workers * 2
	if queueSize < 10 {
		queueSize = 10
	}

	return &Scheduler{
		queue:     queue,
		gateway:   gateway,
		merger:    merger,
		archiver:  archiver,
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		taskQueue: make(chan *Run, queueSize),
		inFlight:  make(map[int64]*Run),
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	log.Printf("Scheduler started with %d workers", s.cfg.Workers)

	g, ctx := errgroup.WithContext(s.ctx)
	for i := 0; i < s.cfg.Workers; i++ {
		id := i
		g.Go(func() error {
			s.worker(ctx, id)
			return nil
		})
	}
	s.group = g
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	group := s.group
	s.mu.Unlock()

	log.Println("Stopping scheduler...")
	s.cancel()
	_ = group.Wait()

	for {
		select {
		case run := <-s.taskQueue:
			s.abandon(run)
		default:
			log.Println("Scheduler stopped")
			return
		}
	}
}

// Submit acquires the user's queue and hands it to the worker pool. The
// returned position is 0 when a worker is free.
func (s *Scheduler) Submit(ctx context.Context, userID, chatID int64) (*Run, error) {
	runCtx, cancel := context.WithCancel(s.ctx)
	run := &Run{
		ID:        uuid.NewString(),
		UserID:    userID,
		ChatID:    chatID,
		CreatedAt: time.Now(),
		ctx:       runCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     StateQueued,
	}

	s.inFlightMu.Lock()
	if _, exists := s.inFlight[userID]; exists {
		s.inFlightMu.Unlock()
		cancel()
		return nil, types.ErrAlreadyRunning
	}
	run.position = s.nextPositionLocked()
	s.inFlight[userID] = run
	s.inFlightMu.Unlock()

	// With no run in flight a Processing queue was left by a process that
	// stopped mid-merge.
	if stale, err := s.queue.Release(userID); err != nil {
		log.Printf("Run %s: failed to reset queue of user %d: %v", run.ID, userID, err)
	} else if stale {
		log.Printf("Run %s: reclaimed queue of user %d left in processing", run.ID, userID)
	}

	q, err := s.queue.Acquire(userID, s.cfg.MinMergeItems)
	if err != nil {
		s.forget(run)
		cancel()
		return nil, err
	}
	run.setQueue(q)

	position := run.Position()
	name := fmt.Sprintf("%d files", len(q.Items))
	text := messages.QueueStarted(name)
	if position > 0 {
		text = messages.QueueQueued(name, position)
	}
	ref, err := s.gateway.SendText(ctx, chatID, text, cancelButtons())
	if err != nil {
		log.Printf("Run %s: failed to send status message to chat %d: %v", run.ID, chatID, err)
	} else {
		run.setStatus(ref)
	}

	log.Printf("Run %s: user %d submitted %d files (mode=%s, position=%d)", run.ID, userID, len(q.Items), q.Mode, position)

	go func() {
		select {
		case s.taskQueue <- run:
		case <-s.ctx.Done():
			s.abandon(run)
		}
	}()

	return run, nil
}

func (s *Scheduler) nextPositionLocked() int {
	running := 0
	maxPos := 0
	for _, r := range s.inFlight {
		p := r.Position()
		if p == 0 {
			running++
			continue
		}
		if p > maxPos {
			maxPos = p
		}
	}
	if running >= s.cfg.Workers {
		return maxPos + 1
	}
	return 0
}

// Cancel stops the user's active run. It reports whether there was one.
func (s *Scheduler) Cancel(userID int64) bool {
	s.inFlightMu.RLock()
	run := s.inFlight[userID]
	s.inFlightMu.RUnlock()
	if run == nil {
		return false
	}
	log.Printf("Run %s: cancel requested by user %d", run.ID, userID)
	run.cancel()
	return true
}

func (s *Scheduler) Active(userID int64) *Run {
	s.inFlightMu.RLock()
	defer s.inFlightMu.RUnlock()
	return s.inFlight[userID]
}

func (s *Scheduler) ActiveRuns() []RunInfo {
	s.inFlightMu.RLock()
	infos := make([]RunInfo, 0, len(s.inFlight))
	for _, r := range s.inFlight {
		if info, ok := r.Info(); ok {
			infos = append(infos, info)
		}
	}
	s.inFlightMu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.Before(infos[j].CreatedAt) })
	return infos
}

func (s *Scheduler) worker(ctx context.Context, id int) {
	log.Printf("Worker %d started", id)

	for {
		select {
		case <-ctx.Done():
			log.Printf("Worker %d stopped", id)
			return
		case run := <-s.taskQueue:
			if ctx.Err() != nil {
				s.abandon(run)
				log.Printf("Worker %d stopped", id)
				return
			}
			s.process(run)
			s.forget(run)
			go s.decrementQueueAndUpdateMessages()
		}
	}
}

func (s *Scheduler) forget(run *Run) {
	s.inFlightMu.Lock()
	if s.inFlight[run.UserID] == run {
		delete(s.inFlight, run.UserID)
	}
	s.inFlightMu.Unlock()
}

// abandon hands a run that never reached a worker back to its user. The
// queue stays, so /merge works again after a restart.
func (s *Scheduler) abandon(run *Run) {
	run.begin()
	if _, err := s.queue.Release(run.UserID); err != nil {
		log.Printf("Run %s: failed to release queue of user %d: %v", run.ID, run.UserID, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if ref := run.StatusMessage(); !ref.IsZero() {
		if err := s.gateway.EditText(ctx, ref, messages.RunInterrupted(), nil); err != nil {
			log.Printf("Run %s: failed to edit status message: %v", run.ID, err)
		}
	}

	log.Printf("Run %s: abandoned, queue of user %d kept", run.ID, run.UserID)
	run.end(types.ErrCancelled)
	s.forget(run)
}

func (s *Scheduler) decrementQueueAndUpdateMessages() {
	type upd struct {
		run  *Run
		text string
	}
	updates := make([]upd, 0)

	s.inFlightMu.Lock()
	for _, run := range s.inFlight {
		run.mu.Lock()
		if run.position == 0 {
			run.mu.Unlock()
			continue
		}
		run.position--
		position := run.position
		q := run.queue
		run.mu.Unlock()

		if q == nil {
			continue
		}
		name := fmt.Sprintf("%d files", len(q.Items))
		if position == 0 {
			updates = append(updates, upd{run: run, text: messages.QueueStarted(name)})
		} else {
			updates = append(updates, upd{run: run, text: messages.QueueQueued(name, position)})
		}
	}
	s.inFlightMu.Unlock()

	if len(updates) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	for _, u := range updates {
		u.run.editQueued(func(ref types.MessageRef) {
			if err := s.gateway.EditText(ctx, ref, u.text, cancelButtons()); err != nil {
				log.Printf("Queue update: failed to edit message chat=%d msg=%d: %v", ref.ChatID, ref.MessageID, err)
			}
		})
	}
}

func cancelButtons() [][]types.Button {
	return [][]types.Button{{{Text: messages.ButtonCancel(), Data: "cancel"}}}
}
